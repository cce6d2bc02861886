package device

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// MQTTConfig holds the broker connection and topic layout
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	// Prefix is the topic root; signal topics are <prefix>/<id>/{state,attributes,set}
	Prefix string
	QoS    byte
}

// MQTT is a Device backed by an MQTT broker. Signal states arrive as
// retained messages on <prefix>/<id>/state, attributes as a JSON object on
// <prefix>/<id>/attributes, and commands are published to <prefix>/<id>/set.
type MQTT struct {
	client paho.Client
	cfg    MQTTConfig
	log    *zap.SugaredLogger

	mu      sync.RWMutex
	signals map[string]Signal
	hub     *Hub
}

// NewMQTT configures a client for the broker. Call Connect before use.
func NewMQTT(cfg MQTTConfig, log *zap.SugaredLogger) *MQTT {
	m := &MQTT{
		cfg:     normalizeMQTTConfig(cfg),
		log:     log,
		signals: make(map[string]Signal),
		hub:     NewHub(),
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(m.cfg.Broker)
	opts.SetClientID(m.cfg.ClientID)
	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username)
	}
	if m.cfg.Password != "" {
		opts.SetPassword(m.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(m.onConnect)
	opts.SetConnectionLostHandler(m.onConnectionLost)

	m.client = paho.NewClient(opts)
	return m
}

// newMQTTWithClient wires an already constructed client
func newMQTTWithClient(client paho.Client, cfg MQTTConfig, log *zap.SugaredLogger) *MQTT {
	return &MQTT{
		client:  client,
		cfg:     normalizeMQTTConfig(cfg),
		log:     log,
		signals: make(map[string]Signal),
		hub:     NewHub(),
	}
}

func normalizeMQTTConfig(cfg MQTTConfig) MQTTConfig {
	cfg.Prefix = strings.TrimSuffix(cfg.Prefix, "/")
	if cfg.Prefix == "" {
		cfg.Prefix = "barista"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "barista"
	}
	if cfg.QoS > 2 {
		cfg.QoS = 1
	}
	return cfg
}

// Connect opens the broker connection. Subscriptions are (re)made by the
// connect handler so they survive reconnects.
func (m *MQTT) Connect(ctx context.Context) error {
	token := m.client.Connect()
	if err := waitToken(ctx, token); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker %s: %w", m.cfg.Broker, err)
	}
	return nil
}

// Disconnect closes the broker connection
func (m *MQTT) Disconnect() {
	m.client.Disconnect(250)
}

// Client exposes the underlying client, e.g. for publishing notifications
func (m *MQTT) Client() paho.Client {
	return m.client
}

// Read implements Device
func (m *MQTT) Read(id string) (Signal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sig, ok := m.signals[id]
	if !ok {
		return Signal{}, false
	}
	return sig.clone(), true
}

// Subscribe implements Device
func (m *MQTT) Subscribe(ids ...string) *Subscription {
	return m.hub.Subscribe(ids...)
}

// Command implements Device. The command is acknowledged once the broker
// confirms the publish. Signals that never reported a state are unknown.
func (m *MQTT) Command(ctx context.Context, cmd Command) error {
	m.mu.RLock()
	_, known := m.signals[cmd.Signal]
	m.mu.RUnlock()
	if !known {
		return fmt.Errorf("%s: %w", cmd, ErrUnknownSignal)
	}

	var payload string
	switch cmd.Kind {
	case CommandTurnOn:
		payload = "ON"
	case CommandTurnOff:
		payload = "OFF"
	case CommandSelectOption:
		payload = cmd.Option
	default:
		return fmt.Errorf("unsupported command kind %q", cmd.Kind)
	}

	topic := m.topic(cmd.Signal, "set")
	m.log.Debugw("publishing command", "topic", topic, "payload", payload)
	token := m.client.Publish(topic, m.cfg.QoS, false, payload)
	if err := waitToken(ctx, token); err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	return nil
}

// Publish sends an arbitrary payload below the topic prefix
func (m *MQTT) Publish(ctx context.Context, subtopic string, payload []byte) error {
	token := m.client.Publish(m.cfg.Prefix+"/"+strings.TrimPrefix(subtopic, "/"), m.cfg.QoS, false, payload)
	return waitToken(ctx, token)
}

func (m *MQTT) onConnect(c paho.Client) {
	optionsReader := c.OptionsReader()
	m.log.Infof("Connected to MQTT broker (%s)", optionsReader.ClientID())

	filters := map[string]byte{
		m.cfg.Prefix + "/+/state":      m.cfg.QoS,
		m.cfg.Prefix + "/+/attributes": m.cfg.QoS,
	}
	token := c.SubscribeMultiple(filters, func(_ paho.Client, msg paho.Message) {
		m.handleMessage(msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		m.log.Errorf("Failed to subscribe to machine signals: %s", token.Error())
	}
}

func (m *MQTT) onConnectionLost(c paho.Client, err error) {
	m.log.Warnf("Connection to MQTT broker lost: %s", err)
}

// handleMessage applies a state or attributes message to the signal table
func (m *MQTT) handleMessage(topic string, payload []byte) {
	id, kind, ok := m.parseTopic(topic)
	if !ok {
		m.log.Debugw("ignoring message on unexpected topic", "topic", topic)
		return
	}

	var attrs map[string]any
	if kind == "attributes" {
		if err := json.Unmarshal(payload, &attrs); err != nil {
			m.log.Warnw("invalid attributes payload", "signal", id, "error", err)
			return
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	old, known := m.signals[id]
	next := old.clone()
	next.ID = id
	switch kind {
	case "state":
		next.State = normalizeState(string(payload))
		if known && old.State == next.State {
			m.signals[id] = next
			return
		}
	case "attributes":
		next.Attributes = attrs
	}
	m.signals[id] = next

	m.hub.Publish(Change{
		ID:       id,
		Old:      old,
		New:      next.clone(),
		OldKnown: known,
		At:       time.Now(),
	})
}

func (m *MQTT) parseTopic(topic string) (id, kind string, ok bool) {
	rest := strings.TrimPrefix(topic, m.cfg.Prefix+"/")
	if rest == topic {
		return "", "", false
	}
	idx := strings.LastIndex(rest, "/")
	if idx <= 0 {
		return "", "", false
	}
	id, kind = rest[:idx], rest[idx+1:]
	if kind != "state" && kind != "attributes" {
		return "", "", false
	}
	return id, kind, true
}

func (m *MQTT) topic(id, kind string) string {
	return m.cfg.Prefix + "/" + id + "/" + kind
}

// normalizeState maps ON/OFF payloads to the lowercase binary states and
// keeps anything else (select options) verbatim
func normalizeState(payload string) string {
	trimmed := strings.TrimSpace(payload)
	switch strings.ToLower(trimmed) {
	case StateOn:
		return StateOn
	case StateOff:
		return StateOff
	default:
		return trimmed
	}
}

func waitToken(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
