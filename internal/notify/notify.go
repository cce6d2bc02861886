// Package notify delivers user-facing notifications about recipe runs.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// Notifier sends a titled message to the user
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// Func adapts a function to the Notifier interface
type Func func(ctx context.Context, title, message string) error

// Notify implements Notifier
func (f Func) Notify(ctx context.Context, title, message string) error {
	return f(ctx, title, message)
}

// LogNotifier writes notifications to the log
type LogNotifier struct {
	log *zap.SugaredLogger
}

// NewLogNotifier creates a notifier backed by the given logger
func NewLogNotifier(log *zap.SugaredLogger) *LogNotifier {
	return &LogNotifier{log: log}
}

// Notify implements Notifier
func (n *LogNotifier) Notify(_ context.Context, title, message string) error {
	n.log.Infow("notification", "title", title, "message", strings.ReplaceAll(message, "\n", " | "))
	return nil
}

// Publisher publishes a payload on a topic
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Payload is the message body published by MQTTNotifier
type Payload struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// MQTTNotifier publishes notifications as JSON on a topic
type MQTTNotifier struct {
	pub   Publisher
	topic string
}

// NewMQTTNotifier creates a notifier that publishes to topic
func NewMQTTNotifier(pub Publisher, topic string) *MQTTNotifier {
	return &MQTTNotifier{pub: pub, topic: topic}
}

// Notify implements Notifier
func (n *MQTTNotifier) Notify(ctx context.Context, title, message string) error {
	body, err := json.Marshal(Payload{Title: title, Message: message})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}
	if err := n.pub.Publish(ctx, n.topic, body); err != nil {
		return fmt.Errorf("failed to publish notification to %s: %w", n.topic, err)
	}
	return nil
}

// Multi fans a notification out to every notifier. All are tried; the
// errors are joined.
type Multi []Notifier

// Notify implements Notifier
func (m Multi) Notify(ctx context.Context, title, message string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, title, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BestEffort wraps a notifier so failures are logged and never returned
type BestEffort struct {
	next Notifier
	log  *zap.SugaredLogger
}

// NewBestEffort wraps next; a nil next yields a notifier that does nothing
func NewBestEffort(next Notifier, log *zap.SugaredLogger) *BestEffort {
	return &BestEffort{next: next, log: log}
}

// Notify implements Notifier and always returns nil
func (b *BestEffort) Notify(ctx context.Context, title, message string) error {
	if b.next == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			b.log.Errorw("notifier panicked", "title", title, "panic", r)
		}
	}()
	if err := b.next.Notify(ctx, title, message); err != nil {
		b.log.Warnw("notification failed", "title", title, "error", err)
	}
	return nil
}
