package device

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"
)

// CommandHook observes commands applied to a Memory device
type CommandHook func(cmd Command)

// Memory is an in-process device. It backs the simulator and the tests.
type Memory struct {
	mu       sync.RWMutex
	signals  map[string]Signal
	commands []Command
	hooks    []CommandHook
	cmdErr   error

	hub *Hub
}

// NewMemory creates an empty in-memory device
func NewMemory() *Memory {
	return &Memory{
		signals: make(map[string]Signal),
		hub:     NewHub(),
	}
}

// Read implements Device
func (m *Memory) Read(id string) (Signal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sig, ok := m.signals[id]
	if !ok {
		return Signal{}, false
	}
	return sig.clone(), true
}

// Subscribe implements Device
func (m *Memory) Subscribe(ids ...string) *Subscription {
	return m.hub.Subscribe(ids...)
}

// Command implements Device. Switch commands flip the state, select
// commands set it to the option. Hooks run after the state is applied.
func (m *Memory) Command(ctx context.Context, cmd Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.cmdErr != nil {
		err := m.cmdErr
		m.mu.Unlock()
		return err
	}
	if _, ok := m.signals[cmd.Signal]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%s: %w", cmd, ErrUnknownSignal)
	}
	m.commands = append(m.commands, cmd)
	hooks := append([]CommandHook(nil), m.hooks...)
	m.mu.Unlock()

	switch cmd.Kind {
	case CommandTurnOn:
		m.Set(cmd.Signal, StateOn)
	case CommandTurnOff:
		m.Set(cmd.Signal, StateOff)
	case CommandSelectOption:
		m.Set(cmd.Signal, cmd.Option)
	default:
		return fmt.Errorf("unsupported command kind %q", cmd.Kind)
	}

	for _, hook := range hooks {
		hook(cmd)
	}
	return nil
}

// Define adds or replaces a signal, publishing a change if it differs
func (m *Memory) Define(sig Signal) {
	m.update(sig.ID, func(Signal) Signal {
		return sig.clone()
	})
}

// Set changes the state of a signal, creating it if needed
func (m *Memory) Set(id, state string) {
	m.update(id, func(cur Signal) Signal {
		cur.State = state
		return cur
	})
}

// SetAttribute changes one attribute of a signal
func (m *Memory) SetAttribute(id, key string, value any) {
	m.update(id, func(cur Signal) Signal {
		if cur.Attributes == nil {
			cur.Attributes = make(map[string]any)
		}
		cur.Attributes[key] = value
		return cur
	})
}

// Remove deletes a signal so it reads as unknown
func (m *Memory) Remove(id string) {
	m.mu.Lock()
	delete(m.signals, id)
	m.mu.Unlock()
}

// OnCommand registers a hook called after every applied command
func (m *Memory) OnCommand(hook CommandHook) {
	m.mu.Lock()
	m.hooks = append(m.hooks, hook)
	m.mu.Unlock()
}

// FailCommands makes every following command return err; nil restores normal behavior
func (m *Memory) FailCommands(err error) {
	m.mu.Lock()
	m.cmdErr = err
	m.mu.Unlock()
}

// Commands returns the commands applied so far, in order
func (m *Memory) Commands() []Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Command(nil), m.commands...)
}

// Subscribers returns the number of open subscriptions
func (m *Memory) Subscribers() int {
	return m.hub.Len()
}

// update applies fn and publishes under the lock so subscribers see
// changes in the order they were applied. Publish never blocks.
func (m *Memory) update(id string, fn func(Signal) Signal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, known := m.signals[id]
	cur := old.clone()
	cur.ID = id
	next := fn(cur)
	next.ID = id
	m.signals[id] = next
	changed := !known || old.State != next.State || !reflect.DeepEqual(old.Attributes, next.Attributes)
	if !changed {
		return
	}
	m.hub.Publish(Change{
		ID:       id,
		Old:      old,
		New:      next.clone(),
		OldKnown: known,
		At:       time.Now(),
	})
}
