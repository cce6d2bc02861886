// Package device abstracts the signals of the beverage machine: binary
// switches and sensors, the drink select, and the commands that drive them.
package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Binary signal states
const (
	StateOn  = "on"
	StateOff = "off"
	// StateUnavailable is reported by a signal that exists but cannot be read
	StateUnavailable = "unavailable"
)

// Well-known attribute keys
const (
	AttrOptions      = "options"
	AttrFriendlyName = "friendly_name"
)

// ErrUnknownSignal is returned when a command targets a signal the device does not have
var ErrUnknownSignal = errors.New("unknown signal")

// Signal represents the current value of one machine signal
type Signal struct {
	ID         string         `json:"id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// IsOn reports whether a binary signal is on
func (s Signal) IsOn() bool {
	return strings.EqualFold(s.State, StateOn)
}

// IsOff reports whether a binary signal is off
func (s Signal) IsOff() bool {
	return strings.EqualFold(s.State, StateOff)
}

// IsAvailable reports whether the signal currently reports a value
func (s Signal) IsAvailable() bool {
	return s.State != "" && !strings.EqualFold(s.State, StateUnavailable)
}

// FriendlyName returns the display name of the signal, or its id
func (s Signal) FriendlyName() string {
	if name, ok := s.Attributes[AttrFriendlyName].(string); ok && name != "" {
		return name
	}
	return s.ID
}

// Options returns the option list advertised by a select signal
func (s Signal) Options() []string {
	switch v := s.Attributes[AttrOptions].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

func (s Signal) clone() Signal {
	out := Signal{ID: s.ID, State: s.State}
	if s.Attributes != nil {
		out.Attributes = make(map[string]any, len(s.Attributes))
		for k, v := range s.Attributes {
			out.Attributes[k] = v
		}
	}
	return out
}

// Change represents one observed change of a signal
type Change struct {
	ID  string
	Old Signal
	New Signal
	// OldKnown is false when the signal had no value before this change
	OldKnown bool
	At       time.Time
}

// CommandKind is the kind of command sent to the machine
type CommandKind string

const (
	CommandTurnOn       CommandKind = "turn_on"
	CommandTurnOff      CommandKind = "turn_off"
	CommandSelectOption CommandKind = "select_option"
)

// Command is a request to change a signal on the machine
type Command struct {
	Kind   CommandKind
	Signal string
	Option string
}

// String renders the command for logs
func (c Command) String() string {
	if c.Kind == CommandSelectOption {
		return fmt.Sprintf("%s %s=%q", c.Kind, c.Signal, c.Option)
	}
	return fmt.Sprintf("%s %s", c.Kind, c.Signal)
}

// TurnOn returns a command that switches a signal on
func TurnOn(id string) Command { return Command{Kind: CommandTurnOn, Signal: id} }

// TurnOff returns a command that switches a signal off
func TurnOff(id string) Command { return Command{Kind: CommandTurnOff, Signal: id} }

// SelectOption returns a command that selects an option on a select signal
func SelectOption(id, option string) Command {
	return Command{Kind: CommandSelectOption, Signal: id, Option: option}
}

// Device is the machine as the executor sees it
type Device interface {
	// Read returns the current value of a signal; false only if the signal does not exist.
	// An unavailable signal is returned with its unavailable state.
	Read(id string) (Signal, bool)
	// Subscribe returns an ordered, lossless feed of changes to the given signals.
	Subscribe(ids ...string) *Subscription
	// Command issues a command and blocks until the device acknowledges it.
	Command(ctx context.Context, cmd Command) error
}
