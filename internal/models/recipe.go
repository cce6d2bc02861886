package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Step timeout bounds, in the units recipes are written in.
const (
	DefaultStepTimeout = 300 * time.Second
	MinStepTimeout     = 10 * time.Second
	MaxStepTimeout     = 3600 * time.Second
)

// StepKind tells which action a step carries
type StepKind string

const (
	StepKindNone   StepKind = "none"
	StepKindDrink  StepKind = "drink"
	StepKindSwitch StepKind = "switch"
)

// Recipe represents a named, ordered list of steps to run on the machine
type Recipe struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Steps       []Step `json:"steps"`
}

// Step represents one unit of work in a recipe. Exactly one of Drink or
// Switch is set, matching Kind; a StepKindNone step carries neither.
type Step struct {
	Kind    StepKind
	Drink   *DrinkAction
	Switch  *SwitchAction
	Timeout time.Duration
}

// DrinkAction selects a beverage on the machine and starts it
type DrinkAction struct {
	Drink  string
	Double bool
}

// SwitchAction drives one or more switches, each a number of times
type SwitchAction struct {
	Runs []SwitchRun
}

// SwitchRun is a (signal, repeat count) pair
type SwitchRun struct {
	Signal string `json:"signal" yaml:"signal"`
	Count  int    `json:"count" yaml:"count"`
}

// NewDrinkStep builds a drink step. A zero timeout means the default.
func NewDrinkStep(drink string, double bool, timeout time.Duration) Step {
	if strings.TrimSpace(drink) == "" {
		return Step{Kind: StepKindNone, Timeout: timeout}
	}
	return Step{
		Kind:    StepKindDrink,
		Drink:   &DrinkAction{Drink: drink, Double: double},
		Timeout: timeout,
	}
}

// NewSwitchStep builds a switch step, dropping runs with a non-positive count.
// When nothing is left the step has no action.
func NewSwitchStep(runs []SwitchRun, timeout time.Duration) Step {
	kept := make([]SwitchRun, 0, len(runs))
	for _, run := range runs {
		if run.Count > 0 && run.Signal != "" {
			kept = append(kept, run)
		}
	}
	if len(kept) == 0 {
		return Step{Kind: StepKindNone, Timeout: timeout}
	}
	return Step{
		Kind:    StepKindSwitch,
		Switch:  &SwitchAction{Runs: kept},
		Timeout: timeout,
	}
}

// EffectiveTimeout returns the step timeout, falling back to the default
func (s Step) EffectiveTimeout() time.Duration {
	if s.Timeout <= 0 {
		return DefaultStepTimeout
	}
	return s.Timeout
}

// HasAction reports whether the step drives the machine at all
func (s Step) HasAction() bool {
	switch s.Kind {
	case StepKindDrink:
		return s.Drink != nil
	case StepKindSwitch:
		return s.Switch != nil && len(s.Switch.Runs) > 0
	default:
		return false
	}
}

// String renders the step for logs
func (s Step) String() string {
	switch {
	case s.Kind == StepKindDrink && s.Drink != nil:
		if s.Drink.Double {
			return fmt.Sprintf("drink %s x2 (timeout %s)", s.Drink.Drink, s.EffectiveTimeout())
		}
		return fmt.Sprintf("drink %s (timeout %s)", s.Drink.Drink, s.EffectiveTimeout())
	case s.Kind == StepKindSwitch && s.Switch != nil:
		parts := make([]string, 0, len(s.Switch.Runs))
		for _, run := range s.Switch.Runs {
			parts = append(parts, fmt.Sprintf("%s x%d", run.Signal, run.Count))
		}
		return fmt.Sprintf("switch %s (timeout %s)", strings.Join(parts, ", "), s.EffectiveTimeout())
	default:
		return "no-op"
	}
}

// Clone returns a deep copy of the step
func (s Step) Clone() Step {
	out := Step{Kind: s.Kind, Timeout: s.Timeout}
	if s.Drink != nil {
		d := *s.Drink
		out.Drink = &d
	}
	if s.Switch != nil {
		out.Switch = &SwitchAction{Runs: append([]SwitchRun(nil), s.Switch.Runs...)}
	}
	return out
}

// CloneSteps snapshots a step list so later edits do not leak into a run
func CloneSteps(steps []Step) []Step {
	out := make([]Step, len(steps))
	for i, step := range steps {
		out[i] = step.Clone()
	}
	return out
}

// stepView is the wire shape of a step in API responses
type stepView struct {
	Kind           StepKind    `json:"kind"`
	Drink          string      `json:"drink,omitempty"`
	Double         bool        `json:"double,omitempty"`
	SwitchRuns     []SwitchRun `json:"switchRuns,omitempty"`
	TimeoutSeconds int         `json:"timeout"`
}

// MarshalJSON implements json.Marshaler
func (s Step) MarshalJSON() ([]byte, error) {
	view := stepView{Kind: s.Kind, TimeoutSeconds: int(s.EffectiveTimeout() / time.Second)}
	if s.Drink != nil {
		view.Drink = s.Drink.Drink
		view.Double = s.Drink.Double
	}
	if s.Switch != nil {
		view.SwitchRuns = s.Switch.Runs
	}
	return json.Marshal(view)
}

// UnmarshalJSON implements json.Unmarshaler
func (s *Step) UnmarshalJSON(data []byte) error {
	var view stepView
	if err := json.Unmarshal(data, &view); err != nil {
		return err
	}
	timeout := time.Duration(view.TimeoutSeconds) * time.Second
	switch {
	case view.Drink != "":
		*s = NewDrinkStep(view.Drink, view.Double, timeout)
	case len(view.SwitchRuns) > 0:
		*s = NewSwitchStep(view.SwitchRuns, timeout)
	default:
		*s = Step{Kind: StepKindNone, Timeout: timeout}
	}
	return nil
}
