package models

import (
	"time"
)

// ExecutionState represents the state of the recipe executor
type ExecutionState string

const (
	StateIdle              ExecutionState = "idle"
	StateRunning           ExecutionState = "running"
	StateWaitingFaultClear ExecutionState = "waiting_fault_clear"
	StateError             ExecutionState = "error"
	StateCompleted         ExecutionState = "completed"
)

// AllStates lists every executor state, in display order
var AllStates = []ExecutionState{
	StateIdle,
	StateRunning,
	StateWaitingFaultClear,
	StateError,
	StateCompleted,
}

// IsActive reports whether a run is in flight in this state
func (s ExecutionState) IsActive() bool {
	return s == StateRunning || s == StateWaitingFaultClear
}

// RunProgress represents what the executor is currently doing
type RunProgress struct {
	RecipeName  string `json:"recipe_name"`
	StepIndex   int    `json:"current_step"`
	TotalSteps  int    `json:"total_steps"`
	ActionLabel string `json:"current_action"`
	LastError   string `json:"error"`
}

// BrewStatistics holds counters of completed recipes
type BrewStatistics struct {
	LastRecipeName  string         `json:"last_recipe"`
	LastCompletedAt time.Time      `json:"last_completed_at"`
	BrewCount       map[string]int `json:"brew_count"`
}

// NewBrewStatistics returns empty statistics
func NewBrewStatistics() *BrewStatistics {
	return &BrewStatistics{BrewCount: make(map[string]int)}
}

// RecordCompletion counts one successful run of the named recipe
func (b *BrewStatistics) RecordCompletion(name string, at time.Time) {
	if b.BrewCount == nil {
		b.BrewCount = make(map[string]int)
	}
	b.BrewCount[name]++
	b.LastRecipeName = name
	b.LastCompletedAt = at
}

// Clone returns a copy safe to hand to other goroutines
func (b *BrewStatistics) Clone() *BrewStatistics {
	if b == nil {
		return NewBrewStatistics()
	}
	out := &BrewStatistics{
		LastRecipeName:  b.LastRecipeName,
		LastCompletedAt: b.LastCompletedAt,
		BrewCount:       make(map[string]int, len(b.BrewCount)),
	}
	for k, v := range b.BrewCount {
		out.BrewCount[k] = v
	}
	return out
}
