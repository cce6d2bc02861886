package device

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// SimulatorConfig describes the machine a Simulator emulates
type SimulatorConfig struct {
	DrinkSelect  string
	StartSwitch  string
	DoubleSwitch string
	FaultSensors []string
	AuxSwitches  []string
	Options      []string
	// BrewTime is how long the start switch stays on after a drink is started
	BrewTime time.Duration
	// AuxTime is how long an auxiliary program (rinse, descale...) runs
	AuxTime time.Duration
}

// Simulator emulates a coffee machine on top of a Memory device. Starting
// a drink keeps the start switch on for BrewTime; turning on an auxiliary
// switch turns the start switch on as well and both fall back off after AuxTime.
type Simulator struct {
	*Memory
	cfg SimulatorConfig
	log *zap.SugaredLogger

	mu     sync.Mutex
	timers []*time.Timer
	closed bool
}

// NewSimulator creates a simulated machine with every signal idle
func NewSimulator(cfg SimulatorConfig, log *zap.SugaredLogger) *Simulator {
	if cfg.BrewTime <= 0 {
		cfg.BrewTime = 20 * time.Second
	}
	if cfg.AuxTime <= 0 {
		cfg.AuxTime = 8 * time.Second
	}

	s := &Simulator{Memory: NewMemory(), cfg: cfg, log: log}

	options := make([]any, 0, len(cfg.Options))
	for _, opt := range cfg.Options {
		options = append(options, opt)
	}
	initial := ""
	if len(cfg.Options) > 0 {
		initial = cfg.Options[0]
	}
	s.Define(Signal{ID: cfg.DrinkSelect, State: initial, Attributes: map[string]any{AttrOptions: options}})
	s.Define(Signal{ID: cfg.StartSwitch, State: StateOff})
	if cfg.DoubleSwitch != "" {
		s.Define(Signal{ID: cfg.DoubleSwitch, State: StateOff})
	}
	for _, id := range cfg.FaultSensors {
		s.Define(Signal{ID: id, State: StateOff})
	}
	for _, id := range cfg.AuxSwitches {
		s.Define(Signal{ID: id, State: StateOff})
	}

	s.OnCommand(s.react)
	return s
}

// Close stops pending simulated transitions
func (s *Simulator) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
}

func (s *Simulator) react(cmd Command) {
	if cmd.Kind != CommandTurnOn {
		return
	}

	switch {
	case cmd.Signal == s.cfg.StartSwitch:
		s.log.Debugw("simulated brew started", "duration", s.cfg.BrewTime)
		s.after(s.cfg.BrewTime, func() {
			s.Set(s.cfg.StartSwitch, StateOff)
		})
	case s.isAux(cmd.Signal):
		s.log.Debugw("simulated program started", "signal", cmd.Signal, "duration", s.cfg.AuxTime)
		s.after(200*time.Millisecond, func() {
			s.Set(s.cfg.StartSwitch, StateOn)
		})
		s.after(s.cfg.AuxTime, func() {
			s.Set(cmd.Signal, StateOff)
			s.Set(s.cfg.StartSwitch, StateOff)
		})
	}
}

func (s *Simulator) isAux(id string) bool {
	for _, aux := range s.cfg.AuxSwitches {
		if aux == id {
			return true
		}
	}
	return false
}

func (s *Simulator) after(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.timers = append(s.timers, time.AfterFunc(d, fn))
}
