package executor

import (
	"time"

	"barista/internal/models"
)

// DefaultNotifyTitle is the title of every notification the executor sends
const DefaultNotifyTitle = "Coffee Recipe Manager"

// Timings holds the fixed waits of the executor. Production code uses
// DefaultTimings; tests shrink them.
type Timings struct {
	// SettleWindow is stage one of the completion wait
	SettleWindow time.Duration `mapstructure:"settle_window" yaml:"settle_window"`
	// InterRunPause separates repeated runs of the same switch
	InterRunPause time.Duration `mapstructure:"inter_run_pause" yaml:"inter_run_pause"`
	// DrinkSettle lets the machine accept drink settings before start
	DrinkSettle time.Duration `mapstructure:"drink_settle" yaml:"drink_settle"`
	// FaultDebounce is waited after all faults clear, before resuming
	FaultDebounce time.Duration `mapstructure:"fault_debounce" yaml:"fault_debounce"`
	// AbortGrace bounds how long Abort waits for the run to stop
	AbortGrace time.Duration `mapstructure:"abort_grace" yaml:"abort_grace"`
}

// DefaultTimings returns the timings used against a real machine
func DefaultTimings() Timings {
	return Timings{
		SettleWindow:  5 * time.Second,
		InterRunPause: 5 * time.Second,
		DrinkSettle:   1 * time.Second,
		FaultDebounce: 2 * time.Second,
		AbortGrace:    5 * time.Second,
	}
}

// withDefaults fills unset timings from DefaultTimings
func (t Timings) withDefaults() Timings {
	def := DefaultTimings()
	if t.SettleWindow <= 0 {
		t.SettleWindow = def.SettleWindow
	}
	if t.InterRunPause <= 0 {
		t.InterRunPause = def.InterRunPause
	}
	if t.DrinkSettle <= 0 {
		t.DrinkSettle = def.DrinkSettle
	}
	if t.FaultDebounce <= 0 {
		t.FaultDebounce = def.FaultDebounce
	}
	if t.AbortGrace <= 0 {
		t.AbortGrace = def.AbortGrace
	}
	return t
}

// Config holds the configuration of a Controller
type Config struct {
	Machine     models.Machine
	Timings     Timings
	NotifyTitle string
}

func (c Config) withDefaults() Config {
	c.Timings = c.Timings.withDefaults()
	if c.NotifyTitle == "" {
		c.NotifyTitle = DefaultNotifyTitle
	}
	if c.Machine.StartSwitch == "" {
		c.Machine.StartSwitch = models.DefaultStartSwitch
	}
	if c.Machine.DrinkSelect == "" {
		c.Machine.DrinkSelect = models.DefaultDrinkSelect
	}
	return c
}
