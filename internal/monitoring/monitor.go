// Package monitoring exposes executor activity as prometheus metrics.
package monitoring

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"barista/internal/executor"
	"barista/internal/models"
)

// Monitor collects executor metrics on its own registry
type Monitor struct {
	registry  *prometheus.Registry
	startTime time.Time

	recipes     *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	faultPauses prometheus.Counter
	steps       prometheus.Counter
	state       *prometheus.GaugeVec
}

// NewMonitor creates a new monitoring instance
func NewMonitor() *Monitor {
	m := &Monitor{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
		recipes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "barista_recipes_total",
				Help: "Finished recipe runs by outcome",
			},
			[]string{"recipe", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "barista_recipe_duration_seconds",
				Help:    "Wall time of completed recipe runs",
				Buckets: prometheus.LinearBuckets(30, 60, 15),
			},
			[]string{"recipe"},
		),
		faultPauses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "barista_fault_pauses_total",
			Help: "Times a run paused on a machine fault",
		}),
		steps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "barista_steps_started_total",
			Help: "Recipe steps started",
		}),
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "barista_executor_state",
				Help: "1 for the current executor state, 0 for the others",
			},
			[]string{"state"},
		),
	}

	uptime := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "barista_uptime_seconds",
		Help: "Seconds since the monitor started",
	}, func() float64 { return time.Since(m.startTime).Seconds() })

	m.registry.MustRegister(
		m.recipes,
		m.duration,
		m.faultPauses,
		m.steps,
		m.state,
		uptime,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.setState(models.StateIdle)
	return m
}

// Registry returns the registry the metrics live on
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the prometheus exposition format
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordEvent updates the counters for one lifecycle event
func (m *Monitor) RecordEvent(ev executor.Event) {
	switch ev.Kind {
	case executor.EventStepStarted:
		m.steps.Inc()
	case executor.EventRecipePaused:
		m.faultPauses.Inc()
	case executor.EventRecipeCompleted:
		m.recipes.WithLabelValues(ev.Recipe, "completed").Inc()
		m.duration.WithLabelValues(ev.Recipe).Observe(ev.Elapsed.Seconds())
	case executor.EventRecipeFailed:
		m.recipes.WithLabelValues(ev.Recipe, "failed").Inc()
	case executor.EventRecipeAborted:
		m.recipes.WithLabelValues(ev.Recipe, "aborted").Inc()
	}
}

// RecordState sets the state gauge
func (m *Monitor) RecordState(sc executor.StateChange) {
	m.setState(sc.State)
}

func (m *Monitor) setState(current models.ExecutionState) {
	for _, s := range models.AllStates {
		v := 0.0
		if s == current {
			v = 1
		}
		m.state.WithLabelValues(string(s)).Set(v)
	}
}

// Run feeds the monitor until both channels close or ctx is done
func (m *Monitor) Run(ctx context.Context, events <-chan executor.Event, states <-chan executor.StateChange) {
	for events != nil || states != nil {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			m.RecordEvent(ev)
		case sc, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			m.RecordState(sc)
		}
	}
}
