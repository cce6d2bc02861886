package monitoring

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barista/internal/executor"
	"barista/internal/models"
)

func TestMonitor_RecordEvent(t *testing.T) {
	m := NewMonitor()

	m.RecordEvent(executor.Event{Kind: executor.EventRecipeStarted, Recipe: "Espresso"})
	m.RecordEvent(executor.Event{Kind: executor.EventStepStarted, Recipe: "Espresso", Step: 1})
	m.RecordEvent(executor.Event{Kind: executor.EventStepStarted, Recipe: "Espresso", Step: 2})
	m.RecordEvent(executor.Event{Kind: executor.EventRecipePaused, Recipe: "Espresso"})
	m.RecordEvent(executor.Event{Kind: executor.EventRecipeCompleted, Recipe: "Espresso", Elapsed: 90 * time.Second})
	m.RecordEvent(executor.Event{Kind: executor.EventRecipeFailed, Recipe: "Latte"})
	m.RecordEvent(executor.Event{Kind: executor.EventRecipeAborted, Recipe: "Latte"})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.steps))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.faultPauses))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recipes.WithLabelValues("Espresso", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recipes.WithLabelValues("Latte", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.recipes.WithLabelValues("Latte", "aborted")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.duration))
}

func TestMonitor_RecordState(t *testing.T) {
	m := NewMonitor()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.state.WithLabelValues("idle")))

	m.RecordState(executor.StateChange{State: models.StateWaitingFaultClear})

	assert.Equal(t, 0.0, testutil.ToFloat64(m.state.WithLabelValues("idle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.state.WithLabelValues("waiting_fault_clear")))
}

func TestMonitor_Run(t *testing.T) {
	m := NewMonitor()
	events := make(chan executor.Event, 1)
	states := make(chan executor.StateChange, 1)
	events <- executor.Event{Kind: executor.EventStepStarted}
	states <- executor.StateChange{State: models.StateRunning}
	close(events)
	close(states)

	done := make(chan struct{})
	go func() {
		m.Run(context.Background(), events, states)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after channels closed")
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(m.steps))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.state.WithLabelValues("running")))
}

func TestMonitor_Handler(t *testing.T) {
	m := NewMonitor()
	m.RecordEvent(executor.Event{Kind: executor.EventRecipeCompleted, Recipe: "Espresso", Elapsed: time.Minute})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `barista_recipes_total{outcome="completed",recipe="Espresso"} 1`)
	assert.Contains(t, body, "barista_uptime_seconds")
}
