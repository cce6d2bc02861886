package device

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSimulator(t *testing.T) *Simulator {
	t.Helper()
	sim := NewSimulator(SimulatorConfig{
		DrinkSelect:  "select.drink",
		StartSwitch:  "switch.start",
		DoubleSwitch: "switch.double",
		FaultSensors: []string{"binary_sensor.water"},
		AuxSwitches:  []string{"switch.rinse"},
		Options:      []string{"Espresso", "Americano"},
		BrewTime:     50 * time.Millisecond,
		AuxTime:      400 * time.Millisecond,
	}, zap.NewNop().Sugar())
	t.Cleanup(sim.Close)
	return sim
}

func TestSimulatorDefinesSignals(t *testing.T) {
	sim := newTestSimulator(t)

	sel, ok := sim.Read("select.drink")
	require.True(t, ok)
	assert.Equal(t, "Espresso", sel.State)
	assert.Equal(t, []string{"Espresso", "Americano"}, sel.Options())

	for _, id := range []string{"switch.start", "switch.double", "binary_sensor.water", "switch.rinse"} {
		sig, ok := sim.Read(id)
		require.True(t, ok, id)
		assert.True(t, sig.IsOff(), id)
	}
}

func TestSimulatorBrewCycle(t *testing.T) {
	sim := newTestSimulator(t)
	sub := sim.Subscribe("switch.start")
	defer sub.Close()

	require.NoError(t, sim.Command(context.Background(), TurnOn("switch.start")))

	assert.True(t, nextChange(t, sub).New.IsOn())
	assert.True(t, nextChange(t, sub).New.IsOff())
}

func TestSimulatorAuxProgram(t *testing.T) {
	sim := newTestSimulator(t)
	sub := sim.Subscribe("switch.rinse", "switch.start")
	defer sub.Close()

	require.NoError(t, sim.Command(context.Background(), TurnOn("switch.rinse")))

	first := nextChange(t, sub)
	assert.Equal(t, "switch.rinse", first.ID)
	assert.True(t, first.New.IsOn())

	second := nextChange(t, sub)
	assert.Equal(t, "switch.start", second.ID)
	assert.True(t, second.New.IsOn())

	third, fourth := nextChange(t, sub), nextChange(t, sub)
	assert.ElementsMatch(t, []string{"switch.rinse", "switch.start"}, []string{third.ID, fourth.ID})
	assert.True(t, third.New.IsOff())
	assert.True(t, fourth.New.IsOff())
}

func TestSimulatorCloseStopsTransitions(t *testing.T) {
	sim := newTestSimulator(t)
	require.NoError(t, sim.Command(context.Background(), TurnOn("switch.start")))
	sim.Close()

	time.Sleep(100 * time.Millisecond)
	sig, _ := sim.Read("switch.start")
	assert.True(t, sig.IsOn())
}
