package device

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nextChange(t *testing.T, sub *Subscription) Change {
	t.Helper()
	select {
	case ch := <-sub.C():
		return ch
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change")
		return Change{}
	}
}

func TestMemoryReadAndSet(t *testing.T) {
	m := NewMemory()

	_, ok := m.Read("switch.start")
	assert.False(t, ok)

	m.Set("switch.start", StateOff)
	sig, ok := m.Read("switch.start")
	require.True(t, ok)
	assert.True(t, sig.IsOff())
	assert.Equal(t, "switch.start", sig.ID)

	m.Remove("switch.start")
	_, ok = m.Read("switch.start")
	assert.False(t, ok)
}

func TestMemorySubscriptionOrder(t *testing.T) {
	m := NewMemory()
	m.Set("switch.start", StateOff)

	sub := m.Subscribe("switch.start")
	defer sub.Close()

	// a slow reader must still see every edge
	m.Set("switch.start", StateOn)
	m.Set("switch.start", StateOff)
	m.Set("switch.other", StateOn)
	m.Set("switch.start", StateOn)

	first := nextChange(t, sub)
	assert.Equal(t, StateOff, first.Old.State)
	assert.Equal(t, StateOn, first.New.State)
	assert.True(t, first.OldKnown)

	second := nextChange(t, sub)
	assert.Equal(t, StateOff, second.New.State)

	third := nextChange(t, sub)
	assert.Equal(t, StateOn, third.New.State)
	assert.Equal(t, "switch.start", third.ID)
}

func TestMemoryNoChangeNoEvent(t *testing.T) {
	m := NewMemory()
	m.Set("switch.start", StateOff)

	sub := m.Subscribe()
	defer sub.Close()

	m.Set("switch.start", StateOff)
	m.Set("switch.start", StateOn)

	ch := nextChange(t, sub)
	assert.Equal(t, StateOn, ch.New.State)
}

func TestMemoryCommand(t *testing.T) {
	m := NewMemory()
	m.Define(Signal{ID: "select.drink", State: "Espresso", Attributes: map[string]any{AttrOptions: []any{"Espresso", "Latte"}}})
	m.Set("switch.start", StateOff)

	var seen []Command
	m.OnCommand(func(cmd Command) { seen = append(seen, cmd) })

	ctx := context.Background()
	require.NoError(t, m.Command(ctx, SelectOption("select.drink", "Latte")))
	require.NoError(t, m.Command(ctx, TurnOn("switch.start")))

	sig, _ := m.Read("select.drink")
	assert.Equal(t, "Latte", sig.State)
	assert.Equal(t, []string{"Espresso", "Latte"}, sig.Options())

	sig, _ = m.Read("switch.start")
	assert.True(t, sig.IsOn())

	assert.Equal(t, []Command{SelectOption("select.drink", "Latte"), TurnOn("switch.start")}, m.Commands())
	assert.Equal(t, m.Commands(), seen)
}

func TestMemoryCommandErrors(t *testing.T) {
	m := NewMemory()
	m.Set("switch.start", StateOff)

	err := m.Command(context.Background(), TurnOn("switch.missing"))
	assert.ErrorIs(t, err, ErrUnknownSignal)

	boom := errors.New("boom")
	m.FailCommands(boom)
	err = m.Command(context.Background(), TurnOn("switch.start"))
	assert.ErrorIs(t, err, boom)

	m.FailCommands(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = m.Command(ctx, TurnOn("switch.start"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, m.Commands())
}

func TestSubscriptionClose(t *testing.T) {
	m := NewMemory()
	sub := m.Subscribe("switch.start")
	assert.Equal(t, 1, m.Subscribers())

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, m.Subscribers())

	m.Set("switch.start", StateOn)
	select {
	case <-sub.C():
		t.Fatal("closed subscription delivered a change")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSignalHelpers(t *testing.T) {
	sig := Signal{ID: "binary_sensor.water_tank", State: "ON"}
	assert.True(t, sig.IsOn())
	assert.Equal(t, "binary_sensor.water_tank", sig.FriendlyName())

	sig.Attributes = map[string]any{AttrFriendlyName: "Water tank empty"}
	assert.Equal(t, "Water tank empty", sig.FriendlyName())
	assert.Nil(t, sig.Options())

	sig.Attributes[AttrOptions] = []string{"A", "B"}
	assert.Equal(t, []string{"A", "B"}, sig.Options())

	assert.True(t, sig.IsAvailable())
	assert.False(t, Signal{ID: "switch.x", State: "Unavailable"}.IsAvailable())
	assert.False(t, Signal{ID: "switch.x"}.IsAvailable())
}
