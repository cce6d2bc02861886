package recipes

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"barista/internal/models"
)

func newTestStorage(t *testing.T, content string) (*Storage, *observer.ObservedLogs) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recipes.yaml")
	if content != "" {
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	core, logs := observer.New(zap.InfoLevel)
	return NewStorage(path, zap.New(core).Sugar()), logs
}

func TestLoadWritesExamplesWhenMissing(t *testing.T) {
	s, _ := newTestStorage(t, "")
	require.NoError(t, s.Load())

	assert.Equal(t, []string{"macchiato_americano", "double_espresso_cappuccino"}, s.Names())
	_, err := os.Stat(s.Path())
	require.NoError(t, err)

	recipe, ok := s.Get("double_espresso_cappuccino")
	require.True(t, ok)
	require.Len(t, recipe.Steps, 2)
	assert.True(t, recipe.Steps[0].Drink.Double)
}

func TestLoadKeepsOrderAndSkipsInvalid(t *testing.T) {
	s, logs := newTestStorage(t, `
recipes:
  zulu:
    name: Zulu
    steps:
      - drink: Espresso
  broken:
    steps:
      - drink: Espresso
  alpha:
    name: Alpha
    steps:
      - switches: [switch.rinse]
`)
	require.NoError(t, s.Load())

	assert.Equal(t, []string{"zulu", "alpha"}, s.Names())
	assert.Equal(t, 1, logs.FilterMessage("invalid recipe").Len())
}

func TestLoadRejectsUnreadableDocument(t *testing.T) {
	s, _ := newTestStorage(t, "recipes: [1, 2")
	assert.Error(t, s.Load())

	s, _ = newTestStorage(t, "recipes: [a, b]")
	assert.Error(t, s.Load())

	s, _ = newTestStorage(t, "recipes:\n")
	require.NoError(t, s.Load())
	assert.Empty(t, s.Names())
}

func TestSaveRewritesLegacyShape(t *testing.T) {
	s, _ := newTestStorage(t, `
recipes:
  clean:
    name: Clean
    steps:
      - switch_counts: {switch.rinse: 2, switch.milk: 1}
`)
	require.NoError(t, s.Load())

	recipe, ok := s.Get("clean")
	require.True(t, ok)
	recipe.Description = "rinse twice"
	require.NoError(t, s.Save("clean", recipe))

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "switchRuns:")
	assert.NotContains(t, string(data), "switch_counts")

	reloaded := NewStorage(s.Path(), zap.NewNop().Sugar())
	require.NoError(t, reloaded.Load())
	got, ok := reloaded.Get("clean")
	require.True(t, ok)
	assert.Equal(t, "rinse twice", got.Description)
	assert.Equal(t, []models.SwitchRun{
		{Signal: "switch.rinse", Count: 2},
		{Signal: "switch.milk", Count: 1},
	}, got.Steps[0].Switch.Runs)
}

func TestSaveValidatesAndDerivesKey(t *testing.T) {
	s, _ := newTestStorage(t, "recipes: {}\n")
	require.NoError(t, s.Load())

	bad := models.Recipe{Name: "Fast", Steps: []models.Step{models.NewDrinkStep("Espresso", false, 1)}}
	assert.Error(t, s.Save("", bad))
	assert.Empty(t, s.Names())

	good := models.Recipe{Name: "Flat White", Steps: []models.Step{models.NewDrinkStep("FlatWhite", false, 0)}}
	require.NoError(t, s.Save("", good))
	assert.Equal(t, []string{"flat_white"}, s.Names())

	got, ok := s.Lookup("Flat White")
	require.True(t, ok)
	assert.Equal(t, "flat_white", got.Key)
}

func TestDelete(t *testing.T) {
	s, _ := newTestStorage(t, "")
	require.NoError(t, s.Load())

	changes := 0
	s.OnChange(func() { changes++ })

	require.NoError(t, s.Delete("macchiato_americano"))
	assert.Equal(t, []string{"double_espresso_cappuccino"}, s.Names())
	assert.Equal(t, 1, changes)

	err := s.Delete("macchiato_americano")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, changes)

	reloaded := NewStorage(s.Path(), zap.NewNop().Sugar())
	require.NoError(t, reloaded.Load())
	assert.Equal(t, []string{"double_espresso_cappuccino"}, reloaded.Names())
}

func TestGetReturnsCopy(t *testing.T) {
	s, _ := newTestStorage(t, "")
	require.NoError(t, s.Load())

	recipe, _ := s.Get("macchiato_americano")
	recipe.Steps[0].Drink.Drink = "Changed"

	again, _ := s.Get("macchiato_americano")
	assert.Equal(t, "LatteMacchiato", again.Steps[0].Drink.Drink)
}

func TestOnChangeHookPanicIsContained(t *testing.T) {
	s, logs := newTestStorage(t, "")
	s.OnChange(func() { panic("boom") })

	require.NoError(t, s.Load())
	assert.Equal(t, 1, logs.FilterMessage("recipe change hook panicked").Len())
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recipes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
recipes:
  ok:
    name: OK
    steps: [{drink: Espresso}]
  bad:
    name: Bad
    steps: [{drink: Espresso, timeout: 1}]
`), 0o644))

	list, errs := ParseFile(path)
	require.Len(t, list, 1)
	assert.Equal(t, "ok", list[0].Key)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), `recipe "bad"`)

	_, errs = ParseFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Len(t, errs, 1)
}
