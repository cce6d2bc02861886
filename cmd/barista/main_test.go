package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	jwt "github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barista/internal/config"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// execute runs the root command with a config file built from extra
func execute(t *testing.T, extra string, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	recipesFile := writeFile(t, dir, "recipes.yaml", `
recipes:
  espresso:
    name: Espresso
    steps:
      - drink: Espresso
        double: true
`)
	cfgPath := writeFile(t, dir, "barista.yaml",
		"recipes_file: "+recipesFile+"\nstats:\n  dsn: "+filepath.Join(dir, "barista.db")+"\n"+extra)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	})

	err := rootCmd.Execute()
	return out.String(), err
}

func TestRecipesList(t *testing.T) {
	out, err := execute(t, "", "recipes", "list")
	require.NoError(t, err)

	assert.Contains(t, out, "Key")
	assert.Contains(t, out, "espresso")
	assert.Contains(t, out, "Espresso x2")
}

func TestRecipesValidate(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.yaml", "recipes:\n  a:\n    name: A\n    steps: [{drink: Espresso}]\n")
	bad := writeFile(t, dir, "bad.yaml", "recipes:\n  a:\n    name: A\n    steps: [{drink: Espresso, timeout: 2}]\n")

	out, err := execute(t, "", "recipes", "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "1 recipe(s) OK")

	out, err = execute(t, "", "recipes", "validate", bad)
	require.Error(t, err)
	assert.Contains(t, out, "invalid:")
	assert.Contains(t, err.Error(), "1 invalid recipe(s)")
}

func TestHistoryEmpty(t *testing.T) {
	out, err := execute(t, "", "history", "-n", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "Finished")

	_, err = execute(t, "  backend: none\n", "history")
	assert.ErrorIs(t, err, errNoHistory)
}

func TestToken(t *testing.T) {
	_, err := execute(t, "", "token")
	assert.Error(t, err)

	out, err := execute(t, "api:\n  jwt_secret: s3cret\n", "token", "--subject", "tester")
	require.NoError(t, err)

	raw := strings.TrimSpace(out)
	claims := &jwt.StandardClaims{}
	_, err = jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return []byte("s3cret"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "tester", claims.Subject)
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(config.LogConfig{Level: "warn"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(-1))

	_, err = newLogger(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}
