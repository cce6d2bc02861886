package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"barista/internal/executor"
	"barista/internal/models"
	"barista/internal/notify"
	"barista/internal/recipes"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type brewCall struct {
	name  string
	steps []models.Step
}

type fakeExecutor struct {
	mu      sync.Mutex
	state   models.ExecutionState
	brews   []brewCall
	aborts  int
	brewErr error
	states  chan executor.StateChange
	events  chan executor.Event
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		state:  models.StateIdle,
		states: make(chan executor.StateChange, 8),
		events: make(chan executor.Event, 8),
	}
}

func (f *fakeExecutor) State() models.ExecutionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeExecutor) Progress() models.RunProgress {
	return models.RunProgress{RecipeName: "Espresso", StepIndex: 1, TotalSteps: 2}
}

func (f *fakeExecutor) Stats() *models.BrewStatistics {
	stats := models.NewBrewStatistics()
	stats.RecordCompletion("Espresso", time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
	return stats
}

func (f *fakeExecutor) Brew(_ context.Context, name string, steps []models.Step) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.brewErr != nil {
		return f.brewErr
	}
	f.brews = append(f.brews, brewCall{name: name, steps: steps})
	f.state = models.StateRunning
	return nil
}

func (f *fakeExecutor) Abort(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborts++
	f.state = models.StateIdle
}

func (f *fakeExecutor) SubscribeStates(int) (<-chan executor.StateChange, func()) {
	return f.states, func() {}
}

func (f *fakeExecutor) SubscribeEvents(int) (<-chan executor.Event, func()) {
	return f.events, func() {}
}

func (f *fakeExecutor) brewCalls() []brewCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]brewCall(nil), f.brews...)
}

type testRig struct {
	server   *Server
	exec     *fakeExecutor
	recipes  *recipes.Storage
	notified []string
}

func newRig(t *testing.T, secret string) *testRig {
	t.Helper()
	log := zap.NewNop().Sugar()
	store := recipes.NewStorage(filepath.Join(t.TempDir(), "recipes.yaml"), log)
	require.NoError(t, store.Load())

	rig := &testRig{exec: newFakeExecutor(), recipes: store}
	rig.server = NewServer(Options{
		Executor: rig.exec,
		Recipes:  store,
		Notifier: notify.Func(func(_ context.Context, _, message string) error {
			rig.notified = append(rig.notified, message)
			return nil
		}),
		JWTSecret: secret,
		Log:       log,
	})
	return rig
}

func (r *testRig) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	r.server.Router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	rig := newRig(t, "")
	rec := rig.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"idle"`)
}

func TestStatusAndStats(t *testing.T) {
	rig := newRig(t, "")

	rec := rig.do(http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[StatusResponse](t, rec)
	assert.Equal(t, models.StateIdle, status.State)
	assert.Equal(t, 2, status.Progress.TotalSteps)

	rec = rig.do(http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[models.BrewStatistics](t, rec)
	assert.Equal(t, 1, stats.BrewCount["Espresso"])
}

func TestBrewByKey(t *testing.T) {
	rig := newRig(t, "")

	rec := rig.do(http.MethodPost, "/api/v1/brew", `{"recipe": "double_espresso_cappuccino"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	calls := rig.exec.brewCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Double Espresso + Cappuccino", calls[0].name)
	require.Len(t, calls[0].steps, 2)
	assert.Equal(t, "Espresso", calls[0].steps[0].Drink.Drink)
}

func TestBrewUnknownRecipe(t *testing.T) {
	rig := newRig(t, "")

	rec := rig.do(http.MethodPost, "/api/v1/brew", `{"recipe": "mocha"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decode[map[string]interface{}](t, rec)
	assert.ElementsMatch(t, []interface{}{"macchiato_americano", "double_espresso_cappuccino"}, body["available"])

	require.Len(t, rig.notified, 1)
	assert.Equal(t, "Recipe not found: 'mocha'\nAvailable: macchiato_americano, double_espresso_cappuccino", rig.notified[0])
	assert.Empty(t, rig.exec.brewCalls())
}

func TestBrewRejectsBadRequests(t *testing.T) {
	rig := newRig(t, "")
	assert.Equal(t, http.StatusBadRequest, rig.do(http.MethodPost, "/api/v1/brew", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, rig.do(http.MethodPost, "/api/v1/brew", `not json`).Code)

	rig.exec.brewErr = executor.ErrClosed
	assert.Equal(t, http.StatusServiceUnavailable, rig.do(http.MethodPost, "/api/v1/brew", `{"recipe": "macchiato_americano"}`).Code)
}

func TestAbort(t *testing.T) {
	rig := newRig(t, "")
	rec := rig.do(http.MethodPost, "/api/v1/abort", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, rig.exec.aborts)
}

func TestRecipeLifecycle(t *testing.T) {
	rig := newRig(t, "")

	rec := rig.do(http.MethodGet, "/api/v1/recipes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]map[string]interface{}](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, "macchiato_americano", list[0]["key"])
	assert.Equal(t, "LatteMacchiato, Americano", list[0]["summary"])

	yamlBody := "name: Evening Clean\nsteps:\n  - switchRuns: {switch.rinse: 2}\n"
	rec = rig.do(http.MethodPost, "/api/v1/recipes", yamlBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"key":"evening_clean"`)

	rec = rig.do(http.MethodGet, "/api/v1/recipes/evening_clean", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"summary":"switch.rinse x2"`)

	rec = rig.do(http.MethodDelete, "/api/v1/recipes/evening_clean", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = rig.do(http.MethodDelete, "/api/v1/recipes/evening_clean", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = rig.do(http.MethodGet, "/api/v1/recipes/evening_clean", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSaveRecipeValidation(t *testing.T) {
	rig := newRig(t, "")

	rec := rig.do(http.MethodPost, "/api/v1/recipes", `{"name": "Quick", "steps": [{"drink": "Espresso", "timeout": 2}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "at least 10")

	rec = rig.do(http.MethodPost, "/api/v1/recipes", `{"name": "???", "steps": []}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReloadRecipes(t *testing.T) {
	rig := newRig(t, "")
	require.NoError(t, rig.recipes.Delete("macchiato_americano"))

	rec := rig.do(http.MethodPost, "/api/v1/recipes/reload", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "double_espresso_cappuccino")
	assert.NotContains(t, rec.Body.String(), "macchiato_americano")
}

func TestExecutionsWithoutHistory(t *testing.T) {
	rig := newRig(t, "")
	assert.Equal(t, http.StatusServiceUnavailable, rig.do(http.MethodGet, "/api/v1/executions", "").Code)
}

func TestExecutions(t *testing.T) {
	rig := newRig(t, "")
	history := &memHistory{}
	rig.server.history = history
	start := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	history.rows = []models.RecipeExecution{
		{RecipeName: "Espresso", Status: "completed", StartTime: start, EndTime: start.Add(90 * time.Second), TotalSteps: 1},
		{RecipeName: "Latte", Status: "failed", Reason: "timeout after 300s", FailedStep: 2, TotalSteps: 2},
	}

	rec := rig.do(http.MethodGet, "/api/v1/executions?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	views := decode[[]ExecutionView](t, rec)
	require.Len(t, views, 1)
	assert.Equal(t, "Espresso", views[0].Recipe)
	assert.InDelta(t, 90.0, views[0].Seconds, 0.001)

	assert.Equal(t, http.StatusBadRequest, rig.do(http.MethodGet, "/api/v1/executions?limit=zero", "").Code)
}

func TestAuthMiddleware(t *testing.T) {
	rig := newRig(t, "s3cret")

	assert.Equal(t, http.StatusOK, rig.do(http.MethodGet, "/health", "").Code, "health stays open")
	assert.Equal(t, http.StatusUnauthorized, rig.do(http.MethodGet, "/api/v1/status", "").Code)
	assert.Equal(t, http.StatusUnauthorized, rig.do(http.MethodGet, "/api/v1/status", "", "Authorization", "Bearer garbage").Code)

	wrong, err := IssueToken("other", "tester")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, rig.do(http.MethodGet, "/api/v1/status", "", "Authorization", "Bearer "+wrong).Code)

	token, err := IssueToken("s3cret", "tester")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rig.do(http.MethodGet, "/api/v1/status", "", "Authorization", "Bearer "+token).Code)
	assert.Equal(t, http.StatusOK, rig.do(http.MethodGet, "/api/v1/status?token="+token, "").Code)
}

func TestWebSocketStreamsAndCommands(t *testing.T) {
	rig := newRig(t, "")
	srv := httptest.NewServer(rig.server.Router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() Message {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	assert.Equal(t, "status", read().Type)

	rig.exec.states <- executor.StateChange{State: models.StateRunning}
	assert.Equal(t, "state", read().Type)
	rig.exec.events <- executor.Event{Kind: executor.EventRecipeStarted, Recipe: "Espresso"}
	msg := read()
	assert.Equal(t, "event", msg.Type)
	assert.Equal(t, "recipe_started", msg.Data.(map[string]interface{})["event"])

	require.NoError(t, conn.WriteJSON(Command{Action: "brew", Recipe: "macchiato_americano"}))
	assert.Equal(t, "ack", read().Type)
	assert.Len(t, rig.exec.brewCalls(), 1)

	require.NoError(t, conn.WriteJSON(Command{Action: "brew", Recipe: "nope"}))
	assert.Equal(t, "error", read().Type)

	require.NoError(t, conn.WriteJSON(Command{Action: "dance"}))
	assert.Equal(t, "error", read().Type)
}

type memHistory struct {
	rows []models.RecipeExecution
}

func (m *memHistory) RecordExecution(_ context.Context, exec *models.RecipeExecution) error {
	m.rows = append(m.rows, *exec)
	return nil
}

func (m *memHistory) ListExecutions(_ context.Context, limit int) ([]models.RecipeExecution, error) {
	if limit < len(m.rows) {
		return m.rows[:limit], nil
	}
	return m.rows, nil
}
