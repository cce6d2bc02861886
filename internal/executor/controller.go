// Package executor runs recipes against the beverage machine: it sequences
// steps, detects when the machine finished each action, pauses around
// faults and supports safe cancellation.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"barista/internal/device"
	"barista/internal/models"
	"barista/internal/notify"
)

// Lifecycle events of the executor state machine
const (
	eventBrew     = "brew"
	eventPause    = "pause"
	eventResume   = "resume"
	eventComplete = "complete"
	eventFail     = "fail"
	eventAbort    = "abort"
)

const (
	statsSaveTimeout = 10 * time.Second
	notifyTimeout    = 10 * time.Second
)

// StatsStore persists brew statistics
type StatsStore interface {
	// Load returns nil, nil when nothing was saved yet
	Load(ctx context.Context) (*models.BrewStatistics, error)
	Save(ctx context.Context, stats *models.BrewStatistics) error
}

// run is one in-flight execution. Only the current run may change the
// controller's state; a run that was replaced or detached is ignored.
type run struct {
	ctx     context.Context
	recipe  string
	steps   []models.Step
	started time.Time
	cancel  context.CancelFunc
	done    chan struct{}
}

// Controller owns the execution state and runs at most one recipe at a time
type Controller struct {
	cfg      Config
	dev      device.Device
	store    StatsStore
	notifier notify.Notifier
	log      *zap.SugaredLogger

	// opMu serializes Brew, Abort and Close
	opMu sync.Mutex

	mu        sync.Mutex
	machine   *fsm.FSM
	progress  models.RunProgress
	stats     *models.BrewStatistics
	current   *run
	closed    bool
	baseCtx   context.Context
	cancelAll context.CancelFunc

	states *broadcaster[StateChange]
	events *broadcaster[Event]

	// statistics snapshots are saved one at a time, newest last
	saveMu      sync.Mutex
	pendingSave *models.BrewStatistics
	saveWake    chan struct{}
	saveStop    chan struct{}
	saveDone    chan struct{}
}

// New creates a Controller. store and notifier may be nil.
func New(cfg Config, dev device.Device, store StatsStore, notifier notify.Notifier, log *zap.SugaredLogger) *Controller {
	cfg = cfg.withDefaults()
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	baseCtx, cancel := context.WithCancel(context.Background())

	c := &Controller{
		cfg:       cfg,
		dev:       dev,
		store:     store,
		notifier:  notify.NewBestEffort(notifier, log),
		log:       log,
		stats:     models.NewBrewStatistics(),
		baseCtx:   baseCtx,
		cancelAll: cancel,
		states:    newBroadcaster[StateChange](),
		events:    newBroadcaster[Event](),
	}
	if store != nil {
		c.saveWake = make(chan struct{}, 1)
		c.saveStop = make(chan struct{})
		c.saveDone = make(chan struct{})
		go c.saveLoop()
	}

	all := make([]string, 0, len(models.AllStates))
	for _, s := range models.AllStates {
		all = append(all, string(s))
	}
	c.machine = fsm.NewFSM(
		string(models.StateIdle),
		fsm.Events{
			{Name: eventBrew, Src: []string{string(models.StateIdle), string(models.StateCompleted), string(models.StateError)}, Dst: string(models.StateRunning)},
			{Name: eventPause, Src: []string{string(models.StateRunning), string(models.StateWaitingFaultClear)}, Dst: string(models.StateWaitingFaultClear)},
			{Name: eventResume, Src: []string{string(models.StateWaitingFaultClear), string(models.StateRunning)}, Dst: string(models.StateRunning)},
			{Name: eventComplete, Src: []string{string(models.StateRunning)}, Dst: string(models.StateCompleted)},
			{Name: eventFail, Src: []string{string(models.StateRunning), string(models.StateWaitingFaultClear)}, Dst: string(models.StateError)},
			{Name: eventAbort, Src: all, Dst: string(models.StateIdle)},
		},
		fsm.Callbacks{},
	)
	return c
}

// Initialize loads the brew statistics from the store
func (c *Controller) Initialize(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	stats, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load brew statistics: %w", err)
	}
	if stats == nil {
		return nil
	}

	c.mu.Lock()
	c.stats = stats.Clone()
	c.mu.Unlock()
	c.log.Debugw("loaded brew statistics", "last_recipe", stats.LastRecipeName, "counts", stats.BrewCount)
	return nil
}

// State returns the current execution state
func (c *Controller) State() models.ExecutionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return models.ExecutionState(c.machine.Current())
}

// Progress returns a copy of the current run progress
func (c *Controller) Progress() models.RunProgress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

// Stats returns a copy of the brew statistics
func (c *Controller) Stats() *models.BrewStatistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats.Clone()
}

// SubscribeStates returns a channel of state changes and a func to stop receiving them
func (c *Controller) SubscribeStates(buf int) (<-chan StateChange, func()) {
	return c.states.subscribe(buf)
}

// SubscribeEvents returns a channel of lifecycle events and a func to stop receiving them
func (c *Controller) SubscribeEvents(buf int) (<-chan Event, func()) {
	return c.events.subscribe(buf)
}

// FollowStates is SubscribeStates without a buffer limit: every change is
// delivered in order. The channel closes after Close once drained.
func (c *Controller) FollowStates() (<-chan StateChange, func()) {
	return c.states.subscribeQueued()
}

// FollowEvents is the lossless variant of SubscribeEvents
func (c *Controller) FollowEvents() (<-chan Event, func()) {
	return c.events.subscribeQueued()
}

// Brew starts running steps under the given recipe name. A run in flight
// is aborted first. Brew returns once the run is scheduled.
func (c *Controller) Brew(ctx context.Context, name string, steps []models.Step) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	closed, active := c.closed, models.ExecutionState(c.machine.Current()).IsActive()
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if active {
		c.log.Infow("aborting running recipe before starting a new one", "recipe", name)
		c.abort(ctx)
	}

	runCtx, cancel := context.WithCancel(c.baseCtx)
	r := &run{
		ctx:     runCtx,
		recipe:  name,
		steps:   models.CloneSteps(steps),
		started: time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	c.mu.Lock()
	if err := c.machine.Event(context.Background(), eventBrew); err != nil {
		c.mu.Unlock()
		cancel()
		return fmt.Errorf("cannot start recipe %q: %w", name, err)
	}
	c.current = r
	c.progress = models.RunProgress{RecipeName: name, TotalSteps: len(r.steps)}
	c.publishLocked()
	c.events.publish(Event{Kind: EventRecipeStarted, Recipe: name, Total: len(r.steps), At: r.started})
	c.mu.Unlock()

	c.log.Infow("starting recipe", "recipe", name, "steps", len(r.steps))
	go c.execute(runCtx, r)
	return nil
}

// Abort cancels the run in flight and always leaves the executor idle
func (c *Controller) Abort(ctx context.Context) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.abort(ctx)
}

func (c *Controller) abort(ctx context.Context) {
	c.mu.Lock()
	r := c.current
	wasActive := models.ExecutionState(c.machine.Current()).IsActive()
	c.mu.Unlock()

	if r != nil {
		if wasActive {
			c.log.Infow("aborting recipe", "recipe", r.recipe)
		}
		r.cancel()

		grace := time.NewTimer(c.cfg.Timings.AbortGrace)
		select {
		case <-r.done:
		case <-grace.C:
			c.log.Warnw("recipe did not stop within grace period, detaching it", "recipe", r.recipe, "grace", c.cfg.Timings.AbortGrace)
		case <-ctx.Done():
			c.log.Warnw("abort interrupted, detaching recipe", "recipe", r.recipe, "error", ctx.Err())
		}
		grace.Stop()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = nil
	c.progress = models.RunProgress{}
	if c.fireLocked(eventAbort) {
		c.publishLocked()
	}
	if r != nil && wasActive {
		c.events.publish(Event{
			Kind:    EventRecipeAborted,
			Recipe:  r.recipe,
			Total:   len(r.steps),
			Elapsed: time.Since(r.started),
			At:      time.Now(),
		})
	}
}

// Close aborts any run, waits for pending statistics saves and stops all subscriptions
func (c *Controller) Close(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.abort(ctx)
	c.cancelAll()

	var err error
	if c.saveDone != nil {
		close(c.saveStop)
		select {
		case <-c.saveDone:
		case <-ctx.Done():
			err = fmt.Errorf("pending statistics saves: %w", ctx.Err())
		}
	}
	c.states.close()
	c.events.close()
	return err
}

// execute is the body of the run goroutine
func (c *Controller) execute(ctx context.Context, r *run) {
	defer close(r.done)
	defer r.cancel()
	defer func() {
		if p := recover(); p != nil {
			c.log.Errorw("unexpected panic while running recipe", "recipe", r.recipe, "panic", p, "stack", string(debug.Stack()))
			c.fail(r, &Error{Kind: KindUnexpected, Step: c.stepIndex(r), Err: fmt.Errorf("unexpected error: %v", p)})
		}
	}()

	err := c.runSteps(ctx, r)
	switch {
	case err == nil:
		c.complete(r)
	case errors.Is(err, ErrAborted) || ctx.Err() != nil:
		c.log.Infow("recipe run stopped", "recipe", r.recipe, "step", c.stepIndex(r))
	default:
		c.fail(r, err)
	}
}

func (c *Controller) runSteps(ctx context.Context, r *run) error {
	runner := c.newStepRunner(r)
	for i, step := range r.steps {
		if ctx.Err() != nil {
			return ErrAborted
		}
		idx := i + 1
		c.beginStep(r, idx)
		c.log.Infow("running step", "recipe", r.recipe, "step", idx, "total", len(r.steps), "action", step.String())

		if err := runner.run(ctx, step); err != nil {
			var execErr *Error
			if errors.As(err, &execErr) && execErr.Step == 0 {
				execErr.Step = idx
			}
			return err
		}
	}
	return nil
}

// The methods below are the only way a run changes controller state.
// Each is a no-op unless r is still the current run.

func (c *Controller) beginStep(r *run, idx int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != r {
		return
	}
	c.progress.StepIndex = idx
	c.progress.ActionLabel = ""
	c.fireLocked(eventResume)
	c.publishLocked()
	c.events.publish(Event{Kind: EventStepStarted, Recipe: r.recipe, Step: idx, Total: len(r.steps), At: time.Now()})
}

func (c *Controller) setAction(r *run, label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != r {
		return
	}
	c.progress.ActionLabel = label
	c.fireLocked(eventResume)
	c.publishLocked()
}

func (c *Controller) stepIndex(r *run) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != r {
		return 0
	}
	return c.progress.StepIndex
}

func (c *Controller) pause(r *run, fault string) {
	c.mu.Lock()
	if c.current != r {
		c.mu.Unlock()
		return
	}
	c.fireLocked(eventPause)
	c.publishLocked()
	p := c.progress
	c.events.publish(Event{Kind: EventRecipePaused, Recipe: r.recipe, Step: p.StepIndex, Total: p.TotalSteps, Reason: fault, At: time.Now()})
	c.mu.Unlock()

	c.log.Warnw("recipe paused, waiting for fault to clear", "recipe", r.recipe, "step", p.StepIndex, "total", p.TotalSteps, "fault", fault)
	c.notify(r, fmt.Sprintf("Recipe paused: %s\nStep %d/%d\nFault: %s\nFix the issue and brewing will resume automatically.",
		r.recipe, p.StepIndex, p.TotalSteps, fault))
}

func (c *Controller) resume(r *run) {
	c.mu.Lock()
	if c.current != r {
		c.mu.Unlock()
		return
	}
	c.fireLocked(eventResume)
	c.publishLocked()
	p := c.progress
	c.events.publish(Event{Kind: EventRecipeResumed, Recipe: r.recipe, Step: p.StepIndex, Total: p.TotalSteps, At: time.Now()})
	c.mu.Unlock()

	c.log.Infow("fault cleared, resuming recipe", "recipe", r.recipe, "step", p.StepIndex)
	c.notify(r, fmt.Sprintf("Fault resolved. Resuming recipe: %s\nStep %d/%d", r.recipe, p.StepIndex, p.TotalSteps))
}

func (c *Controller) complete(r *run) {
	c.mu.Lock()
	if c.current != r {
		c.mu.Unlock()
		return
	}
	now := time.Now()
	c.stats.RecordCompletion(r.recipe, now.UTC())
	snapshot := c.stats.Clone()
	c.progress.ActionLabel = ""
	c.fireLocked(eventComplete)
	c.publishLocked()
	c.events.publish(Event{Kind: EventRecipeCompleted, Recipe: r.recipe, Total: len(r.steps), Elapsed: now.Sub(r.started), At: now})
	c.mu.Unlock()

	c.log.Infow("recipe completed", "recipe", r.recipe, "elapsed", now.Sub(r.started))
	c.saveStats(snapshot)
}

func (c *Controller) fail(r *run, err error) {
	c.mu.Lock()
	if c.current != r {
		c.mu.Unlock()
		return
	}
	reason := err.Error()
	c.progress.LastError = reason
	c.progress.ActionLabel = ""
	c.fireLocked(eventFail)
	c.publishLocked()
	p := c.progress
	c.events.publish(Event{
		Kind:    EventRecipeFailed,
		Recipe:  r.recipe,
		Step:    p.StepIndex,
		Total:   p.TotalSteps,
		Reason:  reason,
		Elapsed: time.Since(r.started),
		At:      time.Now(),
	})
	c.mu.Unlock()

	c.log.Errorw("recipe failed", "recipe", r.recipe, "step", p.StepIndex, "total", p.TotalSteps, "kind", KindOf(err), "error", reason)
	c.notify(r, fmt.Sprintf("Recipe failed: %s\nStep %d/%d\nReason: %s", r.recipe, p.StepIndex, p.TotalSteps, reason))
}

// saveStats queues a statistics snapshot for the save worker. A snapshot
// not yet picked up is replaced by the newer one.
func (c *Controller) saveStats(stats *models.BrewStatistics) {
	if c.store == nil {
		return
	}
	c.saveMu.Lock()
	c.pendingSave = stats
	c.saveMu.Unlock()
	select {
	case c.saveWake <- struct{}{}:
	default:
	}
}

// saveLoop is the only writer to the stats store
func (c *Controller) saveLoop() {
	defer close(c.saveDone)
	for {
		select {
		case <-c.saveWake:
			c.flushStats()
		case <-c.saveStop:
			c.flushStats()
			return
		}
	}
}

func (c *Controller) flushStats() {
	c.saveMu.Lock()
	stats := c.pendingSave
	c.pendingSave = nil
	c.saveMu.Unlock()
	if stats == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), statsSaveTimeout)
	defer cancel()
	if err := c.store.Save(ctx, stats); err != nil {
		c.log.Errorw("failed to save brew statistics", "error", err)
	}
}

// notify is bounded by the run, so aborting never waits on a stuck notifier
func (c *Controller) notify(r *run, message string) {
	ctx, cancel := context.WithTimeout(r.ctx, notifyTimeout)
	defer cancel()
	_ = c.notifier.Notify(ctx, c.cfg.NotifyTitle, message)
}

// fireLocked applies a state machine event; it reports whether the state changed
func (c *Controller) fireLocked(event string) bool {
	from := c.machine.Current()
	if err := c.machine.Event(context.Background(), event); err != nil {
		var noTransition fsm.NoTransitionError
		if !errors.As(err, &noTransition) {
			c.log.Warnw("rejected state transition", "event", event, "state", from, "error", err)
		}
		return false
	}
	c.log.Debugw("state transition", "event", event, "from", from, "to", c.machine.Current())
	return true
}

func (c *Controller) publishLocked() {
	c.states.publish(StateChange{
		State:    models.ExecutionState(c.machine.Current()),
		Progress: c.progress,
		At:       time.Now(),
	})
}
