package executor

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"barista/internal/device"
)

// Outcome is the result of one attempt at an action
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeRetry
	OutcomeAbort
	OutcomeTimeout
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeRetry:
		return "retry"
	case OutcomeAbort:
		return "abort"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// edge tracks one signal through unknown -> on -> done
type edge int

const (
	edgeUnknown edge = iota
	edgeOn
	edgeDone
)

func (e edge) observe(sig device.Signal) edge {
	switch {
	case sig.IsOn():
		return edgeOn
	case sig.IsOff() && e == edgeOn:
		return edgeDone
	default:
		return e
	}
}

// condition decides from observed changes when an action has finished
type condition interface {
	// signals lists what the condition needs to observe
	signals() []string
	// seed primes the condition from current values before the command
	seed(dev device.Device)
	// observe applies a change and reports whether the action is complete
	observe(ch device.Change) bool
	// target names the signal reported in timeout messages
	target() string
}

// dualEdge completes once both the commanded switch and the machine start
// signal were seen going on and then off. A signal already off and never
// seen on does not count.
type dualEdge struct {
	commanded string
	start     string
	cmdEdge   edge
	startEdge edge
}

func newDualEdge(commanded, start string) *dualEdge {
	return &dualEdge{commanded: commanded, start: start}
}

func (d *dualEdge) signals() []string { return []string{d.commanded, d.start} }
func (d *dualEdge) target() string    { return d.commanded }

func (d *dualEdge) seed(dev device.Device) {
	if sig, ok := dev.Read(d.commanded); ok && sig.IsOn() {
		d.cmdEdge = edgeOn
	}
	if sig, ok := dev.Read(d.start); ok && sig.IsOn() {
		d.startEdge = edgeOn
	}
}

func (d *dualEdge) observe(ch device.Change) bool {
	if ch.ID == d.commanded {
		d.cmdEdge = d.cmdEdge.observe(ch.New)
	}
	if ch.ID == d.start {
		d.startEdge = d.startEdge.observe(ch.New)
	}
	return d.cmdEdge == edgeDone && d.startEdge == edgeDone
}

// startOff completes when the start signal goes off. A missed on edge is
// accepted, so a drink that dispenses faster than it reports still completes.
type startOff struct {
	start string
}

func (s *startOff) signals() []string  { return []string{s.start} }
func (s *startOff) target() string     { return s.start }
func (s *startOff) seed(device.Device) {}

func (s *startOff) observe(ch device.Change) bool {
	return ch.ID == s.start && ch.New.IsOff()
}

// watch is an open subscription feeding one condition. It is opened before
// the command it observes so no edge is lost.
type watch struct {
	sub     *device.Subscription
	cond    condition
	armedAt time.Time
}

func (w *watch) close() {
	w.sub.Close()
}

// arm makes the condition ignore changes that happened before now.
// Faults are never ignored.
func (w *watch) arm() {
	w.armedAt = time.Now()
}

// completionDetector races completion against faults and cancellation
type completionDetector struct {
	dev     device.Device
	faults  *faultMonitor
	settle  time.Duration
	suspend func(ctx context.Context, fault string) error
	log     *zap.SugaredLogger
}

// open subscribes to the condition's signals and the fault sensors, then seeds the condition.
// Seeding after arming means a change racing the seed is seen twice, never lost.
func (d *completionDetector) open(cond condition) *watch {
	ids := append(cond.signals(), d.faults.sensors...)
	w := &watch{sub: d.dev.Subscribe(ids...), cond: cond}
	w.arm()
	cond.seed(d.dev)
	return w
}

// await waits for the watch's condition in two stages: the settle window,
// then up to timeout more. A fault suspends the run and yields OutcomeRetry
// once cleared.
func (d *completionDetector) await(ctx context.Context, w *watch, timeout time.Duration) (Outcome, error) {
	began := time.Now()
	stage1 := time.NewTimer(d.settle)
	defer stage1.Stop()

	var (
		stage2  <-chan time.Time
		s2Timer *time.Timer
	)
	defer func() {
		if s2Timer != nil {
			s2Timer.Stop()
		}
	}()

	for {
		if ctx.Err() != nil {
			return OutcomeAbort, ErrAborted
		}

		select {
		case <-ctx.Done():
			return OutcomeAbort, ErrAborted

		case ch := <-w.sub.C():
			if fault, ok := d.faults.isFault(ch); ok {
				d.log.Warnw("fault raised while waiting for completion", "fault", fault, "signal", w.cond.target())
				if err := d.suspend(ctx, fault); err != nil {
					return OutcomeAbort, ErrAborted
				}
				return OutcomeRetry, nil
			}
			if ch.At.Before(w.armedAt) {
				continue
			}
			if w.cond.observe(ch) {
				if stage2 == nil {
					d.log.Debugw("completed within settle window", "signal", w.cond.target(), "elapsed", time.Since(began))
				} else {
					d.log.Debugw("completed", "signal", w.cond.target(), "elapsed", time.Since(began))
				}
				return OutcomeOK, nil
			}

		case <-stage1.C:
			d.log.Debugw("settle window passed, waiting for completion", "signal", w.cond.target(), "timeout", timeout)
			s2Timer = time.NewTimer(timeout)
			stage2 = s2Timer.C

		case <-stage2:
			return OutcomeTimeout, newError(KindTimeout,
				"timeout after %s waiting for machine to finish '%s' (elapsed %.1fs)",
				formatSeconds(timeout), w.cond.target(), time.Since(began).Seconds())
		}
	}
}

// formatSeconds renders 300s as "300s" and 250ms as "0.25s"
func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64) + "s"
}
