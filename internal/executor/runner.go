package executor

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"barista/internal/device"
	"barista/internal/models"
)

// stepRunner executes the steps of one run
type stepRunner struct {
	c        *Controller
	r        *run
	dev      device.Device
	machine  models.Machine
	timings  Timings
	faults   *faultMonitor
	detector *completionDetector
	log      *zap.SugaredLogger
}

func (c *Controller) newStepRunner(r *run) *stepRunner {
	s := &stepRunner{
		c:       c,
		r:       r,
		dev:     c.dev,
		machine: c.cfg.Machine,
		timings: c.cfg.Timings,
		log:     c.log.With("recipe", r.recipe),
	}
	s.faults = newFaultMonitor(c.dev, c.cfg.Machine.FaultSensors, c.cfg.Timings.FaultDebounce, s.log)
	s.detector = &completionDetector{
		dev:     c.dev,
		faults:  s.faults,
		settle:  c.cfg.Timings.SettleWindow,
		suspend: s.suspend,
		log:     s.log,
	}
	return s
}

// run executes one step. It returns nil on success, ErrAborted when the
// run was cancelled, or an *Error.
func (s *stepRunner) run(ctx context.Context, step models.Step) error {
	switch {
	case step.Kind == models.StepKindSwitch && step.HasAction():
		return s.runSwitch(ctx, step)
	case step.Kind == models.StepKindDrink && step.HasAction():
		return s.runDrink(ctx, step)
	default:
		s.log.Warnw("step has no drink or switch action, skipping", "step", s.c.stepIndex(s.r))
		return nil
	}
}

func (s *stepRunner) runSwitch(ctx context.Context, step models.Step) error {
	runs := step.Switch.Runs
	for _, run := range runs {
		if _, ok := s.dev.Read(run.Signal); !ok {
			return newError(KindEntityNotFound,
				"switch entity '%s' not found, check the entity id in the recipe", run.Signal)
		}
	}

	timeout := step.EffectiveTimeout()
	for _, run := range runs {
		s.log.Infow("switch runs starting", "signal", run.Signal, "count", run.Count, "timeout", timeout)
		for n := 1; n <= run.Count; n++ {
			signal := run.Signal
			err := s.repeat(ctx, func(ctx context.Context) (Outcome, error) {
				return s.switchOnce(ctx, signal, timeout)
			})
			if err != nil {
				return err
			}
			s.log.Debugw("switch run done", "signal", run.Signal, "run", n, "count", run.Count)

			if n < run.Count {
				if err := sleep(ctx, s.timings.InterRunPause); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// switchOnce turns one switch on and waits until both it and the start
// signal went on and back off
func (s *stepRunner) switchOnce(ctx context.Context, signal string, timeout time.Duration) (Outcome, error) {
	w := s.detector.open(newDualEdge(signal, s.machine.StartSwitch))
	defer w.close()

	if outcome, suspended := s.precheck(ctx); suspended {
		return outcome, nil
	}

	s.c.setAction(s.r, signal)
	if err := s.command(ctx, device.TurnOn(signal)); err != nil {
		return OutcomeAbort, err
	}
	return s.detector.await(ctx, w, timeout)
}

// drinkOnce selects the drink, sets the double shot, starts the machine
// and waits for the start signal to fall back off
func (s *stepRunner) drinkOnce(ctx context.Context, drink string, double bool, timeout time.Duration) (Outcome, error) {
	w := s.detector.open(&startOff{start: s.machine.StartSwitch})
	defer w.close()

	if outcome, suspended := s.precheck(ctx); suspended {
		return outcome, nil
	}

	s.c.setAction(s.r, drink)
	if err := s.command(ctx, device.SelectOption(s.machine.DrinkSelect, drink)); err != nil {
		return OutcomeAbort, err
	}

	if s.machine.DoubleSwitch != "" {
		if _, ok := s.dev.Read(s.machine.DoubleSwitch); !ok {
			s.log.Warnw("double switch not found, skipping double setting", "signal", s.machine.DoubleSwitch)
		} else {
			cmd := device.TurnOff(s.machine.DoubleSwitch)
			if double {
				cmd = device.TurnOn(s.machine.DoubleSwitch)
			}
			if err := s.command(ctx, cmd); err != nil {
				return OutcomeAbort, err
			}
		}
	}

	if err := sleep(ctx, s.timings.DrinkSettle); err != nil {
		return OutcomeAbort, err
	}

	w.arm()
	if err := s.command(ctx, device.TurnOn(s.machine.StartSwitch)); err != nil {
		return OutcomeAbort, err
	}
	return s.detector.await(ctx, w, timeout)
}

func (s *stepRunner) runDrink(ctx context.Context, step models.Step) error {
	drink, err := s.resolveDrink(step.Drink.Drink)
	if err != nil {
		return err
	}
	timeout := step.EffectiveTimeout()
	return s.repeat(ctx, func(ctx context.Context) (Outcome, error) {
		return s.drinkOnce(ctx, drink, step.Drink.Double, timeout)
	})
}

// repeat runs attempt until it succeeds or fails for good. An attempt
// interrupted by a fault starts over from scratch once the fault clears.
func (s *stepRunner) repeat(ctx context.Context, attempt func(ctx context.Context) (Outcome, error)) error {
	for {
		if ctx.Err() != nil {
			return ErrAborted
		}
		outcome, err := attempt(ctx)
		if err != nil {
			return err
		}
		switch outcome {
		case OutcomeOK:
			return nil
		case OutcomeRetry:
			s.log.Infow("restarting action after fault", "step", s.c.stepIndex(s.r))
		default:
			return ErrAborted
		}
	}
}

// precheck suspends the run if a fault is already active
func (s *stepRunner) precheck(ctx context.Context) (Outcome, bool) {
	fault, active := s.faults.Active()
	if !active {
		return OutcomeOK, false
	}
	if err := s.suspend(ctx, fault); err != nil {
		return OutcomeAbort, true
	}
	return OutcomeRetry, true
}

// suspend pauses the run until every fault clears
func (s *stepRunner) suspend(ctx context.Context, fault string) error {
	s.c.pause(s.r, fault)
	if err := s.faults.waitClear(ctx); err != nil {
		return err
	}
	s.c.resume(s.r)
	return nil
}

// command issues cmd and maps device errors to executor errors
func (s *stepRunner) command(ctx context.Context, cmd device.Command) error {
	s.log.Debugw("issuing command", "command", cmd.String())
	err := s.dev.Command(ctx, cmd)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ErrAborted
	case errors.Is(err, device.ErrUnknownSignal):
		return &Error{Kind: KindEntityNotFound, Err: err}
	default:
		return &Error{Kind: KindUnexpected, Err: err}
	}
}

// resolveDrink matches the requested drink against the options the machine
// advertises: exact first, then ignoring case. An unreadable option list
// lets the name through.
func (s *stepRunner) resolveDrink(drink string) (string, error) {
	sig, ok := s.dev.Read(s.machine.DrinkSelect)
	var options []string
	if ok {
		options = sig.Options()
	}
	if len(options) == 0 {
		s.log.Warnw("could not read drink options, using drink name as is", "select", s.machine.DrinkSelect, "drink", drink)
		return drink, nil
	}

	for _, opt := range options {
		if opt == drink {
			return opt, nil
		}
	}
	for _, opt := range options {
		if strings.EqualFold(opt, drink) {
			s.log.Warnw("drink matched ignoring case, update the recipe to use the exact name", "drink", drink, "option", opt)
			return opt, nil
		}
	}
	return "", newError(KindDrinkNotRecognized,
		"drink '%s' not found in select entity '%s', valid options: %s",
		drink, s.machine.DrinkSelect, strings.Join(options, ", "))
}
