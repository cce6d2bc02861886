package executor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"barista/internal/device"
)

// faultMonitor watches the configured fault sensors of the machine
type faultMonitor struct {
	dev      device.Device
	sensors  []string
	debounce time.Duration
	log      *zap.SugaredLogger
}

func newFaultMonitor(dev device.Device, sensors []string, debounce time.Duration, log *zap.SugaredLogger) *faultMonitor {
	return &faultMonitor{
		dev:      dev,
		sensors:  append([]string(nil), sensors...),
		debounce: debounce,
		log:      log,
	}
}

// Active returns the description of the first active fault, in configured order
func (f *faultMonitor) Active() (string, bool) {
	for _, id := range f.sensors {
		sig, ok := f.dev.Read(id)
		if ok && sig.IsOn() {
			return sig.FriendlyName(), true
		}
	}
	return "", false
}

// isFault reports whether the change raised one of the fault sensors
func (f *faultMonitor) isFault(ch device.Change) (string, bool) {
	if !ch.New.IsOn() {
		return "", false
	}
	for _, id := range f.sensors {
		if id == ch.ID {
			return ch.New.FriendlyName(), true
		}
	}
	return "", false
}

// waitClear blocks until every fault sensor is inactive and then for the
// debounce period. It returns ErrAborted if ctx ends first.
func (f *faultMonitor) waitClear(ctx context.Context) error {
	if len(f.sensors) > 0 {
		sub := f.dev.Subscribe(f.sensors...)
		defer sub.Close()

		for {
			if _, active := f.Active(); !active {
				break
			}
			select {
			case <-ctx.Done():
				return ErrAborted
			case <-sub.C():
			}
		}
	}

	f.log.Debugw("faults cleared, debouncing", "debounce", f.debounce)
	return sleep(ctx, f.debounce)
}

// sleep waits for d or until ctx ends
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		if ctx.Err() != nil {
			return ErrAborted
		}
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ErrAborted
	case <-timer.C:
		return nil
	}
}
