// Package schedule runs periodic jobs off an injectable ticker so tests can
// fire ticks by hand.
package schedule

import (
	"context"
	"time"
)

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct {
	t *time.Ticker
}

func NewTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// Manual is a Ticker driven by Tick. It is meant for tests.
type Manual struct {
	ch      chan time.Time
	stopped chan struct{}
}

func NewManual() *Manual {
	return &Manual{ch: make(chan time.Time), stopped: make(chan struct{})}
}

func (m *Manual) C() <-chan time.Time { return m.ch }

func (m *Manual) Stop() {
	select {
	case <-m.stopped:
	default:
		close(m.stopped)
	}
}

// Tick blocks until the receiving loop has taken the tick, or returns false
// once the ticker has been stopped.
func (m *Manual) Tick(at time.Time) bool {
	select {
	case m.ch <- at:
		return true
	case <-m.stopped:
		return false
	}
}

// Every calls fn on each tick until ctx is done. fn runs on the calling
// goroutine, so a slow run delays the next one instead of overlapping it.
func Every(ctx context.Context, t Ticker, fn func(ctx context.Context)) {
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			fn(ctx)
		}
	}
}
