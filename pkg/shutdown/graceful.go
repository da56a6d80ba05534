package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

func WithSignals(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-ch:
		case <-ctx.Done():
		}
		signal.Stop(ch)
		cancel()
	}()

	return ctx, cancel
}

// Stack closes registered resources in reverse order of registration.
type Stack struct {
	mu    sync.Mutex
	names []string
	fns   []func(context.Context) error
}

func (s *Stack) Push(name string, fn func(context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append(s.names, name)
	s.fns = append(s.fns, fn)
}

// Close runs every closer even when earlier ones fail and joins their errors.
// The stack is empty afterwards.
func (s *Stack) Close(ctx context.Context) error {
	s.mu.Lock()
	names, fns := s.names, s.fns
	s.names, s.fns = nil, nil
	s.mu.Unlock()

	var errs error
	for i := len(fns) - 1; i >= 0; i-- {
		if err := fns[i](ctx); err != nil {
			errs = errors.Join(errs, fmt.Errorf("close %s: %w", names[i], err))
		}
	}
	return errs
}

// Fatal records the first error that should stop the process and cancels
// the run context on every report.
type Fatal struct {
	cancel context.CancelFunc
	mu     sync.Mutex
	err    error
}

func NewFatal(cancel context.CancelFunc) *Fatal {
	return &Fatal{cancel: cancel}
}

func (f *Fatal) Fail(name string, err error) {
	f.mu.Lock()
	if f.err == nil {
		f.err = fmt.Errorf("%s: %w", name, err)
	}
	f.mu.Unlock()
	f.cancel()
}

// Err is nil unless Fail was called.
func (f *Fatal) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}
