package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmehra2102/order-service/pkg/schedule"
)

const DefaultSweepInterval = 10 * time.Minute

// Sweeper runs SweepPendingOrders on every tick of its ticker.
type Sweeper struct {
	log     *slog.Logger
	svc     *Service
	ticker  schedule.Ticker
	timeout time.Duration
}

// NewSweeper takes ownership of ticker and stops it when Run returns. timeout
// bounds a single sweep; zero leaves it to the caller's context.
func NewSweeper(log *slog.Logger, svc *Service, ticker schedule.Ticker, timeout time.Duration) *Sweeper {
	return &Sweeper{log: log, svc: svc, ticker: ticker, timeout: timeout}
}

func (s *Sweeper) Run(ctx context.Context) {
	s.log.Info("sweeper started")
	schedule.Every(ctx, s.ticker, s.tick)
	s.log.Info("sweeper stopped")
}

func (s *Sweeper) tick(ctx context.Context) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if _, err := s.svc.SweepPendingOrders(ctx); err != nil {
		s.log.Error("sweep failed", "err", err)
	}
}
