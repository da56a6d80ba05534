package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmehra2102/order-service/pkg/schedule"
)

type Store interface {
	// LockBatch leases up to batchSize events that are pending, failed with
	// fewer than maxRetries attempts, or in progress under an expired lease.
	LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration, maxRetries int) ([]Event, error)
	MarkSent(ctx context.Context, ids []int64) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
}

type Relay struct {
	log        *slog.Logger
	store      Store
	dispatch   *Dispatcher
	relayID    string
	batchSize  int
	interval   time.Duration
	lease      time.Duration
	maxRetries int
	ticker     schedule.Ticker
}

type RelayOption func(*Relay)

func WithInterval(d time.Duration) RelayOption { return func(r *Relay) { r.interval = d } }
func WithBatchSize(n int) RelayOption          { return func(r *Relay) { r.batchSize = n } }
func WithLease(d time.Duration) RelayOption    { return func(r *Relay) { r.lease = d } }
func WithMaxRetries(n int) RelayOption         { return func(r *Relay) { r.maxRetries = n } }
func WithTicker(t schedule.Ticker) RelayOption { return func(r *Relay) { r.ticker = t } }

func NewRelay(log *slog.Logger, store Store, dispatch *Dispatcher, relayID string, opts ...RelayOption) *Relay {
	r := &Relay{
		log:        log,
		store:      store,
		dispatch:   dispatch,
		relayID:    relayID,
		batchSize:  100,
		interval:   500 * time.Millisecond,
		lease:      30 * time.Second,
		maxRetries: 20,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Relay) Run(ctx context.Context) error {
	t := r.ticker
	if t == nil {
		t = schedule.NewTicker(r.interval)
	}
	r.log.Info("relay started", "relay_id", r.relayID)
	schedule.Every(ctx, t, func(ctx context.Context) {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.log.Error("relay batch error", "relay_id", r.relayID, "err", err)
		}
	})
	r.log.Info("relay stopping", "relay_id", r.relayID)
	return nil
}

// RunOnce leases one batch and dispatches it, returning how many events were
// acknowledged by the broker.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	events, err := r.store.LockBatch(ctx, r.relayID, r.batchSize, r.lease, r.maxRetries)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	ids := make([]int64, 0, len(events))
	for _, e := range events {
		if err := r.dispatch.Dispatch(ctx, e); err != nil {
			if e.RetryCount+1 >= r.maxRetries {
				r.log.Error("outbox event exhausted retries", "event_id", e.ID, "topic", e.Topic, "key", e.Key)
			}
			if mErr := r.store.MarkFailed(ctx, e.ID, err.Error()); mErr != nil {
				r.log.Error("relay mark failed error", "event_id", e.ID, "err", mErr)
			}
			continue
		}
		ids = append(ids, e.ID)
	}
	if len(ids) > 0 {
		if err := r.store.MarkSent(ctx, ids); err != nil {
			// the lease expires and the events are sent again
			return 0, err
		}
	}
	return len(ids), nil
}
