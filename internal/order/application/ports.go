package application

import (
	"context"

	"github.com/dmehra2102/order-service/internal/order/domain"
	"github.com/dmehra2102/order-service/pkg/broker"
)

// OrderStore is the persistence contract of the lifecycle engine. It holds no
// business rules; missing rows are reported as domain.ErrOrderNotFound.
type OrderStore interface {
	FindActiveByID(ctx context.Context, id string, excluded domain.Status) (domain.Order, error)
	FindByReference(ctx context.Context, reference string) (domain.Order, error)
	FindByBuyer(ctx context.Context, buyerID string) ([]domain.Order, error)
	FindByStatus(ctx context.Context, status domain.Status) ([]domain.Order, error)
	InsertOrder(ctx context.Context, o domain.Order) error
	// UpdateStatus moves the order from one status to another and returns
	// domain.ErrStatusConflict when the stored status is no longer from.
	UpdateStatus(ctx context.Context, id string, from, to domain.Status) error

	InsertItem(ctx context.Context, item domain.OrderItem) error
	ItemsByReference(ctx context.Context, reference string) ([]domain.OrderItem, error)
	DeleteItemsByReference(ctx context.Context, reference string) (int64, error)
}

// SequenceAllocator hands out strictly increasing values shared by every
// running instance.
type SequenceAllocator interface {
	Next(ctx context.Context) (int64, error)
}

type EventPublisher = broker.Publisher

// Recorder receives lifecycle counters.
type Recorder interface {
	Transition(to domain.Status, n int)
}

type nopRecorder struct{}

func (nopRecorder) Transition(domain.Status, int) {}
