package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrStatusConflict   = errors.New("order status changed concurrently")
	ErrInvalidStatus    = errors.New("invalid order status")
	ErrInvalidReference = errors.New("invalid order reference")
)

// Status is the closed set of order states. The zero value is not a valid status.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusCompleted, StatusCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
}

// CanTransitionTo reports whether an order in s may move to next.
// PENDING completes only through the sweep; cancellation is allowed from
// any non-cancelled state; CANCELLED is terminal.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusCompleted || next == StatusCancelled
	case StatusCompleted:
		return next == StatusCancelled
	case StatusCancelled:
		return false
	default:
		return false
	}
}

func (s Status) String() string { return string(s) }

const referencePrefix = "ORDER-#"

// FormatReference renders a sequence value as a human readable order reference.
func FormatReference(n int64) string {
	return referencePrefix + strconv.FormatInt(n, 10)
}

func ParseReference(ref string) (int64, error) {
	raw, ok := strings.CutPrefix(ref, referencePrefix)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	return n, nil
}

type Order struct {
	ID        string
	Reference string
	BuyerID   string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

type OrderItem struct {
	ID             string
	OrderReference string
	ProductID      string
	Quantity       int
	UnitPrice      decimal.Decimal
}

func NewOrder(id, reference, buyerID string, now time.Time) Order {
	now = now.UTC()
	return Order{
		ID:        id,
		Reference: reference,
		BuyerID:   buyerID,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewOrderItem rounds the unit price to the two fractional digits the store keeps.
func NewOrderItem(id, reference, productID string, quantity int, unitPrice decimal.Decimal) OrderItem {
	return OrderItem{
		ID:             id,
		OrderReference: reference,
		ProductID:      productID,
		Quantity:       quantity,
		UnitPrice:      unitPrice.Round(2),
	}
}
