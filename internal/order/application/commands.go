package application

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dmehra2102/order-service/internal/order/domain"
)

type ProductLine struct {
	ProductID      string          `json:"productId"`
	Quantity       int             `json:"quantity"`
	ItemPrice      decimal.Decimal `json:"itemPrice"`
	AvailableStock int             `json:"availableStock"`
}

type CreateOrderCommand struct {
	BuyerID  string        `json:"buyerId"`
	Products []ProductLine `json:"products"`
}

type CancelOrderCommand struct {
	OrderID string `json:"orderId"`
}

type ListOrdersQuery struct {
	BuyerID string `json:"buyerId"`
}

type ItemFailure struct {
	ProductID string      `json:"productId"`
	Code      domain.Code `json:"code"`
	Error     string      `json:"error"`
}

// ItemBatchResult aggregates the per-product item and event phase of a
// create so callers can decide on compensation.
type ItemBatchResult struct {
	Succeeded int
	Failures  []ItemFailure
}

// Code is INTERNAL_ERROR when any item failed to persist, DELIVERY_ERROR when
// only publishing failed, and empty when every product went through.
func (b ItemBatchResult) Code() domain.Code {
	if len(b.Failures) == 0 {
		return ""
	}
	for _, f := range b.Failures {
		if f.Code == domain.CodeInternalError {
			return domain.CodeInternalError
		}
	}
	return domain.CodeDeliveryError
}

// Result is the structured answer to every command, shared by the HTTP and
// broker gateways.
type Result struct {
	Status              int           `json:"status"`
	Code                domain.Code   `json:"code"`
	Message             string        `json:"message"`
	OrderReference      string        `json:"order_reference,omitempty"`
	UnavailableProducts []ProductLine `json:"unavailableProducts,omitempty"`
	Failures            []ItemFailure `json:"failures,omitempty"`
}

func newResult(code domain.Code, msg string) Result {
	return Result{Status: code.HTTPStatus(), Code: code, Message: msg}
}

// InvalidRequest is the answer to a command that could not be decoded.
func InvalidRequest(msg string) Result {
	return newResult(domain.CodeValidationFailed, msg)
}

// ErrorResult classifies an error returned by a query.
func ErrorResult(err error) Result {
	switch {
	case errors.Is(err, ErrBuyerRequired):
		return newResult(domain.CodeValidationFailed, MsgBuyerRequired)
	case errors.Is(err, domain.ErrOrderNotFound):
		return newResult(domain.CodeNotFound, MsgOrderNotFound)
	default:
		return newResult(domain.CodeInternalError, MsgListFailed)
	}
}

type OrderView struct {
	ID             string    `json:"id"`
	OrderReference string    `json:"order_reference"`
	BuyerID        string    `json:"buyer_id"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func NewOrderViews(orders []domain.Order) []OrderView {
	out := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, OrderView{
			ID:             o.ID,
			OrderReference: o.Reference,
			BuyerID:        o.BuyerID,
			Status:         o.Status.String(),
			CreatedAt:      o.CreatedAt,
			UpdatedAt:      o.UpdatedAt,
		})
	}
	return out
}

type SweepResult struct {
	Found     int
	Completed int
	Failed    int
	Skipped   bool
}
