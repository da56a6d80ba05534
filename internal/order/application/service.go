package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/order-service/internal/order/domain"
	"github.com/dmehra2102/order-service/pkg/broker"
)

const (
	MsgOrderCreated       = "Order created successfully"
	MsgOrderCancelled     = "Order cancelled successfully"
	MsgCreateFailed       = "Error creating order"
	MsgCancelFailed       = "Error cancelling order"
	MsgListFailed         = "Error retrieving orders"
	MsgOrderNotFound      = "Order not found"
	MsgStockUnavailable   = "Some products are not available in stock. Cannot proceed with the order."
	MsgCancelEventsFailed = "Error sending stock events for cancelled order"
	MsgBuyerRequired      = "buyerId is required"
	MsgOrderIDRequired    = "orderId is required"
	MsgProductIDRequired  = "productId is required"
	MsgQuantityPositive   = "quantity must be positive"
	MsgPriceNegative      = "itemPrice must not be negative"
	MsgStockNegative      = "availableStock must not be negative"
)

const cancelConflictAttempts = 3

var ErrBuyerRequired = errors.New(MsgBuyerRequired)

type Topics struct {
	OrderCreated   string
	OrderCancelled string
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }
func WithIDs(newID func() string) Option    { return func(s *Service) { s.newID = newID } }
func WithRecorder(r Recorder) Option        { return func(s *Service) { s.rec = r } }
func WithTopics(t Topics) Option            { return func(s *Service) { s.topics = t } }

// WithSweepMinAge keeps pending orders younger than d out of the sweep. Zero
// promotes every pending order on each run.
func WithSweepMinAge(d time.Duration) Option { return func(s *Service) { s.sweepMinAge = d } }

// Service is the order lifecycle engine. It keeps no order state between
// calls; every command re-reads the store before mutating it.
type Service struct {
	log    *slog.Logger
	store  OrderStore
	seq    SequenceAllocator
	pub    EventPublisher
	tracer trace.Tracer
	rec    Recorder
	topics Topics

	now         func() time.Time
	newID       func() string
	sweepMinAge time.Duration

	sweepMu sync.Mutex
	locks   keyedMutex
}

func NewService(log *slog.Logger, store OrderStore, seq SequenceAllocator, pub EventPublisher, opts ...Option) *Service {
	s := &Service{
		log:    log,
		store:  store,
		seq:    seq,
		pub:    pub,
		tracer: otel.Tracer("order-lifecycle"),
		rec:    nopRecorder{},
		topics: Topics{OrderCreated: domain.TopicOrderCreated, OrderCancelled: domain.TopicOrderCancelled},
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) CreateOrder(ctx context.Context, cmd CreateOrderCommand) Result {
	ctx, span := s.tracer.Start(ctx, "CreateOrder")
	defer span.End()

	if msg := validateCreate(cmd); msg != "" {
		return newResult(domain.CodeValidationFailed, msg)
	}

	n, err := s.seq.Next(ctx)
	if err != nil {
		s.fail(span, "allocate order reference failed", err)
		return newResult(domain.CodeInternalError, MsgCreateFailed)
	}
	ref := domain.FormatReference(n)
	span.SetAttributes(attribute.String("order.reference", ref))

	order := domain.NewOrder(s.newID(), ref, cmd.BuyerID, s.now())
	if err := s.store.InsertOrder(ctx, order); err != nil {
		s.fail(span, "insert order failed", err, "order_reference", ref)
		return newResult(domain.CodeInternalError, MsgCreateFailed)
	}
	s.rec.Transition(domain.StatusPending, 1)

	// The order row stays PENDING without items when stock is short; the
	// sweep reconciles it.
	if unavailable := unavailableProducts(cmd.Products); len(unavailable) > 0 {
		s.log.Info("order rejected, stock unavailable", "order_reference", ref, "unavailable", len(unavailable))
		res := newResult(domain.CodeValidationFailed, MsgStockUnavailable)
		res.OrderReference = ref
		res.UnavailableProducts = unavailable
		return res
	}

	batch := s.createItems(ctx, ref, cmd.Products)
	if code := batch.Code(); code != "" {
		span.SetStatus(codes.Error, "item phase failed")
		s.log.Error("order created with failed items",
			"order_reference", ref, "succeeded", batch.Succeeded, "failed", len(batch.Failures))
		res := newResult(code, fmt.Sprintf("Order %s created but %d of %d items failed", ref, len(batch.Failures), len(cmd.Products)))
		res.OrderReference = ref
		res.Failures = batch.Failures
		return res
	}

	s.log.Info("order created", "order_reference", ref, "buyer_id", cmd.BuyerID, "items", batch.Succeeded)
	res := newResult(domain.CodeCreated, MsgOrderCreated)
	res.OrderReference = ref
	return res
}

// createItems persists every product line and publishes its stock decrement.
// A product's event is only sent once its item is stored; failures are
// collected and never undo sibling lines.
func (s *Service) createItems(ctx context.Context, ref string, products []ProductLine) ItemBatchResult {
	var batch ItemBatchResult
	for _, p := range products {
		item := domain.NewOrderItem(s.newID(), ref, p.ProductID, p.Quantity, p.ItemPrice)
		if err := s.store.InsertItem(ctx, item); err != nil {
			s.log.Error("insert order item failed", "order_reference", ref, "product_id", p.ProductID, "err", err)
			batch.Failures = append(batch.Failures, ItemFailure{ProductID: p.ProductID, Code: domain.CodeInternalError, Error: err.Error()})
			continue
		}
		msg, err := stockMessage(ref, p.ProductID, p.Quantity)
		if err == nil {
			err = s.pub.Send(ctx, s.topics.OrderCreated, msg)
		}
		if err != nil {
			s.log.Error("publish stock decrement failed", "order_reference", ref, "product_id", p.ProductID, "err", err)
			batch.Failures = append(batch.Failures, ItemFailure{ProductID: p.ProductID, Code: domain.CodeDeliveryError, Error: err.Error()})
			continue
		}
		batch.Succeeded++
	}
	return batch
}

func (s *Service) CancelOrder(ctx context.Context, cmd CancelOrderCommand) Result {
	ctx, span := s.tracer.Start(ctx, "CancelOrder")
	defer span.End()

	id := strings.TrimSpace(cmd.OrderID)
	if id == "" {
		return newResult(domain.CodeValidationFailed, MsgOrderIDRequired)
	}
	span.SetAttributes(attribute.String("order.id", id))

	unlock := s.locks.Lock(id)
	defer unlock()

	order, err := s.store.FindActiveByID(ctx, id, domain.StatusCancelled)
	if errors.Is(err, domain.ErrOrderNotFound) {
		return newResult(domain.CodeNotFound, MsgOrderNotFound)
	}
	if err != nil {
		s.fail(span, "load order failed", err, "order_id", id)
		return newResult(domain.CodeInternalError, MsgCancelFailed)
	}
	if !order.Status.CanTransitionTo(domain.StatusCancelled) {
		return newResult(domain.CodeNotFound, MsgOrderNotFound)
	}

	items, err := s.store.ItemsByReference(ctx, order.Reference)
	if err != nil {
		s.fail(span, "load order items failed", err, "order_reference", order.Reference)
		return newResult(domain.CodeInternalError, MsgCancelFailed)
	}

	if len(items) > 0 {
		msgs := make([]broker.Message, 0, len(items))
		for _, item := range items {
			msg, err := stockMessage(order.Reference, item.ProductID, item.Quantity)
			if err != nil {
				s.fail(span, "encode stock increment failed", err, "order_reference", order.Reference)
				return newResult(domain.CodeInternalError, MsgCancelFailed)
			}
			msgs = append(msgs, msg)
		}
		// Items stay in place on a delivery failure so the cancel can be retried.
		if err := s.pub.Send(ctx, s.topics.OrderCancelled, msgs...); err != nil {
			s.fail(span, "publish stock increments failed", err, "order_reference", order.Reference)
			return newResult(domain.CodeDeliveryError, MsgCancelEventsFailed)
		}
		if _, err := s.store.DeleteItemsByReference(ctx, order.Reference); err != nil {
			s.fail(span, "delete order items failed", err, "order_reference", order.Reference)
			return newResult(domain.CodeInternalError, MsgCancelFailed)
		}
	}

	if err := s.markCancelled(ctx, order); err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return newResult(domain.CodeNotFound, MsgOrderNotFound)
		}
		s.fail(span, "update order status failed", err, "order_reference", order.Reference)
		return newResult(domain.CodeInternalError, MsgCancelFailed)
	}
	s.rec.Transition(domain.StatusCancelled, 1)

	s.log.Info("order cancelled", "order_reference", order.Reference, "items", len(items))
	return newResult(domain.CodeOK, MsgOrderCancelled)
}

// markCancelled compares-and-sets the status, following a concurrent sweep
// that completed the order between the read and the write.
func (s *Service) markCancelled(ctx context.Context, order domain.Order) error {
	from := order.Status
	for attempt := 0; ; attempt++ {
		err := s.store.UpdateStatus(ctx, order.ID, from, domain.StatusCancelled)
		if !errors.Is(err, domain.ErrStatusConflict) || attempt+1 >= cancelConflictAttempts {
			return err
		}
		cur, err := s.store.FindActiveByID(ctx, order.ID, domain.StatusCancelled)
		if err != nil {
			return err
		}
		if !cur.Status.CanTransitionTo(domain.StatusCancelled) {
			return domain.ErrOrderNotFound
		}
		from = cur.Status
	}
}

// SweepPendingOrders promotes pending orders to COMPLETED. A run that starts
// while another is in progress is skipped.
func (s *Service) SweepPendingOrders(ctx context.Context) (SweepResult, error) {
	if !s.sweepMu.TryLock() {
		s.log.Warn("sweep already running, skipping")
		return SweepResult{Skipped: true}, nil
	}
	defer s.sweepMu.Unlock()

	ctx, span := s.tracer.Start(ctx, "SweepPendingOrders")
	defer span.End()

	orders, err := s.store.FindByStatus(ctx, domain.StatusPending)
	if err != nil {
		s.fail(span, "load pending orders failed", err)
		return SweepResult{}, fmt.Errorf("find pending orders: %w", err)
	}

	res := SweepResult{Found: len(orders)}
	cutoff := s.now().Add(-s.sweepMinAge)
	for _, o := range orders {
		if s.sweepMinAge > 0 && o.CreatedAt.After(cutoff) {
			continue
		}
		if !o.Status.CanTransitionTo(domain.StatusCompleted) {
			continue
		}
		err := s.store.UpdateStatus(ctx, o.ID, domain.StatusPending, domain.StatusCompleted)
		switch {
		case err == nil:
			res.Completed++
		case errors.Is(err, domain.ErrStatusConflict), errors.Is(err, domain.ErrOrderNotFound):
			s.log.Debug("pending order changed during sweep", "order_reference", o.Reference)
		default:
			res.Failed++
			s.log.Error("complete pending order failed", "order_reference", o.Reference, "err", err)
		}
	}
	s.rec.Transition(domain.StatusCompleted, res.Completed)
	span.SetAttributes(attribute.Int("sweep.found", res.Found), attribute.Int("sweep.completed", res.Completed))

	s.log.Info("pending orders swept", "found", res.Found, "completed", res.Completed, "failed", res.Failed)
	return res, nil
}

func (s *Service) OrdersByBuyer(ctx context.Context, q ListOrdersQuery) ([]domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrdersByBuyer")
	defer span.End()

	buyerID := strings.TrimSpace(q.BuyerID)
	if buyerID == "" {
		return nil, ErrBuyerRequired
	}
	orders, err := s.store.FindByBuyer(ctx, buyerID)
	if err != nil {
		s.fail(span, "list orders failed", err, "buyer_id", buyerID)
		return nil, fmt.Errorf("find orders by buyer: %w", err)
	}
	return orders, nil
}

func (s *Service) fail(span trace.Span, msg string, err error, attrs ...any) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	s.log.Error(msg, append(attrs, "err", err)...)
}

func validateCreate(cmd CreateOrderCommand) string {
	if strings.TrimSpace(cmd.BuyerID) == "" {
		return MsgBuyerRequired
	}
	for _, p := range cmd.Products {
		switch {
		case strings.TrimSpace(p.ProductID) == "":
			return MsgProductIDRequired
		case p.Quantity <= 0:
			return MsgQuantityPositive
		case p.ItemPrice.IsNegative():
			return MsgPriceNegative
		case p.AvailableStock < 0:
			return MsgStockNegative
		}
	}
	return ""
}

func unavailableProducts(products []ProductLine) []ProductLine {
	var out []ProductLine
	for _, p := range products {
		if p.AvailableStock < p.Quantity {
			out = append(out, p)
		}
	}
	return out
}

func stockMessage(ref, productID string, quantity int) (broker.Message, error) {
	value, err := json.Marshal(domain.StockAdjusted{ProductID: productID, Quantity: quantity})
	if err != nil {
		return broker.Message{}, err
	}
	return broker.Message{Key: domain.EventKey(ref, productID), Value: value}, nil
}
