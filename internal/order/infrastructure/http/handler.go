package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/order-service/internal/order/application"
	"github.com/dmehra2102/order-service/internal/order/domain"
)

type Service interface {
	CreateOrder(ctx context.Context, cmd application.CreateOrderCommand) application.Result
	CancelOrder(ctx context.Context, cmd application.CancelOrderCommand) application.Result
	OrdersByBuyer(ctx context.Context, q application.ListOrdersQuery) ([]domain.Order, error)
}

type Handler struct {
	log     *slog.Logger
	service Service
	tracer  trace.Tracer
	timeout time.Duration
}

// NewHandler builds the order API. timeout bounds each request; zero leaves
// requests unbounded.
func NewHandler(log *slog.Logger, service Service, timeout time.Duration) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("order-http"),
		timeout: timeout,
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Route("/api/orders", func(r chi.Router) {
		r.Post("/create", h.createOrder)
		r.Post("/cancel", h.cancelOrder)
		r.Post("/get-orders-by-buyerId", h.ordersByBuyer)
	})

	return r
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()
	ctx, span := h.startSpan(ctx, r, "CreateOrder")
	defer span.End()

	var req application.CreateOrderCommand
	if !h.decode(w, r, &req) {
		return
	}
	span.SetAttributes(attribute.String("order.buyer_id", req.BuyerID), attribute.Int("order.products", len(req.Products)))

	h.writeResult(w, h.service.CreateOrder(ctx, req))
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()
	ctx, span := h.startSpan(ctx, r, "CancelOrder")
	defer span.End()

	var req application.CancelOrderCommand
	if !h.decode(w, r, &req) {
		return
	}

	h.writeResult(w, h.service.CancelOrder(ctx, req))
}

func (h *Handler) ordersByBuyer(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.requestContext(r)
	defer cancel()
	ctx, span := h.startSpan(ctx, r, "OrdersByBuyer")
	defer span.End()

	var req application.ListOrdersQuery
	if !h.decode(w, r, &req) {
		return
	}

	orders, err := h.service.OrdersByBuyer(ctx, req)
	if err != nil {
		h.writeResult(w, application.ErrorResult(err))
		return
	}
	writeJSON(w, http.StatusOK, application.NewOrderViews(orders))
}

// requestContext bounds the work of one request. The handler still writes
// its own Result when the deadline passes.
func (h *Handler) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), h.timeout)
}

// startSpan continues a trace arriving in the request headers.
func (h *Handler) startSpan(ctx context.Context, r *http.Request, name string) (context.Context, trace.Span) {
	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(r.Header))
	return h.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.log.Debug("invalid request body", "path", r.URL.Path, "err", err)
		h.writeResult(w, application.InvalidRequest("invalid body"))
		return false
	}
	return true
}

func (h *Handler) writeResult(w http.ResponseWriter, res application.Result) {
	writeJSON(w, res.Status, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Health reports the process as alive.
func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
