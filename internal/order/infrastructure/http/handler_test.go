package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/order-service/internal/order/application"
	"github.com/dmehra2102/order-service/internal/order/domain"
)

type stubService struct {
	create    application.Result
	cancel    application.Result
	orders    []domain.Order
	listErr   error
	gotCreate application.CreateOrderCommand
	gotCancel application.CancelOrderCommand
	gotList   application.ListOrdersQuery
	deadline  bool
}

func (s *stubService) CreateOrder(ctx context.Context, cmd application.CreateOrderCommand) application.Result {
	s.gotCreate = cmd
	_, s.deadline = ctx.Deadline()
	return s.create
}

func (s *stubService) CancelOrder(_ context.Context, cmd application.CancelOrderCommand) application.Result {
	s.gotCancel = cmd
	return s.cancel
}

func (s *stubService) OrdersByBuyer(_ context.Context, q application.ListOrdersQuery) ([]domain.Order, error) {
	s.gotList = q
	return s.orders, s.listErr
}

// slowService holds CreateOrder until the request deadline passes.
type slowService struct{ stubService }

func (s *slowService) CreateOrder(ctx context.Context, _ application.CreateOrderCommand) application.Result {
	<-ctx.Done()
	return application.Result{Status: 500, Code: domain.CodeInternalError, Message: application.MsgCreateFailed}
}

func newTestHandler(svc Service) http.Handler {
	return NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc, time.Second).Routes()
}

func post(t *testing.T, h http.Handler, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
	var out map[string]any
	if strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestCreateOrderReturnsResultStatus(t *testing.T) {
	svc := &stubService{create: application.Result{Status: 201, Code: domain.CodeCreated, Message: application.MsgOrderCreated, OrderReference: "ORDER-#1"}}
	h := newTestHandler(svc)

	rec, body := post(t, h, "/api/orders/create",
		`{"buyerId":"B1","products":[{"productId":"P1","quantity":2,"itemPrice":9.99,"availableStock":5}]}`)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "CREATED", body["code"])
	assert.Equal(t, "ORDER-#1", body["order_reference"])
	assert.Equal(t, "B1", svc.gotCreate.BuyerID)
	assert.Equal(t, "9.99", svc.gotCreate.Products[0].ItemPrice.String())
	assert.True(t, svc.deadline)
}

func TestCreateOrderDeadlineKeepsResultBody(t *testing.T) {
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), &slowService{}, 20*time.Millisecond).Routes()

	rec, body := post(t, h, "/api/orders/create", `{"buyerId":"B1","products":[{"productId":"P1","quantity":1}]}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", body["code"])
	assert.Equal(t, application.MsgCreateFailed, body["message"])
}

func TestCreateOrderStockFailureBody(t *testing.T) {
	svc := &stubService{create: application.Result{
		Status:              400,
		Code:                domain.CodeValidationFailed,
		Message:             application.MsgStockUnavailable,
		OrderReference:      "ORDER-#2",
		UnavailableProducts: []application.ProductLine{{ProductID: "P2", Quantity: 10, AvailableStock: 3}},
	}}
	h := newTestHandler(svc)

	rec, body := post(t, h, "/api/orders/create", `{"buyerId":"B1","products":[{"productId":"P2","quantity":10,"availableStock":3}]}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	unavailable, ok := body["unavailableProducts"].([]any)
	require.True(t, ok)
	require.Len(t, unavailable, 1)
	assert.Equal(t, "P2", unavailable[0].(map[string]any)["productId"])
}

func TestInvalidBodyIsValidationFailure(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(svc)

	rec, body := post(t, h, "/api/orders/cancel", `{"orderId":`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_FAILED", body["code"])
	assert.Empty(t, svc.gotCancel.OrderID)
}

func TestCancelOrderNotFound(t *testing.T) {
	svc := &stubService{cancel: application.Result{Status: 404, Code: domain.CodeNotFound, Message: application.MsgOrderNotFound}}
	h := newTestHandler(svc)

	rec, body := post(t, h, "/api/orders/cancel", `{"orderId":"missing"}`)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Order not found", body["message"])
	assert.Equal(t, "missing", svc.gotCancel.OrderID)
}

func TestOrdersByBuyerReturnsArray(t *testing.T) {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	svc := &stubService{orders: []domain.Order{
		{ID: "o-1", Reference: "ORDER-#1", BuyerID: "B1", Status: domain.StatusCompleted, CreatedAt: created, UpdatedAt: created},
	}}
	h := newTestHandler(svc)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/orders/get-orders-by-buyerId", strings.NewReader(`{"buyerId":"B1"}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	var views []application.OrderView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "COMPLETED", views[0].Status)
	assert.Equal(t, "B1", svc.gotList.BuyerID)
}

func TestOrdersByBuyerEmptyIsEmptyArray(t *testing.T) {
	h := newTestHandler(&stubService{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/orders/get-orders-by-buyerId", strings.NewReader(`{"buyerId":"B9"}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestOrdersByBuyerErrors(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{application.ErrBuyerRequired, http.StatusBadRequest},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := newTestHandler(&stubService{listErr: tc.err})
		rec, _ := post(t, h, "/api/orders/get-orders-by-buyerId", `{"buyerId":""}`)
		assert.Equal(t, tc.code, rec.Code, tc.err.Error())
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	h := newTestHandler(&stubService{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders/create", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/orders/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
