package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewServerMetrics(reg, "api")

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/orders/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/42", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("/orders/{id}", "404")))
}

func TestLifecycleCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	l := NewLifecycle(reg)

	l.Transition("COMPLETED", 3)
	l.Transition("COMPLETED", 0)
	l.Publish("order-created", 2, nil)
	l.Publish("order-created", 1, errors.New("boom"))

	assert.Equal(t, 3.0, testutil.ToFloat64(l.Transitions.WithLabelValues("COMPLETED")))
	assert.Equal(t, 2.0, testutil.ToFloat64(l.Published.WithLabelValues("order-created", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(l.Published.WithLabelValues("order-created", "error")))
}

func TestHandlerExposesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	l := NewLifecycle(reg)
	l.Transition("PENDING", 1)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `orders_status_transitions_total{status="PENDING"} 1`))
}
