package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"fulfillment-core/config"
	"fulfillment-core/internal/inventory"
	"fulfillment-core/internal/ledger"
	"fulfillment-core/internal/models"
	"fulfillment-core/internal/order"
	"fulfillment-core/internal/store"
	"fulfillment-core/internal/topup"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopDeliverer struct{}

func (noopDeliverer) Deliver(ctx context.Context, o *models.Order, codes []string) error {
	return nil
}

func newTestRouter(t *testing.T) (*gin.Engine, *topup.Reconciler, *inventory.Pool) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	cfg := &config.BusinessConfig{
		BotSource:         "order-bot",
		Packages:          map[int]int64{1: 15000, 5: 70000},
		LowStockThreshold: 10,
		DefaultUnitType:   "redfinger",
		DeliveryMethod:    "dm",
		DeliveryRetries:   3,
	}

	cipher, err := inventory.NewCipher("")
	require.NoError(t, err)
	l := ledger.New(s)
	reconciler := topup.New(s, l, nil, cfg.BotSource)
	pool := inventory.New(s, cipher, nil, cfg.LowStockThreshold)
	machine := order.New(s, l, pool, noopDeliverer{}, nil, cfg)

	router := gin.New()
	NewHandler(l, reconciler, pool, machine, nil, cfg).SetupRoutes(router)
	return router, reconciler, pool
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoints(t *testing.T) {
	router, _, _ := newTestRouter(t)

	assert.Equal(t, http.StatusOK, doJSON(t, router, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, doJSON(t, router, http.MethodGet, "/ready", nil).Code)
}

func TestTopupLifecycleOverHTTP(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/topups", gin.H{
		"user_id": 42, "amount": 50000, "payment_type": "qris",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var created models.Topup
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, models.TopupStatusPending, created.Status)

	// Provider confirms, twice.
	for i := 0; i < 2; i++ {
		w = doJSON(t, router, http.MethodPost, "/webhook/payment", gin.H{
			"order_reference": created.OrderReference,
			"status":          "settlement",
			"transaction_id":  "mid-123",
		})
		assert.Equal(t, http.StatusOK, w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/api/v1/users/42/balance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var account models.Account
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &account))
	assert.Equal(t, int64(50000), account.Balance, "duplicate webhook must credit once")
}

func TestWebhookAlwaysAnswers200(t *testing.T) {
	router, _, _ := newTestRouter(t)

	// Unknown reference, unknown status, malformed body: provider still gets 200.
	w := doJSON(t, router, http.MethodPost, "/webhook/payment", gin.H{
		"order_reference": "TOPUP-MISSING", "status": "settlement",
	})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodPost, "/webhook/payment", gin.H{
		"order_reference": "TOPUP-MISSING", "status": "sideways",
	})
	assert.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/webhook/payment", bytes.NewBufferString("{broken"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOrderFlowOverHTTP(t *testing.T) {
	router, reconciler, pool := newTestRouter(t)
	ctx := context.Background()

	_, err := reconciler.Create(ctx, 42, 70000, "TX-1", "qris")
	require.NoError(t, err)
	_, err = reconciler.Confirm(ctx, "TX-1", "mid-1")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := pool.AddUnit(ctx, "redfinger", fmt.Sprintf("CODE-%04d", i), 1)
		require.NoError(t, err)
	}

	w := doJSON(t, router, http.MethodPost, "/api/v1/orders", gin.H{
		"user_id": 42, "quantity": 5,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var placed models.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &placed))
	assert.Equal(t, models.OrderStatusDelivered, placed.Status)

	w = doJSON(t, router, http.MethodPost, "/api/v1/orders/"+placed.OrderNumber+"/confirm", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, http.MethodGet, "/api/v1/orders/"+placed.OrderNumber, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got models.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, models.OrderStatusCompleted, got.Status)
}

func TestOrderErrorMapping(t *testing.T) {
	router, _, _ := newTestRouter(t)

	// No package for the quantity.
	w := doJSON(t, router, http.MethodPost, "/api/v1/orders", gin.H{
		"user_id": 42, "quantity": 3,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Broke user.
	w = doJSON(t, router, http.MethodPost, "/api/v1/orders", gin.H{
		"user_id": 42, "quantity": 1,
	})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)

	// Unknown order.
	w = doJSON(t, router, http.MethodGet, "/api/v1/orders/ORD-MISSING", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Cancelling something terminal.
	w = doJSON(t, router, http.MethodPost, "/api/v1/orders/ORD-MISSING/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStockEndpoints(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/stock", gin.H{
		"code_type": "redfinger", "code": "CODE-HTTP-1", "added_by": 7,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, router, http.MethodPost, "/api/v1/stock/bulk", gin.H{
		"code_type": "redfinger",
		"text":      "# batch\nCODE-HTTP-2\nCODE-HTTP-1\n",
		"added_by":  7,
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var bulk struct {
		Added   int `json:"added"`
		Skipped int `json:"skipped"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &bulk))
	assert.Equal(t, 1, bulk.Added)
	assert.Equal(t, 1, bulk.Skipped)

	w = doJSON(t, router, http.MethodGet, "/api/v1/stock/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var summary struct {
		Summary []models.StockSummary `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summary))
	require.Len(t, summary.Summary, 1)
	assert.Equal(t, 2, summary.Summary[0].Available)
}
