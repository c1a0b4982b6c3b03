package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"fulfillment-core/config"
	"fulfillment-core/internal/inventory"
	"fulfillment-core/internal/ledger"
	"fulfillment-core/internal/models"
	"fulfillment-core/internal/order"
	"fulfillment-core/internal/redisclient"
	"fulfillment-core/internal/topup"
	"fulfillment-core/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler contains HTTP handlers
type Handler struct {
	ledger     *ledger.Ledger
	reconciler *topup.Reconciler
	pool       *inventory.Pool
	machine    *order.Machine
	redis      *redisclient.Client // optional
	cfg        *config.BusinessConfig
	logger     *zap.Logger
}

// NewHandler creates a new HTTP handler. redis may be nil, which disables
// the ordering rate limits.
func NewHandler(l *ledger.Ledger, r *topup.Reconciler, p *inventory.Pool, m *order.Machine, redis *redisclient.Client, cfg *config.BusinessConfig) *Handler {
	return &Handler{
		ledger:     l,
		reconciler: r,
		pool:       p,
		machine:    m,
		redis:      redis,
		cfg:        cfg,
		logger:     util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhook/payment", h.paymentWebhook)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/topups", h.createTopup)
		v1.GET("/topups/:reference", h.getTopup)

		v1.POST("/orders", h.placeOrder)
		v1.GET("/orders/:number", h.getOrder)
		v1.POST("/orders/:number/confirm", h.confirmOrder)
		v1.POST("/orders/:number/cancel", h.cancelOrder)

		v1.GET("/users/:id/balance", h.getBalance)
		v1.GET("/users/:id/orders", h.listOrders)
		v1.GET("/users/:id/audit", h.getAudit)

		v1.GET("/stock/summary", h.stockSummary)
		v1.POST("/stock", h.addStock)
		v1.POST("/stock/bulk", h.bulkAddStock)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// PaymentWebhookRequest is the payment provider's notification payload.
type PaymentWebhookRequest struct {
	OrderReference string `json:"order_reference" binding:"required"`
	Status         string `json:"status" binding:"required"`
	TransactionID  string `json:"transaction_id"`
}

// paymentWebhook ingests provider notifications. The provider retries on
// non-200 responses forever, so this endpoint always answers 200 and relies
// on the reconciler's idempotency to make replays harmless.
func (h *Handler) paymentWebhook(c *gin.Context) {
	var req PaymentWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Malformed payment webhook", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	ctx := c.Request.Context()
	var err error
	switch req.Status {
	case "success", "settlement", "capture":
		_, err = h.reconciler.Confirm(ctx, req.OrderReference, req.TransactionID)
	case "failed", "deny", "cancel":
		err = h.reconciler.Fail(ctx, req.OrderReference)
	case "expired", "expire":
		err = h.reconciler.Expire(ctx, req.OrderReference)
	default:
		h.logger.Warn("Unhandled webhook status",
			zap.String("order_reference", req.OrderReference),
			zap.String("status", req.Status))
	}
	if err != nil {
		h.logger.Error("Payment webhook processing failed",
			zap.String("order_reference", req.OrderReference),
			zap.String("status", req.Status),
			zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// CreateTopupRequest starts a payment attempt.
type CreateTopupRequest struct {
	UserID      int64  `json:"user_id" binding:"required"`
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	PaymentType string `json:"payment_type"`
}

// createTopup handles topup creation
func (h *Handler) createTopup(c *gin.Context) {
	var req CreateTopupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	reference := topup.NewReference(req.UserID)
	t, err := h.reconciler.Create(c.Request.Context(), req.UserID, req.Amount, reference, req.PaymentType)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

// getTopup handles topup lookup by order reference
func (h *Handler) getTopup(c *gin.Context) {
	t, err := h.reconciler.Get(c.Request.Context(), c.Param("reference"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// PlaceOrderRequest starts a purchase.
type PlaceOrderRequest struct {
	UserID   int64  `json:"user_id" binding:"required"`
	UnitType string `json:"unit_type"`
	Quantity int    `json:"quantity" binding:"required,gt=0"`
}

// placeOrder handles order placement
func (h *Handler) placeOrder(c *gin.Context) {
	var req PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	if h.redis != nil {
		allowed, reason, err := h.redis.AllowOrder(ctx, req.UserID,
			time.Duration(h.cfg.OrderCooldownSecs)*time.Second, h.cfg.MaxOrdersPerDay)
		if err != nil {
			h.logger.Error("Order rate limit check failed", zap.Error(err))
		} else if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limited", "reason": reason})
			return
		}
	}

	o, err := h.machine.Place(ctx, req.UserID, req.UnitType, req.Quantity)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

// getOrder handles order lookup by number
func (h *Handler) getOrder(c *gin.Context) {
	o, err := h.machine.Get(c.Request.Context(), c.Param("number"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// confirmOrder settles a delivered order
func (h *Handler) confirmOrder(c *gin.Context) {
	o, err := h.machine.Confirm(c.Request.Context(), c.Param("number"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// CancelOrderRequest carries the cancellation reason.
type CancelOrderRequest struct {
	Reason string `json:"reason"`
}

// cancelOrder compensates a live order
func (h *Handler) cancelOrder(c *gin.Context) {
	var req CancelOrderRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "user_cancelled"
	}

	if err := h.machine.Cancel(c.Request.Context(), c.Param("number"), req.Reason); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": models.OrderStatusCancelled})
}

// getBalance handles balance lookup
func (h *Handler) getBalance(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	account, err := h.ledger.GetAccount(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, account)
}

// listOrders handles listing a user's recent orders
func (h *Handler) listOrders(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	orders, err := h.machine.ListForUser(c.Request.Context(), userID, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// getAudit handles listing a user's balance audit trail
func (h *Handler) getAudit(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	entries, err := h.ledger.Audit(c.Request.Context(), userID, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// stockSummary reports per-type stock counts
func (h *Handler) stockSummary(c *gin.Context) {
	summary, err := h.pool.Summary(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

// AddStockRequest adds one code.
type AddStockRequest struct {
	CodeType string `json:"code_type" binding:"required"`
	Code     string `json:"code" binding:"required"`
	AddedBy  int64  `json:"added_by"`
}

// addStock handles adding a single stock unit
func (h *Handler) addStock(c *gin.Context) {
	var req AddStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	inserted, err := h.pool.AddUnit(c.Request.Context(), req.CodeType, req.Code, req.AddedBy)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"added": inserted})
}

// BulkAddStockRequest adds newline-separated codes.
type BulkAddStockRequest struct {
	CodeType string `json:"code_type" binding:"required"`
	Text     string `json:"text" binding:"required"`
	AddedBy  int64  `json:"added_by"`
}

// bulkAddStock handles a bulk code upload
func (h *Handler) bulkAddStock(c *gin.Context) {
	var req BulkAddStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	added, skipped, err := h.pool.AddFromText(c.Request.Context(), req.CodeType, req.Text, req.AddedBy)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"added": added, "skipped": skipped})
}

// fail maps component errors to HTTP statuses.
func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, order.ErrInvalidQuantity), errors.Is(err, inventory.ErrInvalidCode):
		status = http.StatusBadRequest
	case errors.Is(err, ledger.ErrInsufficientFunds):
		status = http.StatusPaymentRequired
	case errors.Is(err, inventory.ErrInsufficientStock),
		errors.Is(err, topup.ErrDuplicateReference),
		errors.Is(err, topup.ErrTopupFinalized),
		errors.Is(err, order.ErrOrderTerminal):
		status = http.StatusConflict
	case errors.Is(err, topup.ErrUnknownTopup), errors.Is(err, order.ErrUnknownOrder):
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request body",
		"details": err.Error(),
	})
}

func userIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID"})
		return 0, false
	}
	return id, true
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
