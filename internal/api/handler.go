package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentkit-dev/credits-server/internal/models"
	"github.com/agentkit-dev/credits-server/internal/service"
)

// Handler holds the HTTP handlers for the credit API
type Handler struct {
	svc         service.Service
	authEnabled bool
}

// NewHandler creates a new API handler
func NewHandler(svc service.Service, authEnabled bool) *Handler {
	return &Handler{svc: svc, authEnabled: authEnabled}
}

// SetupRoutes registers all routes on the router
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(RequestIDMiddleware())
	router.Use(MetricsMiddleware())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/admin/login", h.Login)

	admin := router.Group("/admin/credit", AuthMiddleware(h.authEnabled))
	{
		admin.GET("/accounts/:owner_type/:owner_id", h.GetAccount)
		admin.POST("/recharge", h.Recharge)
		admin.POST("/reward", h.Reward)
		admin.POST("/refund", h.Refund)
		admin.POST("/adjust", h.Adjust)
		admin.PUT("/users/:user_id/daily-quota", h.UpdateDailyQuota)
		admin.GET("/users/:user_id/events", h.ListUserEvents)
		admin.GET("/event", h.FetchEvent)
	}

	// Internal endpoints for the agent executor and the scheduler. They
	// share the admin token; network-level isolation is assumed.
	internal := router.Group("/internal/credit", AuthMiddleware(h.authEnabled))
	{
		internal.POST("/expense", h.Expense)
		internal.POST("/refill", h.Refill)
		internal.POST("/reset", h.Reset)
	}
}

// Login exchanges the admin password for a bearer token.
func (h *Handler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBadRequest(c, err)
		return
	}

	resp, err := h.svc.Login(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetAccount returns the account for an owner, creating it on first access.
func (h *Handler) GetAccount(c *gin.Context) {
	ownerType, err := models.ParseOwnerType(c.Param("owner_type"))
	if err != nil {
		h.respondBadRequest(c, err)
		return
	}

	account, err := h.svc.GetOrCreateAccount(c.Request.Context(), ownerType, c.Param("owner_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, account)
}

// Recharge adds purchased credits to a user account.
func (h *Handler) Recharge(c *gin.Context) {
	var req models.RechargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBadRequest(c, err)
		return
	}

	account, err := h.svc.Recharge(c.Request.Context(), req.UserID, req.Amount, req.UpstreamTxID, req.Note)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, account)
}

// Reward adds reward credits to a user account.
func (h *Handler) Reward(c *gin.Context) {
	var req models.RewardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBadRequest(c, err)
		return
	}

	account, err := h.svc.Reward(c.Request.Context(), req.UserID, req.Amount, req.UpstreamTxID, req.Note)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, account)
}

// Refund returns credits to a user account.
func (h *Handler) Refund(c *gin.Context) {
	var req models.RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBadRequest(c, err)
		return
	}

	account, err := h.svc.Refund(c.Request.Context(), req.UserID, req.Amount, req.UpstreamTxID, req.Note)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, account)
}

// Adjust moves credits into or out of one named pool of a user account.
func (h *Handler) Adjust(c *gin.Context) {
	var req models.AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBadRequest(c, err)
		return
	}

	creditType, err := models.ParseCreditType(req.CreditType)
	if err != nil {
		h.respondBadRequest(c, err)
		return
	}

	account, err := h.svc.Adjust(c.Request.Context(), req.UserID, creditType, req.Amount, req.UpstreamTxID, req.Note)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, account)
}

// UpdateDailyQuota changes a user account's quota settings.
func (h *Handler) UpdateDailyQuota(c *gin.Context) {
	var req models.UpdateDailyQuotaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBadRequest(c, err)
		return
	}

	account, err := h.svc.UpdateDailyQuota(c.Request.Context(), c.Param("user_id"), req.DailyQuota, req.RefillAmount, req.Note)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, account)
}

// ListUserEvents returns one page of a user's events, newest first. The
// page cursor travels in the X-Next-Cursor / X-Has-More response headers.
func (h *Handler) ListUserEvents(c *gin.Context) {
	var direction models.Direction
	if d := c.Query("direction"); d != "" {
		parsed, err := models.ParseDirection(d)
		if err != nil {
			h.respondBadRequest(c, err)
			return
		}
		direction = parsed
	}

	limit := 20
	if l := c.Query("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 || parsed > 100 {
			h.respondBadRequest(c, errors.New("limit must be between 1 and 100"))
			return
		}
		limit = parsed
	}

	events, nextCursor, hasMore, err := h.svc.ListEvents(
		c.Request.Context(), models.OwnerUser, c.Param("user_id"),
		direction, c.Query("cursor"), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.Header("X-Has-More", strconv.FormatBool(hasMore))
	if nextCursor != "" {
		c.Header("X-Next-Cursor", nextCursor)
	}
	c.JSON(http.StatusOK, events)
}

// FetchEvent returns one event by its upstream transaction id.
func (h *Handler) FetchEvent(c *gin.Context) {
	upstreamTxID := c.Query("upstream_tx_id")
	if upstreamTxID == "" {
		h.respondBadRequest(c, errors.New("upstream_tx_id is required"))
		return
	}

	event, err := h.svc.GetEventByUpstreamTxID(c.Request.Context(), upstreamTxID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, event)
}

// Expense charges an owner for a chargeable message or skill call.
func (h *Handler) Expense(c *gin.Context) {
	var req models.ExpenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBadRequest(c, err)
		return
	}

	ownerType, err := models.ParseOwnerType(req.OwnerType)
	if err != nil {
		h.respondBadRequest(c, err)
		return
	}

	account, err := h.svc.Expense(c.Request.Context(), ownerType, req.OwnerID, req.Amount,
		models.EventType(req.EventType), req.UpstreamTxID, req.Note)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, account)
}

// Refill tops a user's daily credits up by the refill amount.
func (h *Handler) Refill(c *gin.Context) {
	var req models.RefillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBadRequest(c, err)
		return
	}

	account, err := h.svc.RefillDailyCredits(c.Request.Context(), req.UserID, req.UpstreamTxID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, account)
}

// Reset sets a user's daily credits back to the daily quota.
func (h *Handler) Reset(c *gin.Context) {
	var req models.RefillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondBadRequest(c, err)
		return
	}

	account, err := h.svc.ResetDailyCredits(c.Request.Context(), req.UserID, req.UpstreamTxID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, account)
}

func (h *Handler) respondBadRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, models.ErrorResponse{
		Status:  "error",
		Code:    "VALIDATION",
		Message: err.Error(),
	})
}

// respondError maps ledger errors onto HTTP statuses.
func (h *Handler) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL"

	switch {
	case errors.Is(err, models.ErrValidation):
		status, code = http.StatusBadRequest, "VALIDATION"
	case errors.Is(err, models.ErrDuplicateTransaction):
		status, code = http.StatusConflict, "DUPLICATE_TRANSACTION"
	case errors.Is(err, models.ErrInsufficientCredits):
		status, code = http.StatusPaymentRequired, "INSUFFICIENT_CREDITS"
	case errors.Is(err, models.ErrAccountNotFound), errors.Is(err, models.ErrEventNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, models.ErrTxConflict):
		status, code = http.StatusServiceUnavailable, "CONFLICT_RETRY"
	case errors.Is(err, models.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "UNAUTHORIZED"
	}

	c.JSON(status, models.ErrorResponse{
		Status:  "error",
		Code:    code,
		Message: err.Error(),
	})
}
