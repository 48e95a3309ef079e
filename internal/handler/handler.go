// Package handler exposes the payment core over HTTP for cmd/server.
// It is a thin operational surface: every business decision lives in
// the orchestrator, and the handlers only translate between HTTP and
// the typed model, including the mapping from the error taxonomy onto
// status codes.
package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/yourorg/payment-gateway/internal/idempotency"
	"github.com/yourorg/payment-gateway/internal/journal"
	"github.com/yourorg/payment-gateway/internal/model"
	"github.com/yourorg/payment-gateway/internal/orchestrator"
	"github.com/yourorg/payment-gateway/internal/reporting"
)

// TenantHeader scopes every request to one tenant.
const TenantHeader = "X-Tenant-ID"

// Handler holds the orchestrator and the optional journal the read
// endpoints serve from.
type Handler struct {
	orch    *orchestrator.Orchestrator
	journal journal.Store
	logger  *zap.Logger
}

// New builds a handler. journal may be nil; the history and reporting
// endpoints then answer 501.
func New(orch *orchestrator.Orchestrator, journal journal.Store, logger *zap.Logger) *Handler {
	if orch == nil {
		panic("handler: orchestrator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{orch: orch, journal: journal, logger: logger}
}

// Register mounts the v1 API on the engine.
func (h *Handler) Register(r *gin.Engine) {
	v1 := r.Group("/v1")
	v1.POST("/sale", h.payment(model.OperationSale))
	v1.POST("/authorize", h.payment(model.OperationAuthorize))
	v1.POST("/verify", h.payment(model.OperationVerify))
	v1.POST("/transactions/:id/capture", h.capture)
	v1.POST("/transactions/:id/void", h.void)
	v1.POST("/transactions/:id/refund", h.refund)
	v1.GET("/transactions/:id", h.transaction)
	v1.POST("/tokens", h.tokenize)
	v1.DELETE("/tokens/:token", h.deleteToken)
	v1.GET("/providers", h.providers)
	v1.GET("/providers/health", h.providersHealth)
	v1.GET("/reports/summary", h.summary)
}

// paymentRequest is a TransactionRequest plus the per-call routing
// options the JSON API carries inline.
type paymentRequest struct {
	model.TransactionRequest
	ProviderID    string `json:"provider_id,omitempty"`
	AllowFallback bool   `json:"allow_fallback,omitempty"`
}

type followUpRequest struct {
	ProviderID string           `json:"provider_id"`
	Amount     *decimal.Decimal `json:"amount,omitempty"`
}

type tokenizeRequest struct {
	Card       *model.Card `json:"card"`
	ProviderID string      `json:"provider_id,omitempty"`
}

func (h *Handler) payment(op model.OperationType) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID, ok := h.tenant(c)
		if !ok {
			return
		}
		var body paymentRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
		opts := orchestrator.Options{
			TenantID:      tenantID,
			ProviderID:    body.ProviderID,
			AllowFallback: body.AllowFallback,
		}

		var (
			result *model.PaymentResult
			err    error
		)
		ctx := c.Request.Context()
		switch op {
		case model.OperationSale:
			result, err = h.orch.Sale(ctx, &body.TransactionRequest, opts)
		case model.OperationAuthorize:
			result, err = h.orch.Authorize(ctx, &body.TransactionRequest, opts)
		default:
			result, err = h.orch.Verify(ctx, &body.TransactionRequest, opts)
		}
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func (h *Handler) capture(c *gin.Context) {
	tenantID, ok := h.tenant(c)
	if !ok {
		return
	}
	var body followUpRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	result, err := h.orch.Capture(c.Request.Context(), tenantID, body.ProviderID, c.Param("id"), body.Amount)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) void(c *gin.Context) {
	tenantID, ok := h.tenant(c)
	if !ok {
		return
	}
	var body followUpRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	result, err := h.orch.Void(c.Request.Context(), tenantID, body.ProviderID, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) refund(c *gin.Context) {
	tenantID, ok := h.tenant(c)
	if !ok {
		return
	}
	var body followUpRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	result, err := h.orch.Refund(c.Request.Context(), tenantID, body.ProviderID, c.Param("id"), body.Amount)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// transaction serves the journaled result for one reference id.
func (h *Handler) transaction(c *gin.Context) {
	tenantID, ok := h.tenant(c)
	if !ok {
		return
	}
	if h.journal == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "transaction history is not enabled"})
		return
	}
	entry, err := h.journal.Find(c.Request.Context(), tenantID, c.Param("id"))
	if errors.Is(err, journal.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "transaction " + c.Param("id") + " not found"})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *Handler) tokenize(c *gin.Context) {
	tenantID, ok := h.tenant(c)
	if !ok {
		return
	}
	var body tokenizeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	tok, err := h.orch.Tokenize(c.Request.Context(), body.Card, tenantID, body.ProviderID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, tok)
}

func (h *Handler) deleteToken(c *gin.Context) {
	tenantID, ok := h.tenant(c)
	if !ok {
		return
	}
	token := c.Param("token")
	deleted, err := h.orch.DeleteToken(c.Request.Context(), tenantID, c.Query("provider_id"), token)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "token not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) providers(c *gin.Context) {
	tenantID, ok := h.tenant(c)
	if !ok {
		return
	}
	summaries, err := h.orch.AvailableProviders(c.Request.Context(), tenantID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"providers": summaries})
}

func (h *Handler) providersHealth(c *gin.Context) {
	tenantID, ok := h.tenant(c)
	if !ok {
		return
	}
	snapshots, err := h.orch.ProvidersHealth(c.Request.Context(), tenantID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"providers": snapshots})
}

// summary aggregates the tenant's journaled transactions, optionally
// windowed by from/to query parameters in RFC 3339 form.
func (h *Handler) summary(c *gin.Context) {
	tenantID, ok := h.tenant(c)
	if !ok {
		return
	}
	if h.journal == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "transaction history is not enabled"})
		return
	}
	from, to, err := reportingWindow(c.Query("from"), c.Query("to"))
	if err != nil {
		h.fail(c, err)
		return
	}
	entries, err := h.journal.List(c.Request.Context(), tenantID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reporting.Summarize(filterWindow(entries, from, to)))
}

func reportingWindow(fromStr, toStr string) (from, to time.Time, err error) {
	if fromStr != "" {
		from, err = time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return from, to, &model.ValidationError{Field: "from", Reason: "must be RFC 3339"}
		}
	}
	if toStr != "" {
		to, err = time.Parse(time.RFC3339, toStr)
		if err != nil {
			return from, to, &model.ValidationError{Field: "to", Reason: "must be RFC 3339"}
		}
	}
	return from, to, nil
}

func filterWindow(entries []model.PaymentResult, from, to time.Time) []model.PaymentResult {
	if from.IsZero() && to.IsZero() {
		return entries
	}
	out := make([]model.PaymentResult, 0, len(entries))
	for _, e := range entries {
		if !from.IsZero() && e.ProcessedAt.Before(from) {
			continue
		}
		if !to.IsZero() && e.ProcessedAt.After(to) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (h *Handler) tenant(c *gin.Context) (string, bool) {
	tenantID := c.GetHeader(TenantHeader)
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": TenantHeader + " header is required"})
		return "", false
	}
	return tenantID, true
}

// fail renders an error with the status its taxonomy kind maps onto.
func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": model.ErrorKind(err)})
}

func statusFor(err error) int {
	if errors.Is(err, idempotency.ErrDuplicate) {
		return http.StatusConflict
	}
	switch model.ErrorKind(err) {
	case "validation":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "configuration":
		return http.StatusUnprocessableEntity
	case "connection":
		// The gateway was unreachable; the client may retry later.
		return http.StatusServiceUnavailable
	case "gateway":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
