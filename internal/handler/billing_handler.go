package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"timersync/backend/internal/billing"
	apperrors "timersync/backend/internal/errors"
	"timersync/backend/internal/ratelimit"
)

// SubscriptionCatalog is the slice of the billing client the API exposes.
type SubscriptionCatalog interface {
	GetSubscriptionProduct(ctx context.Context, productID string) (json.RawMessage, error)
	RateLimitStatus() ratelimit.Status
}

type BillingHandler struct {
	catalog SubscriptionCatalog
}

func NewBillingHandler(catalog SubscriptionCatalog) *BillingHandler {
	return &BillingHandler{catalog: catalog}
}

func (h *BillingHandler) GetSubscription(c *gin.Context) {
	productID := c.Param("productId")
	if productID == "" {
		writeError(c, apperrors.BadRequest("invalid_product", "product id is required"))
		return
	}

	product, err := h.catalog.GetSubscriptionProduct(c.Request.Context(), productID)
	if err != nil {
		writeError(c, billingError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"product": product})
}

func (h *BillingHandler) RateLimit(c *gin.Context) {
	status := h.catalog.RateLimitStatus()
	c.JSON(http.StatusOK, gin.H{
		"requestsUsed":      status.RequestsUsed,
		"requestsRemaining": status.RequestsRemaining,
		"windowResetInMs":   status.WindowResetIn.Milliseconds(),
		"rateLimitActive":   status.RateLimitActive,
	})
}

func billingError(err error) *apperrors.APIError {
	var exceeded *ratelimit.ExceededError
	switch {
	case errors.As(err, &exceeded):
		apiErr := apperrors.TooManyRequests("rate_limited", "billing rate limit reached", exceeded.RetryAfter)
		apiErr.Details = gin.H{"retryAfterMs": exceeded.RetryAfter.Milliseconds()}
		return apiErr
	case errors.Is(err, billing.ErrRateLimited):
		return apperrors.TooManyRequests("upstream_rate_limited", "app store connect rate limit reached", 0)
	case errors.Is(err, billing.ErrAuth):
		return apperrors.BadGateway("upstream_auth_failed", "app store connect rejected credentials")
	default:
		return apperrors.BadGateway("upstream_error", "app store connect request failed")
	}
}
