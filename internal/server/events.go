package server

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	eventdomain "github.com/reachforge/reachforge/internal/event/domain"
	"github.com/reachforge/reachforge/internal/ratelimit"
	"go.uber.org/zap"
)

type ingestResponse struct {
	Status  string `json:"status"`
	EventID string `json:"event_id,omitempty"`
}

// handleIngestEvent is the webhook entry point. Status codes carry the tagged
// outcome: 201 recorded, 202 deferred to the orphan queue, 200 duplicate.
func (s *Server) handleIngestEvent(c *gin.Context) {
	if !s.allowRequest(c) {
		return
	}

	var payload eventdomain.Payload
	if err := c.ShouldBindJSON(&payload); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_payload", err.Error()))
		return
	}
	if err := payload.Validate(); err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.ingestor.Submit(c.Request.Context(), payload)
	if err != nil {
		s.log.Error("event ingestion failed",
			zap.String("event_type", string(payload.EventType)),
			zap.Error(err),
		)
		AbortWithError(c, err)
		return
	}

	resp := ingestResponse{Status: string(result.Outcome)}
	if result.Event != nil {
		resp.EventID = result.Event.ID.String()
	}

	switch result.Outcome {
	case eventdomain.OutcomeRecorded:
		c.JSON(http.StatusCreated, resp)
	case eventdomain.OutcomeDeferred:
		c.JSON(http.StatusAccepted, resp)
	case eventdomain.OutcomeDuplicate:
		c.JSON(http.StatusOK, resp)
	default:
		c.JSON(http.StatusOK, resp)
	}
}

// allowRequest checks the shared endpoint bucket, then the per-provider bucket
// keyed by the X-Webhook-Provider header. Providers that do not identify
// themselves share one bucket.
func (s *Server) allowRequest(c *gin.Context) bool {
	if !s.limiter.Enabled() {
		return true
	}

	provider := c.GetHeader("X-Webhook-Provider")
	if provider == "" {
		provider = "unknown"
	}

	endpointRes, err := s.limiter.AllowEndpoint(c.Request.Context())
	if err != nil {
		// Redis being down must not drop webhook traffic.
		s.log.Warn("endpoint rate limit check failed, allowing", zap.Error(err))
		return true
	}
	if !endpointRes.Allowed {
		s.rejectRateLimited(c, provider, "endpoint", endpointRes)
		return false
	}

	providerRes, err := s.limiter.AllowProvider(c.Request.Context(), provider)
	if err != nil {
		s.log.Warn("provider rate limit check failed, allowing", zap.Error(err))
		return true
	}
	if !providerRes.Allowed {
		s.rejectRateLimited(c, provider, "provider", providerRes)
		return false
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordRateLimitAllowed(c.Request.Context(), provider, "events")
	}
	return true
}

func (s *Server) rejectRateLimited(c *gin.Context, provider, reason string, res *ratelimit.Result) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordRateLimitDenied(c.Request.Context(), provider, "events", reason)
	}
	if res.RetryAfter > 0 {
		seconds := int64(math.Ceil(res.RetryAfter.Seconds()))
		c.Header("Retry-After", strconv.FormatInt(seconds, 10))
	}
	c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{
		Error: errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		},
	})
}
