package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/entitle/internal/principal"
	usagedomain "github.com/smallbiznis/entitle/internal/usage/domain"
)

type recordUsageRequest struct {
	Principal      string         `json:"principal"`
	FeatureCode    string         `json:"feature_code"`
	Quantity       int64          `json:"quantity"`
	RecordedAt     *time.Time     `json:"recorded_at,omitempty"`
	IdempotencyKey *string        `json:"idempotency_key,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

func (s *Server) RecordUsage(c *gin.Context) {
	var req recordUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	p, err := principal.Parse(req.Principal)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if !s.throttle(c, p) {
		return
	}

	idempotencyKey := ""
	if req.IdempotencyKey != nil {
		idempotencyKey = *req.IdempotencyKey
	}

	resp, err := s.usageSvc.Record(c.Request.Context(), usagedomain.RecordRequest{
		Principal:      p,
		FeatureCode:    req.FeatureCode,
		Quantity:       req.Quantity,
		RecordedAt:     req.RecordedAt,
		IdempotencyKey: idempotencyKey,
		Metadata:       req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
