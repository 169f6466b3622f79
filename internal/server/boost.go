package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	boostdomain "github.com/smallbiznis/entitle/internal/boost/domain"
	"github.com/smallbiznis/entitle/internal/principal"
)

type provisionBoostRequest struct {
	Principal    string         `json:"principal"`
	FeatureCode  string         `json:"feature_code"`
	BoostType    string         `json:"boost_type"`
	DurationType string         `json:"duration_type"`
	LimitValue   int64          `json:"limit_value"`
	StartsAt     *time.Time     `json:"starts_at,omitempty"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func (s *Server) ProvisionBoost(c *gin.Context) {
	var req provisionBoostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	p, err := principal.Parse(req.Principal)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.boostSvc.Provision(c.Request.Context(), boostdomain.ProvisionRequest{
		Principal:    p,
		FeatureCode:  req.FeatureCode,
		BoostType:    boostdomain.BoostType(strings.TrimSpace(req.BoostType)),
		DurationType: boostdomain.DurationType(strings.TrimSpace(req.DurationType)),
		LimitValue:   req.LimitValue,
		StartsAt:     req.StartsAt,
		ExpiresAt:    req.ExpiresAt,
		Metadata:     req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListBoosts(c *gin.Context) {
	var query struct {
		Principal   string `form:"principal"`
		FeatureCode string `form:"feature_code"`
		Status      string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	req := boostdomain.ListRequest{
		FeatureCode: query.FeatureCode,
		Status:      boostdomain.Status(query.Status),
	}
	if query.Principal != "" {
		p, err := principal.Parse(query.Principal)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		req.Principal = p
	}

	resp, err := s.boostSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetBoost(c *gin.Context) {
	resp, err := s.boostSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type consumeBoostRequest struct {
	Quantity int64 `json:"quantity"`
}

func (s *Server) ConsumeBoost(c *gin.Context) {
	var req consumeBoostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	consumed, err := s.boostSvc.Consume(c.Request.Context(), c.Param("id"), req.Quantity)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"consumed": consumed}})
}

func (s *Server) CancelBoost(c *gin.Context) {
	resp, err := s.boostSvc.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
