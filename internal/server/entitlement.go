package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/entitle/internal/principal"
)

type checkEntitlementRequest struct {
	// Principal is "<kind>:<id>", e.g. "workspace:1234".
	Principal   string `json:"principal"`
	FeatureCode string `json:"feature_code"`
	Quantity    int64  `json:"quantity"`
}

func (s *Server) CheckEntitlement(c *gin.Context) {
	var req checkEntitlementRequest
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
	c.Set("feature_code", strings.TrimSpace(req.FeatureCode))

	result, err := s.entitlementSvc.Can(c.Request.Context(), p, req.FeatureCode, req.Quantity)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": result})
}
