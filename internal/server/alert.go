package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	alertdomain "github.com/smallbiznis/entitle/internal/alert/domain"
	"github.com/smallbiznis/entitle/internal/principal"
)

func (s *Server) ListAlerts(c *gin.Context) {
	var query struct {
		Principal   string `form:"principal"`
		FeatureCode string `form:"feature_code"`
		Unresolved  string `form:"unresolved"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	unresolved, err := parseOptionalBool(query.Unresolved)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	req := alertdomain.ListRequest{
		FeatureCode: query.FeatureCode,
		Unresolved:  unresolved != nil && *unresolved,
	}
	if query.Principal != "" {
		p, err := principal.Parse(query.Principal)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		req.Principal = p
	}

	resp, err := s.alertSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ResolveAlert(c *gin.Context) {
	resp, err := s.alertSvc.ResolveManually(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
