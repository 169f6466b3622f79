package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	featuredomain "github.com/smallbiznis/entitle/internal/feature/domain"
)

type createFeatureRequest struct {
	Code        string         `json:"code"`
	Name        string         `json:"name"`
	Description *string        `json:"description"`
	FeatureType string         `json:"feature_type"`
	ResetPolicy string         `json:"reset_policy"`
	WindowDays  *int           `json:"window_days"`
	ParentCode  *string        `json:"parent_code"`
	Active      *bool          `json:"active"`
	Metadata    map[string]any `json:"metadata"`
}

type updateFeatureRequest struct {
	Name        *string        `json:"name,omitempty"`
	Description *string        `json:"description,omitempty"`
	Active      *bool          `json:"active,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func (s *Server) CreateFeature(c *gin.Context) {
	var req createFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.featureSvc.Create(c.Request.Context(), featuredomain.CreateRequest{
		Code:        req.Code,
		Name:        req.Name,
		Description: req.Description,
		FeatureType: featuredomain.FeatureType(strings.TrimSpace(req.FeatureType)),
		ResetPolicy: featuredomain.ResetPolicy(strings.TrimSpace(req.ResetPolicy)),
		WindowDays:  req.WindowDays,
		ParentCode:  req.ParentCode,
		Active:      req.Active,
		Metadata:    req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListFeatures(c *gin.Context) {
	var query struct {
		Code        string `form:"code"`
		FeatureType string `form:"feature_type"`
		Active      string `form:"active"`
		SortBy      string `form:"sort_by"`
		OrderBy     string `form:"order_by"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	active, err := parseOptionalBool(query.Active)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var featureType *featuredomain.FeatureType
	if trimmed := strings.TrimSpace(query.FeatureType); trimmed != "" {
		t := featuredomain.FeatureType(trimmed)
		featureType = &t
	}

	resp, err := s.featureSvc.List(c.Request.Context(), featuredomain.ListRequest{
		Code:        query.Code,
		FeatureType: featureType,
		Active:      active,
		SortBy:      query.SortBy,
		OrderBy:     query.OrderBy,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetFeature(c *gin.Context) {
	feature, err := s.featureSvc.Get(c.Request.Context(), c.Param("code"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if feature == nil {
		AbortWithError(c, featuredomain.ErrNotFound)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": feature})
}

func (s *Server) UpdateFeature(c *gin.Context) {
	var req updateFeatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.featureSvc.Update(c.Request.Context(), featuredomain.UpdateRequest{
		Code:        c.Param("code"),
		Name:        req.Name,
		Description: req.Description,
		Active:      req.Active,
		Metadata:    req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ArchiveFeature(c *gin.Context) {
	resp, err := s.featureSvc.Archive(c.Request.Context(), c.Param("code"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
