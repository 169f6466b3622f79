package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	plandomain "github.com/smallbiznis/entitle/internal/plan/domain"
	"github.com/smallbiznis/entitle/internal/principal"
)

type createPlanRequest struct {
	Code        string                    `json:"code"`
	Name        string                    `json:"name"`
	Description *string                   `json:"description"`
	IsBase      bool                      `json:"is_base"`
	Features    []plandomain.FeatureGrant `json:"features"`
	Metadata    map[string]any            `json:"metadata"`
}

func (s *Server) CreatePlan(c *gin.Context) {
	var req createPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.planSvc.Create(c.Request.Context(), plandomain.CreateRequest{
		Code:        req.Code,
		Name:        req.Name,
		Description: req.Description,
		IsBase:      req.IsBase,
		Features:    req.Features,
		Metadata:    req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListPlans(c *gin.Context) {
	var query struct {
		Active string `form:"active"`
		IsBase string `form:"is_base"`
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
	isBase, err := parseOptionalBool(query.IsBase)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.planSvc.List(c.Request.Context(), plandomain.ListRequest{
		Active: active,
		IsBase: isBase,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetPlan(c *gin.Context) {
	resp, err := s.planSvc.Get(c.Request.Context(), c.Param("code"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ArchivePlan(c *gin.Context) {
	resp, err := s.planSvc.Archive(c.Request.Context(), c.Param("code"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type provisionAssignmentRequest struct {
	Principal          string         `json:"principal"`
	PlanCode           string         `json:"plan_code"`
	StartsAt           *time.Time     `json:"starts_at,omitempty"`
	ExpiresAt          *time.Time     `json:"expires_at,omitempty"`
	BillingCycleAnchor *time.Time     `json:"billing_cycle_anchor,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

func (s *Server) ProvisionAssignment(c *gin.Context) {
	var req provisionAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	p, err := principal.Parse(req.Principal)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.planSvc.Provision(c.Request.Context(), plandomain.ProvisionRequest{
		Principal:          p,
		PlanCode:           req.PlanCode,
		StartsAt:           req.StartsAt,
		ExpiresAt:          req.ExpiresAt,
		BillingCycleAnchor: req.BillingCycleAnchor,
		Metadata:           req.Metadata,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListAssignments(c *gin.Context) {
	var query struct {
		Principal string `form:"principal"`
		Status    string `form:"status"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	req := plandomain.ListAssignmentsRequest{
		Status: plandomain.AssignmentStatus(query.Status),
	}
	if query.Principal != "" {
		p, err := principal.Parse(query.Principal)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		req.Principal = p
	}

	resp, err := s.planSvc.ListAssignments(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) SuspendAssignment(c *gin.Context) {
	s.transitionAssignment(c, s.planSvc.Suspend)
}

func (s *Server) ResumeAssignment(c *gin.Context) {
	s.transitionAssignment(c, s.planSvc.Resume)
}

func (s *Server) CancelAssignment(c *gin.Context) {
	s.transitionAssignment(c, s.planSvc.Cancel)
}

func (s *Server) RevokeAssignment(c *gin.Context) {
	s.transitionAssignment(c, s.planSvc.Revoke)
}

func (s *Server) transitionAssignment(c *gin.Context, fn func(ctx context.Context, id string) (*plandomain.AssignmentResponse, error)) {
	resp, err := fn(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
