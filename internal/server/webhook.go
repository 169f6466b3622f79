package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	webhookdomain "github.com/smallbiznis/entitle/internal/webhook/domain"
	"github.com/smallbiznis/entitle/pkg/db/pagination"
)

func (s *Server) RegisterWebhook(c *gin.Context) {
	var req webhookdomain.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if req.WorkspaceID == nil {
		if ws := workspaceScope(c); ws != "" {
			req.WorkspaceID = &ws
		}
	}

	resp, err := s.webhookSvc.Register(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListWebhooks(c *gin.Context) {
	var query struct {
		WorkspaceID string `form:"workspace_id"`
		Active      string `form:"active"`
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

	workspaceID := query.WorkspaceID
	if workspaceID == "" {
		workspaceID = workspaceScope(c)
	}

	resp, err := s.webhookSvc.List(c.Request.Context(), webhookdomain.ListRequest{
		WorkspaceID: workspaceID,
		Active:      active,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetWebhook(c *gin.Context) {
	resp, err := s.webhookSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) UpdateWebhook(c *gin.Context) {
	var req webhookdomain.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	req.ID = c.Param("id")

	resp, err := s.webhookSvc.Update(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteWebhook(c *gin.Context) {
	if err := s.webhookSvc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"deleted": true}})
}

func (s *Server) SendTestWebhook(c *gin.Context) {
	resp, err := s.webhookSvc.SendTest(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ResetWebhookBreaker(c *gin.Context) {
	resp, err := s.webhookSvc.ResetBreaker(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListDeliveries(c *gin.Context) {
	var query struct {
		WebhookID string `form:"webhook_id"`
		Status    string `form:"status"`
		Limit     int    `form:"limit"`
		pagination.Pagination
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.webhookSvc.ListDeliveries(c.Request.Context(), webhookdomain.ListDeliveriesRequest{
		WebhookID: query.WebhookID,
		Status:    webhookdomain.DeliveryStatus(query.Status),
		Limit:     query.Limit,
		Page:      query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp.Deliveries, "page_info": resp.PageInfo})
}

func (s *Server) GetDelivery(c *gin.Context) {
	resp, err := s.webhookSvc.GetDelivery(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) RetryDelivery(c *gin.Context) {
	resp, err := s.webhookSvc.RetryDelivery(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
