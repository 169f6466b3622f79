package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	alertdomain "github.com/smallbiznis/entitle/internal/alert/domain"
	boostdomain "github.com/smallbiznis/entitle/internal/boost/domain"
	featuredomain "github.com/smallbiznis/entitle/internal/feature/domain"
	plandomain "github.com/smallbiznis/entitle/internal/plan/domain"
	"github.com/smallbiznis/entitle/internal/principal"
	usagedomain "github.com/smallbiznis/entitle/internal/usage/domain"
	webhookdomain "github.com/smallbiznis/entitle/internal/webhook/domain"
)

type errorPayload struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var ErrInvalidRequest = errors.New("invalid_request")

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

// validationErrors map to 400, conflictErrors to 409. Not-found sentinels
// map to 404; anything unrecognized is a 500.
var validationErrors = []error{
	ErrInvalidRequest,
	principal.ErrInvalidPrincipal,
	featuredomain.ErrInvalidCode,
	featuredomain.ErrInvalidName,
	featuredomain.ErrInvalidType,
	featuredomain.ErrInvalidResetPolicy,
	featuredomain.ErrInvalidWindowDays,
	featuredomain.ErrInvalidParent,
	plandomain.ErrInvalidCode,
	plandomain.ErrInvalidName,
	plandomain.ErrInvalidFeature,
	plandomain.ErrInvalidLimit,
	plandomain.ErrInvalidPrincipal,
	boostdomain.ErrInvalidPrincipal,
	boostdomain.ErrInvalidFeature,
	boostdomain.ErrInvalidBoostType,
	boostdomain.ErrInvalidDurationType,
	boostdomain.ErrInvalidLimit,
	boostdomain.ErrInvalidQuantity,
	boostdomain.ErrInvalidExpiry,
	usagedomain.ErrInvalidPrincipal,
	usagedomain.ErrInvalidQuantity,
	alertdomain.ErrInvalidPrincipal,
	webhookdomain.ErrInvalidURL,
	webhookdomain.ErrInvalidSecret,
	webhookdomain.ErrInvalidEvent,
	webhookdomain.ErrInvalidWorkspace,
}

var notFoundErrors = []error{
	featuredomain.ErrNotFound,
	plandomain.ErrPlanNotFound,
	plandomain.ErrAssignmentNotFound,
	boostdomain.ErrNotFound,
	usagedomain.ErrFeatureNotFound,
	alertdomain.ErrNotFound,
	webhookdomain.ErrNotFound,
	webhookdomain.ErrDeliveryNotFound,
}

var conflictErrors = []error{
	featuredomain.ErrCodeExists,
	plandomain.ErrCodeExists,
	plandomain.ErrPlanInactive,
	plandomain.ErrInvalidTransition,
	boostdomain.ErrNotConsumable,
	boostdomain.ErrAlreadyFinished,
	alertdomain.ErrAlreadyResolved,
	webhookdomain.ErrEndpointInactive,
}

func matchAny(err error, targets []error) error {
	for _, target := range targets {
		if errors.Is(err, target) {
			return target
		}
	}
	return nil
}

func mapError(err error) (int, errorPayload) {
	if matched := matchAny(err, validationErrors); matched != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Code:    matched.Error(),
			Message: "validation error",
		}
	}
	if matched := matchAny(err, notFoundErrors); matched != nil {
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Code:    matched.Error(),
			Message: "not found",
		}
	}
	if matched := matchAny(err, conflictErrors); matched != nil {
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Code:    matched.Error(),
			Message: "conflict",
		}
	}
	if errors.Is(err, webhookdomain.ErrDeliveryFailed) {
		return http.StatusBadGateway, errorPayload{
			Type:    "delivery_failed",
			Code:    webhookdomain.ErrDeliveryFailed.Error(),
			Message: "webhook delivery failed",
		}
	}
	return http.StatusInternalServerError, errorPayload{
		Type:    "internal_error",
		Message: "internal server error",
	}
}

func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	return payload.Type, payload.Code
}
