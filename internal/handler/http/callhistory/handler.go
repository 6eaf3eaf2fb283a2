package callhistory

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"voicebridge-backend/internal/service/call"
	"voicebridge-backend/pkg/response"
)

// Handler handles call history HTTP requests
type Handler struct {
	callService *call.Service
}

// NewHandler creates a new call history handler
func NewHandler(callService *call.Service) *Handler {
	return &Handler{callService: callService}
}

// ListQuery represents query parameters for listing calls
type ListQuery struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

// List retrieves the user's terminated calls, newest first
// GET /v1/calls?limit=20&offset=0
func (h *Handler) List(c *gin.Context) {
	var query ListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return
	}

	records, err := h.callService.ListHistory(c.Request.Context(), userID, query.Limit, query.Offset)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"calls": records})
}
