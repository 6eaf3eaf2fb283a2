package pushtoken

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	redisRepo "voicebridge-backend/internal/repository/redis"
	"voicebridge-backend/pkg/response"
)

// Handler handles device push-token registration
type Handler struct {
	tokenRepo *redisRepo.PushTokenRepository
}

// NewHandler creates a new push token handler
func NewHandler(tokenRepo *redisRepo.PushTokenRepository) *Handler {
	return &Handler{tokenRepo: tokenRepo}
}

// TokenRequest carries one device token
type TokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// Register stores a device token for offline notifications
// POST /v1/push-tokens
func (h *Handler) Register(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
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

	if err := h.tokenRepo.SaveToken(c.Request.Context(), userID, req.Token); err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"message": "Token registered"})
}

// Unregister removes a device token, typically on logout
// DELETE /v1/push-tokens
func (h *Handler) Unregister(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
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

	if err := h.tokenRepo.RemoveToken(c.Request.Context(), userID, req.Token); err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Token removed"})
}
