package message

import (
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"voicebridge-backend/internal/service/chat"
	"voicebridge-backend/pkg/response"
)

// Handler handles message history HTTP requests
type Handler struct {
	chatService *chat.Service
}

// NewHandler creates a new message handler
func NewHandler(chatService *chat.Service) *Handler {
	return &Handler{chatService: chatService}
}

// HistoryQuery represents query parameters for listing a chat's messages
type HistoryQuery struct {
	With      string `form:"with" binding:"required,uuid"`
	Limit     int    `form:"limit"`
	PageState string `form:"page_state"` // Base64 encoded
}

// History retrieves the chat with another user, newest first
// GET /v1/messages?with=uuid&limit=20&page_state=base64
func (h *Handler) History(c *gin.Context) {
	var query HistoryQuery
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

	otherID, err := uuid.Parse(query.With)
	if err != nil {
		response.ValidationError(c, "Invalid user id")
		return
	}

	var pageState []byte
	if query.PageState != "" {
		pageState, err = base64.StdEncoding.DecodeString(query.PageState)
		if err != nil {
			response.ValidationError(c, "Invalid page state")
			return
		}
	}

	messages, nextPageState, err := h.chatService.History(c.Request.Context(), userID, otherID, query.Limit, pageState)
	if err != nil {
		response.AppError(c, err)
		return
	}

	var nextPageStateEncoded string
	if len(nextPageState) > 0 {
		nextPageStateEncoded = base64.StdEncoding.EncodeToString(nextPageState)
	}

	response.Success(c, http.StatusOK, gin.H{
		"messages":        messages,
		"next_page_state": nextPageStateEncoded,
	})
}

// MarkSeenRequest acknowledges all unseen messages from one sender
type MarkSeenRequest struct {
	From string `json:"from" binding:"required,uuid"`
}

// MarkSeen bulk-marks messages from a sender as seen, for clients that fetch
// history over HTTP instead of acking on the socket
// POST /v1/messages/seen
func (h *Handler) MarkSeen(c *gin.Context) {
	var req MarkSeenRequest
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

	fromID, err := uuid.Parse(req.From)
	if err != nil {
		response.ValidationError(c, "Invalid user id")
		return
	}

	count, err := h.chatService.MarkSeen(c.Request.Context(), userID, fromID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"updated": count})
}
