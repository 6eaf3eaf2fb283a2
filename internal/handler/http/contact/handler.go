package contact

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"voicebridge-backend/internal/repository/postgres"
	"voicebridge-backend/internal/service/presence"
	"voicebridge-backend/pkg/response"
)

// Handler handles contact and block management HTTP requests
type Handler struct {
	userRepo        *postgres.UserRepository
	presenceService *presence.Service
}

// NewHandler creates a new contact handler
func NewHandler(userRepo *postgres.UserRepository, presenceService *presence.Service) *Handler {
	return &Handler{
		userRepo:        userRepo,
		presenceService: presenceService,
	}
}

// ContactRequest targets another user by id
type ContactRequest struct {
	UserID string `json:"user_id" binding:"required,uuid"`
}

func currentUser(c *gin.Context) (uuid.UUID, bool) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, false
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return uuid.Nil, false
	}
	return userID, true
}

func targetUser(c *gin.Context, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		response.ValidationError(c, "Invalid user id")
		return uuid.Nil, false
	}
	return id, true
}

// List returns the user's contacts with their presence
// GET /v1/contacts
func (h *Handler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	statuses, err := h.presenceService.ContactStatuses(c.Request.Context(), userID)
	if err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"contacts": statuses})
}

// Add adds a contact
// POST /v1/contacts
func (h *Handler) Add(c *gin.Context) {
	var req ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := currentUser(c)
	if !ok {
		return
	}
	contactID, ok := targetUser(c, req.UserID)
	if !ok {
		return
	}

	// The contact must exist; adding an unknown id is a client error.
	if _, err := h.userRepo.GetByID(c.Request.Context(), contactID); err != nil {
		response.AppError(c, err)
		return
	}

	if err := h.userRepo.AddContact(c.Request.Context(), userID, contactID); err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"message": "Contact added"})
}

// Remove removes a contact
// DELETE /v1/contacts/:id
func (h *Handler) Remove(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	contactID, ok := targetUser(c, c.Param("id"))
	if !ok {
		return
	}

	if err := h.userRepo.RemoveContact(c.Request.Context(), userID, contactID); err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "Contact removed"})
}

// Block adds a user to the caller's block list
// POST /v1/blocks
func (h *Handler) Block(c *gin.Context) {
	var req ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := currentUser(c)
	if !ok {
		return
	}
	blockedID, ok := targetUser(c, req.UserID)
	if !ok {
		return
	}

	if err := h.userRepo.Block(c.Request.Context(), userID, blockedID); err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"message": "User blocked"})
}

// Unblock removes a user from the caller's block list
// DELETE /v1/blocks/:id
func (h *Handler) Unblock(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	blockedID, ok := targetUser(c, c.Param("id"))
	if !ok {
		return
	}

	if err := h.userRepo.Unblock(c.Request.Context(), userID, blockedID); err != nil {
		response.AppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"message": "User unblocked"})
}
