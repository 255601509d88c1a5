package listening

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"tunelink-backend/internal/service/history"
	"tunelink-backend/pkg/response"
)

// Handler handles listening history HTTP requests
type Handler struct {
	historyService *history.Service
}

// NewHandler creates a new listening history handler
func NewHandler(historyService *history.Service) *Handler {
	return &Handler{
		historyService: historyService,
	}
}

// RecordRequest represents a listen event
type RecordRequest struct {
	TrackID string `json:"track_id" binding:"required"`
	Title   string `json:"title" binding:"max=500"`
	Artist  string `json:"artist" binding:"max=500"`
	Source  string `json:"source" binding:"max=100"`
}

// Record appends a track play to the user's listening history
// POST /v1/history/listens
func (h *Handler) Record(c *gin.Context) {
	var req RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	entry, err := h.historyService.Record(c.Request.Context(), &history.RecordInput{
		UserID:  userID,
		TrackID: req.TrackID,
		Title:   req.Title,
		Artist:  req.Artist,
		Source:  req.Source,
	})
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, entry)
}

// GetRecent lists the user's most recent listens
// GET /v1/history/listens
func (h *Handler) GetRecent(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	limit := 0
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 {
		limit = l
	}

	entries, err := h.historyService.GetRecent(c.Request.Context(), userID, limit)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"listens": entries,
		"count":   len(entries),
	})
}

func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	val, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, false
	}

	userID, ok := val.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return uuid.Nil, false
	}

	return userID, true
}
