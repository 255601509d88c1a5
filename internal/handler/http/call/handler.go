package call

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"tunelink-backend/internal/domain"
	"tunelink-backend/internal/service/call"
	"tunelink-backend/pkg/response"
)

// Handler handles call HTTP requests
type Handler struct {
	callService *call.Service
}

// NewHandler creates a new call handler
func NewHandler(callService *call.Service) *Handler {
	return &Handler{
		callService: callService,
	}
}

// InitiateRequest represents a call initiation request
type InitiateRequest struct {
	ReceiverID string `json:"receiver_id" binding:"required,uuid"`
	CallType   string `json:"call_type" binding:"required,oneof=audio video"`
}

// Initiate starts ringing another user
// POST /v1/calls/initiate
func (h *Handler) Initiate(c *gin.Context) {
	var req InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	callerID, ok := currentUserID(c)
	if !ok {
		return
	}

	receiverID, err := uuid.Parse(req.ReceiverID)
	if err != nil {
		response.ValidationError(c, "Invalid receiver ID")
		return
	}

	session, err := h.callService.Initiate(c.Request.Context(), &call.InitiateInput{
		CallerID:   callerID,
		CallerName: c.GetString("username"),
		ReceiverID: receiverID,
		CallType:   domain.CallType(req.CallType),
	})
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, session)
}

// Accept answers a ringing call
// PUT /v1/calls/:id/accept
func (h *Handler) Accept(c *gin.Context) {
	h.transition(c, h.callService.Accept)
}

// Reject declines a ringing call. The caller rejecting their own call
// cancels it instead.
// PUT /v1/calls/:id/reject
func (h *Handler) Reject(c *gin.Context) {
	h.transition(c, h.callService.Reject)
}

// End hangs up an active call
// PUT /v1/calls/:id/end
func (h *Handler) End(c *gin.Context) {
	h.transition(c, h.callService.End)
}

// Get retrieves a call session visible to its participants
// GET /v1/calls/:id
func (h *Handler) Get(c *gin.Context) {
	h.transition(c, h.callService.GetSession)
}

// GetHistory lists the authenticated user's recent call history
// GET /v1/calls/history
func (h *Handler) GetHistory(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	limit := 50
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}

	history, err := h.callService.GetHistory(c.Request.Context(), userID, limit)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"history": history,
		"count":   len(history),
	})
}

// transition runs one of the :id call operations, all of which share
// the (callID, actorID) shape.
func (h *Handler) transition(c *gin.Context, op func(ctx context.Context, callID, actorID uuid.UUID) (*domain.CallSession, error)) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return
	}

	actorID, ok := currentUserID(c)
	if !ok {
		return
	}

	session, err := op(c.Request.Context(), callID, actorID)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, session)
}

// currentUserID pulls the authenticated user from the request context.
// A missing or malformed value means the auth middleware did not run.
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
