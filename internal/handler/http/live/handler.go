package live

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"tunelink-backend/internal/service/live"
	"tunelink-backend/internal/service/storage"
	"tunelink-backend/pkg/pagination"
	"tunelink-backend/pkg/response"
)

// Handler handles live stream HTTP requests
type Handler struct {
	liveService    *live.Service
	storageService *storage.Service
}

// NewHandler creates a new live stream handler. The storage service may
// be nil when recording uploads are disabled.
func NewHandler(liveService *live.Service, storageService *storage.Service) *Handler {
	return &Handler{
		liveService:    liveService,
		storageService: storageService,
	}
}

// StartRequest represents a stream start request
type StartRequest struct {
	Title       string   `json:"title" binding:"required,max=200"`
	Description string   `json:"description" binding:"max=2000"`
	FollowerIDs []string `json:"follower_ids"`
}

// Start begins a live stream hosted by the authenticated user
// POST /v1/live/start
func (h *Handler) Start(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	hostID, ok := currentUserID(c)
	if !ok {
		return
	}

	followerIDs := make([]uuid.UUID, 0, len(req.FollowerIDs))
	for _, idStr := range req.FollowerIDs {
		id, err := uuid.Parse(idStr)
		if err != nil {
			response.ValidationError(c, "Invalid follower ID: "+idStr)
			return
		}
		followerIDs = append(followerIDs, id)
	}

	stream, err := h.liveService.Start(c.Request.Context(), &live.StartInput{
		HostID:      hostID,
		HostName:    c.GetString("username"),
		Title:       req.Title,
		Description: req.Description,
		FollowerIDs: followerIDs,
	})
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, stream)
}

// EndRequest represents a stream end request
type EndRequest struct {
	RecordingObject string `json:"recording_object"`
}

// End finalizes a stream; only its host may call this
// POST /v1/live/end/:streamId
func (h *Handler) End(c *gin.Context) {
	streamID, ok := streamIDParam(c)
	if !ok {
		return
	}

	hostID, ok := currentUserID(c)
	if !ok {
		return
	}

	// Body is optional; an empty request ends the stream without a
	// recording
	var req EndRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.ValidationError(c, err.Error())
			return
		}
	}

	stream, err := h.liveService.End(c.Request.Context(), &live.EndInput{
		StreamID:        streamID,
		HostID:          hostID,
		RecordingObject: req.RecordingObject,
	})
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, stream)
}

// GetActive lists currently live streams
// GET /v1/live/active
func (h *Handler) GetActive(c *gin.Context) {
	params, err := pagination.Parse(c.Query("page"), c.Query("limit"))
	if err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	streams, err := h.liveService.GetActive(c.Request.Context(), params.Limit, params.Offset)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"streams": streams,
		"page":    params.Page,
		"limit":   params.Limit,
	})
}

// Get retrieves a single stream
// GET /v1/live/:streamId
func (h *Handler) Get(c *gin.Context) {
	streamID, ok := streamIDParam(c)
	if !ok {
		return
	}

	stream, err := h.liveService.Get(c.Request.Context(), streamID)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, stream)
}

// Join adds the authenticated user to a stream's viewers
// POST /v1/live/:streamId/join
func (h *Handler) Join(c *gin.Context) {
	h.viewerChange(c, h.liveService.Join)
}

// Leave removes the authenticated user from a stream's viewers
// POST /v1/live/:streamId/leave
func (h *Handler) Leave(c *gin.Context) {
	h.viewerChange(c, h.liveService.Leave)
}

// GetViewers lists a stream's current viewers
// GET /v1/live/:streamId/viewers
func (h *Handler) GetViewers(c *gin.Context) {
	streamID, ok := streamIDParam(c)
	if !ok {
		return
	}

	viewers, err := h.liveService.GetViewers(c.Request.Context(), streamID)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"viewers": viewers,
		"count":   len(viewers),
	})
}

// GetRecordingUploadURL returns a presigned URL the host uploads the
// stream recording to before ending the stream
// POST /v1/live/:streamId/recording-url
func (h *Handler) GetRecordingUploadURL(c *gin.Context) {
	if h.storageService == nil {
		response.Error(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Recording storage is not configured")
		return
	}

	streamID, ok := streamIDParam(c)
	if !ok {
		return
	}

	hostID, ok := currentUserID(c)
	if !ok {
		return
	}

	stream, err := h.liveService.Get(c.Request.Context(), streamID)
	if err != nil {
		response.FromAppError(c, err)
		return
	}
	if stream.HostID != hostID {
		response.Forbidden(c, "Only the host may upload a recording")
		return
	}

	output, err := h.storageService.GenerateRecordingUploadURL(c.Request.Context(), streamID)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, output)
}

// DeleteRecording removes a stream's uploaded recording
// DELETE /v1/live/:streamId/recording
func (h *Handler) DeleteRecording(c *gin.Context) {
	if h.storageService == nil {
		response.Error(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Recording storage is not configured")
		return
	}

	streamID, ok := streamIDParam(c)
	if !ok {
		return
	}

	hostID, ok := currentUserID(c)
	if !ok {
		return
	}

	stream, err := h.liveService.Get(c.Request.Context(), streamID)
	if err != nil {
		response.FromAppError(c, err)
		return
	}
	if stream.HostID != hostID {
		response.Forbidden(c, "Only the host may delete a recording")
		return
	}

	if err := h.storageService.DeleteRecording(c.Request.Context(), storage.RecordingObjectKey(streamID)); err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"stream_id": streamID})
}

type viewerOp func(ctx context.Context, streamID, userID uuid.UUID) (int, error)

func (h *Handler) viewerChange(c *gin.Context, op viewerOp) {
	streamID, ok := streamIDParam(c)
	if !ok {
		return
	}

	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	count, err := op(c.Request.Context(), streamID, userID)
	if err != nil {
		response.FromAppError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"stream_id":    streamID,
		"viewer_count": count,
	})
}

func streamIDParam(c *gin.Context) (uuid.UUID, bool) {
	streamID, err := uuid.Parse(c.Param("streamId"))
	if err != nil {
		response.ValidationError(c, "Invalid stream ID")
		return uuid.Nil, false
	}
	return streamID, true
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
