// Package handlers provides HTTP API request handlers.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/resume-studio/collabsync/internal/model"
	"github.com/resume-studio/collabsync/internal/repository"
)

// TranscriptHandler handles HTTP requests for archived AI responses.
type TranscriptHandler struct {
	repo *repository.TranscriptRepository
}

// NewTranscriptHandler creates a new TranscriptHandler.
func NewTranscriptHandler(repo *repository.TranscriptRepository) *TranscriptHandler {
	return &TranscriptHandler{
		repo: repo,
	}
}

// TranscriptResponse represents a transcript in API responses.
type TranscriptResponse struct {
	RequestID   string `json:"requestId"`
	UserID      string `json:"userId"`
	RoomID      string `json:"roomId,omitempty"`
	Prompt      string `json:"prompt"`
	Response    string `json:"response"`
	Status      string `json:"status"`
	Duration    string `json:"duration"`
	CreatedAt   string `json:"createdAt"`
	CompletedAt string `json:"completedAt,omitempty"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func toTranscriptResponse(t *model.Transcript) *TranscriptResponse {
	resp := &TranscriptResponse{
		RequestID: t.RequestID,
		UserID:    t.UserID,
		RoomID:    t.RoomID,
		Prompt:    t.Prompt,
		Response:  t.Response,
		Status:    string(t.Status),
		Duration:  formatDuration(t.Duration()),
		CreatedAt: t.CreatedAt.Format(time.RFC3339),
	}
	if !t.CompletedAt.IsZero() {
		resp.CompletedAt = t.CompletedAt.Format(time.RFC3339)
	}
	return resp
}

// formatDuration formats a duration as a short human-readable string.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
}

// getUserID extracts the user ID from the request.
func getUserID(c *gin.Context) string {
	// Set by auth middleware
	if userID, exists := c.Get("userID"); exists {
		if id, ok := userID.(string); ok && id != "" {
			return id
		}
	}
	return c.Query("userId")
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// List handles GET /api/transcripts - lists the caller's archived responses.
func (h *TranscriptHandler) List(c *gin.Context) {
	userID := getUserID(c)
	if userID == "" {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "userId is required")
		return
	}

	limit := repository.DefaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a positive integer")
			return
		}
		limit = n
	}

	transcripts, err := h.repo.ListByUser(c.Request.Context(), userID, limit)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list transcripts: "+err.Error())
		return
	}

	resp := make([]*TranscriptResponse, 0, len(transcripts))
	for _, t := range transcripts {
		resp = append(resp, toTranscriptResponse(t))
	}
	c.JSON(http.StatusOK, gin.H{"transcripts": resp})
}

// Get handles GET /api/transcripts/:id - returns one archived response.
func (h *TranscriptHandler) Get(c *gin.Context) {
	t, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toTranscriptResponse(t))
}

// Delete handles DELETE /api/transcripts/:id.
func (h *TranscriptHandler) Delete(c *gin.Context) {
	t, ok := h.lookup(c)
	if !ok {
		return
	}
	if err := h.repo.Delete(c.Request.Context(), t.RequestID); err != nil && !errors.Is(err, model.ErrTranscriptNotFound) {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to delete transcript: "+err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

// lookup loads the transcript named in the path and checks ownership. It
// writes the error response itself.
func (h *TranscriptHandler) lookup(c *gin.Context) (*model.Transcript, bool) {
	requestID := c.Param("id")
	t, err := h.repo.GetByRequestID(c.Request.Context(), requestID)
	if err != nil {
		if errors.Is(err, model.ErrTranscriptNotFound) {
			sendError(c, http.StatusNotFound, "TRANSCRIPT_NOT_FOUND", "Transcript "+requestID+" not found")
			return nil, false
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get transcript: "+err.Error())
		return nil, false
	}

	if userID := getUserID(c); userID != "" && t.UserID != userID {
		sendError(c, http.StatusForbidden, "FORBIDDEN", "Access to transcript denied")
		return nil, false
	}
	return t, true
}

// RegisterRoutes registers the transcript routes on a Gin router group.
func (h *TranscriptHandler) RegisterRoutes(rg *gin.RouterGroup) {
	transcripts := rg.Group("/transcripts")
	{
		transcripts.GET("", h.List)
		transcripts.GET("/:id", h.Get)
		transcripts.DELETE("/:id", h.Delete)
	}
}
