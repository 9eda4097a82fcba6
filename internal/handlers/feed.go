package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/obialo/tutornotify/internal/models"
	"github.com/obialo/tutornotify/internal/push"
	"github.com/obialo/tutornotify/internal/store"
	"github.com/obialo/tutornotify/internal/track"
	"go.uber.org/zap"
)

// FeedHandler serves the recipient-facing read API that the client sync
// component polls, plus the SSE push stream that shortcuts the poll.
// Every endpoint is scoped to the signed-in user.
type FeedHandler struct {
	store   *store.Store
	tracker *track.Tracker
	hub     *push.Hub
	logger  *zap.Logger
}

func NewFeedHandler(st *store.Store, tracker *track.Tracker, hub *push.Hub, logger *zap.Logger) *FeedHandler {
	return &FeedHandler{store: st, tracker: tracker, hub: hub, logger: logger}
}

// List returns the recipient's feed newest first. `since` is the version
// cursor from the previous poll; omit or zero for the full page.
func (h *FeedHandler) List(c *gin.Context) {
	userID := c.GetString("user_id")
	since, _ := strconv.ParseInt(c.Query("since"), 10, 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	items, err := h.store.Feed(c.Request.Context(), userID, since, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.APIResponse{
			Success: false,
			Error:   err.Error(),
			Message: "Failed to load notifications",
		})
		return
	}
	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Notifications",
		Data:    items,
	})
}

// MarkRead flips the caller's in-app record for one notification to
// read. Idempotent: re-reading is a no-op.
func (h *FeedHandler) MarkRead(c *gin.Context) {
	userID := c.GetString("user_id")
	notificationID := c.Param("id")

	recordID, err := h.store.FindRecordID(c.Request.Context(), notificationID, userID, models.ChannelInApp)
	if err != nil {
		h.writeRecordError(c, err)
		return
	}
	rec, err := h.tracker.MarkRead(c.Request.Context(), recordID)
	if err != nil {
		h.writeRecordError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Marked read",
		Data:    rec,
	})
}

// ReadAll marks every unread notification in the caller's feed.
func (h *FeedHandler) ReadAll(c *gin.Context) {
	userID := c.GetString("user_id")
	items, err := h.store.Feed(c.Request.Context(), userID, 0, 0)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.APIResponse{
			Success: false,
			Error:   err.Error(),
			Message: "Failed to load notifications",
		})
		return
	}
	marked := 0
	for _, item := range items {
		if item.Read() {
			continue
		}
		recordID, err := h.store.FindRecordID(c.Request.Context(), item.ID, userID, models.ChannelInApp)
		if err != nil {
			continue
		}
		if _, err := h.tracker.MarkRead(c.Request.Context(), recordID); err != nil {
			h.logger.Warn("read-all skipped record",
				zap.String("record_id", recordID), zap.Error(err))
			continue
		}
		marked++
	}
	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Marked all read",
		Data:    gin.H{"marked": marked},
	})
}

// Delete hides a notification from the caller's feed. Delivery records
// are kept for analytics.
func (h *FeedHandler) Delete(c *gin.Context) {
	userID := c.GetString("user_id")
	notificationID := c.Param("id")

	if err := h.store.RemoveFromInbox(c.Request.Context(), userID, notificationID); err != nil {
		c.JSON(http.StatusInternalServerError, models.APIResponse{
			Success: false,
			Error:   err.Error(),
			Message: "Failed to delete notification",
		})
		return
	}
	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Notification deleted",
	})
}

// Stream is the push channel: an SSE stream carrying the same feed item
// shape as List. Clients treat it as a latency shortcut; the poll
// remains the source of truth.
func (h *FeedHandler) Stream(c *gin.Context) {
	userID := c.GetString("user_id")
	sub := h.hub.Subscribe(userID)
	defer h.hub.Unsubscribe(sub)

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case item, ok := <-sub.C:
			if !ok {
				return false
			}
			c.SSEvent("notification", item)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *FeedHandler) writeRecordError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, models.APIResponse{
			Success: false,
			Error:   err.Error(),
			Message: "Notification not found",
		})
	case errors.Is(err, track.ErrTerminalRecord):
		c.JSON(http.StatusConflict, models.APIResponse{
			Success: false,
			Error:   err.Error(),
			Message: "Record already settled",
		})
	default:
		c.JSON(http.StatusInternalServerError, models.APIResponse{
			Success: false,
			Error:   err.Error(),
			Message: "Internal Server Error",
		})
	}
}
