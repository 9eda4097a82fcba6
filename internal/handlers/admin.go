package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/obialo/tutornotify/internal/directory"
	"github.com/obialo/tutornotify/internal/dispatch"
	"github.com/obialo/tutornotify/internal/models"
	"github.com/obialo/tutornotify/internal/render"
	"github.com/obialo/tutornotify/internal/store"
	"github.com/obialo/tutornotify/internal/track"
	"go.uber.org/zap"
)

// AdminHandler serves the notification creation, resend, stats and
// template endpoints used by back-office staff.
type AdminHandler struct {
	dispatcher *dispatch.Dispatcher
	store      *store.Store
	tracker    *track.Tracker
	logger     *zap.Logger
}

func NewAdminHandler(dispatcher *dispatch.Dispatcher, st *store.Store, tracker *track.Tracker, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		dispatcher: dispatcher,
		store:      st,
		tracker:    tracker,
		logger:     logger,
	}
}

func (h *AdminHandler) CreateNotification(c *gin.Context) {
	var req models.CreateNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.APIResponse{
			Success: false,
			Error:   err.Error(),
			Message: "Invalid Request Body",
		})
		return
	}
	if req.Template == "" && req.Title == "" && req.Body == "" {
		c.JSON(http.StatusBadRequest, models.APIResponse{
			Success: false,
			Error:   "either template or title/body is required",
			Message: "Invalid Request Body",
		})
		return
	}

	createdBy := c.GetString("user_id")
	correlationID := c.GetString("correlation_id")

	n, res, err := h.dispatcher.Create(c.Request.Context(), req, createdBy, correlationID)
	if err != nil {
		h.writeDispatchError(c, err)
		return
	}

	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Notification accepted",
		Data: models.DispatchResponse{
			NotificationID: n.ID,
			Status:         n.Status,
			Recipients:     res.Recipients,
			Records:        res.Records,
			UnknownIDs:     res.Unknown,
			QueuedAt:       time.Now(),
		},
	})
}

func (h *AdminHandler) ResendNotification(c *gin.Context) {
	id := c.Param("id")
	correlationID := c.GetString("correlation_id")

	res, err := h.dispatcher.Resend(c.Request.Context(), id, correlationID)
	if err != nil {
		h.writeDispatchError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Resend dispatched",
		Data: models.DispatchResponse{
			NotificationID: id,
			Status:         models.StatusSending,
			Recipients:     res.Recipients,
			Records:        res.Records,
			QueuedAt:       time.Now(),
		},
	})
}

func (h *AdminHandler) NotificationStats(c *gin.Context) {
	id := c.Param("id")
	stats, err := h.tracker.Aggregate(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.APIResponse{
			Success: false,
			Error:   err.Error(),
			Message: "Failed to aggregate delivery stats",
		})
		return
	}
	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Delivery stats",
		Data: gin.H{
			"stats":        stats,
			"open_rate":    stats.OpenRate(),
			"failure_rate": stats.FailureRate(),
		},
	})
}

// PreviewTemplate renders a template with the supplied values and
// reports placeholders still unresolved, so the admin UI can highlight
// them before anything is sent.
func (h *AdminHandler) PreviewTemplate(c *gin.Context) {
	var req models.PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.APIResponse{
			Success: false,
			Error:   err.Error(),
			Message: "Invalid Request Body",
		})
		return
	}
	tmpl, err := h.store.GetTemplate(c.Request.Context(), req.Template)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, models.APIResponse{
			Success: false,
			Error:   err.Error(),
			Message: "Template not available",
		})
		return
	}
	title, body, unresolved := render.RenderTemplate(*tmpl, req.Values)
	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Preview rendered",
		Data: models.PreviewResponse{
			Title:      title,
			Body:       body,
			Unresolved: unresolved,
		},
	})
}

func (h *AdminHandler) SaveTemplate(c *gin.Context) {
	var tmpl models.Template
	if err := c.ShouldBindJSON(&tmpl); err != nil {
		c.JSON(http.StatusBadRequest, models.APIResponse{
			Success: false,
			Error:   err.Error(),
			Message: "Invalid Request Body",
		})
		return
	}
	if tmpl.Name == "" {
		c.JSON(http.StatusBadRequest, models.APIResponse{
			Success: false,
			Error:   "template name is required",
			Message: "Invalid Request Body",
		})
		return
	}
	if err := h.store.SaveTemplate(c.Request.Context(), &tmpl); err != nil {
		c.JSON(http.StatusInternalServerError, models.APIResponse{
			Success: false,
			Error:   err.Error(),
			Message: "Failed to save template",
		})
		return
	}
	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Template saved",
		Data:    tmpl,
	})
}

func (h *AdminHandler) ListTemplates(c *gin.Context) {
	templates, err := h.store.ListTemplates(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.APIResponse{
			Success: false,
			Error:   err.Error(),
			Message: "Failed to list templates",
		})
		return
	}
	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Templates",
		Data:    templates,
	})
}

func (h *AdminHandler) DeleteTemplate(c *gin.Context) {
	if err := h.store.DeleteTemplate(c.Request.Context(), c.Param("name")); err != nil {
		c.JSON(http.StatusInternalServerError, models.APIResponse{
			Success: false,
			Error:   err.Error(),
			Message: "Failed to delete template",
		})
		return
	}
	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Template deleted",
	})
}

func (h *AdminHandler) writeDispatchError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, dispatch.ErrScheduleInPast):
		c.JSON(http.StatusUnprocessableEntity, models.APIResponse{
			Success: false,
			Error:   err.Error(),
			Message: "Schedule date must be in the future",
		})
	case errors.Is(err, dispatch.ErrAlreadyDispatched):
		c.JSON(http.StatusConflict, models.APIResponse{
			Success: false,
			Error:   err.Error(),
			Message: "Notification already dispatched",
		})
	case errors.Is(err, dispatch.ErrTemplateInactive), errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusBadRequest, models.APIResponse{
			Success: false,
			Error:   err.Error(),
			Message: "Template not available",
		})
	case errors.Is(err, directory.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, models.APIResponse{
			Success: false,
			Error:   err.Error(),
			Message: "Recipient directory unavailable",
		})
	default:
		h.logger.Error("dispatch failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, models.APIResponse{
			Success: false,
			Error:   err.Error(),
			Message: "Internal Server Error",
		})
	}
}
