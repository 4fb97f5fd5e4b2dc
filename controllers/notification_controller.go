package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"donation-workflow-api/models"
	"donation-workflow-api/repository"

	"github.com/gin-gonic/gin"
)

// NotificationController serves the in-app inbox written by the in-app
// notification sink.
type NotificationController struct {
	store repository.NotificationStore
}

func NewNotificationController(store repository.NotificationStore) *NotificationController {
	return &NotificationController{store: store}
}

func (h *NotificationController) List(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	limit := 20
	if v, err := strconv.Atoi(strings.TrimSpace(c.Query("limit"))); err == nil && v > 0 && v <= 100 {
		limit = v
	}
	unreadOnly := strings.TrimSpace(c.Query("unreadOnly"))

	items, err := h.store.ListNotifications(c.Request.Context(), actor.UserID, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	if unreadOnly == "1" || strings.EqualFold(unreadOnly, "true") {
		filtered := items[:0]
		for _, n := range items {
			if !n.IsRead {
				filtered = append(filtered, n)
			}
		}
		items = filtered
	}
	if items == nil {
		items = []models.Notification{}
	}

	unread := 0
	for _, n := range items {
		if !n.IsRead {
			unread++
		}
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "unread": unread})
}

func (h *NotificationController) MarkRead(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		badRequest(c, "invalid id")
		return
	}
	if err := h.store.MarkNotificationsRead(c.Request.Context(), actor.UserID, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *NotificationController) MarkAllRead(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	if err := h.store.MarkNotificationsRead(c.Request.Context(), actor.UserID, ""); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
