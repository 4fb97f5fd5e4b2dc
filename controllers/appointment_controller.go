package controllers

import (
	"net/http"
	"time"

	"donation-workflow-api/services"
	"donation-workflow-api/utils"

	"github.com/gin-gonic/gin"
)

type AppointmentController struct {
	appointments *services.AppointmentService
}

func NewAppointmentController(appointments *services.AppointmentService) *AppointmentController {
	return &AppointmentController{appointments: appointments}
}

type scheduleRequest struct {
	When    time.Time `json:"when" binding:"required"`
	Purpose string    `json:"purpose"`
}

func (h *AppointmentController) Schedule(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "when is required as an RFC 3339 timestamp")
		return
	}

	appt, err := h.appointments.Schedule(c.Request.Context(), services.ScheduleInput{
		CaseID:  c.Param("id"),
		Actor:   actor,
		When:    req.When,
		Purpose: utils.SanitizeInput(req.Purpose),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "appointment": appt})
}

func (h *AppointmentController) List(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	appts, err := h.appointments.List(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "appointments": appts})
}

type appointmentStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *AppointmentController) UpdateStatus(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var req appointmentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "status is required")
		return
	}
	appt, err := h.appointments.UpdateStatus(c.Request.Context(), actor, c.Param("id"), req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "appointment": appt})
}
