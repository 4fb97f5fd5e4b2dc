package routes

import (
	"donation-workflow-api/controllers"
	"donation-workflow-api/middleware"
	"donation-workflow-api/monitor"
	"donation-workflow-api/workflow"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Handlers bundles everything the route table needs.
type Handlers struct {
	Cases          *controllers.CaseController
	Appointments   *controllers.AppointmentController
	Reconciliation *controllers.ReconciliationController
	Statuses       *controllers.StatusController
	Notifications  *controllers.NotificationController

	DB          monitor.Pinger
	Registry    *prometheus.Registry
	JWTSecret   string
	LogFile     string
	ServiceName string
}

func SetupRoutes(router *gin.Engine, h Handlers) {
	doctor := workflow.RoleDoctor
	admin := workflow.RoleAdmin
	donor := workflow.RoleDonor
	recipient := workflow.RoleRecipient

	// Health and metrics stay outside /api/v1 for probes and scrapers.
	monitor.RegisterHealth(router, h.DB, h.ServiceName)
	monitor.RegisterMetrics(router, h.Registry)

	// API v1 group
	v1 := router.Group("/api/v1")
	{
		// Public routes
		public := v1.Group("")
		{
			monitor.RegisterHealth(public, h.DB, h.ServiceName)
		}

		// Protected routes (require authentication)
		protected := v1.Group("")
		protected.Use(middleware.AuthMiddleware(h.JWTSecret))
		{
			protected.GET("/profile", controllers.GetProfile)

			// Status registry
			statuses := protected.Group("/statuses")
			{
				statuses.GET("/resolve", h.Statuses.Resolve)
				statuses.GET("/pipelines", h.Statuses.Pipelines)
			}

			// Cases
			cases := protected.Group("/cases")
			{
				cases.POST("", middleware.RequireRole(donor, recipient, admin), h.Cases.Create)
				cases.GET("", middleware.RequireRole(doctor, admin), h.Cases.List)
				cases.GET("/:id", h.Cases.Get)
				cases.GET("/:id/history", h.Cases.History)
				cases.GET("/:id/replay", middleware.RequireRole(admin), h.Cases.Replay)
				cases.GET("/:id/eligibility", h.Cases.Eligibility)
				cases.POST("/:id/decisions", middleware.RequireRole(doctor, admin), h.Cases.SubmitDecision)

				cases.POST("/:id/appointments", middleware.RequireRole(doctor), h.Appointments.Schedule)
				cases.GET("/:id/appointments", h.Appointments.List)
			}

			protected.PATCH("/appointments/:id/status", middleware.RequireRole(doctor, admin), h.Appointments.UpdateStatus)

			// In-app notifications
			notifications := protected.Group("/notifications")
			{
				notifications.GET("", h.Notifications.List)
				notifications.PATCH("/:id/read", h.Notifications.MarkRead)
				notifications.POST("/mark-all-read", h.Notifications.MarkAllRead)
			}

			// Admin only
			adminGroup := protected.Group("/admin")
			adminGroup.Use(middleware.RequireRole(admin))
			{
				adminGroup.POST("/reconciliation/sweep", h.Reconciliation.Sweep)
				adminGroup.GET("/reconciliation/runs", h.Reconciliation.Runs)
				if h.LogFile != "" {
					adminGroup.GET("/logs", monitor.LogsHandler(h.LogFile))
				}
			}
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(404, gin.H{"error": "not_found", "message": "Endpoint not found"})
	})
}
