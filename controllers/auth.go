package controllers

import (
	"net/http"

	"donation-workflow-api/middleware"
	"donation-workflow-api/services"

	"github.com/gin-gonic/gin"
)

// currentActor returns the verified caller. AuthMiddleware always runs first
// on protected routes, so a missing identity is answered with 401.
func currentActor(c *gin.Context) (services.Actor, bool) {
	userID, role, ok := middleware.Identity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "message": "Sign in again to continue"})
		return services.Actor{}, false
	}
	return services.Actor{UserID: userID, Role: role}, true
}

// GetProfile echoes the identity carried by the caller's token.
func GetProfile(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"user": gin.H{
			"user_id": actor.UserID,
			"email":   c.GetString(middleware.ContextEmail),
			"role":    actor.Role,
		},
	})
}
