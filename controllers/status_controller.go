package controllers

import (
	"net/http"

	"donation-workflow-api/workflow"

	"github.com/gin-gonic/gin"
)

type StatusController struct {
	registry *workflow.Registry
}

func NewStatusController(registry *workflow.Registry) *StatusController {
	if registry == nil {
		registry = workflow.NewRegistry()
	}
	return &StatusController{registry: registry}
}

// Resolve maps any known spelling to its canonical status. ?role= narrows the
// lookup to one pipeline.
func (h *StatusController) Resolve(c *gin.Context) {
	raw := c.Query("value")
	var (
		status workflow.Status
		err    error
	)
	if roleParam := c.Query("role"); roleParam != "" {
		role, perr := workflow.ParseRole(roleParam)
		if perr != nil || !role.IsSubject() {
			badRequest(c, "role must be donor or recipient")
			return
		}
		status, err = h.registry.ResolveFor(role, raw)
	} else {
		status, err = h.registry.Resolve(raw)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"input":    raw,
		"status":   status,
		"terminal": workflow.IsTerminal(status),
		"aliases":  h.registry.Aliases(status),
	})
}

type pipelineView struct {
	Role        workflow.Role     `json:"role"`
	Statuses    []workflow.Status `json:"statuses"`
	Transitions []workflow.Edge   `json:"transitions"`
}

// Pipelines lists both pipelines with their transition tables.
func (h *StatusController) Pipelines(c *gin.Context) {
	var out []pipelineView
	for _, role := range []workflow.Role{workflow.RoleRecipient, workflow.RoleDonor} {
		out = append(out, pipelineView{
			Role:        role,
			Statuses:    workflow.Pipeline(role),
			Transitions: workflow.Transitions(role),
		})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "pipelines": out})
}
