package controllers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"donation-workflow-api/services"

	"github.com/gin-gonic/gin"
)

type ReconciliationController struct {
	sweeper  *services.ReconciliationService
	lockName string
}

func NewReconciliationController(sweeper *services.ReconciliationService, lockName string) *ReconciliationController {
	return &ReconciliationController{sweeper: sweeper, lockName: lockName}
}

type sweepRequest struct {
	SubjectID  string   `json:"subject_id"`
	SubjectIDs []string `json:"subject_ids"`
	Limit      int      `json:"limit"`
	DryRun     bool     `json:"dry_run"`
	Archive    bool     `json:"archive"`
}

// Sweep runs the reconciliation sweep for one subject, a list of subjects,
// or every referenced subject. ?format=xlsx returns the findings workbook.
func (h *ReconciliationController) Sweep(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var req sweepRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "Invalid request body")
		return
	}

	subjects := req.SubjectIDs
	if req.SubjectID != "" {
		subjects = []string{req.SubjectID}
	}

	summary, err := h.sweeper.SweepAll(c.Request.Context(), services.SweepAllInput{
		SubjectIDs:    subjects,
		Limit:         req.Limit,
		TriggerSource: "api:" + actor.UserID,
		LockName:      h.lockName,
		DryRun:        req.DryRun,
		RecordRun:     true,
		Archive:       req.Archive,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	if c.Query("format") == "xlsx" {
		data, err := services.ExportSweepXLSX(summary)
		if err != nil {
			respondError(c, err)
			return
		}
		name := fmt.Sprintf("reconciliation-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
		c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
		c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
		return
	}
	if req.SubjectID != "" && len(summary.Reports) == 1 {
		c.JSON(http.StatusOK, gin.H{"success": true, "summary": summary, "report": summary.Reports[0]})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "summary": summary})
}

func (h *ReconciliationController) Runs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	runs, err := h.sweeper.Runs(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "runs": runs})
}
