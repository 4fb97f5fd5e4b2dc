package controllers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"donation-workflow-api/services"
	"donation-workflow-api/utils"

	"github.com/gin-gonic/gin"
)

type CaseController struct {
	workflow *services.WorkflowService
}

func NewCaseController(workflow *services.WorkflowService) *CaseController {
	return &CaseController{workflow: workflow}
}

type createCaseRequest struct {
	Role          string `json:"role"`
	SubjectUserID string `json:"subject_user_id"`
	ContactEmail  string `json:"contact_email"`
}

// Create opens a case for the caller, or for a named subject when the caller
// is an admin.
func (h *CaseController) Create(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var req createCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "Invalid request body")
		return
	}
	req.SubjectUserID = utils.SanitizeInput(req.SubjectUserID)
	req.ContactEmail = utils.SanitizeInput(req.ContactEmail)
	if req.SubjectUserID != "" && !utils.ValidIdentifier(req.SubjectUserID) {
		badRequest(c, "subject_user_id may only contain letters, digits and . _ : @ -")
		return
	}
	if req.ContactEmail != "" && !utils.ValidateEmail(req.ContactEmail) {
		badRequest(c, "contact_email is not a valid email address")
		return
	}

	created, err := h.workflow.CreateCase(c.Request.Context(), actor, services.CreateCaseInput{
		Role:          req.Role,
		SubjectUserID: req.SubjectUserID,
		ContactEmail:  req.ContactEmail,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "case": created})
}

func (h *CaseController) List(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	cases, err := h.workflow.ListCases(c.Request.Context(), actor, services.ListCasesInput{
		Role:   c.Query("role"),
		Status: c.Query("status"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "cases": cases, "count": len(cases)})
}

func (h *CaseController) Get(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	found, err := h.workflow.GetCase(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "case": found})
}

func (h *CaseController) History(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	records, err := h.workflow.History(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "history": records})
}

func (h *CaseController) Replay(c *gin.Context) {
	report, err := h.workflow.VerifyReplay(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "replay": report})
}

func (h *CaseController) Eligibility(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	result, err := h.workflow.Eligibility(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "eligibility": result})
}

type decisionRequest struct {
	Decision       string `json:"decision" binding:"required"`
	Comment        string `json:"comment"`
	Target         string `json:"target"`
	ExpectedStatus string `json:"expected_status"`
}

// SubmitDecision applies a reviewer decision to the case.
func (h *CaseController) SubmitDecision(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "decision is required")
		return
	}

	result, err := h.workflow.SubmitDecision(c.Request.Context(), services.DecisionInput{
		CaseID:         c.Param("id"),
		Actor:          actor,
		Decision:       req.Decision,
		Comment:        utils.SanitizeInput(req.Comment),
		Target:         req.Target,
		ExpectedStatus: req.ExpectedStatus,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"case":      result.Case,
		"record":    result.Record,
		"duplicate": result.Duplicate,
	})
}
