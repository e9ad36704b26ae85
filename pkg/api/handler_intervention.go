package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hadron-sdlc/hadron/pkg/models"
)

type intervenRequest struct {
	Instructions string `json:"instructions" binding:"required"`
}

// intervenHandler handles POST /api/pipeline/:cr_id/intervene.
func (s *Server) intervenHandler(c *gin.Context) {
	crID := c.Param("cr_id")
	var req intervenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	if _, err := s.repo.Get(ctx, crID); err != nil {
		abortWithError(c, err)
		return
	}
	if err := s.interventions.SetIntervention(ctx, crID, req.Instructions); err != nil {
		abortWithError(c, err)
		return
	}
	s.emit(ctx, crID, models.EventInterventionSet, map[string]any{"instructions": req.Instructions})
	c.JSON(http.StatusOK, gin.H{"status": "stored"})
}

type nudgeRequest struct {
	Role    string `json:"role" binding:"required"`
	Message string `json:"message" binding:"required"`
}

// nudgeHandler handles POST /api/pipeline/:cr_id/nudge.
func (s *Server) nudgeHandler(c *gin.Context) {
	crID := c.Param("cr_id")
	var req nudgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	if err := s.interventions.SetNudge(ctx, crID, req.Role, req.Message); err != nil {
		abortWithError(c, err)
		return
	}
	s.emit(ctx, crID, models.EventAgentNudge, map[string]any{"role": req.Role, "message": req.Message})
	c.JSON(http.StatusOK, gin.H{"status": "stored"})
}

type resumeRequest struct {
	StateOverrides map[string]any `json:"state_overrides"`
}

// resumeHandler handles POST /api/pipeline/:cr_id/resume: stores the
// overrides, flips status to running, and spawns a fresh Worker — 409
// unless the run is paused or failed, per spec.md §6.
func (s *Server) resumeHandler(c *gin.Context) {
	crID := c.Param("cr_id")
	var req resumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortBadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	run, err := s.repo.Get(ctx, crID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if run.Status != models.CRStatusPaused && run.Status != models.CRStatusFailed {
		abortConflict(c, fmt.Sprintf("cr %s is %s, not paused or failed", crID, run.Status))
		return
	}

	overridesJSON, err := json.Marshal(req.StateOverrides)
	if err != nil {
		abortBadRequest(c, err.Error())
		return
	}
	if err := s.interventions.SetResumeOverride(ctx, crID, string(overridesJSON)); err != nil {
		abortWithError(c, err)
		return
	}
	if err := s.repo.UpdateStatus(ctx, crID, models.CRStatusRunning, run.CostUSD, ""); err != nil {
		abortWithError(c, err)
		return
	}
	if err := s.spawner.Spawn(ctx, crID); err != nil {
		abortWithError(c, err)
		return
	}
	s.emit(ctx, crID, models.EventPipelineStarted, nil)
	c.JSON(http.StatusOK, gin.H{"status": "running"})
}

// emit appends an event, swallowing the error: a failed event append is not
// a reason to fail the HTTP request that caused it.
func (s *Server) emit(ctx context.Context, crID string, eventType models.EventType, data map[string]any) {
	_, _ = s.events.Emit(ctx, models.Event{CRID: crID, EventType: eventType, Data: data})
}
