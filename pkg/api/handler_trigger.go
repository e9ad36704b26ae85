package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/hadron-sdlc/hadron/pkg/database"
	"github.com/hadron-sdlc/hadron/pkg/models"
)

// triggerHandler handles POST /api/pipeline/trigger: validates the raw CR
// submission, rejects a duplicate external_id, and creates a pending run.
func (s *Server) triggerHandler(c *gin.Context) {
	var raw models.RawCR
	if err := c.ShouldBindJSON(&raw); err != nil {
		abortBadRequest(c, err.Error())
		return
	}

	testCmd, err := sanitizeTestCommand(raw.TestCommand)
	if err != nil {
		abortUnprocessable(c, err.Error())
		return
	}
	raw.TestCommand = testCmd
	if raw.RepoDefaultBranch == "" {
		raw.RepoDefaultBranch = "main"
	}

	ctx := c.Request.Context()
	if raw.ExternalID != "" {
		_, err := s.repo.GetByExternalID(ctx, raw.ExternalID)
		if err == nil {
			abortConflict(c, "a run with this external_id already exists")
			return
		}
		if !errors.Is(err, database.ErrNotFound) {
			abortWithError(c, err)
			return
		}
	}

	run := &models.CRRun{
		CRID:       "CR-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8],
		Status:     models.CRStatusPending,
		ExternalID: raw.ExternalID,
		Source:     raw.Source,
		RawPayload: raw,
	}
	if err := s.repo.Create(ctx, run); err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"cr_id": run.CRID, "status": string(run.Status)})
}
