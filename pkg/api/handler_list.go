package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hadron-sdlc/hadron/pkg/models"
)

// listLimit is the hard cap on GET /api/pipeline/list, per spec.md §6.
const listLimit = 100

// listHandler handles GET /api/pipeline/list: newest-first run summaries.
func (s *Server) listHandler(c *gin.Context) {
	runs, err := s.repo.List(c.Request.Context(), "", listLimit, 0)
	if err != nil {
		abortWithError(c, err)
		return
	}

	summaries := make([]models.RunSummary, 0, len(runs))
	for _, r := range runs {
		summaries = append(summaries, r.Summary())
	}
	c.JSON(http.StatusOK, summaries)
}

// getHandler handles GET /api/pipeline/:cr_id: one run summary, or 404.
func (s *Server) getHandler(c *gin.Context) {
	run, err := s.repo.Get(c.Request.Context(), c.Param("cr_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, run.Summary())
}
