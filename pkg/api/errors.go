package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hadron-sdlc/hadron/pkg/database"
)

// errorResponse is the uniform envelope every non-2xx JSON response uses.
type errorResponse struct {
	Error string `json:"error"`
}

// abortWithError maps a service/repository error to an HTTP status and
// writes the uniform error envelope, mirroring the teacher's
// mapServiceError but as a Gin AbortWithStatusJSON rather than a returned
// *echo.HTTPError.
func abortWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, errorResponse{Error: "resource not found"})
	case errors.Is(err, database.ErrDuplicateExternalID):
		c.AbortWithStatusJSON(http.StatusConflict, errorResponse{Error: "a run with this external_id already exists"})
	default:
		slog.Error("unexpected service error", slog.Any("err", err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: "internal server error"})
	}
}

// abortBadRequest writes a 400 with the given message, used for request
// binding/validation failures.
func abortBadRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: msg})
}

// abortUnprocessable writes a 422, used for the test-command allow-list
// check (spec.md §6).
func abortUnprocessable(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnprocessableEntity, errorResponse{Error: msg})
}

// abortConflict writes a 409 with the given message.
func abortConflict(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusConflict, errorResponse{Error: msg})
}
