package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// conversationHandler handles GET /api/pipeline/:cr_id/conversation?key=…:
// a direct KVS read, with the key required to be scoped to this CR's own
// conversation namespace so one CR cannot read another's stored transcript.
func (s *Server) conversationHandler(c *gin.Context) {
	crID := c.Param("cr_id")
	key := c.Query("key")
	prefix := fmt.Sprintf("hadron:cr:%s:conv:", crID)
	if !strings.HasPrefix(key, prefix) {
		abortBadRequest(c, "key must begin with "+prefix)
		return
	}

	val, err := s.rdb.Get(c.Request.Context(), key).Result()
	if errors.Is(err, redis.Nil) {
		c.AbortWithStatusJSON(http.StatusNotFound, errorResponse{Error: "conversation not found"})
		return
	}
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", []byte(val))
}

// logsHandler handles GET /api/pipeline/:cr_id/logs: the worker's captured
// stdout/stderr as plain text.
func (s *Server) logsHandler(c *gin.Context) {
	crID := c.Param("cr_id")
	key := fmt.Sprintf("hadron:cr:%s:worker_log", crID)

	val, err := s.rdb.Get(c.Request.Context(), key).Result()
	if errors.Is(err, redis.Nil) {
		c.String(http.StatusNotFound, "")
		return
	}
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.String(http.StatusOK, val)
}
