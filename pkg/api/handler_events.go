package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hadron-sdlc/hadron/pkg/models"
)

// errStreamClosed unwinds Subscribe's blocking loop once a terminal event
// has been delivered to the client; it is never surfaced to the caller.
var errStreamClosed = errors.New("event stream closed: terminal event observed")

// eventStreamHandler handles GET /api/events/stream?cr_id=…: replays the
// CR's full history capturing the last stream id seen, then subscribes from
// that id with no gap and no duplicate, closing on a terminal event or
// client disconnect.
func (s *Server) eventStreamHandler(c *gin.Context) {
	crID := c.Query("cr_id")
	if crID == "" {
		abortBadRequest(c, "cr_id is required")
		return
	}

	ctx := c.Request.Context()
	history, lastID, err := s.events.Replay(ctx, crID, "")
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher, canFlush := c.Writer.(http.Flusher)

	writeEvent := func(ev models.Event) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", ev.EventType, data); err != nil {
			return err
		}
		if canFlush {
			flusher.Flush()
		}
		return nil
	}

	for _, ev := range history {
		if err := writeEvent(ev); err != nil {
			return
		}
		if ev.EventType.IsTerminal() {
			return
		}
	}

	err = s.events.Subscribe(ctx, crID, lastID, func(ev models.Event) error {
		if err := writeEvent(ev); err != nil {
			return err
		}
		if ev.EventType.IsTerminal() {
			return errStreamClosed
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStreamClosed) {
		return
	}
}
