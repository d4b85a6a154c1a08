package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jkaninda/okapi"

	"github.com/jkaninda/runbox/internal/linequeue"
	"github.com/jkaninda/runbox/internal/session"
)

// streamPoll bounds each wait on the output queue so the handler notices a
// dropped client between lines.
const streamPoll = time.Second

// handleStream handles GET /v1/executions/stream?id=<id> with SSE responses.
// It starts the interpreter for the session and relays each output line as a
// "line" event whose data is the JSON-encoded trimmed line. The session is
// removed when the stream ends, whatever the reason.
func (g *Gateway) handleStream(c *okapi.Context) error {
	id := c.Request().URL.Query().Get("id")
	if id == "" {
		return c.AbortBadRequest("id is required")
	}

	sess, err := g.registry.BeginStream(id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return c.JSON(http.StatusNotFound, ErrorBody{Error: "session not found"})
		}
		return c.AbortInternalServerError("stream setup failed")
	}
	defer g.registry.End(id)

	g.logger.Info("stream opened", slog.String("id", id))

	// The request context is canceled when the client disconnects; the
	// runner kills the interpreter and closes the output queue in response.
	ctx := c.Context()
	g.bridge.Start(ctx, sess)

	for {
		line, err := sess.Output.Get(streamPoll)
		if err != nil {
			if errors.Is(err, linequeue.ErrTimeout) {
				if ctx.Err() != nil {
					break
				}
				continue
			}
			// Closed queue is the end-of-stream sentinel.
			break
		}

		data, err := json.Marshal(strings.TrimSpace(line))
		if err != nil {
			continue
		}
		c.SSEvent("line", string(data))

		if ctx.Err() != nil {
			break
		}
	}

	g.logger.Info("stream closed", slog.String("id", id))
	return nil
}
