package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/jkaninda/okapi"

	"github.com/jkaninda/runbox/internal/linequeue"
	"github.com/jkaninda/runbox/internal/session"
)

// CreateRequest is the JSON body for POST /v1/executions.
type CreateRequest struct {
	Code string `json:"code"`
}

// CreateResponse is the JSON response for POST /v1/executions.
type CreateResponse struct {
	ID string `json:"id"`
}

// InputRequest is the JSON body for POST /v1/executions/input.
type InputRequest struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// StatusResponse is the JSON response for accepted input.
type StatusResponse struct {
	Status string `json:"status"`
}

func (g *Gateway) handleCreate(c *okapi.Context) error {
	// Rate limit.
	if g.limiter != nil {
		if err := g.limiter.Allow(g.clientID(c)); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	// Parse request.
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("code is required")
	}
	if req.Code == "" {
		return c.AbortBadRequest("code is required")
	}
	if len(req.Code) > maxScriptBytes {
		return c.AbortBadRequest("code exceeds the size limit")
	}

	sess, err := g.registry.Create(req.Code)
	if err != nil {
		if errors.Is(err, session.ErrCapacity) {
			return c.AbortServiceUnavailable("execution capacity reached, try again later")
		}
		g.logger.Error("session creation failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("session creation failed")
	}

	g.logger.Info("execution created",
		slog.String("id", sess.ID),
		slog.Int("script_bytes", len(req.Code)),
	)

	return c.JSON(http.StatusCreated, CreateResponse{ID: sess.ID})
}

func (g *Gateway) handleInput(c *okapi.Context) error {
	// Rate limit.
	if g.limiter != nil {
		if err := g.limiter.Allow(g.clientID(c)); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	// Parse request.
	var req InputRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("id is required")
	}
	if req.ID == "" {
		return c.AbortBadRequest("id is required")
	}

	if err := g.registry.SubmitInput(req.ID, req.Text); err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			return c.JSON(http.StatusNotFound, ErrorBody{Error: "session not found"})
		case errors.Is(err, linequeue.ErrFull):
			return c.AbortTooManyRequests("input queue is full")
		default:
			g.logger.Error("input submission failed",
				slog.String("id", req.ID),
				slog.String("error", err.Error()),
			)
			return c.AbortInternalServerError("input submission failed")
		}
	}

	return c.OK(StatusResponse{Status: "queued"})
}
