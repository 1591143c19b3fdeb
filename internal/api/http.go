package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/victornm/geeko/internal/errors"
)

// RegisterRoutes mounts the HTTP API. hub may be nil, in which case the live endpoint is
// not served.
func (a *API) RegisterRoutes(r gin.IRouter, hub *Hub) {
	v1 := r.Group("/v1")

	v1.POST("/sessions", a.httpCreateSession)
	v1.POST("/sessions/join", a.httpJoinSession)

	s := v1.Group("/sessions/:id")
	s.POST("/start", a.httpHostAction(a.StartSession))
	s.POST("/advance", a.httpHostAction(a.AdvanceQuestion))
	s.POST("/cancel", a.httpHostAction(a.CancelSession))
	s.POST("/answers", a.httpSubmitAnswer)
	s.GET("/snapshot", a.httpGetSnapshot)
	s.GET("/results", a.httpGetFinalResults)

	if hub != nil {
		s.GET("/live", hub.ServeLive)
	}
}

func abort(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c.Request.Context(), "http: request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err,
		)
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), gin.H{"error": e})
}

func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		abort(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("malformed request body: %v", err),
			errors.WithCause(err),
		))
		return false
	}
	return true
}

func (a *API) httpCreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if !bind(c, &req) {
		return
	}

	res, err := a.CreateSession(c.Request.Context(), &req)
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusCreated, res)
}

func (a *API) httpJoinSession(c *gin.Context) {
	var req JoinSessionRequest
	if !bind(c, &req) {
		return
	}

	res, err := a.JoinSession(c.Request.Context(), &req)
	if err != nil {
		abort(c, err)
		return
	}

	status := http.StatusCreated
	if res.Rejoined {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

type hostAction func(ctx context.Context, req *HostRequest) (*SessionResponse, error)

func (a *API) httpHostAction(call hostAction) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req HostRequest
		if !bind(c, &req) {
			return
		}
		req.SessionID = c.Param("id")

		res, err := call(c.Request.Context(), &req)
		if err != nil {
			abort(c, err)
			return
		}

		c.JSON(http.StatusOK, res)
	}
}

func (a *API) httpSubmitAnswer(c *gin.Context) {
	var req SubmitAnswerRequest
	if !bind(c, &req) {
		return
	}
	req.SessionID = c.Param("id")

	res, err := a.SubmitAnswer(c.Request.Context(), &req)
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusCreated, res)
}

func (a *API) httpGetSnapshot(c *gin.Context) {
	res, err := a.GetSnapshot(c.Request.Context(), &GetSnapshotRequest{
		SessionID: c.Param("id"),
		ViewerID:  c.Query("viewer"),
	})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

func (a *API) httpGetFinalResults(c *gin.Context) {
	res, err := a.GetFinalResults(c.Request.Context(), &GetFinalResultsRequest{SessionID: c.Param("id")})
	if err != nil {
		abort(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}
