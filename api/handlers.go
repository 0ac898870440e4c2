package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
	"taskboard/reconcile"
)

const (
	// allAssignees selects the unfiltered manager board.
	allAssignees = "*"

	maxDragBody            = 16 << 10
	headerIdempotencyKey   = "Idempotency-Key"
	defaultWaitTimeout     = 10 * time.Second
	defaultStreamKeepAlive = 25 * time.Second
)

// HandlerConfig tunes request handling.
type HandlerConfig struct {
	// WaitTimeout bounds how long POST /api/board/drag?wait=1 blocks.
	WaitTimeout time.Duration
	// StreamKeepAlive is the interval of SSE comment frames, which also keep
	// the board session from idling out.
	StreamKeepAlive time.Duration
}

type handlers struct {
	sessions *Sessions
	auth     Authenticator
	dedupe   Deduper
	log      *log.Logger
	cfg      HandlerConfig
}

// Register wires up all API routes on the provided Echo instance. dedupe may
// be nil, in which case Idempotency-Key headers are ignored.
func Register(e *echo.Echo, sessions *Sessions, auth Authenticator, dedupe Deduper, logger *log.Logger, cfg HandlerConfig) {
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = defaultWaitTimeout
	}
	if cfg.StreamKeepAlive <= 0 {
		cfg.StreamKeepAlive = defaultStreamKeepAlive
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	h := &handlers{sessions: sessions, auth: auth, dedupe: dedupe, log: logger, cfg: cfg}

	e.GET("/api/board", h.getBoard)
	e.POST("/api/board/drag", h.postDrag, middleware.Decompress())
	e.POST("/api/board/reload", h.postReload)
	e.DELETE("/api/board/notices/:id", h.deleteNotice)
	e.GET("/api/board/stream", h.streamBoard)
	e.GET("/healthz", healthz)
}

type boardResponse struct {
	Assignee string `json:"assignee"`
	reconcile.View
}

type dragResponse struct {
	TaskID  string       `json:"taskId"`
	Outcome string       `json:"outcome"`
	Phases  []string     `json:"phases"`
	Lanes   domain.Board `json:"lanes"`
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

// viewer authenticates the request and resolves the board scope. The scope
// defaults to the viewer's own tasks; whether the viewer may see it is not
// checked here.
func (h *handlers) viewer(c echo.Context) (viewerID, assigneeID string, err error) {
	viewerID, err = h.auth.UserIDFromAuthHeader(authHeader(c.Request().Header.Get(echo.HeaderAuthorization), c.QueryParam("token")))
	if err != nil {
		return "", "", err
	}
	switch a := c.QueryParam("assignee"); a {
	case "":
		assigneeID = viewerID
	case allAssignees:
		assigneeID = ""
	default:
		assigneeID = a
	}
	return viewerID, assigneeID, nil
}

func (h *handlers) board(c echo.Context) (*reconcile.Mutator, string, string, error) {
	viewerID, assigneeID, err := h.viewer(c)
	if err != nil {
		return nil, "", "", c.String(http.StatusUnauthorized, err.Error())
	}
	m, err := h.sessions.Get(c.Request().Context(), viewerID, assigneeID)
	if err != nil {
		h.log.WithError(err).WithField("assignee", assigneeID).Error("load board")
		return nil, "", "", c.String(http.StatusBadGateway, "failed to load tasks")
	}
	return m, viewerID, assigneeID, nil
}

func (h *handlers) getBoard(c echo.Context) error {
	m, _, assigneeID, err := h.board(c)
	if m == nil {
		return err
	}
	return c.JSON(http.StatusOK, boardResponse{Assignee: assigneeID, View: m.View()})
}

func (h *handlers) postDrag(c echo.Context) (err error) {
	metrics, spanCtx := newDragRequestMetrics(c.Request().Context(), h.log)
	c.SetRequest(c.Request().WithContext(spanCtx))
	defer func() {
		metrics.Log(c.Response().Status, err)
	}()

	authStart := time.Now()
	viewerID, assigneeID, authErr := h.viewer(c)
	metrics.ObserveAuth(time.Since(authStart))
	if authErr != nil {
		metrics.SetErrorStage("auth")
		return c.String(http.StatusUnauthorized, authErr.Error())
	}

	decodeStart := time.Now()
	var drag domain.DragResult
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxDragBody))
	dec.DisallowUnknownFields()
	if decErr := dec.Decode(&drag); decErr != nil {
		metrics.SetErrorStage("decode")
		return c.String(http.StatusBadRequest, "invalid body")
	}
	metrics.ObserveDecode(time.Since(decodeStart))
	if drag.Destination != nil {
		metrics.SetDrag(drag.TaskID, string(drag.Source.LaneID), string(drag.Destination.LaneID))
	}
	if vErr := drag.Validate(); vErr != nil {
		metrics.SetErrorStage("validate")
		return c.String(http.StatusBadRequest, vErr.Error())
	}

	ctx := c.Request().Context()
	m, err := h.sessions.Get(ctx, viewerID, assigneeID)
	if err != nil {
		metrics.SetErrorStage("load")
		h.log.WithError(err).WithField("assignee", assigneeID).Error("load board")
		return c.String(http.StatusBadGateway, "failed to load tasks")
	}

	key := c.Request().Header.Get(headerIdempotencyKey)
	if key != "" && h.dedupe != nil {
		added, dErr := h.dedupe.Add(ctx, viewerID, key)
		if dErr != nil {
			// Redis outages must not block gestures.
			h.log.WithError(dErr).Warn("idempotency check failed")
		} else if !added {
			metrics.SetErrorStage("duplicate")
			return c.String(http.StatusConflict, "duplicate request")
		}
	}

	applyStart := time.Now()
	g, dragErr := m.OnDragEnd(ctx, drag)
	metrics.ObserveApply(time.Since(applyStart))
	if dragErr != nil {
		if key != "" && h.dedupe != nil {
			if rErr := h.dedupe.Remove(context.WithoutCancel(ctx), viewerID, key); rErr != nil {
				h.log.WithError(rErr).Warn("release idempotency key")
			}
		}
		metrics.SetErrorStage("apply")
		return c.String(dragErrorStatus(dragErr), dragErr.Error())
	}

	status := http.StatusAccepted
	if wait, _ := strconv.ParseBool(c.QueryParam("wait")); wait {
		waitCtx, cancel := context.WithTimeout(ctx, h.cfg.WaitTimeout)
		if _, wErr := g.Wait(waitCtx); wErr == nil {
			status = http.StatusOK
		}
		cancel()
	}
	if g.Outcome() != reconcile.OutcomePending {
		status = http.StatusOK
	}

	outcome := string(g.Outcome())
	if outcome == "" {
		outcome = "pending"
	}
	metrics.SetOutcome(outcome)

	phases := g.Phases()
	names := make([]string, len(phases))
	for i, p := range phases {
		names[i] = p.String()
	}
	return c.JSON(status, dragResponse{TaskID: drag.TaskID, Outcome: outcome, Phases: names, Lanes: m.Snapshot()})
}

func dragErrorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, reconcile.ErrGesturePending):
		return http.StatusConflict
	case errors.Is(err, reconcile.ErrClosed):
		return http.StatusGone
	case errors.Is(err, domain.ErrInvalidDrag),
		errors.Is(err, domain.ErrUnknownLane),
		errors.Is(err, domain.ErrInvalidIndex),
		errors.Is(err, domain.ErrOverflowDestination):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) postReload(c echo.Context) error {
	m, _, assigneeID, err := h.board(c)
	if m == nil {
		return err
	}
	if rErr := m.Reload(c.Request().Context()); rErr != nil {
		if errors.Is(rErr, reconcile.ErrClosed) {
			return c.String(http.StatusGone, rErr.Error())
		}
		return c.JSON(http.StatusBadGateway, boardResponse{Assignee: assigneeID, View: m.View()})
	}
	return c.JSON(http.StatusOK, boardResponse{Assignee: assigneeID, View: m.View()})
}

func (h *handlers) deleteNotice(c echo.Context) error {
	m, _, _, err := h.board(c)
	if m == nil {
		return err
	}
	if !m.Dismiss(c.Param("id")) {
		return c.NoContent(http.StatusNotFound)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) streamBoard(c echo.Context) error {
	m, viewerID, assigneeID, err := h.board(c)
	if m == nil {
		return err
	}
	resp := c.Response()
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set(echo.HeaderConnection, "keep-alive")
	resp.Header().Set("X-Accel-Buffering", "no")
	resp.WriteHeader(http.StatusOK)

	changes, cancel := m.Subscribe()
	defer cancel()
	keepAlive := time.NewTicker(h.cfg.StreamKeepAlive)
	defer keepAlive.Stop()

	ctx := c.Request().Context()
	for {
		if err := writeBoardEvent(resp, boardResponse{Assignee: assigneeID, View: m.View()}); err != nil {
			h.log.WithError(err).Debug("board stream write")
			return nil
		}
		flusher.Flush()

	idle:
		for {
			select {
			case <-ctx.Done():
				return nil
			case _, open := <-changes:
				if !open {
					return nil
				}
				break idle
			case <-keepAlive.C:
				h.sessions.Touch(viewerID, assigneeID)
				if _, err := io.WriteString(resp, ": keepalive\n\n"); err != nil {
					return nil
				}
				flusher.Flush()
			}
		}
	}
}

func writeBoardEvent(w io.Writer, v boardResponse) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, "event: board\ndata: "); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = io.WriteString(w, "\n\n")
	return err
}
