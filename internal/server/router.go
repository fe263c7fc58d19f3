package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/idlewatch/internal/idle"
	"github.com/loykin/idlewatch/internal/process"
	"github.com/loykin/idlewatch/internal/store"
	"github.com/loykin/idlewatch/internal/supervisor"
)

// Router provides embeddable HTTP handlers for inspecting and steering a
// supervisor.
// Endpoints:
//   GET  {basePath}/status    supervisor snapshot; query name=... for one worker
//   GET  {basePath}/sessions  current login sessions and idle readings
//   GET  {basePath}/history   persisted verdicts; query name=... for worker runs
//   POST {basePath}/check     run one supervision cycle now
//   POST {basePath}/pause     hold workers stopped until resume
//   POST {basePath}/resume    lift a pause
//   GET  {basePath}/healthz   liveness probe
// basePath may be empty or start with '/'; no trailing slash.

type Router struct {
	sup      *supervisor.Supervisor
	basePath string
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/idlewatch" results in /idlewatch/status, /idlewatch/check.
func NewRouter(sup *supervisor.Supervisor, basePath string) *Router {
	bp := sanitizeBase(basePath)
	return &Router{sup: sup, basePath: bp}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/sessions", r.handleSessions)
	group.GET("/history", r.handleHistory)
	group.POST("/check", r.handleCheck)
	group.POST("/pause", r.handlePause)
	group.POST("/resume", r.handleResume)
	group.GET("/healthz", r.handleHealthz)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// The returned server can be shut down by calling its Close method.
func NewServer(addr, basePath string, sup *supervisor.Supervisor) (*http.Server, error) {
	r := NewRouter(sup, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type checkResp struct {
	OK      bool         `json:"ok"`
	Verdict idle.Verdict `json:"verdict"`
}

// statusResp is the supervisor snapshot returned by GET /status without a
// name selector: the latest verdict, the pause flag, and every worker.
type statusResp struct {
	Idle       bool             `json:"idle"`
	Paused     bool             `json:"paused"`
	Threshold  float64          `json:"threshold_seconds"`
	Busy       []string         `json:"busy,omitempty"`
	Unreadable int              `json:"unreadable,omitempty"`
	CheckedAt  time.Time        `json:"checked_at"`
	Workers    []process.Status `json:"workers"`
}

func (r *Router) handleStatus(c *gin.Context) {
	if name := c.Query("name"); name != "" {
		if !isSafeName(name) {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-] and no '..' or path separators"})
			return
		}
		st, err := r.sup.Status(name)
		if err != nil {
			writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusOK, st)
		return
	}
	// Before the first cycle there is no recorded verdict; evaluate fresh
	// so the endpoint is useful immediately after startup.
	v, at, ok := r.sup.LastVerdict()
	if !ok {
		v = r.sup.Evaluate()
		at = time.Now()
	}
	writeJSON(c, http.StatusOK, statusResp{
		Idle:       v.Idle,
		Paused:     r.sup.Paused(),
		Threshold:  v.Threshold,
		Busy:       v.Busy,
		Unreadable: v.Unreadable,
		CheckedAt:  at,
		Workers:    r.sup.StatusAll(),
	})
}

func (r *Router) handleSessions(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.Sessions())
}

// verdictResp is one persisted cycle verdict as served over the API.
type verdictResp struct {
	At         time.Time `json:"at"`
	Idle       bool      `json:"idle"`
	Paused     bool      `json:"paused"`
	Sessions   int       `json:"sessions"`
	Unreadable int       `json:"unreadable,omitempty"`
	Busy       string    `json:"busy,omitempty"`
}

// runResp is one persisted worker run as served over the API.
type runResp struct {
	Name      string     `json:"name"`
	PID       int        `json:"pid"`
	StartedAt time.Time  `json:"started_at"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
	Running   bool       `json:"running"`
	ExitError string     `json:"exit_error,omitempty"`
}

func toVerdictResps(vs []store.Verdict) []verdictResp {
	out := make([]verdictResp, 0, len(vs))
	for _, v := range vs {
		out = append(out, verdictResp{
			At:         v.At,
			Idle:       v.Idle,
			Paused:     v.Paused,
			Sessions:   v.Sessions,
			Unreadable: v.Unreadable,
			Busy:       v.Busy,
		})
	}
	return out
}

func toRunResps(recs []store.Record) []runResp {
	out := make([]runResp, 0, len(recs))
	for _, rec := range recs {
		rr := runResp{
			Name:      rec.Name,
			PID:       rec.PID,
			StartedAt: rec.StartedAt,
			Running:   rec.Running,
		}
		if rec.StoppedAt.Valid {
			stopped := rec.StoppedAt.Time
			rr.StoppedAt = &stopped
		}
		if rec.ExitErr.Valid {
			rr.ExitError = rec.ExitErr.String
		}
		out = append(out, rr)
	}
	return out
}

func (r *Router) handleHistory(c *gin.Context) {
	limit, err := parseLimit(c)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	if name := c.Query("name"); name != "" {
		if !isSafeName(name) {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-] and no '..' or path separators"})
			return
		}
		recs, err := r.sup.History(c.Request.Context(), name, limit)
		if err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusOK, toRunResps(recs))
		return
	}
	vs, err := r.sup.RecentVerdicts(c.Request.Context(), limit)
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, toVerdictResps(vs))
}

func (r *Router) handleCheck(c *gin.Context) {
	v := r.sup.RunCycle(c.Request.Context())
	writeJSON(c, http.StatusOK, checkResp{OK: true, Verdict: v})
}

// handlePause holds workers stopped and runs one cycle so the stop takes
// effect before the response, not a period later.
func (r *Router) handlePause(c *gin.Context) {
	r.sup.Pause()
	r.sup.RunCycle(c.Request.Context())
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleResume(c *gin.Context) {
	r.sup.Resume()
	r.sup.RunCycle(c.Request.Context())
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
