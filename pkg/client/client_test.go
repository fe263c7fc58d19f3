package client

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/idlewatch/internal/idle"
	"github.com/loykin/idlewatch/internal/process"
	"github.com/loykin/idlewatch/internal/server"
	"github.com/loykin/idlewatch/internal/session"
	"github.com/loykin/idlewatch/internal/store/sqlite"
	"github.com/loykin/idlewatch/internal/supervisor"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires unix process semantics")
	}
}

type stubSensor struct {
	mu sync.Mutex
	rd session.Reading
}

func (s *stubSensor) Read() session.Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rd
}

func (s *stubSensor) set(rd session.Reading) {
	s.mu.Lock()
	s.rd = rd
	s.mu.Unlock()
}

func reading(idleSecs float64) session.Reading {
	return session.Reading{
		Sessions: []session.Session{{Terminal: "pts/0", User: "u", Readable: true}},
		IdleSecs: map[string]float64{"pts/0": idleSecs},
		Taken:    time.Now(),
	}
}

// newDaemon hosts a real supervisor behind the real router, threshold 600s.
func newDaemon(t *testing.T, rd session.Reading) (*Client, *supervisor.Supervisor, *stubSensor) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	fs := &stubSensor{rd: rd}
	sup := supervisor.New(fs, idle.Evaluator{Threshold: 600, Policy: idle.PolicyIgnore})
	r := server.NewRouter(sup, "/idlewatch")
	ts := httptest.NewServer(r.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = sup.Close()
	})
	c := New(Config{BaseURL: ts.URL + "/idlewatch", Timeout: 5 * time.Second})
	return c, sup, fs
}

func TestNewDefaults(t *testing.T) {
	c := New(Config{})
	if c.baseURL != "http://localhost:8080/idlewatch" {
		t.Fatalf("default baseURL = %s", c.baseURL)
	}
	if c.client.Timeout != 10*time.Second {
		t.Fatalf("default timeout = %v", c.client.Timeout)
	}

	c = New(Config{BaseURL: "http://example.com/x", Timeout: 5 * time.Second})
	if c.baseURL != "http://example.com/x" || c.client.Timeout != 5*time.Second {
		t.Fatalf("custom config not applied: %s %v", c.baseURL, c.client.Timeout)
	}
}

func TestIsReachable(t *testing.T) {
	c, _, _ := newDaemon(t, reading(1200))
	if !c.IsReachable(context.Background()) {
		t.Fatalf("expected daemon to be reachable")
	}

	dead := New(Config{BaseURL: "http://127.0.0.1:1/idlewatch", Timeout: 200 * time.Millisecond})
	if dead.IsReachable(context.Background()) {
		t.Fatalf("expected dead address to be unreachable")
	}
}

func TestStatusAndSessions(t *testing.T) {
	c, _, _ := newDaemon(t, reading(1200))

	st, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.Idle || st.Paused || st.Threshold != 600 {
		t.Fatalf("unexpected status: %+v", st)
	}

	rd, err := c.Sessions(context.Background())
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(rd.Sessions) != 1 || rd.Sessions[0].Terminal != "pts/0" {
		t.Fatalf("unexpected sessions: %+v", rd)
	}
	if rd.IdleSecs["pts/0"] != 1200 {
		t.Fatalf("idle seconds = %v", rd.IdleSecs)
	}
}

func TestCheckPauseResume(t *testing.T) {
	requireUnix(t)
	c, sup, _ := newDaemon(t, reading(1200))
	if err := sup.Register(process.Spec{Name: "w", Command: "sleep 311"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	t.Cleanup(func() { _ = sup.EnsureStopped(context.Background(), "w") })

	v, err := c.Check(context.Background())
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !v.Idle {
		t.Fatalf("expected idle verdict: %+v", v)
	}
	ws, err := c.WorkerStatus(context.Background(), "w")
	if err != nil {
		t.Fatalf("worker status: %v", err)
	}
	if !ws.Running || ws.PID <= 0 {
		t.Fatalf("worker should run after idle check: %+v", ws)
	}

	if err := c.Pause(context.Background()); err != nil {
		t.Fatalf("pause: %v", err)
	}
	ws, _ = c.WorkerStatus(context.Background(), "w")
	if ws.Running {
		t.Fatalf("worker should be stopped by pause: %+v", ws)
	}
	st, _ := c.Status(context.Background())
	if !st.Paused {
		t.Fatalf("status should report paused: %+v", st)
	}

	if err := c.Resume(context.Background()); err != nil {
		t.Fatalf("resume: %v", err)
	}
	ws, _ = c.WorkerStatus(context.Background(), "w")
	if !ws.Running {
		t.Fatalf("worker should run again after resume: %+v", ws)
	}
}

func TestHistory(t *testing.T) {
	c, sup, fs := newDaemon(t, reading(1200))
	db, err := sqlite.New(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	if err := sup.SetStore(db); err != nil {
		t.Fatalf("set store: %v", err)
	}

	if _, err := c.Check(context.Background()); err != nil {
		t.Fatalf("check: %v", err)
	}
	fs.set(reading(5))
	if _, err := c.Check(context.Background()); err != nil {
		t.Fatalf("check: %v", err)
	}

	vs, err := c.RecentVerdicts(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent verdicts: %v", err)
	}
	if len(vs) != 2 {
		t.Fatalf("expected 2 verdicts, got %d", len(vs))
	}
	if vs[0].Idle || !vs[1].Idle {
		t.Fatalf("verdicts not newest first: %+v", vs)
	}
}

func TestErrorMapping(t *testing.T) {
	c, _, _ := newDaemon(t, reading(1200))

	if _, err := c.WorkerStatus(context.Background(), "ghost"); err == nil {
		t.Fatalf("expected error for unknown worker")
	} else if !strings.Contains(err.Error(), "unknown worker") {
		t.Fatalf("unexpected error: %v", err)
	}

	// No store configured on this daemon.
	if _, err := c.RecentVerdicts(context.Background(), 5); err == nil {
		t.Fatalf("expected error without store")
	} else if !strings.Contains(err.Error(), "no store configured") {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := c.WorkerHistory(context.Background(), "../bad", 5); err == nil {
		t.Fatalf("expected error for invalid name")
	}
}
