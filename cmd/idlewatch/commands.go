package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/loykin/idlewatch"
	"github.com/loykin/idlewatch/internal/config"
	"github.com/loykin/idlewatch/internal/logger"
	"github.com/loykin/idlewatch/internal/scheduler"
	apiclient "github.com/loykin/idlewatch/pkg/client"
)

const (
	defaultAPIUrl     = "http://localhost:8080/idlewatch"
	defaultCronMarker = "idlewatch"
)

// command holds the CLI logic behind each cobra command.
type command struct {
	version string
}

// Run starts the resident supervision loop: an in-process scheduler drives
// cycles until SIGINT/SIGTERM. Workers are detached and stay up after exit.
func (c *command) Run(configPath string, f RunFlags) error {
	if configPath == "" {
		return fmt.Errorf("config file required. Use --config=config.toml or pass it as an argument")
	}
	cfg, err := idlewatch.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	if f.Daemon {
		pidFile := f.PidFile
		logFile := f.LogFile
		if cfg.Server != nil {
			if pidFile == "" {
				pidFile = cfg.Server.PidFile
			}
			if logFile == "" {
				logFile = cfg.Server.LogFile
			}
		}
		return daemonize(pidFile, logFile)
	}

	// In the re-exec'd child the pidfile still holds the parent's PID.
	if f.PidFile != "" {
		if err := writePidFile(f.PidFile, os.Getpid()); err != nil {
			return fmt.Errorf("failed to write pid file: %w", err)
		}
		defer func() { _ = removePidFile(f.PidFile) }()
	}

	lg, closeLog := setupLogger(cfg)
	defer closeLog()
	slog.SetDefault(lg)

	sup, err := buildSupervisor(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = sup.Close() }()
	sup.SetLogger(lg)

	var resources *idlewatch.WorkerResources
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		if cfg.Metrics.WorkerResources.Enabled {
			resources = idlewatch.NewWorkerResources(cfg.Metrics.WorkerResources)
			if err := idlewatch.RegisterMetricsWithWorkerResourcesDefault(resources); err != nil {
				fmt.Printf("Warning: failed to register metrics: %v\n", err)
				resources = nil
			} else {
				resources.Start(context.Background(), sup.Workers)
			}
		} else if err := idlewatch.RegisterMetricsDefault(); err != nil {
			fmt.Printf("Warning: failed to register metrics: %v\n", err)
		}
		if cfg.Metrics.Listen != "" {
			go func() {
				if err := idlewatch.ServeMetrics(cfg.Metrics.Listen); err != nil {
					fmt.Printf("Metrics server error: %v\n", err)
				}
			}()
		}
	}
	if resources != nil {
		defer resources.Stop()
	}

	var server *http.Server
	if cfg.Server != nil && cfg.Server.Enabled && cfg.Server.Listen != "" {
		server, err = idlewatch.NewHTTPServer(cfg.Server.Listen, cfg.Server.BasePath, sup)
		if err != nil {
			return fmt.Errorf("failed to start control API: %w", err)
		}
		fmt.Printf("Control API on %s%s\n", cfg.Server.Listen, cfg.Server.BasePath)
	}

	driver, err := idlewatch.NewDriver(cfg.Schedule, sup)
	if err != nil {
		return err
	}

	fmt.Printf("Supervising %d worker(s) every %s\n", len(cfg.Specs), driver.Period())
	// The ticker fires only after a full period, so converge once up front.
	verdict := sup.RunCycle(context.Background())
	fmt.Println(renderVerdict(verdict))
	if err := driver.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down (workers are left running)...")
	driver.Stop()
	if server != nil {
		_ = server.Close()
	}
	return nil
}

// Once runs a single supervision cycle, the crontab-friendly mode. A cycle
// already in flight in another process turns this into a no-op.
func (c *command) Once(configPath string, f OnceFlags) error {
	if configPath == "" {
		return fmt.Errorf("config file required. Use --config=config.toml or pass it as an argument")
	}
	cfg, err := idlewatch.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	lg, closeLog := setupLogger(cfg)
	defer closeLog()
	slog.SetDefault(lg)

	lock := scheduler.NewCycleLock(lockPath(cfg))
	if err := lock.Acquire(); err != nil {
		if errors.Is(err, scheduler.ErrCycleHeld) {
			fmt.Println("Another cycle is already running; skipping.")
			return nil
		}
		return err
	}
	defer func() { _ = lock.Release() }()

	sup, err := buildSupervisor(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = sup.Close() }()
	sup.SetLogger(lg)

	verdict := sup.RunCycle(context.Background())
	if f.JSON {
		printJSON(verdict)
		return nil
	}
	fmt.Println(renderVerdict(verdict))
	for _, st := range sup.StatusAll() {
		fmt.Println("  " + renderWorker(st.Name, string(st.Policy), st.Running, st.PID))
	}
	return nil
}

// Check evaluates idleness without touching any worker.
func (c *command) Check(configPath string, f CheckFlags) error {
	threshold := float64(config.DefaultIdleSeconds)
	policy := idlewatch.PolicyIgnore
	if configPath != "" {
		cfg, err := idlewatch.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		threshold = cfg.IdleSeconds
		policy = cfg.SessionPolicy
	}
	if f.IdleSeconds > 0 {
		threshold = f.IdleSeconds
	}

	sup := idlewatch.New(threshold, policy)
	defer func() { _ = sup.Close() }()

	verdict := sup.Evaluate()
	reading := sup.Sessions()
	if f.JSON {
		printJSON(struct {
			Verdict  idlewatch.Verdict `json:"verdict"`
			Sessions idlewatch.Reading `json:"sessions"`
		}{verdict, reading})
		return nil
	}

	fmt.Println(renderVerdict(verdict))
	if len(reading.Sessions) == 0 {
		fmt.Println("  no login sessions")
		return nil
	}
	sort.Slice(reading.Sessions, func(i, j int) bool {
		return reading.Sessions[i].Terminal < reading.Sessions[j].Terminal
	})
	for _, s := range reading.Sessions {
		if !s.Readable {
			fmt.Printf("  %s (%s) unreadable\n", s.Terminal, s.User)
			continue
		}
		fmt.Printf("  %s (%s) idle %.0fs\n", s.Terminal, s.User, s.IdleSeconds(reading.Taken))
	}
	return nil
}

// Status queries a running daemon over its HTTP API.
func (c *command) Status(f StatusFlags) error {
	client, apiURL := newAPIClient(f.APIUrl, f.APITimeout)
	ctx := context.Background()
	if !client.IsReachable(ctx) {
		return fmt.Errorf("daemon not reachable at %s - start it first with 'idlewatch run --config config.toml'", apiURL)
	}

	if f.Name != "" {
		worker, err := client.WorkerStatus(ctx, f.Name)
		if err != nil {
			return err
		}
		if f.JSON {
			printJSON(worker)
			return nil
		}
		fmt.Println(renderWorker(worker.Name, worker.Policy, worker.Running, worker.PID))
		if worker.ExitError != "" {
			fmt.Printf("  last exit: %s\n", worker.ExitError)
		}
		return nil
	}

	status, err := client.Status(ctx)
	if err != nil {
		return err
	}
	if f.JSON {
		printJSON(status)
		return nil
	}
	fmt.Println(renderStatusLine(status.Idle, status.Paused, status.Threshold, status.Busy, status.Unreadable))
	if len(status.Workers) == 0 {
		fmt.Println("  no workers registered")
		return nil
	}
	for _, w := range status.Workers {
		fmt.Println("  " + renderWorker(w.Name, w.Policy, w.Running, w.PID))
	}
	return nil
}

// Pause tells the daemon to hold idle-gated workers stopped.
func (c *command) Pause(f ClientFlags) error {
	client, apiURL := newAPIClient(f.APIUrl, f.APITimeout)
	ctx := context.Background()
	if !client.IsReachable(ctx) {
		return fmt.Errorf("daemon not reachable at %s - start it first with 'idlewatch run --config config.toml'", apiURL)
	}
	if err := client.Pause(ctx); err != nil {
		return err
	}
	fmt.Println("Paused: idle-gated workers are held stopped until resume.")
	return nil
}

// Resume lifts a pause.
func (c *command) Resume(f ClientFlags) error {
	client, apiURL := newAPIClient(f.APIUrl, f.APITimeout)
	ctx := context.Background()
	if !client.IsReachable(ctx) {
		return fmt.Errorf("daemon not reachable at %s - start it first with 'idlewatch run --config config.toml'", apiURL)
	}
	if err := client.Resume(ctx); err != nil {
		return err
	}
	fmt.Println("Resumed: workers return as soon as the machine is idle.")
	return nil
}

// Install registers a crontab entry that runs 'idlewatch once' on the
// configured schedule.
func (c *command) Install(configPath string) error {
	if configPath == "" {
		return fmt.Errorf("config file required. Use --config=config.toml or pass it as an argument")
	}
	cfg, err := idlewatch.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	reg, err := registrationFromConfig(configPath, cfg)
	if err != nil {
		return err
	}

	installed, err := reg.Installed()
	if err != nil {
		return err
	}
	if installed {
		fmt.Printf("Crontab entry already installed (marker %q)\n", reg.Marker)
		return nil
	}
	if err := reg.Install(); err != nil {
		return fmt.Errorf("crontab install failed: %w", err)
	}
	line, err := reg.Line()
	if err != nil {
		return err
	}
	fmt.Printf("Installed crontab entry: %s\n", line)
	return nil
}

// Uninstall removes the crontab entry installed by Install.
func (c *command) Uninstall(configPath string) error {
	if configPath == "" {
		return fmt.Errorf("config file required. Use --config=config.toml or pass it as an argument")
	}
	cfg, err := idlewatch.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	reg, err := registrationFromConfig(configPath, cfg)
	if err != nil {
		return err
	}

	installed, err := reg.Installed()
	if err != nil {
		return err
	}
	if !installed {
		fmt.Printf("No crontab entry with marker %q\n", reg.Marker)
		return nil
	}
	if err := reg.Uninstall(); err != nil {
		return fmt.Errorf("crontab uninstall failed: %w", err)
	}
	fmt.Printf("Removed crontab entry (marker %q)\n", reg.Marker)
	return nil
}

// Version prints the build version.
func (c *command) Version() {
	fmt.Printf("idlewatch %s\n", c.version)
}

// buildSupervisor assembles a supervisor from config, wiring the optional
// verdict store and lifecycle history sinks.
func buildSupervisor(cfg *idlewatch.Config) (*idlewatch.Supervisor, error) {
	sup, err := idlewatch.NewFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Store != nil && cfg.Store.DSN != "" {
		st, err := idlewatch.NewStoreFromDSN(cfg.Store.DSN)
		if err != nil {
			_ = sup.Close()
			return nil, fmt.Errorf("open store: %w", err)
		}
		if err := sup.SetStore(st); err != nil {
			_ = sup.Close()
			return nil, fmt.Errorf("prepare store: %w", err)
		}
	}
	if cfg.History != nil && len(cfg.History.Sinks) > 0 {
		sinks := make([]idlewatch.HistorySink, 0, len(cfg.History.Sinks))
		for _, dsn := range cfg.History.Sinks {
			sink, err := idlewatch.NewHistorySinkFromDSN(dsn)
			if err != nil {
				_ = sup.Close()
				return nil, fmt.Errorf("history sink %s: %w", dsn, err)
			}
			sinks = append(sinks, sink)
		}
		sup.SetHistorySinks(sinks...)
	}
	return sup, nil
}

// setupLogger builds the slog logger from the [log] section. With a file
// sink configured it rotates via lumberjack; otherwise it logs to stderr.
func setupLogger(cfg *idlewatch.Config) (*slog.Logger, func()) {
	lc := logger.Config{File: logger.FileConfig{
		Dir:        cfg.Log.Dir,
		StdoutPath: cfg.Log.Stdout,
		StderrPath: cfg.Log.Stderr,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}}
	if w := lc.RotatingWriter("idlewatch"); w != nil {
		return logger.NewWithWriter(cfg.Log.Level, w), func() { _ = w.Close() }
	}
	return logger.NewConsole(cfg.Log.Level, true), func() {}
}

// lockPath picks the cycle lock location, configured or a well-known temp path.
func lockPath(cfg *idlewatch.Config) string {
	if cfg.Cron != nil && cfg.Cron.LockFile != "" {
		return cfg.Cron.LockFile
	}
	return filepath.Join(os.TempDir(), "idlewatch.lock")
}

// registrationFromConfig maps the schedule and [cron] section onto the
// crontab line this deployment manages.
func registrationFromConfig(configPath string, cfg *idlewatch.Config) (idlewatch.CronRegistration, error) {
	period, err := scheduler.ParseEvery(cfg.Schedule)
	if err != nil {
		return idlewatch.CronRegistration{}, err
	}
	marker := defaultCronMarker
	cronCmd := ""
	if cfg.Cron != nil {
		if cfg.Cron.Marker != "" {
			marker = cfg.Cron.Marker
		}
		cronCmd = cfg.Cron.Command
	}
	if cronCmd == "" {
		exe, err := os.Executable()
		if err != nil {
			return idlewatch.CronRegistration{}, fmt.Errorf("resolve executable: %w", err)
		}
		abs, err := filepath.Abs(configPath)
		if err != nil {
			return idlewatch.CronRegistration{}, err
		}
		cronCmd = fmt.Sprintf("%s once --config %s", exe, abs)
	}
	return idlewatch.CronRegistration{Marker: marker, Period: period, Command: cronCmd}, nil
}

// newAPIClient returns a client plus the resolved base URL for error messages.
func newAPIClient(apiURL string, timeout time.Duration) (*apiclient.Client, string) {
	if apiURL == "" {
		apiURL = defaultAPIUrl
	}
	return apiclient.New(apiclient.Config{BaseURL: apiURL, Timeout: timeout}), apiURL
}
