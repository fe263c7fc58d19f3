package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/loykin/idlewatch/internal/idle"
	"github.com/loykin/idlewatch/internal/logger"
	"github.com/loykin/idlewatch/internal/metrics"
	"github.com/loykin/idlewatch/internal/process"
	"github.com/spf13/viper"
)

// FileConfig mirrors the top-level TOML structure.
type FileConfig struct {
	IdleSeconds   float64        `toml:"idle_seconds" mapstructure:"idle_seconds"`
	Schedule      string         `toml:"schedule" mapstructure:"schedule"`
	SessionPolicy string         `toml:"session_policy" mapstructure:"session_policy"`
	Env           []string       `toml:"env" mapstructure:"env"`
	EnvFiles      []string       `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv      bool           `toml:"use_os_env" mapstructure:"use_os_env"`
	Log           *LogConfig     `toml:"log" mapstructure:"log"`
	Server        *ServerConfig  `toml:"server" mapstructure:"server"`
	Cron          *CronConfig    `toml:"cron" mapstructure:"cron"`
	Store         *StoreConfig   `toml:"store" mapstructure:"store"`
	History       *HistoryConfig `toml:"history" mapstructure:"history"`
	Metrics       *MetricsConfig `toml:"metrics" mapstructure:"metrics"`
	Processes     []ProcConfig   `toml:"processes" mapstructure:"processes"`
}

// LogConfig configures either the supervisor's own rotating log (top level,
// Level applies) or a worker's append-only stdout/stderr files (per process,
// Level ignored).
type LogConfig struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	Stdout     string `toml:"stdout" mapstructure:"stdout"`
	Stderr     string `toml:"stderr" mapstructure:"stderr"`
	Level      string `toml:"level" mapstructure:"level"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// ServerConfig configures the embedded control API.
type ServerConfig struct {
	Enabled  bool   `toml:"enabled" mapstructure:"enabled"`
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
	PidFile  string `toml:"pidfile" mapstructure:"pidfile"`
	LogFile  string `toml:"logfile" mapstructure:"logfile"`
}

// CronConfig configures crontab-driven one-shot operation.
type CronConfig struct {
	Marker   string `toml:"marker" mapstructure:"marker"`
	LockFile string `toml:"lock_file" mapstructure:"lock_file"`
	Command  string `toml:"command" mapstructure:"command"`
}

// StoreConfig configures cycle/state persistence.
type StoreConfig struct {
	DSN           string `toml:"dsn" mapstructure:"dsn"`
	RetentionDays int    `toml:"retention_days" mapstructure:"retention_days"`
}

// HistoryConfig lists lifecycle event sinks by DSN
// (clickhouse://, opensearch://, elasticsearch://).
type HistoryConfig struct {
	Sinks []string `toml:"sinks" mapstructure:"sinks"`
}

// MetricsConfig configures the Prometheus surface.
type MetricsConfig struct {
	Enabled         bool                   `toml:"enabled" mapstructure:"enabled"`
	Listen          string                 `toml:"listen" mapstructure:"listen"`
	WorkerResources metrics.ResourceConfig `toml:"worker_resources" mapstructure:"worker_resources"`
}

// ProcConfig describes one supervised worker in TOML form.
type ProcConfig struct {
	Name      string                   `toml:"name" mapstructure:"name"`
	Command   string                   `toml:"command" mapstructure:"command"`
	WorkDir   string                   `toml:"workdir" mapstructure:"workdir"`
	Env       []string                 `toml:"env" mapstructure:"env"`
	PIDFile   string                   `toml:"pidfile" mapstructure:"pidfile"`
	Policy    string                   `toml:"policy" mapstructure:"policy"`
	Detectors []process.DetectorConfig `toml:"detectors" mapstructure:"detectors"`
	Log       *LogConfig               `toml:"log" mapstructure:"log"`
}

// Config is the fully decoded configuration of one deployment.
type Config struct {
	IdleSeconds   float64
	Schedule      string
	SessionPolicy idle.Policy
	GlobalEnv     []string
	Log           LogConfig
	Server        *ServerConfig
	Cron          *CronConfig
	Store         *StoreConfig
	History       *HistoryConfig
	Metrics       *MetricsConfig
	Specs         []process.Spec
}

// Defaults applied by LoadConfig when the file leaves a knob unset.
const (
	DefaultIdleSeconds = 600
	DefaultSchedule    = "@every 1m"
	DefaultBasePath    = "/idlewatch"
)

func readFile(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	return &fc, nil
}

// LoadConfig reads and validates a full deployment configuration.
func LoadConfig(path string) (*Config, error) {
	fc, err := readFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		IdleSeconds: fc.IdleSeconds,
		Schedule:    fc.Schedule,
		Server:      fc.Server,
		Cron:        fc.Cron,
		Store:       fc.Store,
		History:     fc.History,
		Metrics:     fc.Metrics,
	}
	if fc.Log != nil {
		cfg.Log = *fc.Log
	}
	if cfg.IdleSeconds == 0 {
		cfg.IdleSeconds = DefaultIdleSeconds
	}
	if cfg.IdleSeconds < 0 {
		return nil, fmt.Errorf("idle_seconds must be >= 0, got %v", fc.IdleSeconds)
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	pol, err := idle.ParsePolicy(fc.SessionPolicy)
	if err != nil {
		return nil, err
	}
	cfg.SessionPolicy = pol
	if cfg.Server != nil && cfg.Server.BasePath == "" {
		cfg.Server.BasePath = DefaultBasePath
	}

	if cfg.GlobalEnv, err = LoadGlobalEnv(path); err != nil {
		return nil, err
	}
	if cfg.Specs, err = LoadSpecsFromTOML(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadSpecsFromTOML parses a TOML config file into a slice of process.Spec.
func LoadSpecsFromTOML(path string) ([]process.Spec, error) {
	fc, err := readFile(path)
	if err != nil {
		return nil, err
	}
	result := make([]process.Spec, 0, len(fc.Processes))
	seen := make(map[string]bool, len(fc.Processes))
	for _, pc := range fc.Processes {
		if seen[pc.Name] {
			return nil, fmt.Errorf("duplicate process name %q", pc.Name)
		}
		seen[pc.Name] = true

		pol, err := process.ParsePolicy(pc.Policy)
		if err != nil {
			return nil, fmt.Errorf("process %s: %w", pc.Name, err)
		}
		for _, d := range pc.Detectors {
			if _, err := d.Detector(); err != nil {
				return nil, fmt.Errorf("process %s: %w", pc.Name, err)
			}
		}

		// logging config: top-level defaults, then per-process overrides
		var logCfg logger.Config
		if fc.Log != nil {
			logCfg.File = fc.Log.fileConfig()
		}
		if pc.Log != nil {
			logCfg.File = pc.Log.overlay(logCfg.File)
		}

		s := process.Spec{
			Name:            pc.Name,
			Command:         pc.Command,
			WorkDir:         pc.WorkDir,
			Env:             pc.Env,
			PIDFile:         pc.PIDFile,
			Policy:          pol,
			DetectorConfigs: pc.Detectors,
			Log:             logCfg,
		}
		if err := s.Validate(); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, nil
}

func (lc LogConfig) fileConfig() logger.FileConfig {
	return logger.FileConfig{
		Dir:        lc.Dir,
		StdoutPath: lc.Stdout,
		StderrPath: lc.Stderr,
		MaxSizeMB:  lc.MaxSizeMB,
		MaxBackups: lc.MaxBackups,
		MaxAgeDays: lc.MaxAgeDays,
		Compress:   lc.Compress,
	}
}

func (lc LogConfig) overlay(base logger.FileConfig) logger.FileConfig {
	if lc.Dir != "" {
		base.Dir = lc.Dir
	}
	if lc.Stdout != "" {
		base.StdoutPath = lc.Stdout
	}
	if lc.Stderr != "" {
		base.StderrPath = lc.Stderr
	}
	if lc.MaxSizeMB != 0 {
		base.MaxSizeMB = lc.MaxSizeMB
	}
	if lc.MaxBackups != 0 {
		base.MaxBackups = lc.MaxBackups
	}
	if lc.MaxAgeDays != 0 {
		base.MaxAgeDays = lc.MaxAgeDays
	}
	if lc.Compress {
		base.Compress = true
	}
	return base
}

// LoadEnvFromTOML parses only the top-level env list from TOML.
func LoadEnvFromTOML(path string) ([]string, error) {
	fc, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return fc.Env, nil
}

// LoadGlobalEnv merges env from config: top-level env, env_files contents,
// and optionally OS env when use_os_env is set.
// Precedence: OS env (when enabled) provides the base; env file vars apply
// over it; the top-level env list overrides last.
func LoadGlobalEnv(path string) ([]string, error) {
	fc, err := readFile(path)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	if fc.UseOSEnv {
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				m[kv[:i]] = kv[i+1:]
			}
		}
	}
	for _, p := range fc.EnvFiles {
		if !filepath.IsAbs(p) {
			p = filepath.Join(filepath.Dir(path), p)
		}
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range fc.Env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// LoadEnvFile parses a .env file and returns "KEY=VALUE" entries.
func LoadEnvFile(path string) ([]string, error) {
	m, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// loadEnvFile parses KEY=VALUE lines (no export, no quotes). Lines starting
// with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}
