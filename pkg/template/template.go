// Package template generates starter configuration files for the common
// Mersenne-testing worker programs. The output parses back through the
// daemon's own config loader.
package template

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
)

// TemplateType represents the type of template to generate
type TemplateType string

const (
	TypeGpuOwl    TemplateType = "gpuowl"
	TypeGPU       TemplateType = "gpu"
	TypeCUDALucas TemplateType = "cudalucas"
	TypeCUDA      TemplateType = "cuda"
	TypeMlucas    TemplateType = "mlucas"
	TypeCPU       TemplateType = "cpu"
	TypePrimenet  TemplateType = "primenet"
	TypeMinimal   TemplateType = "minimal"
	TypeBasic     TemplateType = "basic"
	TypeFull      TemplateType = "full"
)

// Config is a generated configuration skeleton. Keys follow the layout the
// daemon's config loader parses.
type Config struct {
	IdleSeconds   float64  `toml:"idle_seconds"`
	Schedule      string   `toml:"schedule"`
	SessionPolicy string   `toml:"session_policy,omitempty"`
	Log           *Log     `toml:"log,omitempty"`
	Server        *Server  `toml:"server,omitempty"`
	Store         *Store   `toml:"store,omitempty"`
	Processes     []Worker `toml:"processes"`
}

// Worker is one supervised process entry.
type Worker struct {
	Name    string   `toml:"name"`
	Command string   `toml:"command"`
	WorkDir string   `toml:"workdir,omitempty"`
	Policy  string   `toml:"policy"`
	Env     []string `toml:"env,omitempty"`
}

// Log is the shared log destination.
type Log struct {
	Dir string `toml:"dir"`
}

// Server is the embedded control API listener.
type Server struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// Store is the run and verdict persistence backend.
type Store struct {
	DSN string `toml:"dsn"`
}

// Generator provides template generation functionality
type Generator struct{}

// NewGenerator creates a new template generator
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate creates a configuration template for the given worker program.
// name overrides the compute worker's name; empty keeps the program default.
func (g *Generator) Generate(templateType TemplateType, name string) (*Config, error) {
	switch templateType {
	case TypeGpuOwl, TypeGPU:
		return g.generateGpuOwl(name), nil
	case TypeCUDALucas, TypeCUDA:
		return g.generateCUDALucas(name), nil
	case TypeMlucas, TypeCPU:
		return g.generateMlucas(name), nil
	case TypePrimenet:
		return g.generatePrimenet(name), nil
	case TypeMinimal, TypeBasic:
		return g.generateMinimal(name), nil
	case TypeFull:
		return g.generateFull(name), nil
	default:
		return nil, fmt.Errorf("unknown template type: %s (supported: gpuowl, cudalucas, mlucas, primenet, minimal, full)", templateType)
	}
}

// GenerateTOML creates a TOML representation of the template
func (g *Generator) GenerateTOML(templateType TemplateType, name string) ([]byte, error) {
	cfg, err := g.Generate(templateType, name)
	if err != nil {
		return nil, err
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal template: %w", err)
	}
	return data, nil
}

// GetSupportedTypes returns a list of all supported template types
func (g *Generator) GetSupportedTypes() []string {
	return []string{
		string(TypeGpuOwl),
		string(TypeCUDALucas),
		string(TypeMlucas),
		string(TypePrimenet),
		string(TypeMinimal),
		string(TypeFull),
	}
}

func orDefault(name, def string) string {
	if name == "" {
		return def
	}
	return name
}

// primenetWorker is the PrimeNet communication helper that accompanies every
// compute worker: it fetches assignments and reports results, so it runs
// regardless of the idle state.
func primenetWorker() Worker {
	return Worker{
		Name:    "primenet",
		Command: "python3 primenet.py --daemon",
		WorkDir: "/opt/gimps",
		Policy:  "always-run",
	}
}

func (g *Generator) generateGpuOwl(name string) *Config {
	return &Config{
		IdleSeconds: 600,
		Schedule:    "@every 1m",
		Processes: []Worker{
			{
				// -nospin keeps the GPU poll loop off the CPU.
				Name:    orDefault(name, "gpuowl"),
				Command: "./gpuowl -nospin",
				WorkDir: "/opt/gimps/gpuowl",
				Policy:  "run-when-idle",
			},
			primenetWorker(),
		},
	}
}

func (g *Generator) generateCUDALucas(name string) *Config {
	return &Config{
		IdleSeconds: 600,
		Schedule:    "@every 1m",
		Processes: []Worker{
			{
				Name:    orDefault(name, "cudalucas"),
				Command: "./CUDALucas cudalucas.ini",
				WorkDir: "/opt/gimps/cudalucas",
				Policy:  "run-when-idle",
				Env:     []string{"CUDA_VISIBLE_DEVICES=0"},
			},
			primenetWorker(),
		},
	}
}

func (g *Generator) generateMlucas(name string) *Config {
	return &Config{
		IdleSeconds: 600,
		Schedule:    "@every 1m",
		Processes: []Worker{
			{
				Name:    orDefault(name, "mlucas"),
				Command: "./Mlucas -cpu 0:3",
				WorkDir: "/opt/gimps/mlucas",
				Policy:  "run-when-idle",
			},
			primenetWorker(),
		},
	}
}

func (g *Generator) generatePrimenet(name string) *Config {
	w := primenetWorker()
	w.Name = orDefault(name, w.Name)
	return &Config{
		IdleSeconds: 600,
		Schedule:    "@every 1m",
		Processes:   []Worker{w},
	}
}

func (g *Generator) generateMinimal(name string) *Config {
	return &Config{
		IdleSeconds: 600,
		Schedule:    "@every 1m",
		Processes: []Worker{
			{
				Name:    orDefault(name, "worker"),
				Command: "/usr/local/bin/worker",
				Policy:  "run-when-idle",
			},
		},
	}
}

func (g *Generator) generateFull(name string) *Config {
	cfg := g.generateGpuOwl(name)
	cfg.SessionPolicy = "ignore"
	cfg.Log = &Log{Dir: "/var/log/idlewatch"}
	cfg.Server = &Server{Enabled: true, Listen: "127.0.0.1:8080"}
	cfg.Store = &Store{DSN: "sqlite:///var/lib/idlewatch/idlewatch.db"}
	return cfg
}
