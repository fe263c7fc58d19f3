package template

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loykin/idlewatch/internal/config"
	"github.com/pelletier/go-toml/v2"
)

func TestGenerator_Generate(t *testing.T) {
	generator := NewGenerator()

	tests := []struct {
		name         string
		templateType TemplateType
		workerName   string
		expectError  bool
		validate     func(*testing.T, *Config)
	}{
		{
			name:         "gpuowl_template",
			templateType: TypeGpuOwl,
			workerName:   "",
			validate: func(t *testing.T, cfg *Config) {
				if len(cfg.Processes) != 2 {
					t.Fatalf("expected compute worker plus primenet, got %d", len(cfg.Processes))
				}
				if cfg.Processes[0].Name != "gpuowl" {
					t.Errorf("expected name 'gpuowl', got '%s'", cfg.Processes[0].Name)
				}
				if !strings.Contains(cfg.Processes[0].Command, "-nospin") {
					t.Errorf("gpuowl must run with -nospin, got: %s", cfg.Processes[0].Command)
				}
				if cfg.Processes[0].Policy != "run-when-idle" {
					t.Errorf("unexpected policy: %s", cfg.Processes[0].Policy)
				}
				if cfg.Processes[1].Name != "primenet" || cfg.Processes[1].Policy != "always-run" {
					t.Errorf("unexpected auxiliary: %+v", cfg.Processes[1])
				}
			},
		},
		{
			name:         "gpuowl_named",
			templateType: TypeGpuOwl,
			workerName:   "rig1",
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Processes[0].Name != "rig1" {
					t.Errorf("expected name override 'rig1', got '%s'", cfg.Processes[0].Name)
				}
				if cfg.Processes[1].Name != "primenet" {
					t.Errorf("auxiliary name must not be overridden: %s", cfg.Processes[1].Name)
				}
			},
		},
		{
			name:         "cudalucas_template",
			templateType: TypeCUDALucas,
			validate: func(t *testing.T, cfg *Config) {
				if !strings.Contains(cfg.Processes[0].Command, "CUDALucas") {
					t.Errorf("unexpected command: %s", cfg.Processes[0].Command)
				}
				if len(cfg.Processes[0].Env) != 1 || !strings.HasPrefix(cfg.Processes[0].Env[0], "CUDA_VISIBLE_DEVICES") {
					t.Errorf("expected CUDA device pin, got %v", cfg.Processes[0].Env)
				}
			},
		},
		{
			name:         "mlucas_template",
			templateType: TypeMlucas,
			validate: func(t *testing.T, cfg *Config) {
				if !strings.Contains(cfg.Processes[0].Command, "Mlucas") {
					t.Errorf("unexpected command: %s", cfg.Processes[0].Command)
				}
			},
		},
		{
			name:         "primenet_template",
			templateType: TypePrimenet,
			validate: func(t *testing.T, cfg *Config) {
				if len(cfg.Processes) != 1 {
					t.Fatalf("expected single process, got %d", len(cfg.Processes))
				}
				if cfg.Processes[0].Policy != "always-run" {
					t.Errorf("primenet must be always-run, got %s", cfg.Processes[0].Policy)
				}
			},
		},
		{
			name:         "minimal_template",
			templateType: TypeMinimal,
			validate: func(t *testing.T, cfg *Config) {
				if len(cfg.Processes) != 1 {
					t.Fatalf("expected single process, got %d", len(cfg.Processes))
				}
				if cfg.Log != nil || cfg.Server != nil || cfg.Store != nil {
					t.Errorf("minimal template must not carry optional sections: %+v", cfg)
				}
				if cfg.IdleSeconds != 600 || cfg.Schedule != "@every 1m" {
					t.Errorf("unexpected defaults: %v %s", cfg.IdleSeconds, cfg.Schedule)
				}
			},
		},
		{
			name:         "full_template",
			templateType: TypeFull,
			validate: func(t *testing.T, cfg *Config) {
				if cfg.Log == nil || cfg.Server == nil || cfg.Store == nil {
					t.Fatalf("full template must carry all sections: %+v", cfg)
				}
				if !cfg.Server.Enabled || cfg.Server.Listen == "" {
					t.Errorf("unexpected server section: %+v", cfg.Server)
				}
				if !strings.HasPrefix(cfg.Store.DSN, "sqlite://") {
					t.Errorf("unexpected store DSN: %s", cfg.Store.DSN)
				}
			},
		},
		{
			name:         "invalid_template",
			templateType: "invalid",
			expectError:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := generator.Generate(tt.templateType, tt.workerName)

			if tt.expectError {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if cfg == nil {
				t.Error("expected non-nil config")
				return
			}
			if tt.validate != nil {
				tt.validate(t, cfg)
			}
		})
	}
}

func TestGenerator_GenerateTOML(t *testing.T) {
	generator := NewGenerator()

	for _, typ := range []TemplateType{TypeGpuOwl, TypePrimenet, TypeMinimal, TypeFull} {
		t.Run(string(typ), func(t *testing.T) {
			data, err := generator.GenerateTOML(typ, "")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var cfg Config
			if err := toml.Unmarshal(data, &cfg); err != nil {
				t.Fatalf("invalid TOML generated: %v", err)
			}
			if len(cfg.Processes) == 0 {
				t.Fatalf("no processes in generated config")
			}
			if cfg.IdleSeconds != 600 {
				t.Fatalf("idle_seconds = %v", cfg.IdleSeconds)
			}
		})
	}

	if _, err := generator.GenerateTOML("invalid", ""); err == nil {
		t.Fatal("expected error for invalid type")
	}
}

// Every generated template must parse through the daemon's own loader.
func TestGeneratedTemplatesLoad(t *testing.T) {
	generator := NewGenerator()
	dir := t.TempDir()

	for _, typ := range generator.GetSupportedTypes() {
		t.Run(typ, func(t *testing.T) {
			data, err := generator.GenerateTOML(TemplateType(typ), "")
			if err != nil {
				t.Fatalf("generate: %v", err)
			}
			path := filepath.Join(dir, typ+".toml")
			if err := os.WriteFile(path, data, 0o600); err != nil {
				t.Fatalf("write: %v", err)
			}
			cfg, err := config.LoadConfig(path)
			if err != nil {
				t.Fatalf("generated %s template does not load: %v", typ, err)
			}
			if cfg.IdleSeconds != 600 {
				t.Fatalf("idle_seconds = %v", cfg.IdleSeconds)
			}
			if cfg.Schedule != "@every 1m" {
				t.Fatalf("schedule = %q", cfg.Schedule)
			}
			if len(cfg.Specs) == 0 {
				t.Fatalf("no worker specs loaded")
			}
		})
	}
}

func TestTemplateAliases(t *testing.T) {
	generator := NewGenerator()

	aliases := map[TemplateType]TemplateType{
		TypeGPU:   TypeGpuOwl,
		TypeCUDA:  TypeCUDALucas,
		TypeCPU:   TypeMlucas,
		TypeBasic: TypeMinimal,
	}

	for alias, primary := range aliases {
		t.Run(string(alias)+"_alias", func(t *testing.T) {
			aliasCfg, err := generator.Generate(alias, "")
			if err != nil {
				t.Errorf("unexpected error with alias '%s': %v", alias, err)
				return
			}
			primaryCfg, err := generator.Generate(primary, "")
			if err != nil {
				t.Errorf("unexpected error with primary '%s': %v", primary, err)
				return
			}
			if aliasCfg.Processes[0].Command != primaryCfg.Processes[0].Command {
				t.Errorf("alias '%s' and primary '%s' generate different commands", alias, primary)
			}
		})
	}
}

func TestGetSupportedTypes(t *testing.T) {
	generator := NewGenerator()
	types := generator.GetSupportedTypes()

	expected := []string{"gpuowl", "cudalucas", "mlucas", "primenet", "minimal", "full"}
	if len(types) != len(expected) {
		t.Errorf("expected %d supported types, got %d", len(expected), len(types))
	}

	typeMap := make(map[string]bool)
	for _, typ := range types {
		typeMap[typ] = true
	}
	for _, e := range expected {
		if !typeMap[e] {
			t.Errorf("expected type '%s' not found in supported types", e)
		}
	}
}
