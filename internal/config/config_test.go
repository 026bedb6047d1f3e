package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
crawler:
  max_depth: 3
  global_worker_budget: 12
fetch:
  request_timeout_seconds: 45
  max_retries: 5
politeness:
  default_delay_seconds: 0.5
storage:
  result_backend: postgres
db:
  dsn: "postgres://localhost/crawl"
logging:
  development: true
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Crawler.MaxDepth != 3 || cfg.Crawler.GlobalWorkerBudget != 12 {
		t.Fatalf("expected crawler overrides to apply, got %+v", cfg.Crawler)
	}
	if cfg.Fetch.RequestTimeoutSeconds != 45 || cfg.Fetch.MaxRetries != 5 {
		t.Fatalf("expected fetch overrides to apply, got %+v", cfg.Fetch)
	}
	if cfg.Storage.ResultBackend != "postgres" || cfg.DB.DSN == "" {
		t.Fatalf("expected postgres backend with dsn set, got %+v / %+v", cfg.Storage, cfg.DB)
	}
	if !cfg.Logging.Development {
		t.Fatalf("expected logging.development to be true")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:  ServerConfig{Port: 8080},
		Crawler: CrawlerConfig{MinDepth: 1, MaxDepth: 5, MinWorkers: 2, MaxWorkers: 10, GlobalWorkerBudget: 20},
		Fetch:   FetchConfig{RequestTimeoutSeconds: 30, ConnectionPoolSize: 100},
		Storage: StorageConfig{ResultBackend: "memory"},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "inconsistent depth clamps",
			cfg: func() Config {
				c := base
				c.Crawler.MaxDepth = 0
				return c
			}(),
			want: "min_depth/max_depth",
		},
		{
			name: "worker budget below minimum",
			cfg: func() Config {
				c := base
				c.Crawler.GlobalWorkerBudget = 1
				return c
			}(),
			want: "global_worker_budget",
		},
		{
			name: "invalid result backend",
			cfg: func() Config {
				c := base
				c.Storage.ResultBackend = "redis"
				return c
			}(),
			want: "result_backend",
		},
		{
			name: "postgres backend missing dsn",
			cfg: func() Config {
				c := base
				c.Storage.ResultBackend = "postgres"
				return c
			}(),
			want: "db.dsn",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
