package config

import (
	"context"
	"strings"
	"testing"

	"github.com/urfave/cli/v3"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "direct without backend", mutate: func(c *Config) { c.BackendURL = ""; c.Direct = true }},
		{name: "backend required", mutate: func(c *Config) { c.BackendURL = "" }, wantErr: "BackendURL"},
		{name: "backend not a URL", mutate: func(c *Config) { c.BackendURL = "localhost" }, wantErr: "BackendURL"},
		{name: "unknown store", mutate: func(c *Config) { c.Store = "postgres" }, wantErr: "Store"},
		{name: "mysql needs dsn", mutate: func(c *Config) { c.Store = "mysql" }, wantErr: "StoreDSN"},
		{name: "sqlite without dsn", mutate: func(c *Config) { c.Store = "sqlite" }},
		{name: "redis needs addr", mutate: func(c *Config) { c.MemoryBackend = "redis" }, wantErr: "RedisAddr"},
		{name: "redis", mutate: func(c *Config) { c.MemoryBackend = "redis"; c.RedisAddr = "localhost:6379" }},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "trace" }, wantErr: "LogLevel"},
		{name: "metrics port only", mutate: func(c *Config) { c.MetricsAddr = ":9090" }},
		{name: "bad metrics addr", mutate: func(c *Config) { c.MetricsAddr = "9090" }, wantErr: "MetricsAddr"},
		{name: "bad otlp endpoint", mutate: func(c *Config) { c.OTLPEndpoint = "collector" }, wantErr: "OTLPEndpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func load(t *testing.T, args ...string) (Config, error) {
	t.Helper()
	var (
		got     Config
		loadErr error
	)
	cmd := &cli.Command{
		Name:  "nodegraph",
		Flags: Flags(),
		Action: func(_ context.Context, cmd *cli.Command) error {
			got, loadErr = Load(cmd)
			return nil
		},
	}
	if err := cmd.Run(context.Background(), append([]string{"nodegraph"}, args...)); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return got, loadErr
}

func TestLoad_Defaults(t *testing.T) {
	got, err := load(t)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != Default() {
		t.Errorf("Load() = %+v, want %+v", got, Default())
	}
}

func TestLoad_FlagsAndEnv(t *testing.T) {
	t.Setenv("NODEGRAPH_STORE", "sqlite")
	t.Setenv("NODEGRAPH_STORE_DSN", "/tmp/ng.db")
	t.Setenv("NODEGRAPH_LOG_FORMAT", "json")

	got, err := load(t, "--direct", "--log-level", "debug", "--redis-db", "2")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !got.Direct || got.LogLevel != "debug" || got.RedisDB != 2 {
		t.Errorf("flags not applied: %+v", got)
	}
	if got.Store != "sqlite" || got.StoreDSN != "/tmp/ng.db" || got.LogFormat != "json" {
		t.Errorf("env not applied: %+v", got)
	}
}

func TestLoad_Invalid(t *testing.T) {
	if _, err := load(t, "--store", "mysql"); err == nil || !strings.Contains(err.Error(), "StoreDSN") {
		t.Errorf("Load() error = %v", err)
	}
}
