// Package config holds the CLI's runtime configuration. Every value can be
// set with a flag or with its NODEGRAPH_* environment variable.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/urfave/cli/v3"
)

// Config is the validated runtime configuration.
type Config struct {
	// BackendURL is the compute backend. Required unless Direct is set.
	BackendURL string `validate:"omitempty,url"`

	// Direct runs provider calls, memory, validation and local data
	// operations in-process instead of through the backend.
	Direct bool

	Store    string `validate:"oneof=memory sqlite mysql"`
	StoreDSN string `validate:"required_if=Store mysql"`

	MemoryBackend string `validate:"oneof=store redis"`
	RedisAddr     string `validate:"required_if=MemoryBackend redis"`
	RedisPassword string
	RedisDB       int `validate:"gte=0"`

	ExportDir string

	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=text json"`

	MetricsAddr  string `validate:"omitempty,hostname_port"`
	OTLPEndpoint string `validate:"omitempty,url"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		c := sl.Current().Interface().(Config)
		if !c.Direct && c.BackendURL == "" {
			sl.ReportError(c.BackendURL, "BackendURL", "BackendURL", "required_without_direct", "")
		}
	}, Config{})
	return v
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		BackendURL:    "http://localhost:8000",
		Store:         "memory",
		MemoryBackend: "store",
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

// Validate checks c against its constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Flags returns the global flags Load reads.
func Flags() []cli.Flag {
	d := Default()
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "backend-url",
			Usage:   "Base URL of the compute backend",
			Value:   d.BackendURL,
			Sources: cli.EnvVars("NODEGRAPH_BACKEND_URL"),
		},
		&cli.BoolFlag{
			Name:    "direct",
			Usage:   "Call model providers and run local operations in-process",
			Sources: cli.EnvVars("NODEGRAPH_DIRECT"),
		},
		&cli.StringFlag{
			Name:    "store",
			Usage:   "Persistence backend (memory, sqlite, mysql)",
			Value:   d.Store,
			Sources: cli.EnvVars("NODEGRAPH_STORE"),
		},
		&cli.StringFlag{
			Name:    "store-dsn",
			Usage:   "SQLite path or MySQL DSN",
			Sources: cli.EnvVars("NODEGRAPH_STORE_DSN"),
		},
		&cli.StringFlag{
			Name:    "memory-backend",
			Usage:   "Where memory nodes keep entries (store, redis)",
			Value:   d.MemoryBackend,
			Sources: cli.EnvVars("NODEGRAPH_MEMORY_BACKEND"),
		},
		&cli.StringFlag{
			Name:    "redis-addr",
			Usage:   "Redis address for the redis memory backend",
			Sources: cli.EnvVars("NODEGRAPH_REDIS_ADDR"),
		},
		&cli.StringFlag{
			Name:    "redis-password",
			Usage:   "Redis password",
			Sources: cli.EnvVars("NODEGRAPH_REDIS_PASSWORD"),
		},
		&cli.IntFlag{
			Name:    "redis-db",
			Usage:   "Redis database number",
			Sources: cli.EnvVars("NODEGRAPH_REDIS_DB"),
		},
		&cli.StringFlag{
			Name:    "export-dir",
			Usage:   "Directory export_file nodes write to",
			Sources: cli.EnvVars("NODEGRAPH_EXPORT_DIR"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   d.LogLevel,
			Sources: cli.EnvVars("NODEGRAPH_LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   d.LogFormat,
			Sources: cli.EnvVars("NODEGRAPH_LOG_FORMAT"),
		},
		&cli.StringFlag{
			Name:    "metrics-addr",
			Usage:   "Serve Prometheus metrics on this address, e.g. :9090",
			Sources: cli.EnvVars("NODEGRAPH_METRICS_ADDR"),
		},
		&cli.StringFlag{
			Name:    "otlp-endpoint",
			Usage:   "Export traces to this OTLP/HTTP endpoint",
			Sources: cli.EnvVars("NODEGRAPH_OTLP_ENDPOINT"),
		},
	}
}

// Load reads the flags of cmd into a validated Config.
func Load(cmd *cli.Command) (Config, error) {
	c := Config{
		BackendURL:    cmd.String("backend-url"),
		Direct:        cmd.Bool("direct"),
		Store:         cmd.String("store"),
		StoreDSN:      cmd.String("store-dsn"),
		MemoryBackend: cmd.String("memory-backend"),
		RedisAddr:     cmd.String("redis-addr"),
		RedisPassword: cmd.String("redis-password"),
		RedisDB:       int(cmd.Int("redis-db")),
		ExportDir:     cmd.String("export-dir"),
		LogLevel:      cmd.String("log-level"),
		LogFormat:     cmd.String("log-format"),
		MetricsAddr:   cmd.String("metrics-addr"),
		OTLPEndpoint:  cmd.String("otlp-endpoint"),
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
