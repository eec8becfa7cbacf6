package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v3"

	"github.com/dshills/nodegraph-go/graph"
	"github.com/dshills/nodegraph-go/graph/compute"
	"github.com/dshills/nodegraph-go/graph/emit"
	"github.com/dshills/nodegraph-go/graph/executor"
	"github.com/dshills/nodegraph-go/graph/recovery"
	"github.com/dshills/nodegraph-go/graph/store"
	"github.com/dshills/nodegraph-go/internal/config"
	"github.com/dshills/nodegraph-go/internal/log"
)

const defaultSQLitePath = "nodegraph.db"

// app holds everything a command needs, built from the global flags.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	store   store.Store
	memory  store.MemoryStore
	client  *compute.Client
	service compute.Service

	registry *executor.Registry
	metrics  *graph.Metrics
	emitter  emit.Emitter

	closers []func(context.Context) error
}

func newApp(ctx context.Context, command *cli.Command) (*app, error) {
	cfg, err := config.Load(command)
	if err != nil {
		return nil, err
	}
	log.Setup(cfg.LogLevel, cfg.LogFormat)

	a := &app{
		cfg:    cfg,
		logger: log.WithModule("nodegraph"),
	}
	if err := a.init(ctx); err != nil {
		_ = a.close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	st, err := openStore(a.cfg)
	if err != nil {
		return err
	}
	a.store = st
	a.onClose(func(context.Context) error { return st.Close() })

	a.memory = st
	if a.cfg.MemoryBackend == "redis" {
		rm, err := store.NewRedisMemory(ctx, a.cfg.RedisAddr, a.cfg.RedisPassword, a.cfg.RedisDB)
		if err != nil {
			return err
		}
		a.memory = rm
		a.onClose(func(context.Context) error { return rm.Close() })
	}

	if a.cfg.BackendURL != "" {
		a.client = compute.NewClient(a.cfg.BackendURL,
			compute.WithClientLogger(log.WithModule("compute")),
			compute.WithExportDir(a.cfg.ExportDir),
		)
		a.service = a.client
	}
	if a.cfg.Direct {
		var fallback compute.Service
		if a.client != nil {
			fallback = a.client
		}
		a.service = compute.NewDirect(fallback,
			compute.WithMemoryStore(a.memory),
			compute.WithDirectLogger(log.WithModule("compute")),
			compute.WithDirectExportDir(a.cfg.ExportDir),
		)
	}

	a.registry, err = executor.NewRegistry()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = graph.NewMetrics(reg)
	if a.cfg.MetricsAddr != "" {
		a.serveMetrics(reg)
	}

	emitters := emit.Multi{}
	if a.cfg.LogLevel == "debug" {
		emitters = append(emitters, emit.NewLogEmitter(os.Stderr, a.cfg.LogFormat == "json"))
	}
	if a.cfg.OTLPEndpoint != "" {
		tp, err := newTracerProvider(ctx, "nodegraph", a.cfg.OTLPEndpoint)
		if err != nil {
			return fmt.Errorf("failed to set up tracing: %w", err)
		}
		otelEmitter := emit.NewOTelEmitter(tp.Tracer("github.com/dshills/nodegraph-go"))
		emitters = append(emitters, otelEmitter)
		a.onClose(func(ctx context.Context) error {
			return errors.Join(otelEmitter.Flush(ctx), tp.Shutdown(ctx))
		})
	}
	a.emitter = emitters
	return nil
}

func openStore(cfg config.Config) (store.Store, error) {
	switch cfg.Store {
	case "sqlite":
		path := cfg.StoreDSN
		if path == "" {
			path = defaultSQLitePath
		}
		return store.NewSQLiteStore(path)
	case "mysql":
		return store.NewMySQLStore(cfg.StoreDSN)
	default:
		return store.NewMemStore(), nil
	}
}

func (a *app) serveMetrics(reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", "addr", a.cfg.MetricsAddr, "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", a.cfg.MetricsAddr)
	a.onClose(srv.Shutdown)
}

// session creates a session writing results through to the store.
func (a *app) session(id string) (*graph.Session, error) {
	opts := []graph.Option{
		graph.WithResultStore(a.store),
		graph.WithEmitter(a.emitter),
		graph.WithLogger(log.WithModule("session")),
	}
	if id != "" {
		opts = append(opts, graph.WithSessionID(id))
	}
	return graph.NewSession(opts...)
}

// runner creates a Runner whose provider recoveries ask on the terminal.
func (a *app) runner(s *graph.Session, costs *graph.CostTracker) *executor.Runner {
	logger := log.WithModule("executor")
	driver := recovery.NewDriver(
		recovery.NewPromptChooser(os.Stdin, os.Stderr),
		recovery.WithCatalog(recovery.DefaultCatalog()),
		recovery.WithEmitter(a.emitter),
		recovery.WithMetrics(a.metrics),
		recovery.WithDriverLogger(logger),
	)
	return executor.NewRunner(s, a.registry, a.service,
		executor.WithRecovery(driver),
		executor.WithMetrics(a.metrics),
		executor.WithCostTracker(costs),
		executor.WithRunnerLogger(logger),
	)
}

func (a *app) onClose(f func(context.Context) error) {
	a.closers = append(a.closers, f)
}

// close releases resources in reverse order of acquisition.
func (a *app) close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
