package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dshills/pathweaver/agent"
	"github.com/dshills/pathweaver/blob"
	"github.com/dshills/pathweaver/config"
	"github.com/dshills/pathweaver/graph"
	"github.com/dshills/pathweaver/graph/emit"
	"github.com/dshills/pathweaver/graph/store"
	"github.com/dshills/pathweaver/graph/tool"
	"github.com/dshills/pathweaver/queue"
	"github.com/dshills/pathweaver/repo"
	"github.com/dshills/pathweaver/workflow"
)

// checkpointStore is what the engine and the sweeper together need from a
// checkpoint backend.
type checkpointStore interface {
	store.Store[workflow.State]
	store.LeaseStore
}

// app holds the dependencies shared by every role.
type app struct {
	cfg         config.Config
	logger      *zap.Logger
	repos       *repo.Factory
	queue       *queue.Queue
	checkpoints checkpointStore
	blobs       blob.Store
	bus         *emit.Bus
	metrics     *graph.Metrics
	consumer    string

	cleanups []func() error
}

// newApp opens every backend the configuration names. role scopes the
// queue consumer group and the logger.
func newApp(ctx context.Context, cfg config.Config, role string) (*app, error) {
	logger, err := buildLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		logger: logger.With(zap.String("role", role)),
		bus:    emit.NewBus(64),
	}
	a.cleanups = append(a.cleanups, func() error { _ = logger.Sync(); return nil })

	a.repos = repo.NewFactory(cfg.Database.Config)
	if err := a.repos.Open(ctx); err != nil {
		a.close()
		return nil, err
	}
	a.cleanups = append(a.cleanups, a.repos.Close)
	if err := a.repos.EnsureSchema(ctx); err != nil {
		a.close()
		return nil, err
	}

	a.checkpoints, err = openCheckpoints(ctx, cfg, a)
	if err != nil {
		a.close()
		return nil, err
	}

	hostname, _ := os.Hostname()
	a.consumer = fmt.Sprintf("%s-%s-%d", role, hostname, os.Getpid())
	a.queue, err = queue.Open(ctx, cfg.Queue, "pathweaver-"+role, a.consumer)
	if err != nil {
		a.close()
		return nil, err
	}
	a.cleanups = append(a.cleanups, a.queue.Close)

	a.blobs, err = openBlobs(cfg.Blob)
	if err != nil {
		a.close()
		return nil, err
	}

	if cfg.MetricsAddr != "" {
		a.metrics = graph.NewMetrics(prometheus.DefaultRegisterer)
	}

	a.initTracing(role)

	return a, nil
}

// initTracing installs a tracer provider so node spans reach whatever
// exporter the OTEL_* environment configures. Without one the provider
// records nothing.
func (a *app) initTracing(role string) {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName("pathweaver"),
		semconv.ServiceInstanceID(role),
	))
	if err != nil {
		a.logger.Warn("tracing resource build failed", zap.Error(err))
		res = resource.Default()
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)
	a.cleanups = append(a.cleanups, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	})
}

func (a *app) close() {
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		if err := a.cleanups[i](); err != nil {
			a.logger.Warn("cleanup failed", zap.Error(err))
		}
	}
	a.cleanups = nil
}

// workflowDeps assembles the executor dependency set. Progress events fan
// out to the notification bus and an OTel span per node.
func (a *app) workflowDeps() workflow.Deps {
	emitters := emit.Multi{a.bus, emit.NewOTelEmitter(otel.Tracer("pathweaver"))}
	if a.cfg.Log.Development {
		emitters = append(emitters, emit.NewLogEmitter(os.Stderr, false))
	}

	var tools []tool.Tool
	if a.cfg.Agents.WebSearch.Endpoint != "" {
		tools = append(tools, tool.NewWebSearch(
			a.cfg.Agents.WebSearch.Endpoint, a.cfg.Agents.WebSearch.APIKey))
	}

	return workflow.Deps{
		Repos:       a.repos,
		Agents:      agent.NewFactory(a.cfg.Agents.Defaults, a.cfg.Agents.Variants(), tools, emitters),
		Queue:       a.queue,
		Blobs:       a.blobs,
		Checkpoints: a.checkpoints,
		Leases:      a.checkpoints,
		WorkerID:    a.consumer,
		Emitter:     emitters,
		Metrics:     a.metrics,
		Logger:      a.logger,
		Config:      a.cfg.Workflow,
		NodeTimeout:    a.cfg.NodeTimeout,
		WorkflowBudget: a.cfg.WorkflowBudget,
	}
}

// serveMetrics exposes prometheus metrics when an address is configured.
func (a *app) serveMetrics(ctx context.Context) {
	if a.cfg.MetricsAddr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		a.logger.Info("metrics listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

// sampleQueueDepth periodically gauges the named queues.
func (a *app) sampleQueueDepth(ctx context.Context, queues ...string) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, name := range queues {
				depth, err := a.queue.Depth(ctx, name)
				if err != nil {
					continue
				}
				a.metrics.SetQueueDepth(name, int(depth))
			}
		}
	}
}

func openCheckpoints(ctx context.Context, cfg config.Config, a *app) (checkpointStore, error) {
	switch cfg.Checkpoint.Backend {
	case config.CheckpointMemory:
		return store.NewMemStore[workflow.State](), nil

	case config.CheckpointSQLite:
		st := store.NewSQLiteStore[workflow.State](cfg.Checkpoint.Path)
		if err := st.Open(ctx); err != nil {
			return nil, err
		}
		a.cleanups = append(a.cleanups, st.Close)
		return st, nil

	case config.CheckpointPostgres:
		dsn := cfg.Checkpoint.DSN
		if dsn == "" {
			dsn = cfg.Database.DSN
		}
		st := store.NewPostgresStore[workflow.State](dsn, cfg.Checkpoint.PoolSize)
		if err := st.Open(ctx); err != nil {
			return nil, err
		}
		a.cleanups = append(a.cleanups, st.Close)
		return st, nil

	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Checkpoint.Backend)
	}
}

func openBlobs(cfg config.BlobConfig) (blob.Store, error) {
	switch cfg.Backend {
	case config.BlobMemory:
		return blob.NewMemStore(), nil
	case config.BlobFS:
		return blob.NewFSStore(cfg.Dir), nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
	}
}

func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
		}
	}

	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
