// Pathweaver generates personalized learning roadmaps through an LLM agent
// workflow. One binary hosts every role: the HTTP API, the content worker,
// the logs worker and the recovery sweeper.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/pathweaver/config"
	"github.com/dshills/pathweaver/queue"
	"github.com/dshills/pathweaver/server"
	"github.com/dshills/pathweaver/sweep"
	"github.com/dshills/pathweaver/workflow"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "pathweaver",
		Short:         "Learning-roadmap generation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	root.AddCommand(
		newAPICmd(&configPath),
		newContentWorkerCmd(&configPath),
		newLogsWorkerCmd(&configPath),
		newSweepCmd(&configPath),
	)
	return root
}

// runRole loads config, builds the shared application and hands control to
// the role's run function under a signal-cancelled context.
func runRole(configPath string, role string, run func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, role)
	if err != nil {
		return err
	}
	defer a.close()

	a.serveMetrics(ctx)

	err = run(ctx, a)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newAPICmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "api",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRole(*configPath, "api", runAPI)
		},
	}
}

func runAPI(ctx context.Context, a *app) error {
	executor, err := workflow.NewExecutor(a.workflowDeps())
	if err != nil {
		return err
	}

	srv := server.New(a.cfg.Server, a.repos, a.queue, executor, a.bus, a.logger)
	httpSrv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("api listening", zap.String("addr", httpSrv.Addr))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func newContentWorkerCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "content-worker",
		Short: "Process workflow and content-generation jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRole(*configPath, "content", runContentWorker)
		},
	}
}

func runContentWorker(ctx context.Context, a *app) error {
	executor, err := workflow.NewExecutor(a.workflowDeps())
	if err != nil {
		return err
	}

	// The content worker hosts the recovery sweeper when enabled, so a
	// minimal deployment needs no separate sweep process.
	if a.cfg.Sweep.Enable {
		s := sweep.New(a.cfg.Sweep, a.repos, a.queue, a.checkpoints, a.checkpoints, a.logger)
		go func() {
			if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("sweeper stopped", zap.Error(err))
			}
		}()
	}

	if a.metrics != nil {
		go a.sampleQueueDepth(ctx, queue.QueueContent, queue.QueueLogs)
	}

	worker := queue.NewWorker(a.queue, queue.QueueContent, executor.HandleJob, a.logger)
	return worker.Run(ctx)
}

func newLogsWorkerCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "logs-worker",
		Short: "Drain execution logs into the database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRole(*configPath, "logs", runLogsWorker)
		},
	}
}

func runLogsWorker(ctx context.Context, a *app) error {
	worker := queue.NewWorker(a.queue, queue.QueueLogs, queue.LogsHandler(a.repos), a.logger)
	return worker.Run(ctx)
}

func newSweepCmd(configPath *string) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Recover stuck workflows",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRole(*configPath, "sweep", func(ctx context.Context, a *app) error {
				s := sweep.New(a.cfg.Sweep, a.repos, a.queue, a.checkpoints, a.checkpoints, a.logger)
				if once {
					recovered, err := s.Sweep(ctx)
					if err != nil {
						return err
					}
					a.logger.Info("sweep complete", zap.Int("recovered", recovered))
					return nil
				}
				return s.Run(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single sweep and exit")
	return cmd
}
