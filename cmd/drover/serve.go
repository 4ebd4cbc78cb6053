package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"drover/internal/agent"
	"drover/internal/async"
	"drover/internal/observability"
	"drover/internal/script"
	"drover/internal/server"
	"drover/pkg/types"
)

func newServeCommand(cli *CLI) *cobra.Command {
	var (
		addr       string
		goal       string
		scriptPath string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the approval and observation API",
		Long: `Serve runs, pending approvals and live events over HTTP.

Dashboards read GET /api/runs and the /ws event stream; decisions land
on POST /api/approvals/:id/approve, deny or always-allow. Prometheus
scrapes /metrics. With --goal and --script, a background run starts
whose parked calls wait for HTTP decisions.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.initialize(); err != nil {
				return err
			}
			defer cli.close()
			if addr != "" {
				cli.cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			co, err := cli.buildCollaborators(ctx)
			if err != nil {
				return err
			}
			defer co.shutdown(context.Background(), cli)

			metrics, err := observability.NewMetrics(true)
			if err != nil {
				return err
			}
			recorder := observability.NewRecorder(metrics, cli.logger)
			stopWatch := recorder.Watch(co.events, 256)
			defer stopWatch()

			registry := server.NewRegistry()
			srv, err := server.New(cli.cfg.Server, server.Dependencies{
				Gateway:  co.gate,
				Events:   co.events,
				Store:    co.store,
				Registry: registry,
				Metrics:  metrics,
				Tracer:   co.tracer,
				Version:  version,
			}, cli.logger)
			if err != nil {
				return err
			}

			if goal != "" || scriptPath != "" {
				if goal == "" || scriptPath == "" {
					return errors.New("--goal and --script must be set together")
				}
				pb, err := script.Load(scriptPath)
				if err != nil {
					return err
				}
				runner, err := agent.New(goal, cli.cfg.Agent.MaxIterations, agent.Collaborators{
					Provider: script.NewProvider(pb),
					Gateway:  co.gate,
					Pipeline: co.pipeline,
					Executor: co.executor,
					Parser:   co.parser,
					Events:   co.events,
					Logger:   cli.logger,
				}, agent.WithTokenBudget(cli.cfg.Agent.TokenBudget))
				if err != nil {
					return err
				}
				registry.Add(runner)
				async.Go(cli.logger, "background-run", func() {
					cli.backgroundRun(ctx, co, runner)
				})
			}

			errCh := make(chan error, 1)
			async.Go(cli.logger, "http-server", func() {
				errCh <- srv.Start()
			})

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}
			if err := metrics.Shutdown(shutdownCtx); err != nil {
				cli.logger.Warn("metrics shutdown: %v", err)
			}
			return <-errCh
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().StringVar(&goal, "goal", "", "Start a background run with this goal")
	cmd.Flags().StringVar(&scriptPath, "script", "", "Playbook for the background run")
	return cmd
}

// backgroundRun advances a run under serve, waiting while parked calls
// resolve over the HTTP API.
func (c *CLI) backgroundRun(ctx context.Context, co *collaborators, runner *agent.Runner) {
	snap, err := runner.Start(ctx)
	if err != nil {
		c.logger.Error("background run start: %v", err)
		return
	}
	c.persist(ctx, co, snap)

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			snap, _ = runner.Stop()
			c.persist(context.Background(), co, snap)
			return
		}

		snap, err = runner.Advance(ctx)
		c.persist(ctx, co, snap)

		if types.IsPending(err) {
			for {
				if _, stalled := runner.PendingApprovalID(); !stalled {
					break
				}
				select {
				case <-ctx.Done():
					snap, _ = runner.Stop()
					c.persist(context.Background(), co, snap)
					return
				case <-ticker.C:
				}
			}
			c.persist(ctx, co, runner.Snapshot())
			continue
		}
		if snap.Status.Terminal() {
			c.logger.Info("background run %s finished: %s", snap.ID, snap.Status)
			return
		}
		if err != nil {
			c.logger.Error("background run %s: %v", snap.ID, err)
			return
		}
	}
}
