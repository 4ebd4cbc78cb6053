package main

import (
	"context"

	"drover/internal/agent"
	"drover/internal/agent/ports"
	"drover/internal/audit"
	"drover/internal/gateway"
	"drover/internal/hooks"
	"drover/internal/observability"
	"drover/internal/parser"
	"drover/internal/patch"
	"drover/internal/policy"
	"drover/internal/runstore"
	"drover/internal/workspace"
	"drover/pkg/types"
)

// collaborators bundles everything run and serve need to drive runs.
type collaborators struct {
	workspace  *workspace.Workspace
	executor   *workspace.ShellExecutor
	pipeline   *patch.Pipeline
	parser     *parser.Parser
	gate       *gateway.Gateway
	events     *agent.Broadcaster
	store      *runstore.Store
	sink       ports.AuditSink
	fileSink   *audit.FileSink
	dispatcher *hooks.Dispatcher
	tracer     *observability.TracerProvider
}

// buildCollaborators assembles the library against the loaded config.
func (c *CLI) buildCollaborators(ctx context.Context) (*collaborators, error) {
	cfg := c.cfg
	logger := c.logger

	ws, err := workspace.New(cfg.Workspace, logger)
	if err != nil {
		return nil, err
	}
	executor := workspace.NewShellExecutor(ws, cfg.Agent.CommandTimeout.Std(), logger)
	pipeline := patch.NewPipeline(ws, executor, logger)

	var rules []types.HookRule
	if cfg.RulesFile != "" {
		rules, err = policy.LoadRules(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
	}
	engine, err := policy.NewEngine(rules, logger)
	if err != nil {
		return nil, err
	}

	sink := audit.Nop()
	var fileSink *audit.FileSink
	if cfg.AuditDir != "" {
		fileSink, err = audit.NewFileSink(cfg.AuditDir, logger)
		if err != nil {
			return nil, err
		}
		sink = fileSink
	}

	dispatcher := hooks.NewDispatcher(
		hooks.NewHTTPDeliverer(cfg.Hooks.DeliveryTimeout.Std(), logger),
		hooks.NewLogNotifier(logger),
		sink,
		logger,
		hooks.WithMaxInFlight(cfg.Hooks.MaxConcurrent),
		hooks.WithTimeout(cfg.Hooks.DeliveryTimeout.Std()),
	)

	toolset := workspace.NewToolset(ws, executor, pipeline, logger)
	var tools ports.ToolRunner = toolset
	if cfg.Cache.Enabled {
		cacheCfg := gateway.DefaultCacheConfig()
		cacheCfg.MaxSize = cfg.Cache.MaxSize
		cacheCfg.TTL = cfg.Cache.TTL.Std()
		tools = gateway.NewCachedRunner(toolset, cacheCfg)
	}

	gate := gateway.New(engine, policy.NewSessionPermissions("sess_cli"), tools, dispatcher, sink, logger)

	store, err := runstore.New(cfg.RunsDir, logger)
	if err != nil {
		return nil, err
	}
	tracer, err := observability.NewTracerProvider(ctx, cfg.Tracing, version)
	if err != nil {
		return nil, err
	}

	return &collaborators{
		workspace:  ws,
		executor:   executor,
		pipeline:   pipeline,
		parser:     parser.New(logger, toolset.Definitions()...),
		gate:       gate,
		events:     agent.NewBroadcaster(logger),
		store:      store,
		sink:       sink,
		fileSink:   fileSink,
		dispatcher: dispatcher,
		tracer:     tracer,
	}, nil
}

// shutdown flushes and closes everything buildCollaborators opened.
func (co *collaborators) shutdown(ctx context.Context, cli *CLI) {
	co.dispatcher.Close()
	co.events.Close()
	if err := co.tracer.Shutdown(ctx); err != nil {
		cli.logger.Warn("trace exporter shutdown: %v", err)
	}
	if co.fileSink != nil {
		if err := co.fileSink.Close(); err != nil {
			cli.logger.Warn("audit sink close: %v", err)
		}
	}
}
