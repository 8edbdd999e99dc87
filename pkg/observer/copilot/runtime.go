// Package copilot – runtime.go assembles the reasoning core from a Config:
// tool registry, completion engine, attachment resolver, orchestrator,
// per-channel states and the maintenance scheduler.
package copilot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go/option"

	"github.com/jholhewres/observer/pkg/observer/llm"
	"github.com/jholhewres/observer/pkg/observer/media"
	"github.com/jholhewres/observer/pkg/observer/scheduler"
	"github.com/jholhewres/observer/pkg/observer/tools"
)

// PruneJobID identifies the memory prune job.
const PruneJobID = "memory-prune"

// Runtime is the assembled reasoning core shared by every front end.
type Runtime struct {
	Tools        *tools.Registry
	Orchestrator *Orchestrator
	States       *ChannelStates

	engine    llm.Engine
	memory    *tools.MemoryStore
	scheduler *scheduler.Scheduler
	logger    *slog.Logger
}

// NewRuntime builds the core. Progress notes go to notifier (may be nil).
// Extra options are passed to the completion client.
func NewRuntime(cfg *Config, notifier Notifier, logger *slog.Logger, opts ...option.RequestOption) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}

	detail, err := ParseImageDetail(cfg.Agent.ImageDetail)
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry(
		tools.NewClock(cfg.Tools.Timezone),
		tools.TextLength{},
		tools.NewWebScraper(nil, cfg.Tools.ScrapeMaxBytes),
		tools.NewWebSearch(cfg.Tools.WebSearch, nil),
	)

	var store *tools.MemoryStore
	if cfg.Memory.Enabled {
		store, err = tools.OpenMemoryStore(cfg.Memory.Path)
		if err != nil {
			return nil, fmt.Errorf("opening memory store: %w", err)
		}
		registry.Register(tools.NewMemory(store))
	}

	engine, err := llm.NewOpenAIEngine(cfg.EngineConfig(), registry, logger, opts...)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, err
	}

	normalizer := NewNormalizer(media.NewResolver(cfg.Media, nil, logger), logger)
	orchestrator := NewOrchestrator(engine, normalizer, NewToolReporter(notifier, logger), OrchestratorConfig{
		MaxToolUse:    cfg.Agent.MaxToolUse,
		Directive:     cfg.DirectiveText(),
		AssistantName: cfg.Name,
		ImageDetail:   detail,
	}, logger)

	rt := &Runtime{
		Tools:        registry,
		Orchestrator: orchestrator,
		States:       NewChannelStates(cfg.Agent.EntryLimit),
		engine:       engine,
		memory:       store,
		scheduler:    scheduler.New(logger),
		logger:       logger.With("component", "runtime"),
	}

	if store != nil && cfg.Memory.TTL > 0 {
		ttl := cfg.Memory.TTL
		err := rt.scheduler.Add(&scheduler.Job{
			ID:       PruneJobID,
			Schedule: cfg.Memory.PruneSchedule,
			Run: func(ctx context.Context) error {
				n, err := store.Prune(ctx, time.Now().Add(-ttl))
				if err != nil {
					return err
				}
				rt.logger.Info("memory pruned", "removed", n, "ttl", ttl.String())
				return nil
			},
		})
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("scheduling memory prune: %w", err)
		}
	}

	logger.Info("runtime ready",
		"model", engine.Model(),
		"tools", registry.Names(),
		"max_tool_use", cfg.Agent.MaxToolUse,
		"image_detail", detail.String(),
	)
	return rt, nil
}

// Model returns the completion model in use.
func (r *Runtime) Model() string { return r.engine.Model() }

// Scheduler returns the maintenance scheduler.
func (r *Runtime) Scheduler() *scheduler.Scheduler { return r.scheduler }

// Start starts the maintenance scheduler.
func (r *Runtime) Start(ctx context.Context) error {
	return r.scheduler.Start(ctx)
}

// Close stops the scheduler and closes the memory store.
func (r *Runtime) Close() error {
	r.scheduler.Stop()
	if r.memory != nil {
		return r.memory.Close()
	}
	return nil
}
