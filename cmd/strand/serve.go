// Copyright 2026 Strand Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/strandai/strand/pkg/agent"
	"github.com/strandai/strand/pkg/bus"
	"github.com/strandai/strand/pkg/config"
	"github.com/strandai/strand/pkg/logger"
	"github.com/strandai/strand/pkg/model"
	"github.com/strandai/strand/pkg/model/openai"
	"github.com/strandai/strand/pkg/model/scripted"
	"github.com/strandai/strand/pkg/observability"
	"github.com/strandai/strand/pkg/runtime"
	"github.com/strandai/strand/pkg/server"
	"github.com/strandai/strand/pkg/session"
	"github.com/strandai/strand/pkg/task"
	"github.com/strandai/strand/pkg/tool"
	"github.com/strandai/strand/pkg/tool/agenttool"
	"github.com/strandai/strand/pkg/tool/localtool"
	"github.com/strandai/strand/pkg/tool/mcptool"
)

// ServeCmd starts the agent server.
type ServeCmd struct {
	Port  int  `help:"Port to listen on (overrides config)."`
	Watch bool `help:"Watch the config file for changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	cleanup, err := initLogging(cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	log := logger.GetLogger()

	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	metrics := observability.NewMetrics()

	provider, err := buildProvider(cfg.Provider)
	if err != nil {
		return err
	}

	registry, closers, err := buildRegistry(cfg, log)
	if err != nil {
		return err
	}

	eventBus := bus.New(
		bus.WithLogCapacity(cfg.Bus.LogCapacity),
		bus.WithSubscriberBuffer(cfg.Bus.SubscriberBuffer),
		bus.WithBusLogger(log),
		bus.WithBusMetrics(metrics),
	)
	sessions := session.NewMemoryStore(nil)
	tasks := task.NewMemoryStore()

	rt := runtime.New(eventBus, sessions, tasks,
		runtime.WithLogger(log),
		runtime.WithTokenBudget(cfg.Session.TokenBudget),
	)
	agents, err := buildAgents(cfg, provider, registry, log, metrics)
	if err != nil {
		return err
	}
	for _, ac := range cfg.Agents {
		skills := make([]agent.Skill, 0, len(ac.Skills))
		for _, s := range ac.Skills {
			skills = append(skills, agent.Skill{Name: s.Name, Prompt: s.Prompt})
		}
		if err := rt.AddAgent(agents[ac.ID], ac.SystemPrompt, skills); err != nil {
			return err
		}
	}

	if c.Watch && cli.Config != "" {
		go watchConfig(ctx, cli.Config, log, agents)
	}

	srv := server.New(rt, eventBus, tasks,
		server.WithServerLogger(log),
		server.WithServerMetrics(metrics),
	)

	log.Info("strand server starting",
		"addr", cfg.Server.Address(),
		"provider", provider.Name(),
		"agents", len(agents))
	serveErr := srv.ListenAndServe(ctx, cfg.Server.Address())
	if errors.Is(serveErr, http.ErrServerClosed) {
		serveErr = nil
	}

	coord := runtime.NewCoordinator(log)
	rt.ShutdownSteps(coord)
	for _, closer := range closers {
		coord.Add("close-"+closer.name, runtime.CloserStep(closer))
	}
	if err := coord.Run(context.Background()); err != nil {
		log.Warn("shutdown finished with errors", "error", err)
	}
	return serveErr
}

func buildProvider(cfg config.ProviderConfig) (model.Provider, error) {
	switch cfg.Type {
	case "openai":
		return openai.New(openai.Config{
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Timeout:    cfg.Timeout.Std(),
			MaxRetries: cfg.MaxRetries,
		}), nil
	case "scripted":
		// Dry-run provider for local testing without an API key.
		return scripted.New(scripted.Script{
			Deltas: []model.ChoiceDelta{
				{Delta: model.Delta{Content: "scripted provider is running"}},
				{FinishReason: "stop"},
			},
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}

// namedCloser pairs a tool provider with its shutdown step name.
type namedCloser struct {
	name   string
	closer interface{ Close() error }
}

func (n namedCloser) Close() error { return n.closer.Close() }

func buildRegistry(cfg *config.Config, log *slog.Logger) (*tool.Registry, []namedCloser, error) {
	registry := tool.NewRegistry(log)
	if err := registry.Register(localtool.NewBuiltins()); err != nil {
		return nil, nil, err
	}

	var closers []namedCloser
	for _, mc := range cfg.Tools.MCP {
		provider, err := mcptool.New(mcptool.Config{
			Name:    mc.Name,
			URL:     mc.URL,
			Command: mc.Command,
			Args:    mc.Args,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := registry.Register(provider); err != nil {
			return nil, nil, err
		}
		closers = append(closers, namedCloser{name: "mcp-" + mc.Name, closer: provider})
	}
	return registry, closers, nil
}

// buildAgents constructs every configured agent and, when delegation is
// declared, registers the delegates as tools.
func buildAgents(cfg *config.Config, provider model.Provider, registry *tool.Registry,
	log *slog.Logger, metrics *observability.Metrics) (map[string]*agent.Agent, error) {

	opts := []agent.Option{
		agent.WithMaxIterations(cfg.Loop.MaxIterations),
		agent.WithAgentLogger(log),
		agent.WithAgentMetrics(metrics),
	}
	if cfg.Loop.StopOnToolError {
		opts = append(opts, agent.WithStopOnToolError())
	}
	if len(cfg.Loop.ThoughtTags) > 0 {
		opts = append(opts, agent.WithThoughtTags(cfg.Loop.ThoughtTags))
	}

	agents := make(map[string]*agent.Agent, len(cfg.Agents))
	for _, ac := range cfg.Agents {
		agents[ac.ID] = agent.New(ac.ID, provider, registry, opts...)
	}

	delegates := agenttool.New()
	seen := make(map[string]bool)
	for _, ac := range cfg.Agents {
		for _, sub := range ac.SubAgents {
			if seen[sub] {
				continue
			}
			seen[sub] = true
			var addOpts []agenttool.AddOption
			for _, sc := range cfg.Agents {
				if sc.ID == sub {
					addOpts = append(addOpts, agenttool.WithSystemPrompt(sc.SystemPrompt))
				}
			}
			if err := delegates.Add(agents[sub], addOpts...); err != nil {
				return nil, err
			}
		}
	}
	if len(seen) > 0 {
		if err := registry.Register(delegates); err != nil {
			return nil, err
		}
	}
	return agents, nil
}

// watchConfig reloads the config file on change and applies the
// settings that can take effect without a restart.
func watchConfig(ctx context.Context, path string, log *slog.Logger, agents map[string]*agent.Agent) {
	err := config.Watch(ctx, path, log, func(cfg *config.Config) {
		for _, a := range agents {
			a.SetThoughtTags(cfg.Loop.ThoughtTags)
		}
		logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
		log.Info("config reloaded", "path", path)
	})
	if err != nil && ctx.Err() == nil {
		log.Error("config watch stopped", "error", err)
	}
}
