package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/rahul/stepwise/internal/agent"
	"github.com/rahul/stepwise/internal/gateway"
	"github.com/rahul/stepwise/internal/governance"
	"github.com/rahul/stepwise/internal/observability"
	"github.com/rahul/stepwise/internal/planning"
	"github.com/rahul/stepwise/internal/recorder"
	"github.com/rahul/stepwise/internal/store"
	"github.com/rahul/stepwise/internal/tools"
	"github.com/rahul/stepwise/pkg/config"
)

// app holds everything a command needs, built from config.
type app struct {
	cfg      *config.Config
	zap      *zap.Logger
	logger   *observability.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
	records  planning.Recorder
	sqlite   *store.SQLiteRecorder
	closers  []func()
}

func newApp(path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	z, err := observability.NewZap(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	a := &app{
		cfg:      cfg,
		zap:      z,
		logger:   observability.NewLogger(z).WithLLMLogPath(cfg.Logging.LLMPath),
		registry: reg,
		metrics:  observability.NewMetrics(reg),
	}
	a.closers = append(a.closers, func() { _ = z.Sync() })

	switch cfg.Memory.Type {
	case "sqlite":
		s, err := store.NewSQLiteRecorder(cfg.Memory.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open record store: %w", err)
		}
		a.sqlite = s
		a.records = s
		a.closers = append(a.closers, func() { _ = s.Close() })
	default:
		a.records = recorder.NewMemoryRecorder()
	}
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// newModel builds the chat model of the default enabled provider.
func (a *app) newModel() (llms.Model, error) {
	name, p := a.cfg.GetDefaultProvider()
	if name == "" {
		return nil, errors.New("no enabled provider found in config")
	}
	switch name {
	case "openai", "openrouter":
		opts := []openai.Option{
			openai.WithToken(p.APIKey),
			openai.WithModel(p.Model),
		}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		}
		return openai.New(opts...)
	default:
		return nil, fmt.Errorf("provider %s is not supported", name)
	}
}

func (a *app) newPolicy() (*governance.RuleEngine, error) {
	g := a.cfg.Governance
	engine, err := governance.NewRuleEngineFromConfig(g.DeniedTools, g.DeniedPatterns)
	if err != nil {
		return nil, err
	}
	// Destructive commands are always blocked.
	for _, p := range []string{`rm\s+-rf`, `mkfs`, `shutdown`, `reboot`} {
		_ = engine.DenyArguments(p)
	}
	for agentName, toolNames := range g.DeniedAgentTools {
		for _, t := range toolNames {
			engine.DenyToolForAgent(agentName, t)
		}
	}
	return engine, nil
}

// newFactory wires the LLM worker factory and the memory it shares.
func (a *app) newFactory(model llms.Model) (*agent.Factory, *agent.Memory, error) {
	policy, err := a.newPolicy()
	if err != nil {
		return nil, nil, err
	}
	browser := tools.NewBrowserSessions(a.cfg.Planner.BrowserHeadless, a.cfg.Planner.BrowserTimeout)
	memory := agent.NewMemory(a.cfg.Planner.MaxMemory)

	specs := make([]agent.Spec, 0, len(a.cfg.Agents))
	for _, ac := range a.cfg.Agents {
		specs = append(specs, agent.Spec{
			Name:        ac.Name,
			Description: ac.Description,
			Prompt:      ac.Prompt,
			Tools:       ac.Tools,
		})
	}

	f, err := agent.NewFactory(agent.FactoryConfig{
		Model:        model,
		Agents:       specs,
		Prompts:      agent.NewPromptManager(a.cfg.App.PromptsDir),
		Memory:       memory,
		Policy:       policy,
		Browser:      browser,
		Workspace:    a.cfg.App.Workspace,
		MaxSteps:     a.cfg.Planner.MaxSteps,
		ShellTimeout: a.cfg.Planner.ShellTimeout,
		Logger:       a.logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return f, memory, nil
}

func (a *app) newNotifier() (gateway.Notifier, error) {
	tg, ok := a.cfg.GetTelegramConfig()
	if !ok {
		return nil, nil
	}
	n, err := gateway.NewTelegramNotifier(tg.Token, tg.ChatID, a.zap)
	if err != nil {
		return nil, fmt.Errorf("failed to start telegram: %w", err)
	}
	a.closers = append(a.closers, func() { _ = n.Stop() })
	return n, nil
}

// serveMetrics exposes /metrics until ctx ends.
func (a *app) serveMetrics(ctx context.Context) {
	if !a.cfg.Metrics.Enabled {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.zap.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	a.zap.Info("serving metrics", zap.String("addr", a.cfg.Metrics.Addr))
}

// liveStatus redraws the status line every second until ctx ends.
func liveStatus(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for frame := 0; ; frame++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			observability.PrintLiveStatus(frame)
		}
	}
}
