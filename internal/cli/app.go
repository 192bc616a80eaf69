package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MadnessEngineering/whispermind-conduit/internal/agent"
	"github.com/MadnessEngineering/whispermind-conduit/internal/api"
	"github.com/MadnessEngineering/whispermind-conduit/internal/bus"
	"github.com/MadnessEngineering/whispermind-conduit/internal/config"
	"github.com/MadnessEngineering/whispermind-conduit/internal/conversation"
	"github.com/MadnessEngineering/whispermind-conduit/internal/gateway"
	"github.com/MadnessEngineering/whispermind-conduit/internal/inference"
	"github.com/MadnessEngineering/whispermind-conduit/internal/kv"
	"github.com/MadnessEngineering/whispermind-conduit/internal/provider"
	"github.com/MadnessEngineering/whispermind-conduit/internal/status"
	"github.com/MadnessEngineering/whispermind-conduit/internal/tools"
)

// app is a fully wired relay.
type app struct {
	cfg      *config.Config
	bus      bus.Bus
	store    kv.Store
	channels bus.Channels
	service  *gateway.Service
	api      *api.Server
}

func openStore(cfg *config.Config) (kv.Store, error) {
	return kv.Open(kv.Options{
		Driver:        cfg.Store.Driver,
		Path:          cfg.Store.Path,
		RedisAddr:     cfg.Store.RedisAddr,
		RedisPassword: cfg.Store.RedisPassword,
		RedisDB:       cfg.Store.RedisDB,
	})
}

// buildApp wires store, bus, provider, tools, orchestrator and service.
// When b is nil the configured bus is opened.
func buildApp(ctx context.Context, cfg *config.Config, b bus.Bus) (*app, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if b == nil {
		b, err = bus.Open(ctx, cfg.Bus)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("connect bus: %w", err)
		}
	}
	prov, err := provider.Resolve(cfg.Model)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("provider: %w", err), b.Close(), store.Close())
	}

	history := conversation.NewStore(store)
	registry := tools.NewRegistry(
		tools.NewFileInspectorTool(cfg.Tools.FileRoot, cfg.Tools.PreviewChars),
		tools.NewSystemSnapshotTool(),
		tools.NewCalculatorTool(),
		tools.NewConversationHistoryTool(history),
	)
	backend := inference.New(prov, registry, inference.Options{
		MaxRounds: cfg.Model.MaxRounds,
		Timeout:   cfg.Model.Timeout,
	})

	channels := bus.ChannelsFromConfig(cfg.Bus)
	activity := gateway.NewActivity(b, channels.Activity, store, cfg.Store.ActivityStream, cfg.Store.ActivityMaxLen)
	orch := agent.New(backend, agent.NewContextBuilder(cfg.Model.SystemPrompt, history, cfg.Service.HistoryTurns), activity)

	svc := gateway.NewService(gateway.Deps{
		Bus:       b,
		Store:     store,
		Processor: orch,
		Backend:   backend,
		Status: status.Options{
			Service: cfg.Service.Name,
			Version: version,
			Model:   backend.Model(),
			Key:     cfg.Store.StatusKey,
			Capabilities: status.Capabilities{
				Agentic:        true,
				Tools:          backend.ToolNames(),
				History:        true,
				ActivityStream: true,
			},
		},
	}, gateway.Options{
		Channels:          channels,
		MaxConcurrent:     cfg.Service.MaxConcurrent,
		ShutdownTimeout:   cfg.Service.ShutdownTimeout,
		HeartbeatInterval: cfg.Service.HeartbeatInterval,
	})

	a := &app{cfg: cfg, bus: b, store: store, channels: channels, service: svc}
	if cfg.API.Enabled {
		a.api = api.NewServer(api.Deps{
			Requests:        svc,
			History:         svc.History(),
			Sessions:        svc.Sessions(),
			Status:          svc.Reporter(),
			Bus:             b,
			ActivityChannel: channels.Activity,
		})
	}
	slog.Debug("Relay wired", "bus", cfg.Bus.Driver, "store", cfg.Store.Driver, "provider", cfg.Model.Provider, "tools", registry.Names())
	return a, nil
}
