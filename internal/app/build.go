package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/harshmpotenz/SideBar/internal/chat"
	"github.com/harshmpotenz/SideBar/internal/clickup"
	"github.com/harshmpotenz/SideBar/internal/config"
	"github.com/harshmpotenz/SideBar/internal/httpapi"
	"github.com/harshmpotenz/SideBar/internal/identity"
	"github.com/harshmpotenz/SideBar/internal/observability"
	"github.com/harshmpotenz/SideBar/internal/panel"
	"github.com/harshmpotenz/SideBar/internal/relay"
	"github.com/harshmpotenz/SideBar/internal/taskfetch"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Identity identity.Service
	// IdentityClient is set in gotrue mode; its Run loop keeps the session fresh.
	IdentityClient *identity.Client
	Registry       *panel.Registry
	Metrics        *observability.Metrics
	ChatStore      chat.Store

	// Cleanup should be called on shutdown to release external resources (DB, subscriptions).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	svc, client := NewIdentity(cfg, logger)
	unsubscribe := svc.SubscribeToChanges(func(event identity.Event, _ *identity.Session) {
		metrics.ObserveIdentityEvent(string(event))
	})

	chatStore, err := chat.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		unsubscribe()
		return nil, fmt.Errorf("chat store init failed: %w", err)
	}

	tasks := clickup.NewClient(cfg.ClickUpAPIURL, &http.Client{Timeout: cfg.TaskRequestTimeout})
	fetcher, err := NewFetcher(cfg, tasks)
	if err != nil {
		unsubscribe()
		_ = chatStore.Close()
		return nil, err
	}

	registry := panel.NewRegistry(cfg.PanelIdleTimeout)
	registry.SetExpireHook(func(info panel.Info) {
		metrics.PanelEvents.WithLabelValues("expired").Inc()
		logger.Info("panel expired", "panel_id", info.ID, "idle_since", info.LastActivityAt)
	})

	runtime := panel.NewRuntime(panel.Config{
		Identity:      svc,
		Fetcher:       fetcher,
		Chat:          chatStore,
		Registry:      registry,
		Metrics:       metrics,
		OAuthProvider: cfg.OAuthProvider,
		RedirectURL:   cfg.RedirectURL,
		FetchTimeout:  cfg.TaskRequestTimeout,
		Logger:        logger,
	})

	rel := relay.New(relay.Config{
		Users:    svc,
		Tasks:    tasks,
		Token:    cfg.ClickUpAPIToken,
		Observer: metrics,
		Logger:   logger,
	})
	if strings.TrimSpace(cfg.ClickUpAPIToken) == "" {
		logger.Warn("CLICKUP_API_TOKEN is not set; the task relay will answer 503")
	}

	api := httpapi.New(cfg, httpapi.Deps{
		Identity: svc,
		Panels:   runtime,
		Registry: registry,
		Relay:    rel,
		Metrics:  metrics,
		Logger:   logger,
	})

	cleanup := func() error {
		unsubscribe()
		var errs []string
		if err := chatStore.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:         cfg,
		API:            api,
		Identity:       svc,
		IdentityClient: client,
		Registry:       registry,
		Metrics:        metrics,
		ChatStore:      chatStore,
		Cleanup:        cleanup,
	}, nil
}

// NewIdentity returns the identity service for cfg.IdentityMode. The client
// is nil in memory mode.
func NewIdentity(cfg config.Config, logger *slog.Logger) (identity.Service, *identity.Client) {
	if cfg.IdentityMode == "memory" {
		return identity.NewMemoryService(), nil
	}
	client := identity.NewClient(identity.ClientConfig{
		BaseURL: cfg.IdentityURL,
		AnonKey: cfg.IdentityAnonKey,
		Store:   identity.NewFileStore(cfg.IdentitySessionFile),
		Logger:  logger,
	})
	return client, client
}

// NewFetcher picks how panels load task data.
func NewFetcher(cfg config.Config, tasks *clickup.Client) (taskfetch.Fetcher, error) {
	switch cfg.TaskFetchMode {
	case "relay", "":
		return taskfetch.NewRelayFetcher(cfg.TaskRelayURL, &http.Client{Timeout: cfg.TaskRequestTimeout}), nil
	case "direct":
		return taskfetch.NewDirectFetcher(tasks), nil
	default:
		return nil, fmt.Errorf("unknown task fetch mode %q", cfg.TaskFetchMode)
	}
}
