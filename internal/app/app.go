// Package app wires configuration into the running services shared by the
// binaries under cmd/.
package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/actasearch/internal/ai"
	"github.com/seanblong/actasearch/internal/config"
	"github.com/seanblong/actasearch/internal/incident"
	"github.com/seanblong/actasearch/internal/store"
	"github.com/seanblong/actasearch/internal/store/memory"
)

// App holds the long-lived dependencies of a process.
type App struct {
	Config    config.Specification
	Client    ai.Client
	Store     store.IncidentStore
	Incidents *incident.Service
}

// NewLogger builds the root logger and installs it as the global one used
// by library packages.
func NewLogger(level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	logger := zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
	log.Logger = logger
	return logger, nil
}

// ClientConfig maps the provider settings onto an ai.ClientConfig.
func ClientConfig(cfg config.Specification) (*ai.ClientConfig, error) {
	cc := &ai.ClientConfig{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		EmbedModel: cfg.EmbedModel,
		ChatModel:  cfg.ChatModel,
		Dim:        cfg.Dim,
		ProjectID:  cfg.ProjectID,
		Location:   cfg.Location,
		Timeout:    cfg.ProviderTimeout,
	}
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		cc.Provider = ai.ProviderOpenAI
	case "vertexai", "google":
		cc.Provider = ai.ProviderVertexAI
	case "stub":
		cc.Provider = ai.ProviderStub
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
	return cc, nil
}

// OpenStore connects the configured backend. The dimension is applied later
// by Migrate, once the client is known.
func OpenStore(ctx context.Context, cfg config.Specification) (store.IncidentStore, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return memory.New(), nil
	case config.StorePostgres, "":
		st, err := store.New(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		return st, nil
	}
	return nil, fmt.Errorf("unsupported store: %s", cfg.Store)
}

// New builds the client, opens and migrates the store, and loads the
// record cache.
func New(ctx context.Context, cfg config.Specification) (*App, error) {
	cc, err := ClientConfig(cfg)
	if err != nil {
		return nil, err
	}
	client, err := ai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create AI client: %w", err)
	}
	dim := client.Dim()
	log.Info().
		Str("provider", string(cc.Provider)).
		Str("embed_model", cc.EmbedModel).
		Str("chat_model", cc.ChatModel).
		Int("embedding_dim", dim).
		Msg("AI client initialized")

	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx, dim); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	svc := incident.NewService(st, client, incident.Options{
		ChunkSize:    cfg.ChunkSize,
		ChunkOverlap: cfg.ChunkOverlap,
		EmbedWorkers: cfg.EmbedWorkers,
	})
	if err := svc.Load(ctx); err != nil {
		st.Close()
		return nil, err
	}

	return &App{Config: cfg, Client: client, Store: st, Incidents: svc}, nil
}

func (a *App) Close() {
	a.Store.Close()
}
