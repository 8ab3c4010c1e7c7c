// Package novaport is the public API for embedding the NovaPort workspace
// memory server.
//
// NovaPort keeps a per-project memory (product and active context,
// decisions, progress, system patterns, custom data) inside each project
// directory and serves it to agents over the Model Context Protocol:
//
//	app, err := novaport.New(
//	    novaport.WithVersion(version),
//	    novaport.WithLogger(logger),
//	)
//	if err != nil { ... }
//	defer app.Close(context.Background())
//	if err := app.Run(ctx); err != nil { ... }
//
// Run serves stdio by default. WithHTTPAddr (or NOVAPORT_HTTP_ADDR) switches
// to the streamable HTTP transport.
package novaport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/novaport/internal/config"
	"github.com/ashita-ai/novaport/internal/mcp"
	"github.com/ashita-ai/novaport/internal/search"
	"github.com/ashita-ai/novaport/internal/server"
	"github.com/ashita-ai/novaport/internal/service/contexts"
	"github.com/ashita-ai/novaport/internal/service/embedding"
	"github.com/ashita-ai/novaport/internal/service/items"
	"github.com/ashita-ai/novaport/internal/storage"
	"github.com/ashita-ai/novaport/internal/telemetry"
	"github.com/ashita-ai/novaport/internal/workspace"
)

// App is the NovaPort server lifecycle. Construct with New(), run with Run().
type App struct {
	cfg          config.Config
	registry     *workspace.Registry
	qdrant       *search.QdrantBackend // nil with the local vector backend
	mcp          *mcp.Server
	srv          *server.Server // nil in stdio mode
	otelShutdown telemetry.Shutdown
	stdin        io.Reader
	stdout       io.Writer
	logger       *slog.Logger
	version      string
}

// WorkspaceInfo describes a provisioned workspace.
type WorkspaceInfo struct {
	Path          string `json:"path"`
	DataDir       string `json:"data_dir"`
	DBPath        string `json:"db_path"`
	VectorDir     string `json:"vector_dir"`
	SchemaVersion int    `json:"schema_version"`
}

// New loads configuration, applies options and wires every subsystem.
// Workspaces are provisioned lazily, so New touches no project directory.
// It does NOT accept connections: call Run.
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.httpAddr != nil {
		cfg.HTTPAddr = *o.httpAddr
	}
	if o.dataDirName != "" {
		cfg.DataDirName = o.dataDirName
	}
	if o.embeddingProvider != nil {
		cfg.EmbeddingDimensions = o.embeddingProvider.Dimensions()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	transport := "stdio"
	if cfg.HTTPAddr != "" {
		transport = "http"
	}
	logger.Info("novaport starting",
		"version", version,
		"transport", transport,
		"db_driver", cfg.DBDriver,
		"vector_backend", cfg.VectorBackend,
	)

	otelShutdown, err := telemetry.Init(context.Background(), telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		Insecure:    cfg.OTELInsecure,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Transport:   transport,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	wsCfg := workspace.Config{
		DataDirName:      cfg.DataDirName,
		Dialect:          cfg.DBDriver,
		PostgresDSN:      cfg.PostgresDSN,
		MaxOpenConns:     cfg.DBMaxOpenConns,
		ProvisionTimeout: cfg.ProvisionTimeout,
		Release: search.ReleaseOptions{
			Attempts: cfg.ReleaseAttempts,
			Delay:    cfg.ReleaseDelay,
			GCDelay:  cfg.ReleaseGCDelay,
		},
		EmbeddingDims: cfg.EmbeddingDimensions,
	}

	var qdrantBackend *search.QdrantBackend
	if cfg.VectorBackend == "qdrant" {
		qdrantBackend, err = search.NewQdrantBackend(search.QdrantConfig{
			URL:              cfg.QdrantURL,
			APIKey:           cfg.QdrantAPIKey,
			CollectionPrefix: cfg.QdrantCollectionPrefix,
			Dims:             uint64(cfg.EmbeddingDimensions), //nolint:gosec // validated positive in config.Validate
		}, logger)
		if err != nil {
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("qdrant: %w", err)
		}
		wsCfg.OpenIndex = search.QdrantOpener(qdrantBackend)
		logger.Info("qdrant: enabled", "url", cfg.QdrantURL, "collection_prefix", cfg.QdrantCollectionPrefix)
	}

	registry := workspace.New(wsCfg, logger)

	// External override takes priority over the configured provider.
	factory := newEmbeddingFactory(cfg, logger)
	if o.embeddingProvider != nil {
		factory = embedding.Static(providerAdapter{o.embeddingProvider})
	}
	var embedder search.Embedder
	if factory != nil {
		embedder = embedding.NewHolder(factory, cfg.EmbeddingDimensions, logger)
	} else {
		logger.Info("embedding provider: noop (semantic search disabled)")
	}

	mcpSrv := mcp.New(
		contexts.New(registry, logger),
		items.New(registry, embedder, logger),
		logger,
		version,
	)

	a := &App{
		cfg:          cfg,
		registry:     registry,
		qdrant:       qdrantBackend,
		mcp:          mcpSrv,
		otelShutdown: otelShutdown,
		stdin:        o.stdin,
		stdout:       o.stdout,
		logger:       logger,
		version:      version,
	}
	if a.stdin == nil {
		a.stdin = os.Stdin
	}
	if a.stdout == nil {
		a.stdout = os.Stdout
	}

	if cfg.HTTPAddr != "" {
		sc := server.Config{
			MCPServer:    mcpSrv.MCPServer(),
			Registry:     registry,
			Logger:       logger,
			Addr:         cfg.HTTPAddr,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			Version:      version,
		}
		if qdrantBackend != nil {
			sc.VectorStore = qdrantBackend
		}
		a.srv = server.New(sc)
	}
	return a, nil
}

// Run serves MCP clients until ctx is cancelled, the stdio input closes, or
// the HTTP server fails. Open workspaces stay cached; call Close to release
// them.
func (a *App) Run(ctx context.Context) error {
	if a.srv == nil {
		a.logger.Info("mcp: serving stdio")
		err := a.mcp.ServeStdio(ctx, a.stdin, a.stdout)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
			return fmt.Errorf("mcp stdio: %w", err)
		}
		return nil
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.srv.Start()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	return nil
}

// Provision creates and migrates the workspace for id if needed and reports
// its layout.
func (a *App) Provision(ctx context.Context, id string) (WorkspaceInfo, error) {
	ws, err := a.registry.Acquire(ctx, id)
	if err != nil {
		return WorkspaceInfo{}, err
	}
	p := ws.Paths()
	return WorkspaceInfo{
		Path:          p.Root,
		DataDir:       p.DataDir,
		DBPath:        dbLocation(a.cfg.DBDriver, p),
		VectorDir:     p.VectorDir,
		SchemaVersion: ws.DB().SchemaVersion(),
	}, nil
}

// Release closes the handles of one workspace. A later call provisions it
// again.
func (a *App) Release(ctx context.Context, id string) error {
	return a.registry.Cleanup(ctx, id)
}

// Close releases every workspace, the vector backend and telemetry.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if err := a.registry.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.qdrant != nil {
		if err := a.qdrant.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.otelShutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	a.logger.Info("novaport stopped")
	return errors.Join(errs...)
}

func dbLocation(d storage.Dialect, p workspace.Paths) string {
	if d == storage.DialectPostgres {
		return "postgres schema " + storage.SchemaName(p.Root)
	}
	return p.DBPath
}

// newEmbeddingFactory selects the embedding provider from configuration.
// Provider selection: "ollama", "openai", "hash", "noop", or "auto" (default).
// Auto mode tries Ollama if reachable, then OpenAI if a key is present, else
// the local hash embedder. The choice is made on first use, not at startup.
// A nil factory disables embeddings.
func newEmbeddingFactory(cfg config.Config, logger *slog.Logger) embedding.Factory {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "openai":
		return func(context.Context) (embedding.Provider, error) {
			logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel, "dimensions", dims)
			return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
		}

	case "ollama":
		return func(ctx context.Context) (embedding.Provider, error) {
			if !embedding.Reachable(ctx, cfg.OllamaURL) {
				return nil, fmt.Errorf("ollama not reachable at %s", cfg.OllamaURL)
			}
			logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
			return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims), nil
		}

	case "hash":
		return embedding.Static(embedding.NewHashProvider(dims))

	case "noop":
		return nil

	default:
		return func(ctx context.Context) (embedding.Provider, error) {
			if embedding.Reachable(ctx, cfg.OllamaURL) {
				logger.Info("embedding provider: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
				return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims), nil
			}
			if cfg.OpenAIAPIKey != "" {
				logger.Info("embedding provider: openai (auto-detected)", "model", cfg.EmbeddingModel, "dimensions", dims)
				return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
			}
			logger.Warn("no embedding service available, using local hash embeddings")
			return embedding.NewHashProvider(dims), nil
		}
	}
}

// providerAdapter converts a public EmbeddingProvider to the internal one.
type providerAdapter struct {
	p EmbeddingProvider
}

func (a providerAdapter) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	v, err := a.p.Embed(ctx, text)
	if err != nil {
		return pgvector.Vector{}, err
	}
	return pgvector.NewVector(v), nil
}

func (a providerAdapter) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	vs, err := a.p.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	out := make([]pgvector.Vector, len(vs))
	for i, v := range vs {
		out[i] = pgvector.NewVector(v)
	}
	return out, nil
}

func (a providerAdapter) Dimensions() int {
	return a.p.Dimensions()
}
