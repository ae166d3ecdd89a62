package cmd

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"

	"github.com/XuanZiK/V-knowledge/internal/backend"
	"github.com/XuanZiK/V-knowledge/internal/backend/connect"
	"github.com/XuanZiK/V-knowledge/internal/chunk"
	"github.com/XuanZiK/V-knowledge/internal/config"
	"github.com/XuanZiK/V-knowledge/internal/embed"
	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
	"github.com/XuanZiK/V-knowledge/internal/ingest"
	"github.com/XuanZiK/V-knowledge/internal/registry"
	"github.com/XuanZiK/V-knowledge/internal/search"
	"github.com/XuanZiK/V-knowledge/internal/store"
	"github.com/XuanZiK/V-knowledge/internal/telemetry"
)

// env is the loaded settings and data locations.
type env struct {
	settings     *config.Settings
	settingsPath string
	paths        config.Paths
	logger       *slog.Logger

	// savedDataDir is the data_dir value from the file, before --data-dir.
	savedDataDir string
}

// loadEnv reads settings and resolves the data directory.
func (o *rootOptions) loadEnv() (*env, error) {
	settings, path, err := config.Load(o.settingsPath)
	if err != nil {
		return nil, vkberrors.ConfigError("cannot load settings", err)
	}
	if o.settingsPath != "" {
		path = o.settingsPath
	}
	saved := settings.DataDir
	if o.dataDir != "" {
		settings.DataDir = o.dataDir
	}
	paths, err := settings.ResolvePaths()
	if err != nil {
		return nil, vkberrors.New(vkberrors.ErrCodeFilePermission, "cannot prepare data directory", err)
	}
	o.logger.Debug("settings_loaded",
		slog.String("settings", path),
		slog.String("data_dir", paths.DataDir),
		slog.String("mode", settings.Qdrant.Mode))
	return &env{settings: settings, settingsPath: path, paths: paths, logger: o.logger, savedDataDir: saved}, nil
}

// savePath is where settings edits are written.
func (e *env) savePath() string {
	if e.settingsPath != "" {
		return e.settingsPath
	}
	candidates := config.SettingsSearchPaths()
	return candidates[len(candidates)-1]
}

// models opens the model registry.
func (e *env) models() (*embed.ModelRegistry, error) {
	return embed.LoadModelRegistry(e.paths.ModelsFile(), e.logger)
}

// app wires every component used by the data commands.
type app struct {
	*env
	backend     backend.Backend
	models      *embed.ModelRegistry
	embedder    *embed.Provider
	store       *store.VectorStore
	reranker    *search.RerankProvider
	engine      *search.Engine
	chunker     *chunk.Chunker
	coordinator *ingest.Coordinator
	metrics     *telemetry.Store
}

// openApp connects the backend and builds the store, search engine and
// ingestion coordinator on top of it.
func (o *rootOptions) openApp(ctx context.Context) (*app, error) {
	e, err := o.loadEnv()
	if err != nil {
		return nil, err
	}
	models, err := e.models()
	if err != nil {
		return nil, err
	}

	be, err := connect.Open(ctx, e.settings, e.paths, e.logger)
	if err != nil {
		return nil, err
	}

	embedder := embed.NewProvider(models, embed.ProviderOptions{
		Factory: embed.FactoryConfigFromEnv(embed.FactoryConfig{
			OllamaHost: e.settings.Embedding.OllamaHost,
			Timeout:    e.settings.Embedding.Timeout(),
		}),
		CacheSize: e.settings.Embedding.CacheSize,
		Logger:    e.logger,
	})

	st, err := store.New(ctx, store.Options{
		Backend:  be,
		Registry: registry.New(e.paths.RegistryFile(), registry.WithLogger(e.logger)),
		Embedder: embedder,
		Logger:   e.logger,
	})
	if err != nil {
		_ = be.Close()
		return nil, err
	}

	reranker := search.NewRerankProvider(models, search.DefaultRerankerFactory(e.logger), e.logger)
	chunker := chunk.New()
	return &app{
		env:         e,
		backend:     be,
		models:      models,
		embedder:    embedder,
		store:       st,
		reranker:    reranker,
		engine:      search.NewEngine(st, reranker, e.logger),
		chunker:     chunker,
		coordinator: ingest.NewCoordinator(ingest.NewPipeline(chunker, st, e.logger), e.logger),
	}, nil
}

// vectorSize is the dimension new collections get: the active embedding
// model's, else store.DefaultVectorSize.
func (a *app) vectorSize() int {
	if d := a.embedder.Dimensions(); d > 0 {
		return d
	}
	return store.DefaultVectorSize
}

// openTelemetry opens the query metrics database in the data directory.
func (e *env) openTelemetry() (*telemetry.Store, error) {
	return telemetry.Open(filepath.Join(e.paths.DataDir, telemetry.FileName), e.logger)
}

// searcher returns the search engine, recording queries when the metrics
// database opens.
func (a *app) searcher() telemetry.Searcher {
	if a.metrics == nil {
		m, err := a.openTelemetry()
		if err != nil {
			a.logger.Warn("telemetry_unavailable", slog.String("error", err.Error()))
			return a.engine
		}
		a.metrics = m
	}
	return telemetry.Instrument(a.engine, a.metrics, a.logger)
}

// Close stops running jobs and releases models and the backend.
func (a *app) Close() error {
	a.coordinator.CancelAll()
	errs := []error{a.reranker.Close(), a.embedder.Close(), a.store.Close()}
	if a.metrics != nil {
		errs = append(errs, a.metrics.Close())
	}
	return errors.Join(errs...)
}
