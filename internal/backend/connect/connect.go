// Package connect opens the Backend selected by settings.
package connect

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/XuanZiK/V-knowledge/internal/backend"
	"github.com/XuanZiK/V-knowledge/internal/backend/local"
	"github.com/XuanZiK/V-knowledge/internal/backend/qdrant"
	"github.com/XuanZiK/V-knowledge/internal/config"
	"github.com/XuanZiK/V-knowledge/internal/logging"
)

// Open returns the embedded backend under paths.StorageDir() in local mode,
// or a Qdrant REST client in server mode.
func Open(ctx context.Context, settings *config.Settings, paths config.Paths, logger *slog.Logger) (backend.Backend, error) {
	logger = logging.OrDiscard(logger)

	switch settings.Qdrant.Mode {
	case config.ModeServer:
		url := fmt.Sprintf("http://%s:%d", settings.Qdrant.Host, settings.Qdrant.Port)
		logger.Info("backend_open", slog.String("mode", config.ModeServer), slog.String("url", url))
		return qdrant.New(ctx, qdrant.Config{
			URL:     url,
			APIKey:  settings.Qdrant.APIKey,
			Timeout: time.Duration(settings.Qdrant.TimeoutSeconds) * time.Second,
			Logger:  logger,
		})
	default:
		logger.Info("backend_open", slog.String("mode", config.ModeLocal), slog.String("path", paths.StorageDir()))
		return local.Open(paths.StorageDir(), local.Options{Logger: logger})
	}
}
