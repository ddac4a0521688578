package store

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/netflix-shuffle/internal/config"
)

// Open creates the store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "memory":
		return NewMemory(), nil
	case "sqlite":
		return OpenSQLite(ctx, cfg.Path, cfg.PollInterval, logger)
	case "postgres":
		return OpenPostgres(ctx, cfg.URL, cfg.PollInterval, logger)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
