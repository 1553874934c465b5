package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/namegraph/internal/config"
	"github.com/roach88/namegraph/internal/manifest"
	"github.com/roach88/namegraph/internal/store"
)

// session is the configuration, manifest and open database a command works
// against.
type session struct {
	cfg      config.Config
	manifest *manifest.Manifest
	db       *store.DB
	logger   *slog.Logger
}

func openSession(opts *RootOptions, cmd *cobra.Command) (*session, error) {
	cfg, err := opts.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger := opts.Logger(cmd.ErrOrStderr())

	m, err := loadManifest(cfg.Manifest)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load manifest", err)
	}

	logger.Debug("opening database", "path", cfg.DB, "row_cache", cfg.Cache.Rows)
	db, err := store.Open(cfg.DB, store.WithRowCache(cfg.Cache.Rows))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	return &session{cfg: cfg, manifest: m, db: db, logger: logger}, nil
}

func (s *session) Close() {
	if err := s.db.Close(); err != nil {
		s.logger.Error("error closing database", "error", err)
	}
}

func loadManifest(path string) (*manifest.Manifest, error) {
	if path == "" {
		return manifest.Default()
	}
	return manifest.Load(path)
}
