// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/ManuGH/streamkeeper/internal/config"
	"github.com/ManuGH/streamkeeper/internal/log"
)

// PerformStartupChecks validates the environment before the server starts.
func PerformStartupChecks(_ context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running pre-flight startup checks")

	if cfg.Diagnostics.DumpPath != "" {
		if err := checkWritableDir(logger, filepath.Dir(cfg.Diagnostics.DumpPath)); err != nil {
			return fmt.Errorf("diagnostics dump directory check failed: %w", err)
		}
	}

	if cfg.Extractor.BaseURL == "" {
		logger.Warn().Msg("extractor URL not configured; resolve requests will fail")
	}
	if cfg.Server.APIToken == "" {
		logger.Warn().Msg("API token not configured; control surface is unauthenticated")
	}

	logger.Info().Msg("all startup checks passed")
	return nil
}

func checkWritableDir(logger zerolog.Logger, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory does not exist: %s", path)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	f, err := os.CreateTemp(path, ".write_test")
	if err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)

	logger.Info().Str("path", path).Msg("directory is writable")
	return nil
}
