package app

import (
	"context"
	"errors"
	"fmt"

	"lineal/internal/config"
	"lineal/internal/repo"
)

// ResolveWorkspaceConfig loads the active measurement config for a
// workspace, seeding defaults if none exists yet. A lineal.yml in the
// workspace directory takes precedence and is written back to the DB so
// the stored copy tracks the file.
func ResolveWorkspaceConfig(ctx context.Context, dir, workspace string, r repo.Repo) (*config.Config, error) {
	if workspace == "" {
		workspace = "default"
	}
	if fileCfg, err := config.LoadOptional(dir); err == nil && fileCfg != nil {
		fileCfg.Workspace.Name = workspace
		if err := r.UpsertWorkspaceConfig(ctx, workspace, fileCfg); err != nil {
			return nil, fmt.Errorf("store workspace config: %w", err)
		}
		return fileCfg, nil
	} else if err != nil {
		return nil, err
	}
	cfg, err := r.GetWorkspaceConfig(ctx, workspace)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
		cfg = config.Default(workspace)
		if err := r.UpsertWorkspaceConfig(ctx, workspace, cfg); err != nil {
			return nil, fmt.Errorf("seed workspace config: %w", err)
		}
	}
	cfg.Workspace.Name = workspace
	return cfg, nil
}
