package app

import (
	"context"
	"time"

	"missionboard/internal/config"
	"missionboard/internal/repo"
)

// EnsureOrg seeds the configured organization so boards, gateways, and tags
// always have an owner, even on a fresh workspace.
func EnsureOrg(ctx context.Context, r repo.Repo, cfg *config.Config) error {
	name := cfg.Org.Name
	if name == "" {
		name = cfg.Org.ID
	}
	now := time.Now().UTC().Format(time.RFC3339)
	return r.EnsureOrg(ctx, nil, cfg.Org.ID, name, now)
}
