package profile

import (
	"context"
	"fmt"

	"github.com/nerrad567/fleet-bridge/internal/infrastructure/mqtt"
)

// SeedDefault stores cfg as the default profile named name when the store
// holds no profiles at all. It reports whether a profile was created.
func SeedDefault(ctx context.Context, repo Repository, name string, cfg mqtt.ConnectionConfig) (bool, error) {
	existing, err := repo.List(ctx)
	if err != nil {
		return false, err
	}
	if len(existing) > 0 || cfg.Host == "" {
		return false, nil
	}

	p := &Profile{Name: name, Config: cfg, IsDefault: true}
	if err := repo.Create(ctx, p); err != nil {
		return false, fmt.Errorf("seeding default profile: %w", err)
	}
	return true, nil
}
