package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/fleet-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/fleet-bridge/internal/profile"
)

// ConfigResolver turns a connect command into the config to dial.
type ConfigResolver interface {
	Resolve(ctx context.Context, cmd ConnectCommand) (mqtt.ConnectionConfig, error)
}

// ProfileLookup is the part of the profile store the resolver needs.
type ProfileLookup interface {
	Get(ctx context.Context, id string) (*profile.Profile, error)
	GetDefault(ctx context.Context) (*profile.Profile, error)
}

// ProfileResolver picks, in order: the command's explicit config, the named
// profile, the default profile, then Fallback.
type ProfileResolver struct {
	Profiles ProfileLookup
	Fallback mqtt.ConnectionConfig
}

// Resolve implements ConfigResolver.
func (r ProfileResolver) Resolve(ctx context.Context, cmd ConnectCommand) (mqtt.ConnectionConfig, error) {
	if cmd.Config != nil {
		return *cmd.Config, nil
	}

	if r.Profiles != nil {
		if cmd.ProfileID != "" {
			p, err := r.Profiles.Get(ctx, cmd.ProfileID)
			if err != nil {
				return mqtt.ConnectionConfig{}, fmt.Errorf("loading profile %s: %w", cmd.ProfileID, err)
			}
			return p.Config, nil
		}

		p, err := r.Profiles.GetDefault(ctx)
		switch {
		case err == nil:
			return p.Config, nil
		case !errors.Is(err, profile.ErrNoDefault):
			return mqtt.ConnectionConfig{}, fmt.Errorf("loading default profile: %w", err)
		}
	}

	if r.Fallback.Host == "" {
		return mqtt.ConnectionConfig{}, fmt.Errorf("%w: no config, profile or default broker", ErrInvalidCommand)
	}
	return r.Fallback, nil
}
