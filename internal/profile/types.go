package profile

import (
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/fleet-bridge/internal/infrastructure/mqtt"
)

// maxNameLength bounds profile names.
const maxNameLength = 100

// Profile is a named broker connection config.
type Profile struct {
	ID        string                `json:"id"`
	Name      string                `json:"name"`
	Config    mqtt.ConnectionConfig `json:"config"`
	IsDefault bool                  `json:"isDefault"`
	CreatedAt time.Time             `json:"createdAt"`
	UpdatedAt time.Time             `json:"updatedAt"`
}

// Update is a partial change to a profile. Nil fields are left unchanged.
type Update struct {
	Name      *string                `json:"name,omitempty"`
	Config    *mqtt.ConnectionConfig `json:"config,omitempty"`
	IsDefault *bool                  `json:"isDefault,omitempty"`
}

// Validate checks the fields a profile must carry: a name and a config
// with protocol, host and port.
func (p *Profile) Validate() error {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProfile)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidProfile, maxNameLength)
	}
	return validateConfig(p.Config)
}

func validateConfig(cfg mqtt.ConnectionConfig) error {
	switch {
	case cfg.Protocol == "":
		return fmt.Errorf("%w: config.protocol is required", ErrInvalidProfile)
	case cfg.Host == "":
		return fmt.Errorf("%w: config.host is required", ErrInvalidProfile)
	case cfg.Port == 0:
		return fmt.Errorf("%w: config.port is required", ErrInvalidProfile)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	return nil
}

// Redacted returns a copy of p with the broker password masked.
func (p Profile) Redacted() Profile {
	p.Config = p.Config.Redacted()
	return p
}
