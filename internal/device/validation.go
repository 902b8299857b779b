package device

import (
	"fmt"
	"strings"
)

const (
	maxNameLength = 100
	maxSNLength   = 64
)

// Validate checks d and fills the type and status defaults.
func (d *Device) Validate() error {
	d.Name = strings.TrimSpace(d.Name)
	d.SN = strings.TrimSpace(d.SN)
	d.AirportSN = strings.TrimSpace(d.AirportSN)
	if d.Type == "" {
		d.Type = TypeDrone
	}
	if d.Status == "" {
		d.Status = StatusOffline
	}

	if err := ValidateName(d.Name); err != nil {
		return err
	}
	if err := ValidateSN(d.SN); err != nil {
		return err
	}
	if d.AirportSN != "" {
		if err := ValidateSN(d.AirportSN); err != nil {
			return fmt.Errorf("airportSn: %w", err)
		}
		if d.AirportSN == d.SN {
			return fmt.Errorf("%w: airportSn must differ from sn", ErrInvalidDevice)
		}
	}
	switch d.Type {
	case TypeDrone, TypeDock, TypeRC:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidDevice, d.Type)
	}
	switch d.Status {
	case StatusOnline, StatusOffline:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidDevice, d.Status)
	}
	return nil
}

// ValidateName checks a device name: required, at most 100 characters.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDevice)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidDevice, maxNameLength)
	}
	return nil
}

// ValidateSN checks a serial number. It becomes one MQTT topic level, so
// separators and wildcards are rejected.
func ValidateSN(sn string) error {
	switch {
	case sn == "":
		return fmt.Errorf("%w: sn is required", ErrInvalidDevice)
	case len(sn) > maxSNLength:
		return fmt.Errorf("%w: sn exceeds %d characters", ErrInvalidDevice, maxSNLength)
	case strings.ContainsAny(sn, "/+# \t"):
		return fmt.Errorf("%w: sn %q is not a single topic level", ErrInvalidDevice, sn)
	}
	return nil
}
