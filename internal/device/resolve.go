package device

import (
	"context"
	"errors"
	"fmt"
)

// Aliases Target accepts in place of a device ID or serial number.
const (
	RefCurrent = "current"
	RefGateway = "gateway"
)

// Target returns the serial number service calls for ref are sent to.
//
// ref is a device ID, a serial number or one of the aliases. A registered
// aircraft with an airport serial is reached through that dock; any other
// registered device through its own serial. An unregistered ref is used
// as-is, so devices need not be registered to be addressed. The aliases
// return ErrDeviceNotFound when nothing is selected.
func Target(ctx context.Context, repo Repository, ref string) (string, error) {
	if repo == nil {
		return ref, nil
	}

	var d *Device
	switch ref {
	case RefCurrent, RefGateway:
		sel, err := repo.Selection(ctx)
		if err != nil {
			return "", err
		}
		d = sel.Device
		if ref == RefGateway {
			d = sel.Gateway
		}
		if d == nil {
			return "", fmt.Errorf("%w: no %s device selected", ErrDeviceNotFound, ref)
		}
		if ref == RefGateway {
			return d.SN, nil
		}
	default:
		var err error
		d, err = repo.Lookup(ctx, ref)
		if errors.Is(err, ErrDeviceNotFound) {
			return ref, nil
		}
		if err != nil {
			return "", err
		}
	}

	if d.AirportSN != "" {
		return d.AirportSN, nil
	}
	return d.SN, nil
}
