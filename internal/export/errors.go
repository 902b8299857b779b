package export

import "errors"

// ErrInvalidConfig is returned when an enabled sink is missing required settings.
var ErrInvalidConfig = errors.New("export: invalid sink configuration")
