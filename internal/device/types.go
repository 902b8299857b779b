package device

import "time"

// Type is the kind of fleet device.
type Type string

// Device types.
const (
	TypeDrone Type = "drone"
	TypeDock  Type = "dock"
	TypeRC    Type = "rc"
)

// Status is the last known connectivity of a device.
type Status string

// Device statuses.
const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Device is a registered aircraft, dock or controller.
type Device struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	SN        string     `json:"sn"`
	Type      Type       `json:"type"`
	Status    Status     `json:"status"`
	AirportSN string     `json:"airportSn,omitempty"`
	LastSeen  *time.Time `json:"lastSeen,omitempty"`
	IsCurrent bool       `json:"isCurrent"`
	IsGateway bool       `json:"isGateway"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Update is a partial change to a device. Nil fields are left unchanged.
type Update struct {
	Name      *string `json:"name,omitempty"`
	SN        *string `json:"sn,omitempty"`
	Type      *Type   `json:"type,omitempty"`
	Status    *Status `json:"status,omitempty"`
	AirportSN *string `json:"airportSn,omitempty"`
}

func (u Update) empty() bool {
	return u.Name == nil && u.SN == nil && u.Type == nil && u.Status == nil && u.AirportSN == nil
}

// Selection is the operator's current device and gateway. Either may be
// nil when none is selected.
type Selection struct {
	Device  *Device `json:"device,omitempty"`
	Gateway *Device `json:"gateway,omitempty"`
}
