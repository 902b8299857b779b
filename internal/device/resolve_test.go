package device

import (
	"context"
	"errors"
	"testing"
)

func TestTarget(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	dock := mustCreate(t, repo, Device{Name: "dock", SN: "DOCK1", Type: TypeDock})
	docked := mustCreate(t, repo, Device{Name: "docked", SN: "AC1", AirportSN: "DOCK1"})
	mustCreate(t, repo, Device{Name: "rc", SN: "RC1", Type: TypeRC})

	if _, err := Target(ctx, repo, RefCurrent); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("current before selection: error = %v, want ErrDeviceNotFound", err)
	}

	if err := repo.SetCurrent(ctx, docked.ID); err != nil {
		t.Fatalf("SetCurrent() error = %v", err)
	}
	if err := repo.SetGateway(ctx, dock.ID); err != nil {
		t.Fatalf("SetGateway() error = %v", err)
	}

	tests := []struct {
		name string
		ref  string
		want string
	}{
		{"aircraft by sn goes through dock", "AC1", "DOCK1"},
		{"aircraft by id goes through dock", docked.ID, "DOCK1"},
		{"device without airport", "RC1", "RC1"},
		{"unregistered passes through", "UNKNOWN9", "UNKNOWN9"},
		{"current alias", RefCurrent, "DOCK1"},
		{"gateway alias", RefGateway, "DOCK1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Target(ctx, repo, tt.ref)
			if err != nil {
				t.Fatalf("Target(%q) error = %v", tt.ref, err)
			}
			if got != tt.want {
				t.Errorf("Target(%q) = %q, want %q", tt.ref, got, tt.want)
			}
		})
	}

	if got, err := Target(ctx, nil, "AC1"); err != nil || got != "AC1" {
		t.Errorf("Target(nil repo) = %q, %v", got, err)
	}
}
