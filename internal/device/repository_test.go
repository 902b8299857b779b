package device

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/nerrad567/fleet-bridge/internal/infrastructure/database"
	"github.com/nerrad567/fleet-bridge/migrations"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "devices.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup

	if err := db.Migrate(context.Background(), migrations.FS, migrations.Dir); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func mustCreate(t *testing.T, repo *SQLiteRepository, d Device) *Device {
	t.Helper()
	if err := repo.Create(context.Background(), &d); err != nil {
		t.Fatalf("Create(%s) error = %v", d.SN, err)
	}
	return &d
}

func TestCreate_Defaults(t *testing.T) {
	repo := newTestRepo(t)
	d := mustCreate(t, repo, Device{Name: " M30 ", SN: "1581F5BKD22", IsCurrent: true})

	if d.ID == "" || d.CreatedAt.IsZero() {
		t.Fatalf("ID/CreatedAt not set: %+v", d)
	}
	got, err := repo.Get(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Name != "M30" || got.Type != TypeDrone || got.Status != StatusOffline {
		t.Errorf("got = %+v, want trimmed name and defaults", got)
	}
	if got.IsCurrent {
		t.Error("Create must not select the device")
	}
}

func TestCreate_Rejects(t *testing.T) {
	repo := newTestRepo(t)
	mustCreate(t, repo, Device{Name: "dock", SN: "DOCK1", Type: TypeDock})

	tests := []struct {
		name string
		d    Device
		want error
	}{
		{"duplicate sn", Device{Name: "again", SN: "DOCK1"}, ErrDeviceExists},
		{"missing name", Device{SN: "SN2"}, ErrInvalidDevice},
		{"missing sn", Device{Name: "x"}, ErrInvalidDevice},
		{"wildcard sn", Device{Name: "x", SN: "SN/+"}, ErrInvalidDevice},
		{"own airport", Device{Name: "x", SN: "SN3", AirportSN: "SN3"}, ErrInvalidDevice},
		{"unknown type", Device{Name: "x", SN: "SN4", Type: "boat"}, ErrInvalidDevice},
		{"unknown status", Device{Name: "x", SN: "SN5", Status: "busy"}, ErrInvalidDevice},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := tt.d
			if err := repo.Create(context.Background(), &d); !errors.Is(err, tt.want) {
				t.Errorf("Create() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestUpdate(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	mustCreate(t, repo, Device{Name: "dock", SN: "DOCK1", Type: TypeDock})
	d := mustCreate(t, repo, Device{Name: "aircraft", SN: "AC1"})

	airport := "DOCK1"
	online := StatusOnline
	got, err := repo.Update(ctx, d.ID, Update{AirportSN: &airport, Status: &online})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.AirportSN != "DOCK1" || got.Status != StatusOnline || got.Name != "aircraft" {
		t.Errorf("Update() = %+v", got)
	}

	taken := "DOCK1"
	if _, err := repo.Update(ctx, d.ID, Update{SN: &taken}); !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("sn equal to airport: error = %v, want ErrInvalidDevice", err)
	}
	airport = ""
	if _, err := repo.Update(ctx, d.ID, Update{SN: &taken, AirportSN: &airport}); !errors.Is(err, ErrDeviceExists) {
		t.Errorf("duplicate sn: error = %v, want ErrDeviceExists", err)
	}
	if _, err := repo.Update(ctx, d.ID, Update{}); !errors.Is(err, ErrNoChanges) {
		t.Errorf("empty update: error = %v, want ErrNoChanges", err)
	}
	if _, err := repo.Update(ctx, "missing", Update{AirportSN: &airport}); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("missing: error = %v, want ErrDeviceNotFound", err)
	}
}

func TestSelection(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	sel, err := repo.Selection(ctx)
	if err != nil || sel.Device != nil || sel.Gateway != nil {
		t.Fatalf("empty Selection() = %+v, %v", sel, err)
	}

	a := mustCreate(t, repo, Device{Name: "a", SN: "A"})
	b := mustCreate(t, repo, Device{Name: "b", SN: "B"})
	dock := mustCreate(t, repo, Device{Name: "dock", SN: "DOCK1", Type: TypeDock})

	for _, id := range []string{a.ID, b.ID} {
		if err := repo.SetCurrent(ctx, id); err != nil {
			t.Fatalf("SetCurrent() error = %v", err)
		}
	}
	if err := repo.SetGateway(ctx, dock.ID); err != nil {
		t.Fatalf("SetGateway() error = %v", err)
	}

	sel, err = repo.Selection(ctx)
	if err != nil {
		t.Fatalf("Selection() error = %v", err)
	}
	if sel.Device == nil || sel.Device.ID != b.ID {
		t.Errorf("current = %+v, want %s", sel.Device, b.ID)
	}
	if sel.Gateway == nil || sel.Gateway.SN != "DOCK1" {
		t.Errorf("gateway = %+v, want DOCK1", sel.Gateway)
	}

	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 3 || list[0].ID != b.ID {
		t.Errorf("List() first = %+v, want current device first", list[0])
	}

	if err := repo.SetCurrent(ctx, "missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("SetCurrent(missing) error = %v, want ErrDeviceNotFound", err)
	}
	sel, _ = repo.Selection(ctx) //nolint:errcheck // checked above
	if sel.Device == nil || sel.Device.ID != b.ID {
		t.Error("failed SetCurrent must keep the previous selection")
	}
}

func TestDeleteAndClear(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	a := mustCreate(t, repo, Device{Name: "a", SN: "A"})
	mustCreate(t, repo, Device{Name: "b", SN: "B"})

	if err := repo.Delete(ctx, a.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := repo.Delete(ctx, a.ID); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("second Delete() error = %v, want ErrDeviceNotFound", err)
	}

	n, err := repo.Clear(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Clear() = %d, %v, want 1", n, err)
	}
	if list, _ := repo.List(ctx); len(list) != 0 { //nolint:errcheck // empty on error
		t.Errorf("List() after Clear = %d devices", len(list))
	}
}
