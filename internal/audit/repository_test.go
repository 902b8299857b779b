package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/fleet-bridge/internal/infrastructure/database"
	"github.com/nerrad567/fleet-bridge/migrations"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "audit.db"),
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

func TestCreate_FillsDefaults(t *testing.T) {
	repo := newTestRepo(t)
	e := &Entry{Action: ActionCreate, Subject: SubjectProfile, SubjectID: "prof-1", Actor: "ops"}

	if err := repo.Create(context.Background(), e); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if len(e.ID) != len("aud-")+8 {
		t.Errorf("ID = %q, want aud- prefix and 8 characters", e.ID)
	}
	if e.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestList_NewestFirstWithDetails(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	entries := []*Entry{
		{Action: ActionCreate, Subject: SubjectProfile, SubjectID: "prof-1", CreatedAt: base},
		{Action: ActionServiceCall, Subject: SubjectDevice, SubjectID: "dock-1", SessionID: "s1",
			Details: map[string]any{"method": "device_reboot"}, CreatedAt: base.Add(100 * time.Millisecond)},
		{Action: ActionDelete, Subject: SubjectProfile, SubjectID: "prof-1", CreatedAt: base.Add(2 * time.Second)},
	}
	for _, e := range entries {
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	page, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if page.Total != 3 || len(page.Entries) != 3 || page.Limit != DefaultLimit {
		t.Fatalf("page = total %d, entries %d, limit %d", page.Total, len(page.Entries), page.Limit)
	}
	if page.Entries[0].Action != ActionDelete || page.Entries[2].Action != ActionCreate {
		t.Errorf("order = %s, %s, %s", page.Entries[0].Action, page.Entries[1].Action, page.Entries[2].Action)
	}

	call := page.Entries[1]
	if call.SessionID != "s1" || call.Details["method"] != "device_reboot" {
		t.Errorf("service call entry = %+v", call)
	}
	if !call.CreatedAt.Equal(base.Add(100 * time.Millisecond)) {
		t.Errorf("CreatedAt = %v, want %v", call.CreatedAt, base.Add(100*time.Millisecond))
	}
}

func TestList_Filters(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, e := range []*Entry{
		{Action: ActionCreate, Subject: SubjectProfile, SubjectID: "prof-1"},
		{Action: ActionUpdate, Subject: SubjectProfile, SubjectID: "prof-2"},
		{Action: ActionServiceCall, Subject: SubjectDevice, SubjectID: "dock-1", SessionID: "s1"},
		{Action: ActionServiceCall, Subject: SubjectDevice, SubjectID: "dock-2", SessionID: "s2"},
	} {
		e.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"by action", Filter{Action: ActionServiceCall}, 2},
		{"by subject", Filter{Subject: SubjectProfile}, 2},
		{"by subject id", Filter{SubjectID: "dock-2"}, 1},
		{"by session", Filter{SessionID: "s1"}, 1},
		{"since", Filter{Since: base.Add(2 * time.Minute)}, 2},
		{"combined", Filter{Action: ActionServiceCall, SessionID: "s2"}, 1},
		{"no match", Filter{Action: ActionSetDefault}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if page.Total != tt.want || len(page.Entries) != tt.want {
				t.Errorf("total = %d, entries = %d, want %d", page.Total, len(page.Entries), tt.want)
			}
		})
	}
}

func TestList_Pagination(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := range 5 {
		e := &Entry{Action: ActionUpdate, Subject: SubjectProfile, CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := repo.Create(ctx, e); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	page, err := repo.List(ctx, Filter{Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if page.Total != 5 || len(page.Entries) != 1 || !page.Entries[0].CreatedAt.Equal(base) {
		t.Errorf("last page = total %d, entries %+v", page.Total, page.Entries)
	}

	page, err = repo.List(ctx, Filter{Limit: 1000, Offset: -3})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if page.Limit != MaxLimit || page.Offset != 0 {
		t.Errorf("clamped limit/offset = %d/%d, want %d/0", page.Limit, page.Offset, MaxLimit)
	}
}
