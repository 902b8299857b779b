package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository defines fleet device persistence operations.
type Repository interface {
	// List returns every device, the current one first, then newest first.
	List(ctx context.Context) ([]Device, error)

	// Get returns one device by ID. Returns ErrDeviceNotFound if absent.
	Get(ctx context.Context, id string) (*Device, error)

	// Lookup returns the device whose ID or serial number is ref.
	Lookup(ctx context.Context, ref string) (*Device, error)

	// Create validates d, assigns its ID and timestamps and stores it.
	// Returns ErrDeviceExists if the serial number is taken.
	Create(ctx context.Context, d *Device) error

	// Update applies a partial change and returns the merged device.
	Update(ctx context.Context, id string, u Update) (*Device, error)

	// Delete removes a device. Returns ErrDeviceNotFound if absent.
	Delete(ctx context.Context, id string) error

	// Selection returns the current device and gateway.
	Selection(ctx context.Context) (Selection, error)

	// SetCurrent makes id the only current device.
	SetCurrent(ctx context.Context, id string) error

	// SetGateway makes id the only gateway device.
	SetGateway(ctx context.Context, id string) error

	// Clear removes every device and returns how many were removed.
	Clear(ctx context.Context) (int64, error)
}

// SQLiteRepository implements Repository on the devices table.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const selectDevice = `
	SELECT id, name, sn, type, status, airport_sn, last_seen,
	       is_current, is_gateway, created_at, updated_at
	FROM devices`

// List returns every device.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, selectDevice+" ORDER BY is_current DESC, created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	devices := []Device{}
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// Get returns one device by ID.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Device, error) {
	return r.queryOne(ctx, " WHERE id = ?", id)
}

// Lookup returns the device whose ID or serial number is ref.
func (r *SQLiteRepository) Lookup(ctx context.Context, ref string) (*Device, error) {
	return r.queryOne(ctx, " WHERE id = ? OR sn = ? LIMIT 1", ref, ref)
}

// Selection returns the current device and gateway.
func (r *SQLiteRepository) Selection(ctx context.Context) (Selection, error) {
	var sel Selection
	var err error
	if sel.Device, err = r.queryOptional(ctx, " WHERE is_current = 1"); err != nil {
		return Selection{}, err
	}
	if sel.Gateway, err = r.queryOptional(ctx, " WHERE is_gateway = 1"); err != nil {
		return Selection{}, err
	}
	return sel, nil
}

// Create stores a new device.
func (r *SQLiteRepository) Create(ctx context.Context, d *Device) error {
	if err := d.Validate(); err != nil {
		return err
	}
	now := r.now()
	d.ID = uuid.NewString()
	d.CreatedAt = now
	d.UpdatedAt = now
	d.IsCurrent = false
	d.IsGateway = false

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (id, name, sn, type, status, airport_sn, last_seen,
		                     is_current, is_gateway, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?)`,
		d.ID, d.Name, d.SN, string(d.Type), string(d.Status), d.AirportSN,
		nullableTime(d.LastSeen), formatTime(d.CreatedAt), formatTime(d.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// Update applies u to the device with the given id.
func (r *SQLiteRepository) Update(ctx context.Context, id string, u Update) (*Device, error) {
	if u.empty() {
		return nil, ErrNoChanges
	}
	d, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Name != nil {
		d.Name = *u.Name
	}
	if u.SN != nil {
		d.SN = *u.SN
	}
	if u.Type != nil {
		d.Type = *u.Type
	}
	if u.Status != nil {
		d.Status = *u.Status
	}
	if u.AirportSN != nil {
		d.AirportSN = *u.AirportSN
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	d.UpdatedAt = r.now()

	_, err = r.db.ExecContext(ctx, `
		UPDATE devices
		SET name = ?, sn = ?, type = ?, status = ?, airport_sn = ?, updated_at = ?
		WHERE id = ?`,
		d.Name, d.SN, string(d.Type), string(d.Status), d.AirportSN, formatTime(d.UpdatedAt), id,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrDeviceExists
		}
		return nil, fmt.Errorf("updating device: %w", err)
	}
	return d, nil
}

// Delete removes a device.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return requireRow(result)
}

// SetCurrent makes id the only current device.
func (r *SQLiteRepository) SetCurrent(ctx context.Context, id string) error {
	return r.selectOnly(ctx, "is_current", id)
}

// SetGateway makes id the only gateway device.
func (r *SQLiteRepository) SetGateway(ctx context.Context, id string) error {
	return r.selectOnly(ctx, "is_gateway", id)
}

// Clear removes every device.
func (r *SQLiteRepository) Clear(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices")
	if err != nil {
		return 0, fmt.Errorf("clearing devices: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// selectOnly sets flag on id and clears it on every other row. column is
// one of the two flag columns, never caller input.
func (r *SQLiteRepository) selectOnly(ctx context.Context, column, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, "UPDATE devices SET "+column+" = 0 WHERE "+column+" = 1"); err != nil { //nolint:gosec // column is a constant
		return fmt.Errorf("clearing %s: %w", column, err)
	}
	result, err := tx.ExecContext(ctx,
		"UPDATE devices SET "+column+" = 1, updated_at = ? WHERE id = ?", //nolint:gosec // column is a constant
		formatTime(r.now()), id,
	)
	if err != nil {
		return fmt.Errorf("setting %s: %w", column, err)
	}
	if err := requireRow(result); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) queryOne(ctx context.Context, where string, args ...any) (*Device, error) {
	d, err := scanDevice(r.db.QueryRowContext(ctx, selectDevice+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeviceNotFound
	}
	return d, err
}

func (r *SQLiteRepository) queryOptional(ctx context.Context, where string) (*Device, error) {
	d, err := r.queryOne(ctx, where)
	if errors.Is(err, ErrDeviceNotFound) {
		return nil, nil
	}
	return d, err
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*Device, error) {
	var (
		d                    Device
		typ, status          string
		lastSeen             sql.NullString
		isCurrent, isGateway int
		createdAt, updatedAt string
	)
	err := row.Scan(&d.ID, &d.Name, &d.SN, &typ, &status, &d.AirportSN, &lastSeen,
		&isCurrent, &isGateway, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning device: %w", err)
	}
	d.Type = Type(typ)
	d.Status = Status(status)
	d.IsCurrent = isCurrent == 1
	d.IsGateway = isGateway == 1
	if lastSeen.Valid {
		if t, err := time.Parse(time.RFC3339Nano, lastSeen.String); err == nil {
			d.LastSeen = &t
		}
	}
	d.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt) //nolint:errcheck // written by formatTime
	d.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt) //nolint:errcheck // written by formatTime
	return &d, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
