package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository defines profile persistence operations.
type Repository interface {
	// List returns every profile ordered by name.
	List(ctx context.Context) ([]Profile, error)

	// Get returns one profile. Returns ErrProfileNotFound if absent.
	Get(ctx context.Context, id string) (*Profile, error)

	// Create validates p, assigns its ID and timestamps and stores it.
	// When p.IsDefault is set every other profile stops being the default.
	Create(ctx context.Context, p *Profile) error

	// Update applies a partial change and returns the merged profile.
	Update(ctx context.Context, id string, u Update) (*Profile, error)

	// Delete removes a profile. Returns ErrProfileNotFound if absent.
	Delete(ctx context.Context, id string) error

	// SetDefault makes id the only default profile.
	SetDefault(ctx context.Context, id string) error

	// GetDefault returns the default profile, or ErrNoDefault.
	GetDefault(ctx context.Context) (*Profile, error)
}

// SQLiteRepository implements Repository on the mqtt_profiles table.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const selectProfile = `
	SELECT id, name, config, is_default, created_at, updated_at
	FROM mqtt_profiles`

// List returns every profile ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Profile, error) {
	rows, err := r.db.QueryContext(ctx, selectProfile+" ORDER BY name, created_at")
	if err != nil {
		return nil, fmt.Errorf("querying profiles: %w", err)
	}
	defer rows.Close()

	profiles := []Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating profiles: %w", err)
	}
	return profiles, nil
}

// Get returns one profile.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Profile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx, selectProfile+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	return p, err
}

// GetDefault returns the default profile.
func (r *SQLiteRepository) GetDefault(ctx context.Context) (*Profile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx, selectProfile+" WHERE is_default = 1"))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoDefault
	}
	return p, err
}

// Create stores a new profile.
func (r *SQLiteRepository) Create(ctx context.Context, p *Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	configJSON, err := json.Marshal(p.Config)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	now := r.now()
	p.ID = uuid.NewString()
	p.CreatedAt = now
	p.UpdatedAt = now

	return r.inTx(ctx, func(tx *sql.Tx) error {
		if p.IsDefault {
			if err := clearDefault(ctx, tx); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO mqtt_profiles (id, name, config, is_default, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			p.ID, p.Name, string(configJSON), boolToInt(p.IsDefault),
			formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("inserting profile: %w", err)
		}
		return nil
	})
}

// Update applies u to the profile with the given id.
func (r *SQLiteRepository) Update(ctx context.Context, id string, u Update) (*Profile, error) {
	p, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Config != nil {
		p.Config = *u.Config
	}
	if u.IsDefault != nil {
		p.IsDefault = *u.IsDefault
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	configJSON, err := json.Marshal(p.Config)
	if err != nil {
		return nil, fmt.Errorf("marshalling config: %w", err)
	}
	p.UpdatedAt = r.now()

	err = r.inTx(ctx, func(tx *sql.Tx) error {
		if p.IsDefault {
			if err := clearDefault(ctx, tx); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE mqtt_profiles
			SET name = ?, config = ?, is_default = ?, updated_at = ?
			WHERE id = ?`,
			p.Name, string(configJSON), boolToInt(p.IsDefault), formatTime(p.UpdatedAt), id,
		)
		if err != nil {
			return fmt.Errorf("updating profile: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Delete removes a profile.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM mqtt_profiles WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting profile: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// SetDefault makes id the only default profile.
func (r *SQLiteRepository) SetDefault(ctx context.Context, id string) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if err := clearDefault(ctx, tx); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx,
			"UPDATE mqtt_profiles SET is_default = 1, updated_at = ? WHERE id = ?",
			formatTime(r.now()), id,
		)
		if err != nil {
			return fmt.Errorf("setting default profile: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("checking rows affected: %w", err)
		}
		if n == 0 {
			return ErrProfileNotFound
		}
		return nil
	})
}

func (r *SQLiteRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func clearDefault(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, "UPDATE mqtt_profiles SET is_default = 0 WHERE is_default = 1"); err != nil {
		return fmt.Errorf("clearing default profile: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*Profile, error) {
	var (
		p                    Profile
		configJSON           string
		isDefault            int
		createdAt, updatedAt string
	)
	if err := row.Scan(&p.ID, &p.Name, &configJSON, &isDefault, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning profile: %w", err)
	}
	if err := json.Unmarshal([]byte(configJSON), &p.Config); err != nil {
		return nil, fmt.Errorf("unmarshalling config of profile %s: %w", p.ID, err)
	}
	p.IsDefault = isDefault == 1
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt) //nolint:errcheck // written by formatTime
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt) //nolint:errcheck // written by formatTime
	return &p, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
