// Package database opens the fleet bridge's SQLite store and applies its
// schema migrations.
//
// The store is small: it holds broker connection profiles. WAL mode and a
// busy timeout keep the REST handlers from tripping over each other, and the
// pool is pinned to a single connection because SQLite has one writer.
//
// Migrations are plain SQL files named
//
//	YYYYMMDD_HHMMSS_description.up.sql
//	YYYYMMDD_HHMMSS_description.down.sql
//
// read from any fs.FS (normally the embedded migrations package). Each
// migration runs in its own transaction and is recorded in
// schema_migrations, so Migrate can be called on every start.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
