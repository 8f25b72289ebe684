// Package database provides the SQLite connection behind the object/state store.
//
// This package manages:
//   - Database connection with WAL mode for concurrent reads
//   - Forward-only schema migrations loaded from an fs.FS
//   - Connection pooling and lifecycle management
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
