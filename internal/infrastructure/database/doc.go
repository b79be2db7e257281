// Package database provides read-only SQLite access to the layout
// configuration database.
//
// The configuration database is owned by an external service that creates
// the schema and writes entity and automation rows. railhub never writes to
// it. Connections are opened with mode=ro and PRAGMA query_only.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	repo := catalog.NewSQLiteRepository(db.DB)
package database
