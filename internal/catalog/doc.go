// Package catalog is the read-only view of the layout configuration.
//
// The configuration service owns entity definitions (points, block
// detectors, signals, power switches) and the signal automation rules that
// tie them together. catalog reads them through a Reader, either the
// service's SQLite database or a standalone YAML file, and caches them in a
// Registry that the hub and the automation engine consult on every pass.
//
// # Thread Safety
//
// Registry is safe for concurrent use. Accessors return copies.
//
// # Usage
//
//	reg := catalog.NewRegistry(catalog.NewSQLiteRepository(db.DB))
//	reg.SetLogger(log)
//	if _, err := reg.RefreshCache(ctx); err != nil {
//	    return err
//	}
//	go reg.Watch(ctx, time.Minute, onChange)
package catalog
