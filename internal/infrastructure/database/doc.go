// Package database provides SQLite persistence for Gray Logic Node.
//
// The node's entire cross-restart state lives in one small SQLite file:
// remembered access point, offline sample ring bounds, and the buffered
// samples. The process is torn down on every deep-sleep cycle, so this
// package is opened fresh at each wake and closed before power-down.
//
// # Features
//
//   - WAL journal mode for cheap, frequent single-row writes
//   - Busy timeout handling via connection-string pragmas
//   - Versioned schema migrations embedded in the binary
//   - Single-writer connection pool matching SQLite's locking model
//
// # Usage
//
//	db, err := database.Open(database.Config{
//	    Path:        cfg.Database.Path,
//	    WALMode:     cfg.Database.WALMode,
//	    BusyTimeout: cfg.Database.BusyTimeout,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files live in the migrations package and are registered via
// database.MigrationsFS.
package database
