// Package database opens the hub's SQLite file and runs its schema migrations.
//
// Live entity state never touches SQLite. The database holds what must
// survive a restart: scenes created through the API, recorded state and
// event history, and the logbook.
//
//	db, err := database.Open(ctx, database.ConfigFrom(cfg.Database))
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil {
//		return err
//	}
//
// Migrations come from MigrationsFS, which the migrations package fills
// with its embedded *.sql files. Rollback undoes the newest one.
package database
