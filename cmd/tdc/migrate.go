package main

import (
	"errors"
	"flag"
	"fmt"
	"io"

	sqlitestore "github.com/egaudrain/tridesclous/internal/arraystore/sqlite"
)

const migrateUsage = "usage: tdc migrate [-db path] <up|down|status>"

// runMigrate handles the schema maintenance actions on an existing store.
// Opening a store applies pending migrations, so "up" only reports the
// resulting version and "down" rolls back from the latest one.
func runMigrate(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	dbPath := fs.String("db", envOr("TDC_DB", defaultDB), "SQLite store path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New(migrateUsage)
	}
	action := fs.Arg(0)
	switch action {
	case "up", "down", "status":
	default:
		return fmt.Errorf("unknown migrate action %q; %s", action, migrateUsage)
	}

	store, err := openExisting(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if action == "down" {
		if err := store.MigrateDown(); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "rolled back one migration")
	}
	return printMigrateVersion(store, stdout)
}

func printMigrateVersion(store *sqlitestore.Store, stdout io.Writer) error {
	version, dirty, err := store.MigrateVersion()
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	fmt.Fprintf(stdout, "schema version %d (dirty: %v)\n", version, dirty)
	if dirty {
		fmt.Fprintln(stdout, "warning: a migration failed mid-execution; inspect the database")
	}
	return nil
}
