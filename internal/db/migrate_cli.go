package db

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"strings"
)

// MigrateActions lists the actions RunMigrateCommand understands.
var MigrateActions = []string{"up", "down", "status", "version", "force"}

// RunMigrateCommand handles the 'migrate' subcommand against the embedded
// migrations. Force asks for confirmation on in unless assumeYes is set.
func (db *DB) RunMigrateCommand(args []string, in io.Reader, out io.Writer, assumeYes bool) error {
	if len(args) < 1 {
		PrintMigrateHelp(out)
		return fmt.Errorf("missing migrate action")
	}
	fsys, err := getMigrationsFS()
	if err != nil {
		return err
	}

	switch action := args[0]; action {
	case "up":
		if err := db.MigrateUp(fsys); err != nil {
			return err
		}
		fmt.Fprintln(out, "All migrations applied")
		return db.printVersion(fsys, out)

	case "down":
		if err := db.MigrateDown(fsys); err != nil {
			return err
		}
		fmt.Fprintln(out, "Rolled back one migration")
		return db.printVersion(fsys, out)

	case "status":
		return db.printStatus(fsys, out)

	case "version":
		if len(args) < 2 {
			return fmt.Errorf("usage: scenecapture migrate version <version_number>")
		}
		var target uint
		if _, err := fmt.Sscanf(args[1], "%d", &target); err != nil {
			return fmt.Errorf("invalid version number: %s", args[1])
		}
		if err := db.MigrateTo(fsys, target); err != nil {
			return err
		}
		fmt.Fprintf(out, "Migrated to version %d\n", target)
		return nil

	case "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: scenecapture migrate force <version_number>")
		}
		var target int
		if _, err := fmt.Sscanf(args[1], "%d", &target); err != nil {
			return fmt.Errorf("invalid version number: %s", args[1])
		}
		if !assumeYes {
			fmt.Fprintf(out, "Forcing migration version to %d. This should only be used to recover from a dirty migration state.\n", target)
			fmt.Fprint(out, "Continue? [y/N]: ")
			answer, _ := bufio.NewReader(in).ReadString('\n')
			if a := strings.TrimSpace(answer); a != "y" && a != "Y" {
				fmt.Fprintln(out, "Aborted")
				return nil
			}
		}
		if err := db.MigrateForce(fsys, target); err != nil {
			return err
		}
		fmt.Fprintf(out, "Migration version forced to %d\n", target)
		return nil

	default:
		PrintMigrateHelp(out)
		return fmt.Errorf("unknown migrate action: %s", action)
	}
}

func (db *DB) printVersion(fsys fs.FS, out io.Writer) error {
	version, dirty, err := db.MigrateVersion(fsys)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Current version: %d (dirty: %v)\n", version, dirty)
	return nil
}

func (db *DB) printStatus(fsys fs.FS, out io.Writer) error {
	version, dirty, err := db.MigrateVersion(fsys)
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	latest, err := LatestMigrationVersion(fsys)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "=== Migration Status ===")
	fmt.Fprintf(out, "Current version: %d\n", version)
	fmt.Fprintf(out, "Latest version: %d\n", latest)
	fmt.Fprintf(out, "Dirty: %v\n", dirty)
	if dirty {
		fmt.Fprintln(out, "\nWARNING: a migration failed mid-execution.")
		fmt.Fprintln(out, "Inspect the database, fix it, then run: scenecapture migrate force <version>")
	} else if version < latest {
		fmt.Fprintf(out, "\n%d migration(s) pending; run: scenecapture migrate up\n", latest-version)
	}
	return nil
}

// PrintMigrateHelp writes usage for the migrate subcommand.
func PrintMigrateHelp(out io.Writer) {
	fmt.Fprint(out, `Usage: scenecapture migrate <action> [args]

Actions:
  up                 apply all pending migrations
  down               roll back the most recent migration
  status             show the current and latest schema versions
  version <N>        migrate up or down to version N
  force <N>          mark the schema as version N without running migrations
`)
}
