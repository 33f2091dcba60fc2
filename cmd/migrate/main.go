// Package main applies or rolls back the player location schema.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/cory-johannsen/mapworld/internal/config"
)

func main() {
	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	direction := flag.String("direction", "up", "up, down, version or force")
	steps := flag.Int("steps", 0, "number of steps for up/down (0 = all)")
	version := flag.Int("version", -1, "schema version to record with -direction force")
	migrationsDir := flag.String("migrations", "migrations", "directory holding the migration files")
	flag.Parse()

	v := config.NewViper()
	v.SetConfigFile(*configPath)
	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("reading config: %v", err)
	}
	var dbCfg config.DatabaseConfig
	if err := v.UnmarshalKey("database", &dbCfg); err != nil {
		log.Fatalf("parsing database config: %v", err)
	}

	m, err := migrate.New("file://"+*migrationsDir, dbCfg.DSN())
	if err != nil {
		log.Fatalf("creating migrator for %s: %v", dbCfg.Host, err)
	}
	defer m.Close()

	start := time.Now()
	changed, err := run(m, *direction, *steps, *version)
	if err != nil {
		log.Fatalf("migrate %s: %v", *direction, err)
	}

	current, dirty, verr := m.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		log.Fatalf("reading schema version: %v", verr)
	}
	switch {
	case errors.Is(verr, migrate.ErrNilVersion):
		fmt.Fprintf(os.Stdout, "no schema applied [%s]\n", time.Since(start))
	case !changed:
		fmt.Fprintf(os.Stdout, "no changes (version=%d dirty=%v) [%s]\n", current, dirty, time.Since(start))
	default:
		fmt.Fprintf(os.Stdout, "%s done: version=%d dirty=%v [%s]\n", *direction, current, dirty, time.Since(start))
	}
}

// run performs direction against m and reports whether the schema changed.
func run(m *migrate.Migrate, direction string, steps, version int) (bool, error) {
	var err error
	switch direction {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	case "version":
		return false, nil
	case "force":
		if version < 0 {
			return false, errors.New("-version is required with -direction force")
		}
		err = m.Force(version)
	default:
		return false, fmt.Errorf("invalid direction %q", direction)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return false, nil
	}
	return err == nil, err
}
