// Package migrations holds the SQL schema applied by cmd/migrate and the
// integration tests.
package migrations

import (
	"context"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed *.sql
var files embed.FS

// Schema lists the schema files in apply order.
var Schema = []string{"001_init.sql"}

// Seed lists development fixtures applied by "migrate seed".
var Seed = []string{"002_seed_dev.sql"}

const dropAll = `
DROP TABLE IF EXISTS geofence_timers, notifications, violation_episodes, delay_reports,
    driver_locations, intermediate_destinations, trips, geofences, vehicles, users CASCADE;`

// Apply executes each named file in order.
func Apply(ctx context.Context, pool *pgxpool.Pool, names []string, done func(name string)) error {
	for _, name := range names {
		data, err := files.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("exec %s: %w", name, err)
		}
		if done != nil {
			done(name)
		}
	}
	return nil
}

// Drop removes every table created by Schema.
func Drop(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, dropAll)
	return err
}
