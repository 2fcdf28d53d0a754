package db

import (
	"database/sql"
	"fmt"
)

// migrations is a list of SQL statements applied in order after schema creation.
// Each migration must be idempotent. Append new migrations at the end.
var migrations = []string{
	// Migration 1: lookup indexes for the per-farm transfer and inbox queries.
	`CREATE INDEX IF NOT EXISTS idx_transfers_from ON stock_transfers(from_ferme_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_transfers_to ON stock_transfers(to_ferme_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_inbox
	     ON transfer_notifications(to_ferme_id, status, item)`,
	// Migration 2: duplicate-guard lookup of active workers by CIN.
	`CREATE INDEX IF NOT EXISTS idx_workers_cin ON workers(cin) WHERE statut = 'actif'`,
}

// Migrate ensures the schema exists and runs pending migrations.
func Migrate(db *sql.DB) error {
	if err := EnsureSchema(db); err != nil {
		return err
	}

	for i, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("running migration %d: %w", i+1, err)
		}
	}

	return nil
}
