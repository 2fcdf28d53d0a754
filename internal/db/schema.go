package db

import (
	"database/sql"
	"fmt"
)

// schema is the full database schema. Each table is one collection of the
// farm document store.
const schema = `
CREATE TABLE IF NOT EXISTS fermes (
    id         TEXT PRIMARY KEY,
    nom        TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS ferme_admins (
    ferme_id TEXT NOT NULL REFERENCES fermes(id) ON DELETE CASCADE,
    user_id  TEXT NOT NULL,
    PRIMARY KEY (ferme_id, user_id)
);

CREATE TABLE IF NOT EXISTS users (
    id               TEXT PRIMARY KEY,
    username         TEXT NOT NULL,
    nom              TEXT NOT NULL DEFAULT '',
    password_hash    TEXT NOT NULL,
    role             TEXT NOT NULL DEFAULT 'user' CHECK (role IN ('superadmin', 'admin', 'user')),
    ferme_id         TEXT NOT NULL DEFAULT '',
    all_farms_access INTEGER NOT NULL DEFAULT 0,
    created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at       DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username_active
    ON users(username) WHERE deleted_at IS NULL;

CREATE TABLE IF NOT EXISTS stocks (
    id           TEXT PRIMARY KEY,
    item         TEXT NOT NULL,
    item_key     TEXT NOT NULL,
    quantity     INTEGER NOT NULL CHECK (quantity >= 0),
    unit         TEXT NOT NULL DEFAULT 'pièces',
    secteur_id   TEXT NOT NULL,
    notes        TEXT NOT NULL DEFAULT '',
    last_updated DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (secteur_id, item_key)
);

CREATE TABLE IF NOT EXISTS stock_transfers (
    id                  TEXT PRIMARY KEY,
    from_ferme_id       TEXT NOT NULL,
    to_ferme_id         TEXT NOT NULL,
    stock_item_id       TEXT NOT NULL,
    item                TEXT NOT NULL,
    quantity            INTEGER NOT NULL CHECK (quantity > 0),
    unit                TEXT NOT NULL,
    status              TEXT NOT NULL DEFAULT 'pending'
                        CHECK (status IN ('pending', 'confirmed', 'in_transit', 'delivered', 'rejected', 'cancelled')),
    priority            TEXT NOT NULL DEFAULT 'medium' CHECK (priority IN ('low', 'medium', 'high', 'urgent')),
    tracking_number     TEXT NOT NULL,
    notes               TEXT NOT NULL DEFAULT '',
    transferred_by      TEXT NOT NULL DEFAULT '',
    transferred_by_name TEXT NOT NULL DEFAULT '',
    received_by         TEXT NOT NULL DEFAULT '',
    received_by_name    TEXT NOT NULL DEFAULT '',
    rejected_by         TEXT NOT NULL DEFAULT '',
    rejected_by_name    TEXT NOT NULL DEFAULT '',
    rejection_reason    TEXT NOT NULL DEFAULT '',
    cancelled_by        TEXT NOT NULL DEFAULT '',
    cancelled_by_name   TEXT NOT NULL DEFAULT '',
    created_at          DATETIME NOT NULL,
    confirmed_at        DATETIME,
    delivered_at        DATETIME,
    rejected_at         DATETIME,
    cancelled_at        DATETIME
);

CREATE TABLE IF NOT EXISTS transfer_notifications (
    id              TEXT PRIMARY KEY,
    transfer_id     TEXT NOT NULL,
    type            TEXT NOT NULL,
    from_ferme_id   TEXT NOT NULL,
    to_ferme_id     TEXT NOT NULL,
    item            TEXT NOT NULL,
    quantity        INTEGER NOT NULL,
    unit            TEXT NOT NULL,
    message         TEXT NOT NULL,
    status          TEXT NOT NULL DEFAULT 'unread' CHECK (status IN ('unread', 'acknowledged')),
    priority        TEXT NOT NULL DEFAULT 'medium',
    created_at      DATETIME NOT NULL,
    acknowledged_at DATETIME
);

CREATE TABLE IF NOT EXISTS workers (
    id          TEXT PRIMARY KEY,
    nom         TEXT NOT NULL,
    cin         TEXT NOT NULL,
    ferme_id    TEXT NOT NULL,
    date_entree DATETIME NOT NULL,
    date_sortie DATETIME,
    statut      TEXT NOT NULL DEFAULT 'actif' CHECK (statut IN ('actif', 'inactif')),
    created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS revoked_tokens (
    jti        TEXT PRIMARY KEY,
    expires_at DATETIME NOT NULL
);
`

// EnsureSchema creates all tables and indexes if they don't already exist.
func EnsureSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}
