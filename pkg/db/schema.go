package db

import (
	"database/sql"
	"fmt"
)

// Prices are TEXT so decimal values round-trip exactly.
const sqliteSchema = `
PRAGMA journal_mode=WAL;

CREATE TABLE IF NOT EXISTS trade_signals (
    id TEXT PRIMARY KEY,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    entry TEXT,
    stop_loss TEXT,
    take_profit TEXT,
    close_price TEXT,
    pnl TEXT,
    provider TEXT NOT NULL DEFAULT '',
    provider_name TEXT NOT NULL DEFAULT '',
    timeframe TEXT NOT NULL DEFAULT '',
    notes TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    market_type TEXT NOT NULL DEFAULT '',
    metadata TEXT,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    closed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_trade_signals_status ON trade_signals(status);

CREATE TABLE IF NOT EXISTS routing_results (
    id TEXT PRIMARY KEY,
    signal_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    strategy TEXT NOT NULL,
    targets TEXT NOT NULL DEFAULT '',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS routing_outcomes (
    routing_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    broker_id TEXT NOT NULL,
    success BOOLEAN NOT NULL DEFAULT 0,
    order_id TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (routing_id, broker_id),
    FOREIGN KEY(routing_id) REFERENCES routing_results(id)
);

CREATE TABLE IF NOT EXISTS broker_capabilities (
    broker_id TEXT PRIMARY KEY,
    broker_type TEXT NOT NULL,
    asset_classes TEXT NOT NULL DEFAULT '',
    execution_speed INTEGER NOT NULL,
    commission INTEGER NOT NULL,
    reliability INTEGER NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS user_broker_preferences (
    user_id TEXT NOT NULL,
    broker_id TEXT NOT NULL,
    is_primary BOOLEAN NOT NULL DEFAULT 0,
    preferred_asset_classes TEXT NOT NULL DEFAULT '',
    rating INTEGER NOT NULL DEFAULT 3,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (user_id, broker_id)
);

CREATE TABLE IF NOT EXISTS broker_connections (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    broker_id TEXT NOT NULL,
    broker_type TEXT NOT NULL,
    is_active BOOLEAN DEFAULT 1,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (user_id, broker_id)
);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS trade_signals (
    id TEXT PRIMARY KEY,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    entry TEXT,
    stop_loss TEXT,
    take_profit TEXT,
    close_price TEXT,
    pnl TEXT,
    provider TEXT NOT NULL DEFAULT '',
    provider_name TEXT NOT NULL DEFAULT '',
    timeframe TEXT NOT NULL DEFAULT '',
    notes TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    market_type TEXT NOT NULL DEFAULT '',
    metadata TEXT,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    closed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_trade_signals_status ON trade_signals(status);

CREATE TABLE IF NOT EXISTS routing_results (
    id TEXT PRIMARY KEY,
    signal_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    strategy TEXT NOT NULL,
    targets TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS routing_outcomes (
    routing_id TEXT NOT NULL REFERENCES routing_results(id),
    position INTEGER NOT NULL,
    broker_id TEXT NOT NULL,
    success BOOLEAN NOT NULL DEFAULT FALSE,
    order_id TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (routing_id, broker_id)
);

CREATE TABLE IF NOT EXISTS broker_capabilities (
    broker_id TEXT PRIMARY KEY,
    broker_type TEXT NOT NULL,
    asset_classes TEXT NOT NULL DEFAULT '',
    execution_speed INTEGER NOT NULL,
    commission INTEGER NOT NULL,
    reliability INTEGER NOT NULL,
    updated_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS user_broker_preferences (
    user_id TEXT NOT NULL,
    broker_id TEXT NOT NULL,
    is_primary BOOLEAN NOT NULL DEFAULT FALSE,
    preferred_asset_classes TEXT NOT NULL DEFAULT '',
    rating INTEGER NOT NULL DEFAULT 3,
    updated_at TIMESTAMPTZ DEFAULT NOW(),
    PRIMARY KEY (user_id, broker_id)
);

CREATE TABLE IF NOT EXISTS broker_connections (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    broker_id TEXT NOT NULL,
    broker_type TEXT NOT NULL,
    is_active BOOLEAN DEFAULT TRUE,
    created_at TIMESTAMPTZ DEFAULT NOW(),
    UNIQUE (user_id, broker_id)
);
`

// ApplyMigrations creates tables and adds columns introduced after the
// first schema version.
func ApplyMigrations(d *Database) error {
	if d == nil || d.DB == nil {
		return fmt.Errorf("database not initialized")
	}
	if d.Driver == DriverPostgres {
		if _, err := d.DB.Exec(postgresSchema); err != nil {
			return fmt.Errorf("apply postgres schema: %w", err)
		}
		if _, err := d.DB.Exec(`ALTER TABLE trade_signals ADD COLUMN IF NOT EXISTS target_broker TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("add target_broker: %w", err)
		}
		return nil
	}

	if _, err := d.DB.Exec(sqliteSchema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if err := ensureColumn(d.DB, "trade_signals", "target_broker", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}
	return nil
}

// ensureColumn adds a column if it does not already exist.
func ensureColumn(db *sql.DB, table, column, definition string) error {
	exists, err := columnExists(db, table, column)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)
	if _, err := db.Exec(alter); err != nil {
		return fmt.Errorf("alter table %s add column %s: %w", table, column, err)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}
