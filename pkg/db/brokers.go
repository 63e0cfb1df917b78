package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UpsertBrokerCapability inserts or replaces a broker capability profile.
func (d *Database) UpsertBrokerCapability(ctx context.Context, c BrokerCapability) error {
	_, err := d.DB.ExecContext(ctx, d.rebind(`
		INSERT INTO broker_capabilities (broker_id, broker_type, asset_classes, execution_speed, commission, reliability, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(broker_id) DO UPDATE SET
			broker_type = excluded.broker_type,
			asset_classes = excluded.asset_classes,
			execution_speed = excluded.execution_speed,
			commission = excluded.commission,
			reliability = excluded.reliability,
			updated_at = excluded.updated_at
	`), c.BrokerID, c.BrokerType, strings.Join(c.AssetClasses, ","), c.ExecutionSpeed, c.Commission, c.Reliability, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert broker capability %s: %w", c.BrokerID, err)
	}
	return nil
}

// ListBrokerCapabilities returns every known capability profile.
func (d *Database) ListBrokerCapabilities(ctx context.Context) ([]BrokerCapability, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT broker_id, broker_type, asset_classes, execution_speed, commission, reliability, updated_at
		FROM broker_capabilities
		ORDER BY broker_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query broker capabilities: %w", err)
	}
	defer rows.Close()

	var out []BrokerCapability
	for rows.Next() {
		var (
			c      BrokerCapability
			assets string
		)
		if err := rows.Scan(&c.BrokerID, &c.BrokerType, &assets, &c.ExecutionSpeed, &c.Commission, &c.Reliability, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan broker capability: %w", err)
		}
		c.AssetClasses = splitList(assets)
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertUserBrokerPreference stores a user's preference for one broker.
// Marking a broker primary clears the flag on the user's other brokers.
func (d *Database) UpsertUserBrokerPreference(ctx context.Context, p UserBrokerPreference) error {
	if p.UserID == "" {
		return ErrUserIDRequired
	}
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin preference tx: %w", err)
	}
	defer tx.Rollback()

	if p.IsPrimary {
		if _, err := tx.ExecContext(ctx, d.rebind(`
			UPDATE user_broker_preferences SET is_primary = ? WHERE user_id = ? AND broker_id <> ?
		`), false, p.UserID, p.BrokerID); err != nil {
			return fmt.Errorf("clear primary broker: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, d.rebind(`
		INSERT INTO user_broker_preferences (user_id, broker_id, is_primary, preferred_asset_classes, rating, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, broker_id) DO UPDATE SET
			is_primary = excluded.is_primary,
			preferred_asset_classes = excluded.preferred_asset_classes,
			rating = excluded.rating,
			updated_at = excluded.updated_at
	`), p.UserID, p.BrokerID, p.IsPrimary, strings.Join(p.PreferredAssetClasses, ","), p.Rating, time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert broker preference: %w", err)
	}
	return tx.Commit()
}

// GetUserBrokerPreferences returns a user's broker preferences.
func (d *Database) GetUserBrokerPreferences(ctx context.Context, userID string) ([]UserBrokerPreference, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	rows, err := d.DB.QueryContext(ctx, d.rebind(`
		SELECT user_id, broker_id, is_primary, preferred_asset_classes, rating, updated_at
		FROM user_broker_preferences
		WHERE user_id = ?
		ORDER BY broker_id
	`), userID)
	if err != nil {
		return nil, fmt.Errorf("query broker preferences: %w", err)
	}
	defer rows.Close()

	var out []UserBrokerPreference
	for rows.Next() {
		var (
			p      UserBrokerPreference
			assets string
		)
		if err := rows.Scan(&p.UserID, &p.BrokerID, &p.IsPrimary, &assets, &p.Rating, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan broker preference: %w", err)
		}
		p.PreferredAssetClasses = splitList(assets)
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveBrokerConnection links a user to a broker account.
func (d *Database) SaveBrokerConnection(ctx context.Context, c *BrokerConnection) error {
	if c.UserID == "" {
		return ErrUserIDRequired
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := d.DB.ExecContext(ctx, d.rebind(`
		INSERT INTO broker_connections (id, user_id, broker_id, broker_type, is_active)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, broker_id) DO UPDATE SET
			broker_type = excluded.broker_type,
			is_active = excluded.is_active
	`), c.ID, c.UserID, c.BrokerID, c.BrokerType, c.IsActive)
	if err != nil {
		return fmt.Errorf("save broker connection: %w", err)
	}
	return nil
}

// ListBrokerConnections returns a user's active broker connections.
func (d *Database) ListBrokerConnections(ctx context.Context, userID string) ([]BrokerConnection, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	rows, err := d.DB.QueryContext(ctx, d.rebind(`
		SELECT id, user_id, broker_id, broker_type, is_active, created_at
		FROM broker_connections
		WHERE user_id = ? AND is_active = ?
		ORDER BY created_at, broker_id
	`), userID, true)
	if err != nil {
		return nil, fmt.Errorf("query broker connections: %w", err)
	}
	defer rows.Close()

	var out []BrokerConnection
	for rows.Next() {
		var c BrokerConnection
		if err := rows.Scan(&c.ID, &c.UserID, &c.BrokerID, &c.BrokerType, &c.IsActive, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan broker connection: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
