package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SaveRoutingResult stores a routing decision and its per-broker outcomes
// in one transaction. An empty ID is assigned.
func (d *Database) SaveRoutingResult(ctx context.Context, r *RoutingRecord) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin routing tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, d.rebind(`
		INSERT INTO routing_results (id, signal_id, user_id, strategy, targets, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), r.ID, r.SignalID, r.UserID, r.Strategy, strings.Join(r.Targets, ","), r.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("insert routing result: %w", err)
	}

	for i, o := range r.Outcomes {
		if _, err := tx.ExecContext(ctx, d.rebind(`
			INSERT INTO routing_outcomes (routing_id, position, broker_id, success, order_id, error)
			VALUES (?, ?, ?, ?, ?, ?)
		`), r.ID, i, o.BrokerID, o.Success, o.OrderID, o.Error); err != nil {
			return fmt.Errorf("insert routing outcome %s: %w", o.BrokerID, err)
		}
	}
	return tx.Commit()
}

// ListRoutingResults returns the routing history of a signal, oldest first.
func (d *Database) ListRoutingResults(ctx context.Context, signalID string) ([]RoutingRecord, error) {
	rows, err := d.DB.QueryContext(ctx, d.rebind(`
		SELECT id, signal_id, user_id, strategy, targets, created_at
		FROM routing_results
		WHERE signal_id = ?
		ORDER BY created_at ASC
	`), signalID)
	if err != nil {
		return nil, fmt.Errorf("query routing results: %w", err)
	}

	var records []RoutingRecord
	for rows.Next() {
		var (
			r       RoutingRecord
			targets string
		)
		if err := rows.Scan(&r.ID, &r.SignalID, &r.UserID, &r.Strategy, &targets, &r.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan routing result: %w", err)
		}
		r.Targets = splitList(targets)
		records = append(records, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range records {
		outcomes, err := d.routingOutcomes(ctx, records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].Outcomes = outcomes
	}
	return records, nil
}

func (d *Database) routingOutcomes(ctx context.Context, routingID string) ([]RoutingOutcome, error) {
	rows, err := d.DB.QueryContext(ctx, d.rebind(`
		SELECT broker_id, success, order_id, error
		FROM routing_outcomes
		WHERE routing_id = ?
		ORDER BY position ASC
	`), routingID)
	if err != nil {
		return nil, fmt.Errorf("query routing outcomes: %w", err)
	}
	defer rows.Close()

	var out []RoutingOutcome
	for rows.Next() {
		var o RoutingOutcome
		if err := rows.Scan(&o.BrokerID, &o.Success, &o.OrderID, &o.Error); err != nil {
			return nil, fmt.Errorf("scan routing outcome: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
