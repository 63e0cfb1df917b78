package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"mcp-core/internal/signal"
)

const signalColumns = `id, symbol, side, entry, stop_loss, take_profit, close_price, pnl,
	provider, provider_name, timeframe, notes, status, target_broker, market_type,
	metadata, created_at, updated_at, closed_at`

// SaveTradeSignal inserts or fully replaces a signal. A stored signal in a
// terminal status is left untouched.
func (d *Database) SaveTradeSignal(ctx context.Context, s *signal.TradeSignal) error {
	if s == nil || s.ID == "" {
		return errors.New("signal id is required")
	}
	meta, err := marshalMetadata(s.Metadata)
	if err != nil {
		return err
	}
	_, err = d.DB.ExecContext(ctx, d.rebind(`
		INSERT INTO trade_signals (`+signalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			symbol = excluded.symbol,
			side = excluded.side,
			entry = excluded.entry,
			stop_loss = excluded.stop_loss,
			take_profit = excluded.take_profit,
			close_price = excluded.close_price,
			pnl = excluded.pnl,
			provider = excluded.provider,
			provider_name = excluded.provider_name,
			timeframe = excluded.timeframe,
			notes = excluded.notes,
			status = excluded.status,
			target_broker = excluded.target_broker,
			market_type = excluded.market_type,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at,
			closed_at = excluded.closed_at
		WHERE trade_signals.status = 'active'
	`),
		s.ID, s.Symbol, string(s.Side), s.Entry, s.StopLoss, s.TakeProfit, s.ClosePrice, s.PnL,
		s.Provider, s.ProviderName, s.Timeframe, s.Notes, string(s.Status), s.TargetBroker, string(s.MarketType),
		meta, s.CreatedAt.UTC(), s.UpdatedAt.UTC(), nullTime(s.ClosedAt),
	)
	if err != nil {
		return fmt.Errorf("save trade signal %s: %w", s.ID, err)
	}
	return nil
}

// GetTradeSignal loads a signal by id. Missing ids return ErrNotFound.
func (d *Database) GetTradeSignal(ctx context.Context, id string) (*signal.TradeSignal, error) {
	row := d.DB.QueryRowContext(ctx, d.rebind(`SELECT `+signalColumns+` FROM trade_signals WHERE id = ?`), id)
	s, err := scanSignal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get trade signal %s: %w", id, err)
	}
	return s, nil
}

// SignalStatusUpdate carries the columns touched by a status transition.
type SignalStatusUpdate struct {
	ID         string
	Status     signal.Status
	ClosePrice decimal.NullDecimal
	PnL        decimal.NullDecimal
	ClosedAt   *time.Time
	UpdatedAt  time.Time
}

// UpdateSignalStatus persists a status transition. Missing ids return
// ErrNotFound.
func (d *Database) UpdateSignalStatus(ctx context.Context, u SignalStatusUpdate) error {
	res, err := d.DB.ExecContext(ctx, d.rebind(`
		UPDATE trade_signals
		SET status = ?, close_price = ?, pnl = ?, closed_at = ?, updated_at = ?
		WHERE id = ?
	`), string(u.Status), u.ClosePrice, u.PnL, nullTime(u.ClosedAt), u.UpdatedAt.UTC(), u.ID)
	if err != nil {
		return fmt.Errorf("update signal status %s: %w", u.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActiveSignals returns every signal still in the active status.
func (d *Database) ListActiveSignals(ctx context.Context) ([]*signal.TradeSignal, error) {
	return d.ListSignals(ctx, string(signal.StatusActive), 0)
}

// ListSignals returns signals ordered by newest first. An empty status
// matches all; limit <= 0 means no limit.
func (d *Database) ListSignals(ctx context.Context, status string, limit int) ([]*signal.TradeSignal, error) {
	query := `SELECT ` + signalColumns + ` FROM trade_signals`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.DB.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query trade signals: %w", err)
	}
	defer rows.Close()

	var out []*signal.TradeSignal
	for rows.Next() {
		s, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade signal: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSignal(row scanner) (*signal.TradeSignal, error) {
	var (
		s                        signal.TradeSignal
		side, status, marketType string
		meta                     sql.NullString
		closedAt                 sql.NullTime
	)
	err := row.Scan(
		&s.ID, &s.Symbol, &side, &s.Entry, &s.StopLoss, &s.TakeProfit, &s.ClosePrice, &s.PnL,
		&s.Provider, &s.ProviderName, &s.Timeframe, &s.Notes, &status, &s.TargetBroker, &marketType,
		&meta, &s.CreatedAt, &s.UpdatedAt, &closedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Side = signal.Side(side)
	s.Status = signal.Status(status)
	s.MarketType = signal.AssetClass(marketType)
	if closedAt.Valid {
		t := closedAt.Time
		s.ClosedAt = &t
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &s.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &s, nil
}

func marshalMetadata(m map[string]any) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode metadata: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
