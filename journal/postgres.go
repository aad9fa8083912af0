package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Postgres journals to a PostgreSQL database shared by several engines.
type Postgres struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewPostgres(ctx context.Context, dsn string, timeout time.Duration) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("postgres DSN is required")
	}
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, PostgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return NewPostgresFromDB(db, timeout), nil
}

// NewPostgresFromDB wraps an open handle; the schema is assumed to exist.
func NewPostgresFromDB(db *sqlx.DB, timeout time.Duration) *Postgres {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Postgres{db: db, timeout: timeout}
}

func (p *Postgres) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), p.timeout)
}

func (p *Postgres) RecordTrade(t TradeRecord) error {
	ctx, cancel := p.ctx()
	defer cancel()

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO trades (`+tradeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.TradeID, t.Symbol, t.Side, t.Size, t.Leverage, t.EntryPrice,
		t.ExitPrice, t.OpenTime.UTC(), t.CloseTime.UTC(), t.RealizedPnL, t.Reason)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrDuplicateTrade, t.TradeID)
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

func (p *Postgres) RecordEquity(e EquitySnapshot) error {
	ctx, cancel := p.ctx()
	defer cancel()

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO equity (time, capital, unrealized_pnl, realized_pnl, drawdown, num_positions, total_position_value)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.Time.UTC(), e.Capital, e.UnrealizedPnL, e.RealizedPnL, e.Drawdown, e.NumPositions, e.TotalPositionValue)
	if err != nil {
		return fmt.Errorf("insert equity: %w", err)
	}
	return nil
}

func (p *Postgres) GetTrade(tradeID string) (TradeRecord, error) {
	ctx, cancel := p.ctx()
	defer cancel()

	var rec TradeRecord
	err := p.db.GetContext(ctx, &rec, `SELECT `+tradeColumns+` FROM trades WHERE trade_id = $1`, tradeID)
	if errors.Is(err, sql.ErrNoRows) {
		return TradeRecord{}, fmt.Errorf("%w: %q", ErrTradeNotFound, tradeID)
	}
	return rec, err
}

func (p *Postgres) ListTradesClosedBetween(start, end time.Time) ([]TradeRecord, error) {
	ctx, cancel := p.ctx()
	defer cancel()

	var out []TradeRecord
	err := p.db.SelectContext(ctx, &out, `
		SELECT `+tradeColumns+`
		FROM trades
		WHERE close_time >= $1 AND close_time < $2
		ORDER BY close_time ASC`, start.UTC(), end.UTC())
	return out, err
}

func (p *Postgres) ListEquityBetween(start, end time.Time) ([]EquitySnapshot, error) {
	ctx, cancel := p.ctx()
	defer cancel()

	var out []EquitySnapshot
	err := p.db.SelectContext(ctx, &out, `
		SELECT time, capital, unrealized_pnl, realized_pnl, drawdown, num_positions, total_position_value
		FROM equity
		WHERE time >= $1 AND time < $2
		ORDER BY time ASC`, start.UTC(), end.UTC())
	return out, err
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
