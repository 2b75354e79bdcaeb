// Package archive persists delivered events into Postgres for offline
// querying. The live path never blocks on it; the archiver job feeds it
// from the outbox after delivery.
package archive

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Init(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS trades (
	trade_id      TEXT PRIMARY KEY,
	symbol        TEXT        NOT NULL,
	price         BIGINT      NOT NULL,
	qty           BIGINT      NOT NULL,
	buy_order_id  BIGINT      NOT NULL,
	sell_order_id BIGINT      NOT NULL,
	executed_at   TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS order_events (
	event_seq  BIGINT      PRIMARY KEY,
	order_id   BIGINT      NOT NULL,
	account_id TEXT        NOT NULL,
	symbol     TEXT        NOT NULL,
	status     TEXT        NOT NULL,
	remaining  BIGINT      NOT NULL,
	at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS trades_symbol_idx ON trades (symbol, executed_at);
CREATE INDEX IF NOT EXISTS order_events_order_idx ON order_events (order_id);`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveTrade is idempotent on trade id; redelivered events are absorbed.
func (s *Store) SaveTrade(ctx context.Context, tradeID, symbol string, price, qty int64, buyOrderID, sellOrderID uint64, executedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO trades (trade_id, symbol, price, qty, buy_order_id, sell_order_id, executed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (trade_id) DO NOTHING`,
		tradeID, symbol, price, qty, int64(buyOrderID), int64(sellOrderID), executedAt)
	return err
}

func (s *Store) SaveOrderEvent(ctx context.Context, eventSeq uint64, orderID uint64, accountID, symbol, status string, remaining int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO order_events (event_seq, order_id, account_id, symbol, status, remaining, at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (event_seq) DO NOTHING`,
		int64(eventSeq), int64(orderID), accountID, symbol, status, remaining, at)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}
