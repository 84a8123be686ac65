package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/maxvit/ctrader_meanrev/internal/domain"
)

const historyLimit = 50

// SQLiteStore implements domain.StateStore: one snapshot row plus a
// bounded closed-trade history table.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS bot_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			wins INTEGER NOT NULL,
			losses INTEGER NOT NULL,
			balance REAL NOT NULL,
			today_trade_done BOOLEAN NOT NULL,
			last_reset_date TEXT NOT NULL,
			config_json TEXT NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS trade_history (
			deal_id INTEGER PRIMARY KEY,
			side TEXT NOT NULL,
			profit REAL NOT NULL,
			balance REAL NOT NULL,
			closed_at DATETIME NOT NULL
		);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

func (s *SQLiteStore) LoadState(ctx context.Context) (*domain.Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT wins, losses, balance, today_trade_done, last_reset_date, config_json FROM bot_state WHERE id = 1`)

	var snap domain.Snapshot
	var configJSON string
	err := row.Scan(&snap.Wins, &snap.Losses, &snap.Balance, &snap.TodayTradeDone, &snap.LastResetDate, &configJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(configJSON), &snap.Config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT deal_id, side, profit, balance, closed_at FROM trade_history ORDER BY closed_at DESC LIMIT ?`,
		historyLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var r domain.TradeRecord
		if err := rows.Scan(&r.DealID, &r.Side, &r.Profit, &r.Balance, &r.ClosedAt); err != nil {
			return nil, err
		}
		snap.History = append(snap.History, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &snap, nil
}

func (s *SQLiteStore) SaveState(ctx context.Context, snap *domain.Snapshot) error {
	configJSON, err := json.Marshal(snap.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO bot_state (id, wins, losses, balance, today_trade_done, last_reset_date, config_json, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET
		 wins=excluded.wins,
		 losses=excluded.losses,
		 balance=excluded.balance,
		 today_trade_done=excluded.today_trade_done,
		 last_reset_date=excluded.last_reset_date,
		 config_json=excluded.config_json,
		 updated_at=CURRENT_TIMESTAMP`,
		snap.Wins, snap.Losses, snap.Balance, snap.TodayTradeDone, snap.LastResetDate, string(configJSON))
	if err != nil {
		return err
	}

	for _, r := range snap.History {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO trade_history (deal_id, side, profit, balance, closed_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(deal_id) DO NOTHING`,
			r.DealID, r.Side, r.Profit, r.Balance, r.ClosedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
