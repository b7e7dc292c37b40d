package config

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// SetupDatabase initializes the database connection
func SetupDatabase(cfg *Config) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	// Create tables if they don't exist
	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return db, nil
}

// createTables creates the necessary tables in the database
func createTables(db *sqlx.DB) error {
	// Create accounts table. The owner pair is UNIQUE so that lazy
	// account creation is race-free under concurrent first access.
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			id VARCHAR(36) PRIMARY KEY,
			owner_type VARCHAR(16) NOT NULL,
			owner_id VARCHAR(255) NOT NULL,
			daily_quota NUMERIC(22,4) NOT NULL DEFAULT 0,
			refill_amount NUMERIC(22,4) NOT NULL DEFAULT 0,
			daily_credits NUMERIC(22,4) NOT NULL DEFAULT 0,
			reward_credits NUMERIC(22,4) NOT NULL DEFAULT 0,
			credits NUMERIC(22,4) NOT NULL DEFAULT 0,
			income_at TIMESTAMPTZ,
			expense_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			UNIQUE (owner_type, owner_id)
		)
	`)
	if err != nil {
		return err
	}

	// Create events table. The upstream pair is the idempotency key;
	// the unique index is the authoritative duplicate guard.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id VARCHAR(36) PRIMARY KEY,
			account_id VARCHAR(36) NOT NULL REFERENCES accounts(id),
			event_type VARCHAR(16) NOT NULL,
			upstream_type VARCHAR(16) NOT NULL,
			upstream_tx_id VARCHAR(255) NOT NULL,
			direction VARCHAR(8) NOT NULL,
			credit_type VARCHAR(16) NOT NULL,
			total_amount NUMERIC(22,4) NOT NULL DEFAULT 0,
			balance_after NUMERIC(22,4) NOT NULL DEFAULT 0,
			note TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (upstream_type, upstream_tx_id)
		)
	`)
	if err != nil {
		return err
	}

	// Create transactions table (double-entry postings)
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS transactions (
			id VARCHAR(36) PRIMARY KEY,
			account_id VARCHAR(36) NOT NULL REFERENCES accounts(id),
			event_id VARCHAR(36) NOT NULL REFERENCES events(id),
			tx_type VARCHAR(16) NOT NULL,
			credit_debit VARCHAR(8) NOT NULL,
			credit_type VARCHAR(16) NOT NULL,
			change_amount NUMERIC(22,4) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	// Create indexes for better performance
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_events_account_id ON events(account_id)",
		"CREATE INDEX IF NOT EXISTS idx_transactions_account_id ON transactions(account_id)",
		"CREATE INDEX IF NOT EXISTS idx_transactions_event_id ON transactions(event_id)",
	}

	for _, idx := range indexes {
		_, err = db.Exec(idx)
		if err != nil {
			log.Printf("Warning: Failed to create index: %v", err)
			// Don't return error here, indexes are not critical
		}
	}

	return nil
}
