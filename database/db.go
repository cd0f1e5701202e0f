package database

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

func InitDB(logger *zap.Logger) (*sql.DB, error) {
	host := getEnv("DB_HOST", "localhost")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "postgres")
	password := getEnv("DB_PASSWORD", "postgres")
	dbname := getEnv("DB_NAME", "membershipdb")

	psqlInfo := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", psqlInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(1 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Create tables if they don't exist. checkout_request_id is the
	// idempotency key for gateway callbacks; user_id is unique on
	// memberships so activation is a single atomic upsert.
	createTableQuery := `
	CREATE TABLE IF NOT EXISTS transactions (
		id SERIAL PRIMARY KEY,
		user_id VARCHAR(64) NOT NULL,
		phone_number VARCHAR(15) NOT NULL,
		amount BIGINT NOT NULL,
		checkout_request_id VARCHAR(100) UNIQUE NOT NULL,
		merchant_request_id VARCHAR(100),
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		receipt_number VARCHAR(50),
		transaction_date TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_user_id ON transactions (user_id);

	CREATE TABLE IF NOT EXISTS memberships (
		id SERIAL PRIMARY KEY,
		user_id VARCHAR(64) UNIQUE NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'free',
		payment_reference VARCHAR(50),
		amount BIGINT NOT NULL DEFAULT 0,
		currency VARCHAR(8) NOT NULL DEFAULT 'KES',
		payment_method VARCHAR(20) NOT NULL DEFAULT 'mpesa',
		paid_at TIMESTAMP,
		expires_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);
	`

	if _, err := db.Exec(createTableQuery); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info("Database connection established")
	return db, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
