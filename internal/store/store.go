package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/m-mizutani/goerr/v2"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// ErrMissingEmail is returned when an applicant insert is attempted with
// an email that normalizes to empty. Such records are never persisted.
var ErrMissingEmail = goerr.New("applicant email is missing")

// DB is the relational persistence boundary for applicants, their audit
// trail, communications, and interviews.
type DB struct {
	conn *sql.DB
}

// New opens a Postgres connection pool and verifies it.
func New(dataSourceName string) (*DB, error) {
	conn, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open database")
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := conn.Ping(); err != nil {
		return nil, goerr.Wrap(err, "failed to ping database")
	}

	return &DB{conn: conn}, nil
}

// Close releases the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS applicants (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255),
		email VARCHAR(255) UNIQUE,
		phone VARCHAR(20),
		domain VARCHAR(255),
		education TEXT,
		job_history TEXT,
		cv_url TEXT,
		status VARCHAR(255) DEFAULT 'New',
		feedback TEXT,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP,
		gmail_thread_id VARCHAR(255)
	);`,
	`CREATE TABLE IF NOT EXISTS communications (
		id BIGSERIAL PRIMARY KEY,
		applicant_id BIGINT REFERENCES applicants(id) ON DELETE CASCADE,
		gmail_message_id VARCHAR(255) UNIQUE,
		sender TEXT,
		subject TEXT,
		body TEXT,
		direction VARCHAR(50),
		sent_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS applicant_status_history (
		id BIGSERIAL PRIMARY KEY,
		applicant_id BIGINT REFERENCES applicants(id) ON DELETE CASCADE,
		status_name VARCHAR(255) NOT NULL,
		changed_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS applicant_statuses (
		id BIGSERIAL PRIMARY KEY,
		status_name VARCHAR(255) UNIQUE NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS interviewers (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		email VARCHAR(255) UNIQUE NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS interviews (
		id BIGSERIAL PRIMARY KEY,
		applicant_id BIGINT REFERENCES applicants(id) ON DELETE CASCADE,
		interviewer_id BIGINT REFERENCES interviewers(id) ON DELETE SET NULL,
		event_title VARCHAR(255),
		start_time TIMESTAMP WITH TIME ZONE,
		end_time TIMESTAMP WITH TIME ZONE,
		calendar_event_id VARCHAR(255),
		status VARCHAR(50) DEFAULT 'Pending'
	);`,
	`CREATE TABLE IF NOT EXISTS job_descriptions (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) UNIQUE NOT NULL,
		drive_url TEXT,
		file_name VARCHAR(255),
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS export_logs (
		id BIGSERIAL PRIMARY KEY,
		file_name VARCHAR(255),
		sheet_url TEXT,
		created_by VARCHAR(255),
		created_at TIMESTAMP WITH TIME ZONE DEFAULT CURRENT_TIMESTAMP
	);`,
}

// CreateTables bootstraps the schema and seeds the default status list.
// Safe to call on every startup.
func (db *DB) CreateTables(ctx context.Context) error {
	for _, q := range schema {
		if _, err := db.conn.ExecContext(ctx, q); err != nil {
			return goerr.Wrap(err, "failed to create table")
		}
	}
	return db.seedStatuses(ctx)
}

func (db *DB) seedStatuses(ctx context.Context) error {
	var count int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM applicant_statuses`).Scan(&count); err != nil {
		return goerr.Wrap(err, "failed to count statuses")
	}
	if count > 0 {
		return nil
	}
	defaults := []string{"New", "Interview Round 1", "Interview Round 2", "Offer", "Rejected", "Hired"}
	for _, s := range defaults {
		if _, err := db.conn.ExecContext(ctx,
			`INSERT INTO applicant_statuses (status_name) VALUES ($1) ON CONFLICT (status_name) DO NOTHING`, s); err != nil {
			return goerr.Wrap(err, "failed to seed status", goerr.V("status", s))
		}
	}
	return nil
}

// nullable converts "" to a SQL NULL for optional text columns.
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
