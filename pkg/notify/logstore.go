package notify

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/ga4access/pkg/roles"
	"github.com/platinummonkey/ga4access/pkg/storage/postgres"
)

// LogEntry records one send attempt
type LogEntry struct {
	ID             int64     `json:"id"`
	RecipientEmail string    `json:"recipient_email"`
	Type           Type      `json:"notification_type"`
	GrantID        *int64    `json:"grant_id,omitempty"`
	SentAt         time.Time `json:"sent_at"`
	Status         LogStatus `json:"status"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

// LogStore is the append-only notification log
type LogStore interface {
	Record(ctx context.Context, entry *LogEntry) error
	// SentSince reports whether a successful send of type to recipient for
	// grantID (nil for grant-less notifications) exists at or after since.
	SentSince(ctx context.Context, recipient string, t Type, grantID *int64, since time.Time) (bool, error)
}

// Migrations returns the schema for notification_log. The type CHECK list is
// generated from AllTypes.
func Migrations() []postgres.Migration {
	return []postgres.Migration{
		{
			Version:     1,
			Description: "Create notification_log table",
			SQL: fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS notification_log (
					id BIGSERIAL PRIMARY KEY,
					recipient_email VARCHAR(320) NOT NULL,
					notification_type VARCHAR(64) NOT NULL CHECK (notification_type IN (%s)),
					grant_id BIGINT REFERENCES permission_grants(id) ON DELETE SET NULL,
					sent_at TIMESTAMPTZ NOT NULL,
					status VARCHAR(16) NOT NULL CHECK (status IN (%s)),
					error_message TEXT NOT NULL DEFAULT ''
				);

				CREATE INDEX IF NOT EXISTS idx_notification_log_dedup
					ON notification_log (recipient_email, notification_type, grant_id, sent_at);
			`, roles.SQLValues(AllTypes()), roles.SQLValues([]LogStatus{LogSent, LogFailed})),
		},
	}
}

// PostgresLogStore stores the notification log in PostgreSQL
type PostgresLogStore struct {
	db *sql.DB
}

// NewPostgresLogStore creates a log store over an open pool
func NewPostgresLogStore(db *sql.DB) *PostgresLogStore {
	return &PostgresLogStore{db: db}
}

// Record implements LogStore
func (s *PostgresLogStore) Record(ctx context.Context, entry *LogEntry) error {
	query := `
		INSERT INTO notification_log (recipient_email, notification_type, grant_id, sent_at, status, error_message)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query,
		entry.RecipientEmail,
		string(entry.Type),
		entry.GrantID,
		entry.SentAt,
		string(entry.Status),
		entry.ErrorMessage,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to record notification: %w", err)
	}
	return nil
}

// SentSince implements LogStore
func (s *PostgresLogStore) SentSince(ctx context.Context, recipient string, t Type, grantID *int64, since time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM notification_log
			WHERE recipient_email = $1
			  AND notification_type = $2
			  AND grant_id IS NOT DISTINCT FROM $3
			  AND status = 'sent'
			  AND sent_at >= $4
		)
	`
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, recipient, string(t), grantID, since).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check notification log: %w", err)
	}
	return exists, nil
}

// MemoryLogStore is an in-process LogStore
type MemoryLogStore struct {
	mu      sync.Mutex
	entries []LogEntry
}

// NewMemoryLogStore creates an empty log
func NewMemoryLogStore() *MemoryLogStore {
	return &MemoryLogStore{}
}

// Record implements LogStore
func (s *MemoryLogStore) Record(ctx context.Context, entry *LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = int64(len(s.entries) + 1)
	s.entries = append(s.entries, *entry)
	return nil
}

// SentSince implements LogStore
func (s *MemoryLogStore) SentSince(ctx context.Context, recipient string, t Type, grantID *int64, since time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.RecipientEmail == recipient && e.Type == t && e.Status == LogSent &&
			sameGrant(e.GrantID, grantID) && !e.SentAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

// Entries returns a copy of the log
func (s *MemoryLogStore) Entries() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LogEntry(nil), s.entries...)
}

func sameGrant(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
