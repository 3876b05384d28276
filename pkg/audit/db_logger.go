package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/ga4access/pkg/storage/postgres"
)

// Migrations returns the schema for audit_logs
func Migrations() []postgres.Migration {
	return []postgres.Migration{
		{
			Version:     1,
			Description: "Create audit_logs table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_logs (
					id BIGSERIAL PRIMARY KEY,
					timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
					event_type VARCHAR(100) NOT NULL,
					status VARCHAR(20) NOT NULL,
					user_id BIGINT,
					client_id BIGINT,
					resource_type VARCHAR(50),
					resource_id VARCHAR(255),
					resource_name VARCHAR(512),
					request_id VARCHAR(100),
					ip_address VARCHAR(45),
					message TEXT,
					error_message TEXT,
					metadata JSONB,
					changes JSONB,
					created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp DESC);
				CREATE INDEX IF NOT EXISTS idx_audit_logs_event_type ON audit_logs(event_type);
				CREATE INDEX IF NOT EXISTS idx_audit_logs_user_id ON audit_logs(user_id);
				CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs(resource_type, resource_id);
			`,
		},
	}
}

// DBLogger implements audit logging to PostgreSQL database
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-based audit logger. The schema is
// expected to have been applied with Migrations.
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db}, nil
}

// Log logs an audit event to the database
func (l *DBLogger) Log(ctx context.Context, event *AuditEvent) error {
	Stamp(ctx, event)

	var metadataJSON, changesJSON []byte
	var err error

	if len(event.Metadata) > 0 {
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	if event.Changes != nil {
		changesJSON, err = json.Marshal(event.Changes)
		if err != nil {
			return fmt.Errorf("failed to marshal changes: %w", err)
		}
	}

	query := `
		INSERT INTO audit_logs (
			timestamp, event_type, status,
			user_id, client_id,
			resource_type, resource_id, resource_name,
			request_id, ip_address,
			message, error_message, metadata, changes
		) VALUES (
			$1, $2, $3,
			$4, $5,
			$6, $7, $8,
			$9, $10,
			$11, $12, $13, $14
		) RETURNING id
	`

	err = l.db.QueryRowContext(ctx, query,
		event.Timestamp, string(event.EventType), string(event.Status),
		event.UserID, event.ClientID,
		string(event.ResourceType), event.ResourceID, event.ResourceName,
		event.RequestID, event.IPAddress,
		event.Message, event.ErrorMessage, metadataJSON, changesJSON,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	return nil
}

const auditColumns = `
	id, timestamp, event_type, status,
	user_id, client_id,
	resource_type, resource_id, resource_name,
	request_id, ip_address,
	message, error_message, metadata, changes
`

// Search searches audit logs based on filters, newest first
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error) {
	query := "SELECT " + auditColumns + " FROM audit_logs WHERE 1=1"

	args := []interface{}{}
	argCount := 1

	if filter.StartTime != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", argCount)
		args = append(args, *filter.StartTime)
		argCount++
	}

	if filter.EndTime != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", argCount)
		args = append(args, *filter.EndTime)
		argCount++
	}

	if filter.UserID != nil {
		query += fmt.Sprintf(" AND user_id = $%d", argCount)
		args = append(args, *filter.UserID)
		argCount++
	}

	if filter.ClientID != nil {
		query += fmt.Sprintf(" AND client_id = $%d", argCount)
		args = append(args, *filter.ClientID)
		argCount++
	}

	if len(filter.EventTypes) > 0 {
		query += fmt.Sprintf(" AND event_type = ANY($%d)", argCount)
		eventTypeStrs := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			eventTypeStrs[i] = string(et)
		}
		args = append(args, pq.Array(eventTypeStrs))
		argCount++
	}

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, string(*filter.Status))
		argCount++
	}

	if filter.ResourceType != "" {
		query += fmt.Sprintf(" AND resource_type = $%d", argCount)
		args = append(args, string(filter.ResourceType))
		argCount++
	}

	if filter.ResourceID != "" {
		query += fmt.Sprintf(" AND resource_id = $%d", argCount)
		args = append(args, filter.ResourceID)
		argCount++
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filter.Limit)
		argCount++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit logs: %w", err)
	}
	defer rows.Close()

	events := make([]*AuditEvent, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit logs: %w", err)
	}

	return events, nil
}

// Get returns one event or ErrNotFound
func (l *DBLogger) Get(ctx context.Context, id int64) (*AuditEvent, error) {
	row := l.db.QueryRowContext(ctx, "SELECT "+auditColumns+" FROM audit_logs WHERE id = $1", id)
	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return event, err
}

// Export renders matching events in format
func (l *DBLogger) Export(ctx context.Context, filter SearchFilter, format ExportFormat) ([]byte, error) {
	events, err := l.Search(ctx, filter)
	if err != nil {
		return nil, err
	}
	return export(events, format)
}

// Cleanup removes events older than retention
func (l *DBLogger) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	result, err := l.db.ExecContext(ctx, "DELETE FROM audit_logs WHERE timestamp < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up audit logs: %w", err)
	}
	return result.RowsAffected()
}

// Close is a no-op; the pool is shared
func (l *DBLogger) Close() error {
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row scanner) (*AuditEvent, error) {
	event := &AuditEvent{Metadata: make(map[string]interface{})}

	var (
		eventType, status, resourceType                string
		resourceID, resourceName, requestID, ipAddress sql.NullString
		message, errorMessage                          sql.NullString
		userID, clientID                               sql.NullInt64
		metadataJSON, changesJSON                      []byte
	)

	err := row.Scan(
		&event.ID, &event.Timestamp, &eventType, &status,
		&userID, &clientID,
		&resourceType, &resourceID, &resourceName,
		&requestID, &ipAddress,
		&message, &errorMessage, &metadataJSON, &changesJSON,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan audit log: %w", err)
	}

	event.EventType = EventType(eventType)
	event.Status = EventStatus(status)
	event.ResourceType = ResourceType(resourceType)
	event.ResourceID = resourceID.String
	event.ResourceName = resourceName.String
	event.RequestID = requestID.String
	event.IPAddress = ipAddress.String
	event.Message = message.String
	event.ErrorMessage = errorMessage.String
	if userID.Valid {
		v := userID.Int64
		event.UserID = &v
	}
	if clientID.Valid {
		v := clientID.Int64
		event.ClientID = &v
	}

	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &event.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	if len(changesJSON) > 0 {
		event.Changes = &ChangeDetails{}
		if err := json.Unmarshal(changesJSON, event.Changes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal changes: %w", err)
		}
	}

	return event, nil
}
