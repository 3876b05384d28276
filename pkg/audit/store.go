package audit

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Store.Get for unknown IDs
var ErrNotFound = errors.New("audit event not found")

// Store provides methods for querying and managing audit logs
type Store interface {
	// Search returns matching events, newest first
	Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error)

	// Get retrieves a specific audit event by ID
	Get(ctx context.Context, id int64) (*AuditEvent, error)

	// Export exports audit logs in the specified format
	Export(ctx context.Context, filter SearchFilter, format ExportFormat) ([]byte, error)

	// Cleanup removes audit logs older than retention
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}
