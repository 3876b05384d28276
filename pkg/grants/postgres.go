package grants

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/ga4access/pkg/roles"
	"github.com/platinummonkey/ga4access/pkg/storage/postgres"
)

const uniqueViolation = "23505"

const grantColumns = `id, subject_email, requester_id, client_id, property_id, ga4_role, status, reason,
	requested_at, approved_at, approved_by, expires_at, revoked_at, rejection_reason, extension_count,
	external_binding_id, ga4_registered, last_notification_sent_at, last_notification_type, updated_at`

// PostgresRepository stores grants in PostgreSQL
type PostgresRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresRepository creates a repository over an open pool
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db, now: time.Now}
}

// Create implements Repository
func (r *PostgresRepository) Create(ctx context.Context, g *Grant) error {
	g.SubjectEmail = NormalizeEmail(g.SubjectEmail)
	g.UpdatedAt = r.now().UTC()

	query := `
		INSERT INTO permission_grants (subject_email, requester_id, client_id, property_id, ga4_role, status, reason,
			requested_at, approved_at, approved_by, expires_at, revoked_at, rejection_reason, extension_count,
			external_binding_id, ga4_registered, last_notification_sent_at, last_notification_type, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING id
	`

	err := r.db.QueryRowContext(ctx, query,
		g.SubjectEmail,
		g.RequesterID,
		g.ClientID,
		g.PropertyID,
		string(g.Role),
		string(g.Status),
		g.Reason,
		g.RequestedAt,
		g.ApprovedAt,
		g.ApprovedBy,
		g.ExpiresAt,
		g.RevokedAt,
		g.RejectionReason,
		g.ExtensionCount,
		nullString(g.ExternalBindingID),
		g.GA4Registered,
		g.LastNotificationSentAt,
		g.LastNotificationType,
		g.UpdatedAt,
	).Scan(&g.ID)

	if isUniqueViolation(err) {
		return &ConflictError{SubjectEmail: g.SubjectEmail, PropertyID: g.PropertyID}
	}
	if err != nil {
		return fmt.Errorf("failed to create grant: %w", err)
	}
	return nil
}

// Get implements Repository
func (r *PostgresRepository) Get(ctx context.Context, id int64) (*Grant, error) {
	query := "SELECT " + grantColumns + " FROM permission_grants WHERE id = $1"

	g, err := scanGrant(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}
	return g, nil
}

// FindActiveGrant implements Repository
func (r *PostgresRepository) FindActiveGrant(ctx context.Context, subjectEmail, propertyID string) (*Grant, error) {
	query := "SELECT " + grantColumns + ` FROM permission_grants
		WHERE subject_email = $1 AND property_id = $2 AND status IN ('PENDING_APPROVAL', 'ACTIVE')
		LIMIT 1`

	g, err := scanGrant(r.db.QueryRowContext(ctx, query, NormalizeEmail(subjectEmail), propertyID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find open grant: %w", err)
	}
	return g, nil
}

// FindExpiringWithin implements Repository
func (r *PostgresRepository) FindExpiringWithin(ctx context.Context, now time.Time, days int, status Status) ([]*Grant, error) {
	return r.List(ctx, expiringWindow(now, days, status))
}

// UpdateStatus implements Repository. The row is locked for the duration
// of the transaction so concurrent scans and user actions serialize.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, id int64, status Status, fn ApplyFunc) (*Grant, error) {
	var updated *Grant

	err := postgres.InTx(ctx, r.db, func(tx *sql.Tx) error {
		query := "SELECT " + grantColumns + " FROM permission_grants WHERE id = $1 FOR UPDATE"
		g, err := scanGrant(tx.QueryRowContext(ctx, query, id))
		if errors.Is(err, sql.ErrNoRows) {
			return notFound(id)
		}
		if err != nil {
			return fmt.Errorf("failed to lock grant: %w", err)
		}

		if err := ValidateTransition(id, g.Status, status); err != nil {
			return err
		}
		if fn != nil {
			if err := fn(g); err != nil {
				return err
			}
		}
		g.Status = status
		g.UpdatedAt = r.now().UTC()

		update := `
			UPDATE permission_grants SET
				ga4_role = $1, status = $2, reason = $3, approved_at = $4, approved_by = $5, expires_at = $6,
				revoked_at = $7, rejection_reason = $8, extension_count = $9, external_binding_id = $10,
				ga4_registered = $11, last_notification_sent_at = $12, last_notification_type = $13, updated_at = $14
			WHERE id = $15
		`
		_, err = tx.ExecContext(ctx, update,
			string(g.Role),
			string(g.Status),
			g.Reason,
			g.ApprovedAt,
			g.ApprovedBy,
			g.ExpiresAt,
			g.RevokedAt,
			g.RejectionReason,
			g.ExtensionCount,
			nullString(g.ExternalBindingID),
			g.GA4Registered,
			g.LastNotificationSentAt,
			g.LastNotificationType,
			g.UpdatedAt,
			id,
		)
		if isUniqueViolation(err) {
			return &ConflictError{SubjectEmail: g.SubjectEmail, PropertyID: g.PropertyID}
		}
		if err != nil {
			return fmt.Errorf("failed to update grant: %w", err)
		}

		updated = g
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// MarkNotified implements Repository
func (r *PostgresRepository) MarkNotified(ctx context.Context, id int64, notificationType string, at time.Time) error {
	query := `
		UPDATE permission_grants
		SET last_notification_sent_at = $1, last_notification_type = $2
		WHERE id = $3 AND status IN ('PENDING_APPROVAL', 'ACTIVE')
	`
	if _, err := r.db.ExecContext(ctx, query, at, notificationType, id); err != nil {
		return fmt.Errorf("failed to mark grant notified: %w", err)
	}
	return nil
}

// List implements Repository
func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]*Grant, error) {
	where, args := buildWhere(filter)
	query := "SELECT " + grantColumns + " FROM permission_grants" + where + " ORDER BY id"

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	defer rows.Close()

	result := make([]*Grant, 0)
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		result = append(result, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate grants: %w", err)
	}
	return result, nil
}

// CountByFilters implements Repository
func (r *PostgresRepository) CountByFilters(ctx context.Context, filter ListFilter) (int, error) {
	where, args := buildWhere(filter)

	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM permission_grants"+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count grants: %w", err)
	}
	return count, nil
}

func buildWhere(f ListFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}

	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.RequesterID != nil {
		add("requester_id = $%d", *f.RequesterID)
	}
	if f.ClientID != nil {
		add("client_id = $%d", *f.ClientID)
	}
	if f.SubjectEmail != "" {
		add("subject_email = $%d", NormalizeEmail(f.SubjectEmail))
	}
	if f.PropertyID != "" {
		add("property_id = $%d", f.PropertyID)
	}
	if len(f.Statuses) > 0 {
		values := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			values[i] = string(s)
		}
		add("status = ANY($%d)", pq.Array(values))
	}
	if len(f.Roles) > 0 {
		add("ga4_role = ANY($%d)", pq.Array(roleStrings(f.Roles)))
	}
	if f.ExpiresFrom != nil {
		add("expires_at >= $%d", *f.ExpiresFrom)
	}
	if f.ExpiresUntil != nil {
		add("expires_at <= $%d", *f.ExpiresUntil)
	}
	if f.ApprovedUntil != nil {
		add("approved_at <= $%d", *f.ApprovedUntil)
	}
	if f.RequestedTo != nil {
		add("requested_at <= $%d", *f.RequestedTo)
	}
	if f.Registered != nil {
		add("ga4_registered = $%d", *f.Registered)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanGrant(row rowScanner) (*Grant, error) {
	var g Grant
	var role, status string
	var approvedAt, expiresAt, revokedAt, notifiedAt sql.NullTime
	var approvedBy sql.NullInt64
	var bindingID sql.NullString

	err := row.Scan(
		&g.ID,
		&g.SubjectEmail,
		&g.RequesterID,
		&g.ClientID,
		&g.PropertyID,
		&role,
		&status,
		&g.Reason,
		&g.RequestedAt,
		&approvedAt,
		&approvedBy,
		&expiresAt,
		&revokedAt,
		&g.RejectionReason,
		&g.ExtensionCount,
		&bindingID,
		&g.GA4Registered,
		&notifiedAt,
		&g.LastNotificationType,
		&g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	g.Role = roles.GA4Role(role)
	g.Status = Status(status)
	g.ApprovedAt = nullTime(approvedAt)
	g.ExpiresAt = nullTime(expiresAt)
	g.RevokedAt = nullTime(revokedAt)
	g.LastNotificationSentAt = nullTime(notifiedAt)
	if approvedBy.Valid {
		id := approvedBy.Int64
		g.ApprovedBy = &id
	}
	if bindingID.Valid {
		g.ExternalBindingID = bindingID.String
	}
	return &g, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func roleStrings(rs []roles.GA4Role) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = string(r)
	}
	return out
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
