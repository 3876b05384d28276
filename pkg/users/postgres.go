package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/ga4access/pkg/roles"
)

const userColumns = "id, email, name, system_role, ga4_role, client_id, status, created_at, updated_at"

// PostgresStore stores users in PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store over an open pool
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create implements Store
func (s *PostgresStore) Create(ctx context.Context, u *User) error {
	u.Email = normalizeEmail(u.Email)
	now := time.Now().UTC()

	query := `
		INSERT INTO users (email, name, system_role, ga4_role, client_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query,
		u.Email,
		u.Name,
		string(u.SystemRole),
		nullRole(u.GA4Role),
		u.ClientID,
		string(u.Status),
		now,
		now,
	).Scan(&u.ID)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrEmailTaken, u.Email)
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	u.CreatedAt = now
	u.UpdatedAt = now
	return nil
}

// Get implements Store
func (s *PostgresStore) Get(ctx context.Context, id int64) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetByEmail implements Store
func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	email = normalizeEmail(email)
	u, err := scanUser(s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE email = $1", email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, email)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return u, nil
}

// ListAdmins implements Store
func (s *PostgresStore) ListAdmins(ctx context.Context, clientID *int64) ([]*User, error) {
	query := "SELECT " + userColumns + ` FROM users
		WHERE status = 'active'
		  AND (system_role = 'super_admin' OR (system_role = 'admin' AND ($1::BIGINT IS NULL OR client_id = $1)))
		ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list admins: %w", err)
	}
	defer rows.Close()

	admins := make([]*User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan admin: %w", err)
		}
		admins = append(admins, u)
	}
	return admins, rows.Err()
}

// UpdateSystemRole implements Store
func (s *PostgresStore) UpdateSystemRole(ctx context.Context, id int64, role roles.SystemRole) (*User, error) {
	query := "UPDATE users SET system_role = $1, updated_at = $2 WHERE id = $3 RETURNING " + userColumns

	u, err := scanUser(s.db.QueryRowContext(ctx, query, string(role), time.Now().UTC(), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update system role: %w", err)
	}
	return u, nil
}

// SetStatus implements Store
func (s *PostgresStore) SetStatus(ctx context.Context, id int64, status Status) error {
	res, err := s.db.ExecContext(ctx, "UPDATE users SET status = $1, updated_at = $2 WHERE id = $3",
		string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set user status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

// SaveToken implements Store
func (s *PostgresStore) SaveToken(ctx context.Context, token *Token) error {
	token.CreatedAt = time.Now().UTC()
	query := `
		INSERT INTO api_tokens (user_id, token_hash, token_prefix, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query, token.UserID, token.Hash, token.Prefix, token.ExpiresAt, token.CreatedAt).
		Scan(&token.ID)
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// GetByTokenHash implements Store
func (s *PostgresStore) GetByTokenHash(ctx context.Context, hash string) (*User, error) {
	query := `
		SELECT u.id, u.email, u.name, u.system_role, u.ga4_role, u.client_id, u.status, u.created_at, u.updated_at
		FROM api_tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.token_hash = $1
		  AND t.revoked_at IS NULL
		  AND (t.expires_at IS NULL OR t.expires_at > NOW())
	`
	u, err := scanUser(s.db.QueryRowContext(ctx, query, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}
	return u, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var systemRole, status string
	var ga4Role sql.NullString

	err := row.Scan(&u.ID, &u.Email, &u.Name, &systemRole, &ga4Role, &u.ClientID, &status, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}

	u.SystemRole = roles.SystemRole(systemRole)
	u.Status = Status(status)
	if ga4Role.Valid {
		u.GA4Role = roles.GA4Role(ga4Role.String)
	}
	return &u, nil
}

func nullRole(r roles.GA4Role) sql.NullString {
	return sql.NullString{String: string(r), Valid: r != ""}
}
