package users

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/platinummonkey/ga4access/pkg/roles"
)

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	users  map[int64]*User
	tokens map[string]*Token
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[int64]*User),
		tokens: make(map[string]*Token),
	}
}

// Create implements Store
func (s *MemoryStore) Create(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u.Email = normalizeEmail(u.Email)
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return fmt.Errorf("%w: %s", ErrEmailTaken, u.Email)
		}
	}

	s.nextID++
	now := time.Now()
	u.ID = s.nextID
	u.CreatedAt = now
	u.UpdatedAt = now
	c := *u
	s.users[u.ID] = &c
	return nil
}

// Get implements Store
func (s *MemoryStore) Get(ctx context.Context, id int64) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	c := *u
	return &c, nil
}

// GetByEmail implements Store
func (s *MemoryStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email = normalizeEmail(email)
	for _, u := range s.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, email)
}

// ListAdmins implements Store
func (s *MemoryStore) ListAdmins(ctx context.Context, clientID *int64) ([]*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*User, 0)
	for _, u := range s.users {
		if !u.IsActive() {
			continue
		}
		switch u.SystemRole {
		case roles.SystemSuperAdmin:
		case roles.SystemAdmin:
			if clientID != nil && u.ClientID != *clientID {
				continue
			}
		default:
			continue
		}
		c := *u
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateSystemRole implements Store
func (s *MemoryStore) UpdateSystemRole(ctx context.Context, id int64, role roles.SystemRole) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	u.SystemRole = role
	u.UpdatedAt = time.Now()
	c := *u
	return &c, nil
}

// SetStatus implements Store
func (s *MemoryStore) SetStatus(ctx context.Context, id int64, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	u.Status = status
	u.UpdatedAt = time.Now()
	return nil
}

// SaveToken implements Store
func (s *MemoryStore) SaveToken(ctx context.Context, token *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[token.UserID]; !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, token.UserID)
	}
	token.ID = int64(len(s.tokens) + 1)
	token.CreatedAt = time.Now()
	c := *token
	s.tokens[token.Hash] = &c
	return nil
}

// GetByTokenHash implements Store
func (s *MemoryStore) GetByTokenHash(ctx context.Context, hash string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[hash]
	if !ok || t.RevokedAt != nil || (t.ExpiresAt != nil && t.ExpiresAt.Before(time.Now())) {
		return nil, ErrNotFound
	}
	u, ok := s.users[t.UserID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *u
	return &c, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
