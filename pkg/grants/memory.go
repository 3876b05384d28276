package grants

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is an in-process Repository
type MemoryRepository struct {
	mu     sync.Mutex
	nextID int64
	grants map[int64]*Grant
	now    func() time.Time
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		grants: make(map[int64]*Grant),
		now:    time.Now,
	}
}

// Create implements Repository
func (r *MemoryRepository) Create(ctx context.Context, g *Grant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g.SubjectEmail = NormalizeEmail(g.SubjectEmail)
	if g.Status.IsOpen() {
		for _, existing := range r.grants {
			if existing.Status.IsOpen() && existing.SubjectEmail == g.SubjectEmail && existing.PropertyID == g.PropertyID {
				return &ConflictError{SubjectEmail: g.SubjectEmail, PropertyID: g.PropertyID}
			}
		}
	}

	r.nextID++
	g.ID = r.nextID
	if g.UpdatedAt.IsZero() {
		g.UpdatedAt = r.now()
	}
	r.grants[g.ID] = g.Clone()
	return nil
}

// Get implements Repository
func (r *MemoryRepository) Get(ctx context.Context, id int64) (*Grant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.grants[id]
	if !ok {
		return nil, notFound(id)
	}
	return g.Clone(), nil
}

// FindActiveGrant implements Repository
func (r *MemoryRepository) FindActiveGrant(ctx context.Context, subjectEmail, propertyID string) (*Grant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := NormalizeEmail(subjectEmail)
	for _, g := range r.grants {
		if g.Status.IsOpen() && g.SubjectEmail == email && g.PropertyID == propertyID {
			return g.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

// FindExpiringWithin implements Repository
func (r *MemoryRepository) FindExpiringWithin(ctx context.Context, now time.Time, days int, status Status) ([]*Grant, error) {
	return r.List(ctx, expiringWindow(now, days, status))
}

// UpdateStatus implements Repository
func (r *MemoryRepository) UpdateStatus(ctx context.Context, id int64, status Status, fn ApplyFunc) (*Grant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.grants[id]
	if !ok {
		return nil, notFound(id)
	}
	if err := ValidateTransition(id, current.Status, status); err != nil {
		return nil, err
	}

	updated := current.Clone()
	if fn != nil {
		if err := fn(updated); err != nil {
			return nil, err
		}
	}
	updated.Status = status
	updated.UpdatedAt = r.now()
	r.grants[id] = updated
	return updated.Clone(), nil
}

// MarkNotified implements Repository
func (r *MemoryRepository) MarkNotified(ctx context.Context, id int64, notificationType string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.grants[id]
	if !ok {
		return notFound(id)
	}
	if g.Status.IsTerminal() {
		return nil
	}
	g.LastNotificationSentAt = TimePtr(at)
	g.LastNotificationType = notificationType
	return nil
}

// List implements Repository
func (r *MemoryRepository) List(ctx context.Context, filter ListFilter) ([]*Grant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := r.match(filter)
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*Grant{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// CountByFilters implements Repository
func (r *MemoryRepository) CountByFilters(ctx context.Context, filter ListFilter) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.match(filter)), nil
}

func (r *MemoryRepository) match(filter ListFilter) []*Grant {
	out := make([]*Grant, 0)
	for _, g := range r.grants {
		if filter.Matches(g) {
			out = append(out, g.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
