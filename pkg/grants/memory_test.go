package grants

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ga4access/pkg/roles"
)

func newPending(email, property string) *Grant {
	return &Grant{
		SubjectEmail: email,
		RequesterID:  1,
		ClientID:     10,
		PropertyID:   property,
		Role:         roles.GA4Editor,
		Status:       StatusPending,
		RequestedAt:  time.Now(),
	}
}

func TestMemoryRepository_OneOpenGrantPerPair(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	first := newPending("Alice@Example.com", "123")
	require.NoError(t, repo.Create(ctx, first))
	assert.Equal(t, "alice@example.com", first.SubjectEmail)

	err := repo.Create(ctx, newPending("alice@example.com ", "123"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflict))

	// a different property is a different pair
	require.NoError(t, repo.Create(ctx, newPending("alice@example.com", "456")))

	// once the first grant is terminal a new one may be opened
	_, err = repo.UpdateStatus(ctx, first.ID, StatusRejected, nil)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, newPending("alice@example.com", "123")))

	open, err := repo.CountByFilters(ctx, ListFilter{
		SubjectEmail: "alice@example.com",
		PropertyID:   "123",
		Statuses:     []Status{StatusPending, StatusActive},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, open)
}

func TestMemoryRepository_TerminalIsFinal(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	g := newPending("bob@example.com", "1")
	require.NoError(t, repo.Create(ctx, g))
	_, err := repo.UpdateStatus(ctx, g.ID, StatusRejected, func(g *Grant) error {
		g.RejectionReason = "not needed"
		return nil
	})
	require.NoError(t, err)

	for _, to := range AllStatuses() {
		_, err := repo.UpdateStatus(ctx, g.ID, to, func(g *Grant) error {
			g.Reason = "mutated"
			return nil
		})
		assert.ErrorIs(t, err, ErrInvalidTransition, "REJECTED -> %s", to)
	}

	stored, err := repo.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, stored.Status)
	assert.Empty(t, stored.Reason)
	assert.Equal(t, "not needed", stored.RejectionReason)
}

func TestMemoryRepository_ApplyErrorLeavesRowUntouched(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	g := newPending("carol@example.com", "1")
	require.NoError(t, repo.Create(ctx, g))

	boom := errors.New("boom")
	_, err := repo.UpdateStatus(ctx, g.ID, StatusActive, func(g *Grant) error {
		g.ExternalBindingID = "b1"
		return boom
	})
	assert.ErrorIs(t, err, boom)

	stored, err := repo.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
	assert.Empty(t, stored.ExternalBindingID)
}

func TestMemoryRepository_NotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	_, err := repo.Get(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.UpdateStatus(ctx, 99, StatusActive, nil)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.FindActiveGrant(ctx, "x@example.com", "1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRepository_FindExpiringWithin(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	mk := func(email string, expiresIn time.Duration) {
		g := newPending(email, "p")
		g.Status = StatusActive
		g.ExpiresAt = TimePtr(now.Add(expiresIn))
		require.NoError(t, repo.Create(ctx, g))
	}
	mk("past@example.com", -time.Hour)
	mk("soon@example.com", 12*time.Hour)
	mk("week@example.com", 7*24*time.Hour)
	mk("later@example.com", 8*24*time.Hour)

	got, err := repo.FindExpiringWithin(ctx, now, 7, StatusActive)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "soon@example.com", got[0].SubjectEmail)
	assert.Equal(t, "week@example.com", got[1].SubjectEmail)
}

func TestMemoryRepository_ListPaging(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	for _, p := range []string{"1", "2", "3", "4"} {
		require.NoError(t, repo.Create(ctx, newPending("dave@example.com", p)))
	}

	page, err := ListByUser(ctx, repo, 1, ListFilter{Offset: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "2", page[0].PropertyID)
	assert.Equal(t, "3", page[1].PropertyID)

	empty, err := repo.List(ctx, ListFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)

	none, err := ListByUser(ctx, repo, 2, ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryRepository_MarkNotifiedSkipsTerminal(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	at := time.Now()

	g := newPending("erin@example.com", "1")
	require.NoError(t, repo.Create(ctx, g))
	require.NoError(t, repo.MarkNotified(ctx, g.ID, "pending_approval", at))

	stored, _ := repo.Get(ctx, g.ID)
	assert.Equal(t, "pending_approval", stored.LastNotificationType)

	_, err := repo.UpdateStatus(ctx, g.ID, StatusDeleted, nil)
	require.NoError(t, err)
	require.NoError(t, repo.MarkNotified(ctx, g.ID, "expired", at))

	stored, _ = repo.Get(ctx, g.ID)
	assert.Equal(t, "pending_approval", stored.LastNotificationType)
}
