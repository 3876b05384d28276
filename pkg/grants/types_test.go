package grants

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatus_Terminal(t *testing.T) {
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusActive.IsTerminal())
	assert.True(t, StatusExpired.IsTerminal())
	assert.True(t, StatusRejected.IsTerminal())
	assert.True(t, StatusDeleted.IsTerminal())
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusActive, true},
		{StatusPending, StatusRejected, true},
		{StatusPending, StatusDeleted, true},
		{StatusPending, StatusExpired, true},
		{StatusActive, StatusActive, true},
		{StatusActive, StatusPending, true},
		{StatusActive, StatusExpired, true},
		{StatusActive, StatusDeleted, true},
		{StatusActive, StatusRejected, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}

	// nothing leaves a terminal state, not even a same-status write
	for _, from := range []Status{StatusExpired, StatusRejected, StatusDeleted} {
		for _, to := range AllStatuses() {
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestValidateTransition_Error(t *testing.T) {
	err := ValidateTransition(42, StatusExpired, StatusActive)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	var te *TransitionError
	assert.True(t, errors.As(err, &te))
	assert.Equal(t, int64(42), te.GrantID)
	assert.Contains(t, err.Error(), "EXPIRED")
}

func TestGrant_DaysUntilExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	g := &Grant{}
	assert.Equal(t, -1, g.DaysUntilExpiry(now))

	g.ExpiresAt = TimePtr(now.Add(7*24*time.Hour + time.Hour))
	assert.Equal(t, 7, g.DaysUntilExpiry(now))

	g.ExpiresAt = TimePtr(now.Add(2 * time.Hour))
	assert.Equal(t, 0, g.DaysUntilExpiry(now))

	g.ExpiresAt = TimePtr(now.Add(-time.Minute))
	assert.Equal(t, -1, g.DaysUntilExpiry(now))
	assert.False(t, g.ExpiresInFuture(now))
}

func TestGrant_CloneIsDeep(t *testing.T) {
	approver := int64(7)
	exp := time.Now()
	g := &Grant{ID: 1, ApprovedBy: &approver, ExpiresAt: &exp}

	c := g.Clone()
	*c.ApprovedBy = 9
	*c.ExpiresAt = exp.Add(time.Hour)

	assert.Equal(t, int64(7), *g.ApprovedBy)
	assert.Equal(t, exp, *g.ExpiresAt)
}
