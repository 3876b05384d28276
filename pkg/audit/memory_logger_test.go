package audit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/ga4access/pkg/grants"
)

func grantEvent(t EventType, id int64, at time.Time) *AuditEvent {
	e := NewGrantEvent(t, EventStatusSuccess, nil, &grants.Grant{ID: id, ClientID: 1, SubjectEmail: "a@x.com", PropertyID: "P"})
	e.Timestamp = at
	return e
}

func TestMemoryLogger_SearchNewestFirst(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLogger()
	base := time.Now().UTC()

	require.NoError(t, l.Log(ctx, grantEvent(EventTypeGrantRequested, 1, base)))
	require.NoError(t, l.Log(ctx, grantEvent(EventTypeGrantApproved, 1, base.Add(time.Minute))))
	require.NoError(t, l.Log(ctx, grantEvent(EventTypeGrantRequested, 2, base.Add(2*time.Minute))))

	events, err := l.Search(ctx, SearchFilter{ResourceType: ResourceTypeGrant, ResourceID: "1"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventTypeGrantApproved, events[0].EventType)
	assert.Equal(t, EventTypeGrantRequested, events[1].EventType)

	page, err := l.Search(ctx, SearchFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, EventTypeGrantApproved, page[0].EventType)

	empty, err := l.Search(ctx, SearchFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryLogger_GetAndCleanup(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLogger()

	old := grantEvent(EventTypeGrantExpired, 1, time.Now().Add(-100*24*time.Hour))
	require.NoError(t, l.Log(ctx, old))
	require.NoError(t, l.Log(ctx, grantEvent(EventTypeGrantExpired, 2, time.Now())))

	got, err := l.Get(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, "1", got.ResourceID)

	n, err := l.Cleanup(ctx, 90*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = l.Get(ctx, old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, l.Events(), 1)
}

func TestMemoryLogger_ExportCSV(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLogger()
	require.NoError(t, l.Log(ctx, grantEvent(EventTypeGrantRevoked, 5, time.Now())))

	data, err := l.Export(ctx, SearchFilter{}, ExportFormatCSV)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "ID,Timestamp,EventType"))
	assert.Contains(t, lines[1], "grant.revoked")

	nd, err := l.Export(ctx, SearchFilter{}, ExportFormatNDJSON)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(nd), "\n"))
}

func TestMultiLogger_FansOut(t *testing.T) {
	ctx := context.Background()
	logger, hook := test.NewNullLogger()

	mem := NewMemoryLogger()
	multi := NewMultiLogger(mem, NewLogrusLogger(logger))

	event := NewGrantEvent(EventTypeGrantSyncFailed, EventStatusFailure, nil, &grants.Grant{ID: 4})
	event.Message = "GA4 grant failed"
	event.ErrorMessage = "timeout"
	require.NoError(t, multi.Log(ctx, event))

	assert.Len(t, mem.Events(), 1)
	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "GA4 grant failed", entry.Message)
	assert.Equal(t, "timeout", entry.Data["error"])
	assert.NoError(t, multi.Close())
}

func TestFromContext(t *testing.T) {
	assert.IsType(t, NoOpLogger{}, FromContext(context.Background()))

	mem := NewMemoryLogger()
	ctx := WithLogger(context.Background(), mem)
	assert.Same(t, mem, FromContext(ctx))
}
