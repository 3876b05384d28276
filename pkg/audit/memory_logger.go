package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryLogger keeps audit events in process and implements Store
type MemoryLogger struct {
	mu     sync.RWMutex
	nextID int64
	events []*AuditEvent
}

// NewMemoryLogger creates an empty in-memory audit log
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

// Log implements Logger
func (l *MemoryLogger) Log(ctx context.Context, event *AuditEvent) error {
	Stamp(ctx, event)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	event.ID = l.nextID
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	c := *event
	l.events = append(l.events, &c)
	return nil
}

// Search implements Store
func (l *MemoryLogger) Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	matched := make([]*AuditEvent, 0)
	for _, e := range l.events {
		if filter.Matches(e) {
			c := *e
			matched = append(matched, &c)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*AuditEvent{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// Get implements Store
func (l *MemoryLogger) Get(ctx context.Context, id int64) (*AuditEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, e := range l.events {
		if e.ID == id {
			c := *e
			return &c, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
}

// Export implements Store
func (l *MemoryLogger) Export(ctx context.Context, filter SearchFilter, format ExportFormat) ([]byte, error) {
	events, err := l.Search(ctx, filter)
	if err != nil {
		return nil, err
	}
	return export(events, format)
}

// Cleanup implements Store
func (l *MemoryLogger) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.events[:0]
	var removed int64
	for _, e := range l.events {
		if e.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	l.events = kept
	return removed, nil
}

// Events returns every recorded event in insertion order
func (l *MemoryLogger) Events() []*AuditEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*AuditEvent, len(l.events))
	for i, e := range l.events {
		c := *e
		out[i] = &c
	}
	return out
}

// Close implements Logger
func (l *MemoryLogger) Close() error {
	return nil
}
