package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// MultiLogger logs to multiple audit loggers. Every sink is attempted even
// when an earlier one fails.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a new multi-logger that writes to multiple destinations
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log logs an audit event to all configured loggers
func (m *MultiLogger) Log(ctx context.Context, event *AuditEvent) error {
	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Log(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all loggers
func (m *MultiLogger) Close() error {
	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close logger: %w", err))
		}
	}
	return errors.Join(errs...)
}

// LogrusLogger mirrors audit events into the application log
type LogrusLogger struct {
	logger *logrus.Logger
}

// NewLogrusLogger creates a sink writing to logger
func NewLogrusLogger(logger *logrus.Logger) *LogrusLogger {
	if logger == nil {
		logger = logrus.New()
	}
	return &LogrusLogger{logger: logger}
}

// Log implements Logger
func (l *LogrusLogger) Log(ctx context.Context, event *AuditEvent) error {
	Stamp(ctx, event)
	fields := logrus.Fields{
		"audit":         true,
		"event_type":    event.EventType,
		"status":        event.Status,
		"resource_type": event.ResourceType,
		"resource_id":   event.ResourceID,
	}
	if event.UserID != nil {
		fields["user_id"] = *event.UserID
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	if event.Changes != nil {
		fields["before"] = event.Changes.Before
		fields["after"] = event.Changes.After
	}
	entry := l.logger.WithFields(fields)
	if event.ErrorMessage != "" {
		entry = entry.WithField("error", event.ErrorMessage)
	}

	switch event.Status {
	case EventStatusFailure, EventStatusDenied:
		entry.Warn(event.Message)
	default:
		entry.Info(event.Message)
	}
	return nil
}

// Close implements Logger
func (l *LogrusLogger) Close() error {
	return nil
}
