package uas

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventRegistered           ActivityEventType = "auth.account.registered"
	ActivityEventEmailVerified        ActivityEventType = "auth.account.verified"
	ActivityEventLoginSuccess         ActivityEventType = "auth.login.success"
	ActivityEventLoginFailure         ActivityEventType = "auth.login.failure"
	ActivityEventLoginLocked          ActivityEventType = "auth.login.locked"
	ActivityEventSocialLogin          ActivityEventType = "auth.social.login"
	ActivityEventTokenRefreshed       ActivityEventType = "auth.token.refreshed"
	ActivityEventRefreshReuse         ActivityEventType = "auth.token.reuse"
	ActivityEventLogout               ActivityEventType = "auth.logout"
	ActivityEventLogoutAll            ActivityEventType = "auth.logout.all"
	ActivityEventPasswordResetRequest ActivityEventType = "auth.password.reset_requested"
	ActivityEventPasswordResetSuccess ActivityEventType = "auth.password.reset"
	ActivityEventPasswordChanged      ActivityEventType = "auth.password.changed"
	ActivityEventRoleChanged          ActivityEventType = "auth.role.changed"
	ActivityEventAccountUnlocked      ActivityEventType = "auth.account.unlocked"
	ActivityEventAccountDeleted       ActivityEventType = "auth.account.deleted"
	ActivityEventSessionRevoked       ActivityEventType = "auth.session.revoked"
)

// ActorRef identifies who triggered an event.
type ActorRef struct {
	ID   string
	Type string
}

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType  ActivityEventType
	Actor      ActorRef
	AccountID  uuid.UUID
	Email      string
	Device     DeviceContext
	Metadata   map[string]any
	OccurredAt time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

type multiSink []ActivitySink

// ActivitySinks fans an event out to every sink. All sinks run even when
// one fails; the errors are joined.
func ActivitySinks(sinks ...ActivitySink) ActivitySink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multiSink) Record(ctx context.Context, event ActivityEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ActivityLogSink persists events as ActivityLog rows.
type ActivityLogSink struct {
	logs ActivityLogs
}

// NewActivityLogSink records events through the activity log repository.
func NewActivityLogSink(logs ActivityLogs) *ActivityLogSink {
	return &ActivityLogSink{logs: logs}
}

func (s *ActivityLogSink) Record(ctx context.Context, event ActivityEvent) error {
	row := &ActivityLog{
		Email:      event.Email,
		Action:     string(event.EventType),
		IPAddress:  event.Device.IPAddress,
		DeviceInfo: event.Device.UserAgent,
		Metadata:   event.Metadata,
		CreatedAt:  event.OccurredAt.UTC(),
	}

	if event.AccountID != uuid.Nil && event.EventType != ActivityEventAccountDeleted {
		id := event.AccountID
		row.AccountID = &id
	}

	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}

	return s.logs.Create(ctx, row)
}
