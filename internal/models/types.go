package models

import (
	"time"

	"github.com/google/uuid"
)

// WorkflowParams carries the optional time adjustments a caller may
// attach to a state-machine verb or to an edit. All times are UTC.
type WorkflowParams struct {
	Type            string     `json:"type,omitempty"`
	AddMinutes      *int       `json:"add_minutes,omitempty"`
	SubtractMinutes *int       `json:"subtract_minutes,omitempty"`
	StartTime       *time.Time `json:"start_time,omitempty"`
	EndTime         *time.Time `json:"end_time,omitempty"`
}

// WidgetSync is the desktop widget's view of the current session.
type WidgetSync struct {
	Type            SegmentType `json:"type"`
	StartTime       time.Time   `json:"start_time"`
	DurationSeconds int64       `json:"duration_seconds"`
}

type ResolveAction string

const (
	ResolveApprove    ResolveAction = "approve"
	ResolveReject     ResolveAction = "reject"
	ResolveResetStart ResolveAction = "reset_start_to_creation"
)

type AnomalyType string

const (
	AnomalyTooLongBreak    AnomalyType = "too_long_break"
	AnomalyExcessBreakTime AnomalyType = "excess_break_time"
	AnomalyLateLogin       AnomalyType = "late_login"
	AnomalyLongWorkSession AnomalyType = "long_work_session"
	AnomalyNoBreaks        AnomalyType = "no_breaks"
)

type PresenceStatus string

const (
	PresenceAvailable     PresenceStatus = "Available"
	PresenceAvailableIdle PresenceStatus = "AvailableIdle"
	PresenceAway          PresenceStatus = "Away"
	PresenceBeRightBack   PresenceStatus = "BeRightBack"
	PresenceBusy          PresenceStatus = "Busy"
	PresenceBusyIdle      PresenceStatus = "BusyIdle"
	PresenceDoNotDisturb  PresenceStatus = "DoNotDisturb"
	PresenceOffline       PresenceStatus = "Offline"
	PresenceUnknown       PresenceStatus = "PresenceUnknown"
)

// UserPresence is one user's availability snapshot plus the running
// streak counter maintained across poll cycles.
type UserPresence struct {
	UserID       uuid.UUID      `json:"user_id"`
	Status       PresenceStatus `json:"status"`
	Minutes      int            `json:"minutes"`
	UserNotified bool           `json:"user_notified"`
}
