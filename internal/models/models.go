package models

import (
	"time"

	"github.com/google/uuid"
)

type SegmentType string

const (
	SegmentWork  SegmentType = "work"
	SegmentBreak SegmentType = "break"
)

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

// TimeSegment is one contiguous work or break interval in a user's
// ledger. A nil EndTime means the segment is still open.
type TimeSegment struct {
	ID            int64       `json:"id"`
	UserID        uuid.UUID   `json:"user_id"`
	Type          SegmentType `json:"type"`
	StartTime     time.Time   `json:"start_time"`
	EndTime       *time.Time  `json:"end_time,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	RequestAction bool        `json:"request_action"`
	IsDeleted     bool        `json:"-"`
}

func (ts *TimeSegment) Open() bool {
	return ts.EndTime == nil
}

// DurationSeconds is derived, never stored: closed segments report
// end-start, open segments report elapsed time up to now.
func (ts *TimeSegment) DurationSeconds(now time.Time) int64 {
	if ts.EndTime != nil {
		return int64(ts.EndTime.Sub(ts.StartTime).Seconds())
	}
	return int64(now.Sub(ts.StartTime).Seconds())
}

type User struct {
	ID          uuid.UUID `json:"id"`
	DisplayName string    `json:"display_name"`
	Role        UserRole  `json:"role"`
	IsDeleted   bool      `json:"-"`
}

type Notice struct {
	ID        int64     `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	IsRead    bool      `json:"is_read"`
}
