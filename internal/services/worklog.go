package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"workledger/go-backend/internal/models"
)

// SegmentStore is the slice of the ledger the state machine needs.
type SegmentStore interface {
	ActiveSegment(ctx context.Context, userID uuid.UUID) (*models.TimeSegment, error)
	LastClosedSegment(ctx context.Context, userID uuid.UUID, segType *models.SegmentType) (*models.TimeSegment, error)
	LatestSegments(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]models.TimeSegment, error)
	SegmentByID(ctx context.Context, id int64) (*models.TimeSegment, error)
	InsertSegment(ctx context.Context, seg *models.TimeSegment) error
	UpdateSegment(ctx context.Context, seg *models.TimeSegment) error
	CloseAndInsert(ctx context.Context, closed *models.TimeSegment, next *models.TimeSegment) error
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// SettingsProvider is satisfied by SettingsService; thresholds are
// read on every operation so policy changes apply immediately.
type SettingsProvider interface {
	GetInt(ctx context.Context, key string) (int, error)
	GetTimeOfDay(ctx context.Context, key string) (hour, minute int, err error)
}

// WorkLogService owns the session state machine. Per-user state is
// derived from the ledger: no open segment = idle, open work segment =
// working, open break segment = on break. Every mutation path, the
// sweeps included, goes through these verbs under the per-user lock.
type WorkLogService struct {
	store    SegmentStore
	settings SettingsProvider
	notifier Notifier
	locks    *UserLocks
	metrics  *Metrics
	now      func() time.Time
}

func NewWorkLogService(store SegmentStore, settings SettingsProvider, notifier Notifier, locks *UserLocks, metrics *Metrics) *WorkLogService {
	return &WorkLogService{
		store:    store,
		settings: settings,
		notifier: notifier,
		locks:    locks,
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func minutesBefore(t time.Time, minutes int) time.Time {
	return t.Add(-time.Duration(minutes) * time.Minute)
}

func minutesAfter(t time.Time, minutes int) time.Time {
	return t.Add(time.Duration(minutes) * time.Minute)
}

// StartWork opens a new work segment. The proposed start defaults to
// now and may be backdated up to the reverse-registration window; a
// start beyond the stricter logged window is flagged for admin review.
func (s *WorkLogService) StartWork(ctx context.Context, userID uuid.UUID, params *models.WorkflowParams) (*models.TimeSegment, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	now := s.now()
	maxReverse, err := s.settings.GetInt(ctx, SettingMaxReverseRegistration)
	if err != nil {
		return nil, err
	}

	active, err := s.store.ActiveSegment(ctx, userID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, models.Conflictf("there is an active segment of type %s; end it before starting work", active.Type)
	}

	proposedStart, proposedEnd := now, (*time.Time)(nil)
	if params != nil {
		if params.StartTime != nil {
			proposedStart = params.StartTime.UTC()
		}
		if params.EndTime != nil {
			t := params.EndTime.UTC()
			proposedEnd = &t
		}
	}

	last, err := s.store.LastClosedSegment(ctx, userID, nil)
	if err != nil {
		return nil, err
	}
	if last != nil && proposedStart.Before(*last.EndTime) {
		return nil, models.Validationf("proposed segment overlaps the last one: start time %s must not precede the last segment's end time %s",
			proposedStart.Format(time.RFC3339), last.EndTime.Format(time.RFC3339))
	}
	if proposedStart.Before(minutesBefore(now, maxReverse)) {
		return nil, models.Validationf("start time %s cannot be earlier than %d minutes before now",
			proposedStart.Format(time.RFC3339), maxReverse)
	}
	if proposedEnd != nil {
		if proposedEnd.Before(proposedStart) {
			return nil, models.Validationf("end time cannot be earlier than start time")
		}
		if proposedEnd.After(now) {
			return nil, models.Validationf("end time cannot be in the future")
		}
	}

	seg := &models.TimeSegment{
		UserID:    userID,
		Type:      models.SegmentWork,
		StartTime: proposedStart,
		EndTime:   proposedEnd,
		CreatedAt: now,
	}
	if err := s.maybeEscalate(ctx, seg, now); err != nil {
		return nil, err
	}
	if err := s.store.InsertSegment(ctx, seg); err != nil {
		return nil, err
	}
	return seg, nil
}

// EndWork closes the user's open segment in place.
func (s *WorkLogService) EndWork(ctx context.Context, userID uuid.UUID, params *models.WorkflowParams) (*models.TimeSegment, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()
	return s.endWorkLocked(ctx, userID, params)
}

// endWorkLocked is EndWork without lock acquisition, for callers that
// already hold the user's lock.
func (s *WorkLogService) endWorkLocked(ctx context.Context, userID uuid.UUID, params *models.WorkflowParams) (*models.TimeSegment, error) {
	now := s.now()

	active, err := s.store.ActiveSegment(ctx, userID)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, models.Conflictf("you need to start work before ending it")
	}

	proposedEnd := now
	if params != nil && params.EndTime != nil {
		proposedEnd = params.EndTime.UTC()
	}
	if proposedEnd.Before(active.StartTime) {
		return nil, models.Validationf("end time cannot be earlier than the segment's start time")
	}
	if proposedEnd.After(now) {
		return nil, models.Validationf("end time %s cannot be ahead of the current time",
			proposedEnd.Format(time.RFC3339))
	}

	active.EndTime = &proposedEnd
	if err := s.store.UpdateSegment(ctx, active); err != nil {
		return nil, err
	}
	return active, nil
}

// StartBreak closes the open work segment at the proposed instant and
// opens a break segment at the same instant.
func (s *WorkLogService) StartBreak(ctx context.Context, userID uuid.UUID, params *models.WorkflowParams) (*models.TimeSegment, error) {
	return s.switchSegment(ctx, userID, params, models.SegmentBreak)
}

// ResumeWork closes the open break segment and reopens a work segment.
func (s *WorkLogService) ResumeWork(ctx context.Context, userID uuid.UUID, params *models.WorkflowParams) (*models.TimeSegment, error) {
	return s.switchSegment(ctx, userID, params, models.SegmentWork)
}

func (s *WorkLogService) switchSegment(ctx context.Context, userID uuid.UUID, params *models.WorkflowParams, target models.SegmentType) (*models.TimeSegment, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	now := s.now()
	maxReverse, err := s.settings.GetInt(ctx, SettingMaxReverseRegistration)
	if err != nil {
		return nil, err
	}

	active, err := s.store.ActiveSegment(ctx, userID)
	if err != nil {
		return nil, err
	}
	switch {
	case active == nil && target == models.SegmentBreak:
		return nil, models.Conflictf("there is no active work segment to start a break")
	case active == nil:
		return nil, models.Conflictf("there is no active segment to resume work from")
	case target == models.SegmentBreak && active.Type == models.SegmentBreak:
		return nil, models.Conflictf("break already in progress")
	case target == models.SegmentWork && active.Type != models.SegmentBreak:
		return nil, models.Conflictf("cannot resume work when not on a break")
	}

	proposedStart, proposedEnd := now, (*time.Time)(nil)
	if params != nil {
		if params.StartTime != nil {
			proposedStart = params.StartTime.UTC()
		}
		if params.EndTime != nil {
			t := params.EndTime.UTC()
			proposedEnd = &t
		}
	}

	if proposedStart.Before(minutesBefore(now, maxReverse)) {
		return nil, models.Validationf("start time cannot be earlier than %d minutes before the current time", maxReverse)
	}
	if proposedStart.Before(active.StartTime) {
		return nil, models.Validationf("start time cannot be earlier than the start of the current segment")
	}
	if proposedEnd != nil {
		if proposedEnd.Before(proposedStart) {
			return nil, models.Validationf("end time cannot be earlier than start time")
		}
		if proposedEnd.After(now) {
			return nil, models.Validationf("end time cannot be in the future")
		}
	}

	closed := *active
	closed.EndTime = &proposedStart

	next := &models.TimeSegment{
		UserID:    userID,
		Type:      target,
		StartTime: proposedStart,
		EndTime:   proposedEnd,
		CreatedAt: now,
	}
	if err := s.maybeEscalate(ctx, next, now); err != nil {
		return nil, err
	}
	if err := s.store.CloseAndInsert(ctx, &closed, next); err != nil {
		return nil, err
	}
	return next, nil
}

// EditWorklog adjusts the user's most recent closed segment (or the
// most recent one of the hinted type). Adjustments apply in a fixed
// order: add, subtract, absolute start, absolute end; the result must
// still satisfy start <= end or nothing is persisted.
func (s *WorkLogService) EditWorklog(ctx context.Context, userID uuid.UUID, params models.WorkflowParams) (*models.TimeSegment, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	now := s.now()
	maxReverse, err := s.settings.GetInt(ctx, SettingMaxReverseRegistration)
	if err != nil {
		return nil, err
	}

	typeHint, err := parseSegmentType(params.Type)
	if err != nil {
		return nil, err
	}

	seg, err := s.store.LastClosedSegment(ctx, userID, typeHint)
	if err != nil {
		return nil, err
	}
	if seg == nil {
		return nil, models.NotFoundf("no matching time segment found for editing")
	}

	if params.AddMinutes != nil {
		d := time.Duration(*params.AddMinutes) * time.Minute
		if seg.EndTime != nil {
			t := seg.EndTime.Add(d)
			seg.EndTime = &t
		} else {
			t := seg.StartTime.Add(d)
			seg.EndTime = &t
		}
	}
	if params.SubtractMinutes != nil {
		d := time.Duration(*params.SubtractMinutes) * time.Minute
		if seg.EndTime != nil {
			t := seg.EndTime.Add(-d)
			seg.EndTime = &t
		} else {
			t := seg.StartTime.Add(-d)
			seg.EndTime = &t
		}
	}
	if params.StartTime != nil {
		start := params.StartTime.UTC()
		if start.Before(minutesBefore(now, maxReverse)) || start.After(minutesAfter(now, maxReverse)) {
			return nil, models.Validationf("start time %s is outside the allowed window of %d minutes around now",
				start.Format(time.RFC3339), maxReverse)
		}
		seg.StartTime = start
	}
	if params.EndTime != nil {
		end := params.EndTime.UTC()
		if end.Before(minutesBefore(now, maxReverse)) || end.After(minutesAfter(now, maxReverse)) {
			return nil, models.Validationf("end time %s is outside the allowed window of %d minutes around now",
				end.Format(time.RFC3339), maxReverse)
		}
		seg.EndTime = &end
	}

	if seg.EndTime != nil && seg.StartTime.After(*seg.EndTime) {
		return nil, models.Validationf("start time cannot be after end time")
	}
	if typeHint != nil {
		seg.Type = *typeHint
	}

	if err := s.store.UpdateSegment(ctx, seg); err != nil {
		return nil, err
	}
	return seg, nil
}

// StartBreakForUsers force-starts a break for each user that currently
// holds an open non-break segment starting at or before the proposed
// instant. Users it skipped are simply absent from the result; callers
// notify only the users whose break was actually created.
func (s *WorkLogService) StartBreakForUsers(ctx context.Context, userIDs []uuid.UUID, startTime *time.Time) ([]models.TimeSegment, error) {
	now := s.now()
	proposedStart := now
	if startTime != nil {
		proposedStart = startTime.UTC()
	}

	maxReverse, err := s.settings.GetInt(ctx, SettingMaxReverseRegistration)
	if err != nil {
		return nil, err
	}
	if proposedStart.Before(minutesBefore(now, maxReverse)) {
		return nil, models.Validationf("break start time cannot be earlier than %d minutes before the current time", maxReverse)
	}

	var created []models.TimeSegment
	for _, userID := range userIDs {
		seg, err := s.startBreakForUser(ctx, userID, proposedStart, now)
		if err != nil {
			log.Printf("StartBreakForUsers: user %s: %v", userID, err)
			continue
		}
		if seg != nil {
			created = append(created, *seg)
		}
	}
	s.metrics.IncrementForcedBreaks(len(created))
	return created, nil
}

func (s *WorkLogService) startBreakForUser(ctx context.Context, userID uuid.UUID, proposedStart, now time.Time) (*models.TimeSegment, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	active, err := s.store.ActiveSegment(ctx, userID)
	if err != nil {
		return nil, err
	}
	// Silently skip users with nothing to do: idle, already on break,
	// or a segment that started after the proposed break start.
	if active == nil || active.Type == models.SegmentBreak || proposedStart.Before(active.StartTime) {
		return nil, nil
	}

	closed := *active
	closed.EndTime = &proposedStart

	next := &models.TimeSegment{
		UserID:    userID,
		Type:      models.SegmentBreak,
		StartTime: proposedStart,
		CreatedAt: now,
	}
	if err := s.store.CloseAndInsert(ctx, &closed, next); err != nil {
		return nil, err
	}
	return next, nil
}

// ResolveActionRequest applies an admin's decision on a flagged
// segment. Approve clears the flag, reject clears it and soft-deletes
// the segment, reset clears it and rewrites the start to the record's
// creation time.
func (s *WorkLogService) ResolveActionRequest(ctx context.Context, segmentID int64, action models.ResolveAction) error {
	seg, err := s.store.SegmentByID(ctx, segmentID)
	if err != nil {
		return err
	}
	if seg == nil || seg.IsDeleted {
		return models.NotFoundf("time segment %d not found", segmentID)
	}

	unlock := s.locks.Lock(seg.UserID)
	defer unlock()

	switch action {
	case models.ResolveApprove:
		seg.RequestAction = false
	case models.ResolveReject:
		seg.RequestAction = false
		seg.IsDeleted = true
	case models.ResolveResetStart:
		if seg.CreatedAt.IsZero() {
			return models.Validationf("segment %d has no creation time to reset to", segmentID)
		}
		seg.RequestAction = false
		seg.StartTime = seg.CreatedAt
	default:
		return models.Validationf("invalid resolve action %q", action)
	}

	return s.store.UpdateSegment(ctx, seg)
}

// ActiveSegmentType reports the user's derived state; nil means idle.
func (s *WorkLogService) ActiveSegmentType(ctx context.Context, userID uuid.UUID) (*models.SegmentType, error) {
	active, err := s.store.ActiveSegment(ctx, userID)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, nil
	}
	t := active.Type
	return &t, nil
}

// WidgetSync returns the open segment with its elapsed time, or nil
// when the user is idle.
func (s *WorkLogService) WidgetSync(ctx context.Context, userID uuid.UUID) (*models.WidgetSync, error) {
	active, err := s.store.ActiveSegment(ctx, userID)
	if err != nil {
		return nil, err
	}
	if active == nil {
		return nil, nil
	}
	return &models.WidgetSync{
		Type:            active.Type,
		StartTime:       active.StartTime,
		DurationSeconds: active.DurationSeconds(s.now()),
	}, nil
}

// maybeEscalate flags the segment for admin review when its start is
// backdated beyond the logged window. This is the only place
// RequestAction is set to true. Notification failures are logged, not
// propagated; the segment still gets persisted with the flag.
func (s *WorkLogService) maybeEscalate(ctx context.Context, seg *models.TimeSegment, now time.Time) error {
	logged, err := s.settings.GetInt(ctx, SettingMaxReverseRegistrationLogged)
	if err != nil {
		return err
	}
	if !seg.StartTime.Before(minutesBefore(now, logged)) {
		return nil
	}

	seg.RequestAction = true

	name := seg.UserID.String()
	if user, err := s.store.UserByID(ctx, seg.UserID); err == nil && user != nil {
		name = user.DisplayName
	}
	message := fmt.Sprintf("User %s (%s) has requested to log time before the allowed limit (start %s).",
		name, seg.UserID, seg.StartTime.Format("2006-01-02 15:04:05"))

	logNotifyErr("escalation chat message", s.notifier.SendRoleMessage(ctx, models.RoleAdmin, message))
	logNotifyErr("escalation notices", s.notifier.CreateNoticesForRole(ctx, models.RoleAdmin, "Admin Approval Needed", message))
	s.notifier.PushRoleNotice(ctx, models.RoleAdmin, "Admin Approval Needed", message)
	return nil
}

func parseSegmentType(value string) (*models.SegmentType, error) {
	if value == "" {
		return nil, nil
	}
	switch strings.ToLower(value) {
	case "work":
		t := models.SegmentWork
		return &t, nil
	case "break":
		t := models.SegmentBreak
		return &t, nil
	default:
		return nil, models.Validationf("unknown segment type %q", value)
	}
}
