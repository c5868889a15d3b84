package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"workledger/go-backend/internal/models"
)

// AnomalyStore adds the sweep's batch reads on top of the ledger.
type AnomalyStore interface {
	SegmentsStartingSince(ctx context.Context, since time.Time) ([]models.TimeSegment, error)
	ApprovedDayOffUserIDs(ctx context.Context, day time.Time) (map[uuid.UUID]struct{}, error)
	UserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// AnomalyService scans today's ledger for out-of-policy days and
// corrects or reports them. Each anomaly type fires at most once per
// user per day, tracked by a marker that expires at 00:05 the next
// day; the open-overlong-break check deliberately skips the read side
// of that gate so it keeps force-ending the day while the break stays
// open.
type AnomalyService struct {
	store    AnomalyStore
	worklog  *WorkLogService
	settings SettingsProvider
	notifier Notifier
	metrics  *Metrics
	suppress *lru.LRU[string, time.Time]
	now      func() time.Time
}

func NewAnomalyService(store AnomalyStore, worklog *WorkLogService, settings SettingsProvider, notifier Notifier, metrics *Metrics) *AnomalyService {
	// Entries carry their own deadline; the cache TTL is just an upper
	// bound for eviction hygiene.
	return &AnomalyService{
		store:    store,
		worklog:  worklog,
		settings: settings,
		notifier: notifier,
		metrics:  metrics,
		suppress: lru.NewLRU[string, time.Time](4096, nil, 26*time.Hour),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type anomalyThresholds struct {
	maxWorkHours      int
	maxBreakMinutes   int
	maxTotalBreakMins int
	lateHour          int
	lateMinute        int
}

// Sweep runs one anomaly pass over the current day. It is a no-op
// between 23:00 and 01:00 UTC to avoid midnight-boundary artifacts.
func (s *AnomalyService) Sweep(ctx context.Context) error {
	now := s.now()
	if now.Hour() >= 23 || now.Hour() < 1 {
		return nil
	}

	thresholds, err := s.loadThresholds(ctx)
	if err != nil {
		return err
	}

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	segments, err := s.store.SegmentsStartingSince(ctx, dayStart)
	if err != nil {
		return err
	}
	dayOffs, err := s.store.ApprovedDayOffUserIDs(ctx, now)
	if err != nil {
		return err
	}

	byUser := make(map[uuid.UUID][]models.TimeSegment)
	for _, seg := range segments {
		if _, off := dayOffs[seg.UserID]; off {
			continue
		}
		byUser[seg.UserID] = append(byUser[seg.UserID], seg)
	}

	for userID, userSegments := range byUser {
		if err := s.checkUser(ctx, userID, userSegments, thresholds, dayStart, now); err != nil {
			log.Printf("anomaly sweep: user %s: %v", userID, err)
		}
	}

	s.metrics.IncrementSweeps()
	log.Printf("anomaly sweep finished: %d users checked", len(byUser))
	return nil
}

func (s *AnomalyService) loadThresholds(ctx context.Context) (anomalyThresholds, error) {
	var t anomalyThresholds
	var err error
	if t.maxWorkHours, err = s.settings.GetInt(ctx, SettingMaxWorkTime); err != nil {
		return t, err
	}
	if t.maxBreakMinutes, err = s.settings.GetInt(ctx, SettingMaxBreakTime); err != nil {
		return t, err
	}
	if t.maxTotalBreakMins, err = s.settings.GetInt(ctx, SettingMaxSummariseBreakTime); err != nil {
		return t, err
	}
	if t.lateHour, t.lateMinute, err = s.settings.GetTimeOfDay(ctx, SettingWorkLogNotificationStart); err != nil {
		return t, err
	}
	return t, nil
}

func (s *AnomalyService) checkUser(ctx context.Context, userID uuid.UUID, segments []models.TimeSegment, t anomalyThresholds, dayStart, now time.Time) error {
	var (
		breakMinutes   float64
		workSeconds    int64
		firstWorkStart *time.Time
		openBreak      *models.TimeSegment
	)
	for i := range segments {
		seg := &segments[i]
		switch seg.Type {
		case models.SegmentBreak:
			breakMinutes += float64(seg.DurationSeconds(now)) / 60
			if seg.Open() {
				openBreak = seg
			}
		case models.SegmentWork:
			workSeconds += seg.DurationSeconds(now)
			if firstWorkStart == nil || seg.StartTime.Before(*firstWorkStart) {
				start := seg.StartTime
				firstWorkStart = &start
			}
		}
	}
	workHours := float64(workSeconds) / 3600

	name := s.displayName(ctx, userID)

	// The checks run independently; one firing never short-circuits
	// the rest.
	if breakMinutes > float64(t.maxTotalBreakMins) {
		s.reportOnce(ctx, userID, models.AnomalyExcessBreakTime,
			fmt.Sprintf("User %s (%s) has spent over %d minutes on breaks today.", name, userID, int(breakMinutes)),
			fmt.Sprintf("You have spent over %d minutes on breaks today.", int(breakMinutes)))
	}

	lateBound := time.Date(dayStart.Year(), dayStart.Month(), dayStart.Day(), t.lateHour, t.lateMinute, 0, 0, time.UTC)
	if firstWorkStart != nil && firstWorkStart.After(lateBound) {
		s.reportOnce(ctx, userID, models.AnomalyLateLogin,
			fmt.Sprintf("User %s (%s) logged in late at %s.", name, userID, firstWorkStart.Format("15:04")),
			fmt.Sprintf("You logged in late at %s. Please try to start your work on time.", firstWorkStart.Format("15:04")))
	}

	if workHours > float64(t.maxWorkHours) {
		if !s.alreadyReported(userID, models.AnomalyLongWorkSession, now) {
			s.forceEndWork(ctx, userID)
			s.reportOnce(ctx, userID, models.AnomalyLongWorkSession,
				fmt.Sprintf("User %s (%s) has a long work session of over %d hours today.", name, userID, int(workHours)),
				fmt.Sprintf("You have worked over %d hours today. Your work day has been ended, please take care of your health.", int(workHours)))
		}
	}

	if breakMinutes == 0 && workHours > float64(t.maxWorkHours)/2+2 {
		s.reportOnce(ctx, userID, models.AnomalyNoBreaks,
			fmt.Sprintf("User %s (%s) worked for %d hours without any break.", name, userID, int(workHours)),
			fmt.Sprintf("You have worked for %d hours without any break. Please take one.", int(workHours)))
	}

	// An open break past the single-break limit is re-derived from
	// live state, so it re-triggers every sweep until the break ends.
	if openBreak != nil {
		openMinutes := float64(now.Sub(openBreak.StartTime)) / float64(time.Minute)
		if openMinutes > float64(t.maxBreakMinutes) {
			s.forceEndWork(ctx, userID)
			s.report(ctx, userID, models.AnomalyTooLongBreak,
				fmt.Sprintf("User %s (%s) has been on a break for over %d minutes.", name, userID, int(openMinutes)),
				fmt.Sprintf("You have been on a break for over %d minutes; your work day has been ended.", int(openMinutes)))
		}
	}

	return nil
}

// forceEndWork closes the user's day through the regular verb, so it
// competes for the same per-user lock as live commands.
func (s *AnomalyService) forceEndWork(ctx context.Context, userID uuid.UUID) {
	if _, err := s.worklog.EndWork(ctx, userID, nil); err != nil {
		if models.IsConflict(err) {
			return // nothing open anymore
		}
		log.Printf("anomaly sweep: force end work for %s: %v", userID, err)
		return
	}
	s.metrics.IncrementForcedEndWorks()
	s.notifier.NotifyWorkStateChange(ctx, userID, nil)
}

// reportOnce reports the anomaly unless it already fired for this user
// today.
func (s *AnomalyService) reportOnce(ctx context.Context, userID uuid.UUID, anomaly models.AnomalyType, adminMessage, userMessage string) {
	if s.alreadyReported(userID, anomaly, s.now()) {
		return
	}
	s.report(ctx, userID, anomaly, adminMessage, userMessage)
}

// report notifies admins and the user and writes the daily marker.
func (s *AnomalyService) report(ctx context.Context, userID uuid.UUID, anomaly models.AnomalyType, adminMessage, userMessage string) {
	s.markReported(userID, anomaly)
	s.metrics.IncrementAnomalies()

	logNotifyErr("anomaly admin chat", s.notifier.SendRoleMessage(ctx, models.RoleAdmin, adminMessage))
	logNotifyErr("anomaly admin notices", s.notifier.CreateNoticesForRole(ctx, models.RoleAdmin, "Anomaly Detected", adminMessage))
	s.notifier.PushRoleNotice(ctx, models.RoleAdmin, "Anomaly Detected", adminMessage)

	notice := models.Notice{
		UserID:  userID,
		Title:   "Anomaly Detected",
		Message: userMessage,
	}
	if err := s.notifier.CreateNotices(ctx, []models.Notice{notice}); err != nil {
		logNotifyErr("anomaly user notice", err)
	} else {
		s.notifier.PushNotice(ctx, notice)
	}
	logNotifyErr("anomaly user chat", s.notifier.SendDirectMessage(ctx, userID, userMessage))
}

func suppressionKey(userID uuid.UUID, anomaly models.AnomalyType) string {
	return fmt.Sprintf("anomaly:%s:%s", userID, anomaly)
}

func (s *AnomalyService) alreadyReported(userID uuid.UUID, anomaly models.AnomalyType, now time.Time) bool {
	deadline, ok := s.suppress.Get(suppressionKey(userID, anomaly))
	return ok && now.Before(deadline)
}

// markReported suppresses the anomaly until 00:05 the next day.
func (s *AnomalyService) markReported(userID uuid.UUID, anomaly models.AnomalyType) {
	now := s.now()
	deadline := time.Date(now.Year(), now.Month(), now.Day(), 0, 5, 0, 0, time.UTC).AddDate(0, 0, 1)
	s.suppress.Add(suppressionKey(userID, anomaly), deadline)
}

func (s *AnomalyService) displayName(ctx context.Context, userID uuid.UUID) string {
	if user, err := s.store.UserByID(ctx, userID); err == nil && user != nil {
		return user.DisplayName
	}
	return userID.String()
}
