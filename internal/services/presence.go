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

// PresenceSource supplies availability snapshots for a set of users.
// Implemented by the gRPC presence provider client.
type PresenceSource interface {
	Snapshots(ctx context.Context, userIDs []uuid.UUID) ([]models.UserPresence, error)
}

// PresenceStore is the slice of the ledger the presence pass reads.
type PresenceStore interface {
	ActiveUserIDs(ctx context.Context) ([]uuid.UUID, error)
	LatestSegments(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]models.TimeSegment, error)
}

type presenceCacheEntry struct {
	presence models.UserPresence
	savedAt  time.Time
}

// PresenceService tracks per-user Away streaks across poll cycles and
// converts long enough streaks into forced breaks. A streak survives
// only between consecutive cycles: cached entries older than the poll
// interval plus a minute of slack are treated as absent.
type PresenceService struct {
	store    PresenceStore
	worklog  *WorkLogService
	settings SettingsProvider
	notifier Notifier
	source   PresenceSource
	cache    *lru.LRU[uuid.UUID, presenceCacheEntry]
	now      func() time.Time
}

func NewPresenceService(store PresenceStore, worklog *WorkLogService, settings SettingsProvider, notifier Notifier, source PresenceSource) *PresenceService {
	return &PresenceService{
		store:    store,
		worklog:  worklog,
		settings: settings,
		notifier: notifier,
		source:   source,
		cache:    lru.NewLRU[uuid.UUID, presenceCacheEntry](4096, nil, time.Hour),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Poll fetches one round of snapshots from the provider and processes
// it. Without a configured provider the cycle is skipped.
func (s *PresenceService) Poll(ctx context.Context) error {
	if s.source == nil {
		return nil
	}
	userIDs, err := s.store.ActiveUserIDs(ctx)
	if err != nil {
		return err
	}
	if len(userIDs) == 0 {
		return nil
	}
	snapshots, err := s.source.Snapshots(ctx, userIDs)
	if err != nil {
		return fmt.Errorf("fetch presence snapshots: %w", err)
	}
	return s.HandleSnapshots(ctx, snapshots)
}

// HandleSnapshots merges one poll cycle into the cached streaks and
// acts on Away streaks that crossed either threshold.
func (s *PresenceService) HandleSnapshots(ctx context.Context, snapshots []models.UserPresence) error {
	now := s.now()

	intervalMinutes, err := s.settings.GetInt(ctx, SettingPresenceInterval)
	if err != nil {
		return err
	}
	maxAway, err := s.settings.GetInt(ctx, SettingMaxTimeAway)
	if err != nil {
		return err
	}
	notifyAfter, err := s.settings.GetInt(ctx, SettingTimeAwayNotification)
	if err != nil {
		return err
	}
	maxEntryAge := time.Duration(intervalMinutes+1) * time.Minute

	var forceCandidates, notifyCandidates []uuid.UUID
	merged := make([]models.UserPresence, 0, len(snapshots))
	for _, snap := range snapshots {
		cur := snap
		cur.Minutes = intervalMinutes
		cur.UserNotified = false
		if entry, ok := s.cache.Get(snap.UserID); ok && now.Sub(entry.savedAt) <= maxEntryAge && entry.presence.Status == snap.Status {
			cur.Minutes = entry.presence.Minutes + intervalMinutes
			cur.UserNotified = entry.presence.UserNotified
		}

		if cur.Status == models.PresenceAway {
			switch {
			case cur.Minutes >= maxAway:
				forceCandidates = append(forceCandidates, cur.UserID)
			case cur.Minutes >= notifyAfter && !cur.UserNotified:
				notifyCandidates = append(notifyCandidates, cur.UserID)
			}
		}
		merged = append(merged, cur)
	}

	// Only users whose latest segment is an open work segment are
	// touched; everyone else is already idle or on a break.
	working, err := s.usersWithOpenWork(ctx, append(append([]uuid.UUID{}, forceCandidates...), notifyCandidates...))
	if err != nil {
		return err
	}

	var toForce []uuid.UUID
	for _, id := range forceCandidates {
		if _, ok := working[id]; ok {
			toForce = append(toForce, id)
		}
	}
	if len(toForce) > 0 {
		created, err := s.worklog.StartBreakForUsers(ctx, toForce, &now)
		if err != nil {
			log.Printf("presence: force break: %v", err)
		} else {
			s.notifyForcedBreaks(ctx, created, maxAway)
		}
	}

	var toWarn []uuid.UUID
	for _, id := range notifyCandidates {
		if _, ok := working[id]; ok {
			toWarn = append(toWarn, id)
		}
	}
	notified := s.notifyAwayWarnings(ctx, toWarn, notifyAfter)

	for _, p := range merged {
		if _, ok := notified[p.UserID]; ok {
			p.UserNotified = true
		}
		s.cache.Add(p.UserID, presenceCacheEntry{presence: p, savedAt: now})
	}
	return nil
}

func (s *PresenceService) usersWithOpenWork(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]struct{}, error) {
	result := make(map[uuid.UUID]struct{})
	if len(userIDs) == 0 {
		return result, nil
	}
	latest, err := s.store.LatestSegments(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	for id, seg := range latest {
		if seg.Type == models.SegmentWork && seg.Open() {
			result[id] = struct{}{}
		}
	}
	return result, nil
}

func (s *PresenceService) notifyForcedBreaks(ctx context.Context, created []models.TimeSegment, maxAway int) {
	if len(created) == 0 {
		return
	}
	message := fmt.Sprintf("You have been away for over %d minutes, so a break was started for you.", maxAway)
	notices := make([]models.Notice, 0, len(created))
	for _, seg := range created {
		notices = append(notices, models.Notice{
			UserID:  seg.UserID,
			Title:   "Break Started",
			Message: message,
		})
	}
	if err := s.notifier.CreateNotices(ctx, notices); err != nil {
		logNotifyErr("presence break notices", err)
	} else {
		for _, n := range notices {
			s.notifier.PushNotice(ctx, n)
		}
	}
	state := models.SegmentBreak
	for _, seg := range created {
		s.notifier.NotifyWorkStateChange(ctx, seg.UserID, &state)
		logNotifyErr("presence break chat", s.notifier.SendDirectMessage(ctx, seg.UserID, message))
	}
}

// notifyAwayWarnings delivers the warning batch and reports who was
// actually notified, so only their streaks get the notified flag.
func (s *PresenceService) notifyAwayWarnings(ctx context.Context, userIDs []uuid.UUID, notifyAfter int) map[uuid.UUID]struct{} {
	notified := make(map[uuid.UUID]struct{})
	if len(userIDs) == 0 {
		return notified
	}
	message := fmt.Sprintf("You have been away for over %d minutes. Start a break or resume your work.", notifyAfter)
	notices := make([]models.Notice, 0, len(userIDs))
	for _, id := range userIDs {
		notices = append(notices, models.Notice{
			UserID:  id,
			Title:   "Away Warning",
			Message: message,
		})
	}
	if err := s.notifier.CreateNotices(ctx, notices); err != nil {
		logNotifyErr("presence away notices", err)
		return notified
	}
	for _, n := range notices {
		s.notifier.PushNotice(ctx, n)
		logNotifyErr("presence away chat", s.notifier.SendDirectMessage(ctx, n.UserID, n.Message))
		notified[n.UserID] = struct{}{}
	}
	return notified
}
