package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"workledger/go-backend/internal/models"
)

func newTestPresence() (*PresenceService, *WorkLogService, *memStore, *fakeNotifier, *testClock) {
	store := newMemStore()
	settings := NewSettingsService(newMemSettings())
	notifier := newFakeNotifier()
	clock := newTestClock(baseTime)
	metrics := NewMetrics()

	worklog := NewWorkLogService(store, settings, notifier, NewUserLocks(), metrics)
	worklog.now = clock.Now

	svc := NewPresenceService(store, worklog, settings, notifier, nil)
	svc.now = clock.Now
	return svc, worklog, store, notifier, clock
}

func awaySnapshot(userID uuid.UUID) []models.UserPresence {
	return []models.UserPresence{{UserID: userID, Status: models.PresenceAway}}
}

func TestHandleSnapshotsAccumulatesStreak(t *testing.T) {
	svc, _, _, _, clock := newTestPresence()
	userID := uuid.New()

	if err := svc.HandleSnapshots(context.Background(), awaySnapshot(userID)); err != nil {
		t.Fatalf("HandleSnapshots() error = %v", err)
	}
	entry, ok := svc.cache.Get(userID)
	if !ok {
		t.Fatal("expected cached presence entry")
	}
	if entry.presence.Minutes != 5 {
		t.Errorf("streak = %d, want 5", entry.presence.Minutes)
	}

	clock.Advance(5 * time.Minute)
	if err := svc.HandleSnapshots(context.Background(), awaySnapshot(userID)); err != nil {
		t.Fatalf("HandleSnapshots() error = %v", err)
	}
	entry, _ = svc.cache.Get(userID)
	if entry.presence.Minutes != 10 {
		t.Errorf("streak = %d, want 10", entry.presence.Minutes)
	}
}

func TestHandleSnapshotsResetsOnStatusChange(t *testing.T) {
	svc, _, _, _, clock := newTestPresence()
	userID := uuid.New()

	if err := svc.HandleSnapshots(context.Background(), awaySnapshot(userID)); err != nil {
		t.Fatalf("HandleSnapshots() error = %v", err)
	}
	clock.Advance(5 * time.Minute)
	available := []models.UserPresence{{UserID: userID, Status: models.PresenceAvailable}}
	if err := svc.HandleSnapshots(context.Background(), available); err != nil {
		t.Fatalf("HandleSnapshots() error = %v", err)
	}
	entry, _ := svc.cache.Get(userID)
	if entry.presence.Minutes != 5 {
		t.Errorf("streak after status change = %d, want 5", entry.presence.Minutes)
	}
	if entry.presence.UserNotified {
		t.Error("notified flag should reset on status change")
	}
}

func TestHandleSnapshotsStaleEntryDoesNotCount(t *testing.T) {
	svc, _, _, _, clock := newTestPresence()
	userID := uuid.New()

	if err := svc.HandleSnapshots(context.Background(), awaySnapshot(userID)); err != nil {
		t.Fatalf("HandleSnapshots() error = %v", err)
	}
	// Well past interval+1min of slack: the streak starts over.
	clock.Advance(30 * time.Minute)
	if err := svc.HandleSnapshots(context.Background(), awaySnapshot(userID)); err != nil {
		t.Fatalf("HandleSnapshots() error = %v", err)
	}
	entry, _ := svc.cache.Get(userID)
	if entry.presence.Minutes != 5 {
		t.Errorf("streak after gap = %d, want 5", entry.presence.Minutes)
	}
}

func TestHandleSnapshotsNotifiesOnceAtWarningThreshold(t *testing.T) {
	svc, worklog, _, notifier, clock := newTestPresence()
	userID := uuid.New()

	if _, err := worklog.StartWork(context.Background(), userID, nil); err != nil {
		t.Fatalf("StartWork() error = %v", err)
	}

	// Two cycles: 5 then 10 minutes, crossing the warning bound.
	for i := 0; i < 2; i++ {
		if err := svc.HandleSnapshots(context.Background(), awaySnapshot(userID)); err != nil {
			t.Fatalf("HandleSnapshots() error = %v", err)
		}
		clock.Advance(5 * time.Minute)
	}
	if got := len(notifier.noticesFor(userID)); got != 1 {
		t.Fatalf("warning notices = %d, want 1", got)
	}

	// The third cycle reaches 15 and forces the break instead.
	if err := svc.HandleSnapshots(context.Background(), awaySnapshot(userID)); err != nil {
		t.Fatalf("HandleSnapshots() error = %v", err)
	}
	active, err := worklog.ActiveSegmentType(context.Background(), userID)
	if err != nil {
		t.Fatalf("ActiveSegmentType() error = %v", err)
	}
	if active == nil || *active != models.SegmentBreak {
		t.Errorf("active type = %v, want break", active)
	}
	var breakNotice bool
	for _, n := range notifier.noticesFor(userID) {
		if n.Title == "Break Started" {
			breakNotice = true
		}
	}
	if !breakNotice {
		t.Error("expected a forced-break notice")
	}
}

func TestHandleSnapshotsIgnoresUsersNotWorking(t *testing.T) {
	svc, worklog, _, notifier, clock := newTestPresence()
	idle := uuid.New()
	onBreak := uuid.New()

	if _, err := worklog.StartWork(context.Background(), onBreak, nil); err != nil {
		t.Fatalf("StartWork() error = %v", err)
	}
	clock.Advance(time.Minute)
	if _, err := worklog.StartBreak(context.Background(), onBreak, nil); err != nil {
		t.Fatalf("StartBreak() error = %v", err)
	}

	snapshots := []models.UserPresence{
		{UserID: idle, Status: models.PresenceAway},
		{UserID: onBreak, Status: models.PresenceAway},
	}
	// Enough cycles to cross both thresholds.
	for i := 0; i < 4; i++ {
		if err := svc.HandleSnapshots(context.Background(), snapshots); err != nil {
			t.Fatalf("HandleSnapshots() error = %v", err)
		}
		clock.Advance(5 * time.Minute)
	}
	if got := len(notifier.notices); got != 0 {
		t.Errorf("notices = %d, want 0", got)
	}
	active, _ := worklog.ActiveSegmentType(context.Background(), onBreak)
	if active == nil || *active != models.SegmentBreak {
		t.Errorf("on-break user state = %v, want break unchanged", active)
	}
}

func TestHandleSnapshotsOtherStatusesNeverEscalate(t *testing.T) {
	svc, worklog, _, notifier, clock := newTestPresence()
	userID := uuid.New()

	if _, err := worklog.StartWork(context.Background(), userID, nil); err != nil {
		t.Fatalf("StartWork() error = %v", err)
	}
	busy := []models.UserPresence{{UserID: userID, Status: models.PresenceBusy}}
	for i := 0; i < 5; i++ {
		if err := svc.HandleSnapshots(context.Background(), busy); err != nil {
			t.Fatalf("HandleSnapshots() error = %v", err)
		}
		clock.Advance(5 * time.Minute)
	}
	if got := len(notifier.notices); got != 0 {
		t.Errorf("notices = %d, want 0", got)
	}
	active, _ := worklog.ActiveSegmentType(context.Background(), userID)
	if active == nil || *active != models.SegmentWork {
		t.Errorf("busy user state = %v, want work", active)
	}
}
