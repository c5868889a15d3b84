package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"workledger/go-backend/internal/models"
)

// memStore is an in-memory stand-in for the database store, good
// enough for the ledger semantics the services rely on.
type memStore struct {
	mu       sync.Mutex
	nextID   int64
	segments []models.TimeSegment
	users    map[uuid.UUID]models.User
	dayOffs  map[uuid.UUID]struct{}
	notices  []models.Notice
}

func newMemStore() *memStore {
	return &memStore{
		nextID:  1,
		users:   make(map[uuid.UUID]models.User),
		dayOffs: make(map[uuid.UUID]struct{}),
	}
}

func (m *memStore) addUser(id uuid.UUID, name string, role models.UserRole) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = models.User{ID: id, DisplayName: name, Role: role}
}

func (m *memStore) ActiveSegment(ctx context.Context, userID uuid.UUID) (*models.TimeSegment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.segments) - 1; i >= 0; i-- {
		seg := m.segments[i]
		if seg.UserID == userID && !seg.IsDeleted && seg.Open() {
			return &seg, nil
		}
	}
	return nil, nil
}

func (m *memStore) LastClosedSegment(ctx context.Context, userID uuid.UUID, segType *models.SegmentType) (*models.TimeSegment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *models.TimeSegment
	for i := range m.segments {
		seg := m.segments[i]
		if seg.UserID != userID || seg.IsDeleted || seg.Open() {
			continue
		}
		if segType != nil && seg.Type != *segType {
			continue
		}
		if best == nil || seg.StartTime.After(best.StartTime) {
			copied := seg
			best = &copied
		}
	}
	return best, nil
}

func (m *memStore) LatestSegments(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]models.TimeSegment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[uuid.UUID]struct{}, len(userIDs))
	for _, id := range userIDs {
		wanted[id] = struct{}{}
	}
	result := make(map[uuid.UUID]models.TimeSegment)
	for _, seg := range m.segments {
		if seg.IsDeleted {
			continue
		}
		if _, ok := wanted[seg.UserID]; !ok {
			continue
		}
		if cur, ok := result[seg.UserID]; !ok || seg.StartTime.After(cur.StartTime) {
			result[seg.UserID] = seg
		}
	}
	return result, nil
}

func (m *memStore) SegmentByID(ctx context.Context, id int64) (*models.TimeSegment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.segments {
		if m.segments[i].ID == id {
			seg := m.segments[i]
			return &seg, nil
		}
	}
	return nil, nil
}

func (m *memStore) InsertSegment(ctx context.Context, seg *models.TimeSegment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(seg)
}

func (m *memStore) insertLocked(seg *models.TimeSegment) error {
	if seg.Open() {
		for _, existing := range m.segments {
			if existing.UserID == seg.UserID && !existing.IsDeleted && existing.Open() {
				return fmt.Errorf("unique constraint: open segment already exists for user %s", seg.UserID)
			}
		}
	}
	seg.ID = m.nextID
	m.nextID++
	m.segments = append(m.segments, *seg)
	return nil
}

func (m *memStore) UpdateSegment(ctx context.Context, seg *models.TimeSegment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.segments {
		if m.segments[i].ID == seg.ID {
			m.segments[i] = *seg
			return nil
		}
	}
	return models.NotFoundf("time segment %d not found", seg.ID)
}

func (m *memStore) CloseAndInsert(ctx context.Context, closed *models.TimeSegment, next *models.TimeSegment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.segments {
		if m.segments[i].ID == closed.ID {
			if !m.segments[i].Open() {
				return models.Conflictf("segment %d is no longer open", closed.ID)
			}
			m.segments[i].EndTime = closed.EndTime
			return m.insertLocked(next)
		}
	}
	return models.Conflictf("segment %d is no longer open", closed.ID)
}

func (m *memStore) SegmentsStartingSince(ctx context.Context, since time.Time) ([]models.TimeSegment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []models.TimeSegment
	for _, seg := range m.segments {
		if !seg.IsDeleted && !seg.StartTime.Before(since) {
			result = append(result, seg)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartTime.Before(result[j].StartTime) })
	return result, nil
}

func (m *memStore) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

func (m *memStore) ActiveUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for id, u := range m.users {
		if !u.IsDeleted {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *memStore) UserIDsByRole(ctx context.Context, role models.UserRole) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for id, u := range m.users {
		if !u.IsDeleted && u.Role == role {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *memStore) UserIDsWithoutWorkToday(ctx context.Context, dayStart time.Time) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	worked := make(map[uuid.UUID]struct{})
	for _, seg := range m.segments {
		if seg.Type == models.SegmentWork && !seg.IsDeleted && !seg.StartTime.Before(dayStart) {
			worked[seg.UserID] = struct{}{}
		}
	}
	var ids []uuid.UUID
	for id, u := range m.users {
		if u.IsDeleted {
			continue
		}
		if _, ok := worked[id]; ok {
			continue
		}
		if _, off := m.dayOffs[id]; off {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *memStore) UserIDsWithOpenWork(ctx context.Context) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for _, seg := range m.segments {
		if seg.Type == models.SegmentWork && !seg.IsDeleted && seg.Open() {
			ids = append(ids, seg.UserID)
		}
	}
	return ids, nil
}

func (m *memStore) ApprovedDayOffUserIDs(ctx context.Context, day time.Time) (map[uuid.UUID]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make(map[uuid.UUID]struct{}, len(m.dayOffs))
	for id := range m.dayOffs {
		result[id] = struct{}{}
	}
	return result, nil
}

func (m *memStore) segmentByID(id int64) models.TimeSegment {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, seg := range m.segments {
		if seg.ID == id {
			return seg
		}
	}
	return models.TimeSegment{}
}

func (m *memStore) segmentsFor(userID uuid.UUID) []models.TimeSegment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []models.TimeSegment
	for _, seg := range m.segments {
		if seg.UserID == userID {
			result = append(result, seg)
		}
	}
	return result
}

// memSettings backs SettingsService in tests with the seeded defaults.
type memSettings struct {
	mu     sync.Mutex
	values map[string]string
}

func newMemSettings() *memSettings {
	return &memSettings{values: map[string]string{
		SettingMaxReverseRegistration:       "120",
		SettingMaxReverseRegistrationLogged: "60",
		SettingMaxWorkTime:                  "10",
		SettingMaxBreakTime:                 "60",
		SettingMaxSummariseBreakTime:        "90",
		SettingWorkLogNotificationStart:     "09:30",
		SettingWorkLogNotificationEnd:       "17:30",
		SettingMaxTimeAway:                  "15",
		SettingTimeAwayNotification:         "10",
		SettingPresenceInterval:             "5",
		SettingAnomalyInterval:              "30",
	}}
}

func (m *memSettings) SettingValue(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return "", models.NotFoundf("setting %q not found", key)
	}
	return v, nil
}

func (m *memSettings) UpdateSetting(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; !ok {
		return models.NotFoundf("setting %q not found", key)
	}
	m.values[key] = value
	return nil
}

func (m *memSettings) AllSettings(ctx context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make(map[string]string, len(m.values))
	for k, v := range m.values {
		result[k] = v
	}
	return result, nil
}

func (m *memSettings) set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

// fakeNotifier records everything it is asked to deliver.
type fakeNotifier struct {
	mu           sync.Mutex
	notices      []models.Notice
	roleNotices  []string
	directTexts  map[uuid.UUID][]string
	roleTexts    []string
	stateChanges map[uuid.UUID][]*models.SegmentType
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		directTexts:  make(map[uuid.UUID][]string),
		stateChanges: make(map[uuid.UUID][]*models.SegmentType),
	}
}

func (f *fakeNotifier) CreateNotices(ctx context.Context, notices []models.Notice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, notices...)
	return nil
}

func (f *fakeNotifier) CreateNoticesForRole(ctx context.Context, role models.UserRole, title, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roleNotices = append(f.roleNotices, string(role)+": "+title+": "+message)
	return nil
}

func (f *fakeNotifier) PushNotice(ctx context.Context, n models.Notice) {}

func (f *fakeNotifier) PushRoleNotice(ctx context.Context, role models.UserRole, title, message string) {
}

func (f *fakeNotifier) NotifyWorkStateChange(ctx context.Context, userID uuid.UUID, state *models.SegmentType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateChanges[userID] = append(f.stateChanges[userID], state)
}

func (f *fakeNotifier) SendDirectMessage(ctx context.Context, userID uuid.UUID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.directTexts[userID] = append(f.directTexts[userID], text)
	return nil
}

func (f *fakeNotifier) SendRoleMessage(ctx context.Context, role models.UserRole, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roleTexts = append(f.roleTexts, string(role)+": "+text)
	return nil
}

func (f *fakeNotifier) noticesFor(userID uuid.UUID) []models.Notice {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []models.Notice
	for _, n := range f.notices {
		if n.UserID == userID {
			result = append(result, n)
		}
	}
	return result
}

// testClock pins the wall clock for deterministic verbs.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(now time.Time) *testClock {
	return &testClock{now: now}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
