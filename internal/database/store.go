package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"workledger/go-backend/internal/models"
)

// Store is the Postgres-backed ledger used by the service layer.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const segmentColumns = "id, user_id, segment_type, start_time, end_time, created_at, request_action, is_deleted"

func scanSegment(row interface{ Scan(...any) error }) (*models.TimeSegment, error) {
	var seg models.TimeSegment
	var endTime sql.NullTime
	err := row.Scan(&seg.ID, &seg.UserID, &seg.Type, &seg.StartTime, &endTime,
		&seg.CreatedAt, &seg.RequestAction, &seg.IsDeleted)
	if err != nil {
		return nil, err
	}
	if endTime.Valid {
		t := endTime.Time
		seg.EndTime = &t
	}
	return &seg, nil
}

// ActiveSegment returns the user's open segment, or nil when idle.
func (s *Store) ActiveSegment(ctx context.Context, userID uuid.UUID) (*models.TimeSegment, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+segmentColumns+" FROM time_segments WHERE user_id = $1 AND end_time IS NULL AND NOT is_deleted ORDER BY start_time DESC LIMIT 1",
		userID,
	)
	seg, err := scanSegment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query active segment: %w", err)
	}
	return seg, nil
}

// LastClosedSegment returns the user's most recent closed segment,
// optionally restricted to one segment type.
func (s *Store) LastClosedSegment(ctx context.Context, userID uuid.UUID, segType *models.SegmentType) (*models.TimeSegment, error) {
	query := "SELECT " + segmentColumns + " FROM time_segments WHERE user_id = $1 AND end_time IS NOT NULL AND NOT is_deleted"
	args := []any{userID}
	if segType != nil {
		query += " AND segment_type = $2"
		args = append(args, *segType)
	}
	query += " ORDER BY start_time DESC LIMIT 1"

	seg, err := scanSegment(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last closed segment: %w", err)
	}
	return seg, nil
}

// LatestSegments returns each user's most recent segment, open or not.
func (s *Store) LatestSegments(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]models.TimeSegment, error) {
	result := make(map[uuid.UUID]models.TimeSegment)
	if len(userIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT ON (user_id) "+segmentColumns+" FROM time_segments WHERE user_id = ANY($1) AND NOT is_deleted ORDER BY user_id, start_time DESC",
		idArray(userIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("query latest segments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		result[seg.UserID] = *seg
	}
	return result, rows.Err()
}

func (s *Store) SegmentByID(ctx context.Context, id int64) (*models.TimeSegment, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+segmentColumns+" FROM time_segments WHERE id = $1", id)
	seg, err := scanSegment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query segment %d: %w", id, err)
	}
	return seg, nil
}

func (s *Store) InsertSegment(ctx context.Context, seg *models.TimeSegment) error {
	var endTime sql.NullTime
	if seg.EndTime != nil {
		endTime = sql.NullTime{Time: *seg.EndTime, Valid: true}
	}
	err := s.db.QueryRowContext(ctx,
		"INSERT INTO time_segments (user_id, segment_type, start_time, end_time, created_at, request_action) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id",
		seg.UserID, seg.Type, seg.StartTime, endTime, seg.CreatedAt, seg.RequestAction,
	).Scan(&seg.ID)
	if err != nil {
		return fmt.Errorf("insert segment: %w", err)
	}
	return nil
}

func (s *Store) UpdateSegment(ctx context.Context, seg *models.TimeSegment) error {
	var endTime sql.NullTime
	if seg.EndTime != nil {
		endTime = sql.NullTime{Time: *seg.EndTime, Valid: true}
	}
	result, err := s.db.ExecContext(ctx,
		"UPDATE time_segments SET segment_type = $1, start_time = $2, end_time = $3, request_action = $4, is_deleted = $5 WHERE id = $6",
		seg.Type, seg.StartTime, endTime, seg.RequestAction, seg.IsDeleted, seg.ID,
	)
	if err != nil {
		return fmt.Errorf("update segment %d: %w", seg.ID, err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return models.NotFoundf("time segment %d not found", seg.ID)
	}
	return nil
}

// CloseAndInsert closes an open segment and inserts its successor in
// one transaction, so a cancelled operation never leaves the switch
// half applied.
func (s *Store) CloseAndInsert(ctx context.Context, closed *models.TimeSegment, next *models.TimeSegment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin segment switch tx: %w", err)
	}
	defer tx.Rollback()

	var closedEnd sql.NullTime
	if closed.EndTime != nil {
		closedEnd = sql.NullTime{Time: *closed.EndTime, Valid: true}
	}
	result, err := tx.ExecContext(ctx,
		"UPDATE time_segments SET end_time = $1 WHERE id = $2 AND end_time IS NULL",
		closedEnd, closed.ID,
	)
	if err != nil {
		return fmt.Errorf("close segment %d: %w", closed.ID, err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return models.Conflictf("segment %d is no longer open", closed.ID)
	}

	var nextEnd sql.NullTime
	if next.EndTime != nil {
		nextEnd = sql.NullTime{Time: *next.EndTime, Valid: true}
	}
	err = tx.QueryRowContext(ctx,
		"INSERT INTO time_segments (user_id, segment_type, start_time, end_time, created_at, request_action) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id",
		next.UserID, next.Type, next.StartTime, nextEnd, next.CreatedAt, next.RequestAction,
	).Scan(&next.ID)
	if err != nil {
		return fmt.Errorf("insert successor segment: %w", err)
	}
	return tx.Commit()
}

// SegmentsStartingSince returns all non-deleted segments with a start
// time at or after the given instant, across all users.
func (s *Store) SegmentsStartingSince(ctx context.Context, since time.Time) ([]models.TimeSegment, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+segmentColumns+" FROM time_segments WHERE start_time >= $1 AND NOT is_deleted ORDER BY user_id, start_time",
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("query segments since %s: %w", since, err)
	}
	defer rows.Close()

	var segments []models.TimeSegment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		segments = append(segments, *seg)
	}
	return segments, rows.Err()
}

func (s *Store) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, display_name, role, is_deleted FROM users WHERE id = $1",
		id,
	).Scan(&u.ID, &u.DisplayName, &u.Role, &u.IsDeleted)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user %s: %w", id, err)
	}
	return &u, nil
}

func (s *Store) ActiveUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	return s.queryUserIDs(ctx, "SELECT id FROM users WHERE NOT is_deleted")
}

func (s *Store) UserIDsByRole(ctx context.Context, role models.UserRole) ([]uuid.UUID, error) {
	return s.queryUserIDs(ctx, "SELECT id FROM users WHERE role = $1 AND NOT is_deleted", role)
}

// UserIDsWithoutWorkToday returns users with no work segment starting
// on the given day, excluding users with an approved day off covering
// that day.
func (s *Store) UserIDsWithoutWorkToday(ctx context.Context, dayStart time.Time) ([]uuid.UUID, error) {
	return s.queryUserIDs(ctx, `
		SELECT u.id FROM users u
		WHERE NOT u.is_deleted
		  AND NOT EXISTS (
			SELECT 1 FROM time_segments ts
			WHERE ts.user_id = u.id AND ts.segment_type = 'work'
			  AND ts.start_time >= $1 AND ts.start_time < $1 + INTERVAL '1 day'
			  AND NOT ts.is_deleted)
		  AND NOT EXISTS (
			SELECT 1 FROM day_off_requests d
			WHERE d.user_id = u.id AND d.status = 'approved' AND NOT d.is_deleted
			  AND d.start_date <= $1::date AND d.end_date >= $1::date)`,
		dayStart)
}

// UserIDsWithOpenWork returns users still holding an open work segment.
func (s *Store) UserIDsWithOpenWork(ctx context.Context) ([]uuid.UUID, error) {
	return s.queryUserIDs(ctx, `
		SELECT DISTINCT ts.user_id FROM time_segments ts
		JOIN users u ON u.id = ts.user_id AND NOT u.is_deleted
		WHERE ts.segment_type = 'work' AND ts.end_time IS NULL AND NOT ts.is_deleted`)
}

func (s *Store) queryUserIDs(ctx context.Context, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query user ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) InsertNotices(ctx context.Context, notices []models.Notice) error {
	if len(notices) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin notices tx: %w", err)
	}
	defer tx.Rollback()

	for i := range notices {
		err := tx.QueryRowContext(ctx,
			"INSERT INTO notices (user_id, title, message, created_at) VALUES ($1, $2, $3, $4) RETURNING id",
			notices[i].UserID, notices[i].Title, notices[i].Message, notices[i].CreatedAt,
		).Scan(&notices[i].ID)
		if err != nil {
			return fmt.Errorf("insert notice: %w", err)
		}
	}
	return tx.Commit()
}

func (s *Store) NoticesForUser(ctx context.Context, userID uuid.UUID, includeRead bool) ([]models.Notice, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, user_id, title, message, created_at, is_read FROM notices WHERE user_id = $1 AND (NOT is_read OR $2) ORDER BY created_at DESC",
		userID, includeRead,
	)
	if err != nil {
		return nil, fmt.Errorf("query notices: %w", err)
	}
	defer rows.Close()

	var notices []models.Notice
	for rows.Next() {
		var n models.Notice
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.CreatedAt, &n.IsRead); err != nil {
			return nil, err
		}
		notices = append(notices, n)
	}
	return notices, rows.Err()
}

func (s *Store) MarkNoticesRead(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE notices SET is_read = TRUE WHERE id = ANY($1)", int64Array(ids))
	if err != nil {
		return fmt.Errorf("mark notices read: %w", err)
	}
	return nil
}

// ApprovedDayOffUserIDs returns the users with an approved day off
// covering the given day.
func (s *Store) ApprovedDayOffUserIDs(ctx context.Context, day time.Time) (map[uuid.UUID]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT user_id FROM day_off_requests WHERE status = 'approved' AND NOT is_deleted AND start_date <= $1::date AND end_date >= $1::date",
		day,
	)
	if err != nil {
		return nil, fmt.Errorf("query day offs: %w", err)
	}
	defer rows.Close()

	result := make(map[uuid.UUID]struct{})
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result[id] = struct{}{}
	}
	return result, rows.Err()
}

func (s *Store) SettingValue(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM settings WHERE key = $1", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", models.NotFoundf("setting %q not found", key)
	}
	if err != nil {
		return "", fmt.Errorf("query setting %q: %w", key, err)
	}
	return value, nil
}

func (s *Store) UpdateSetting(ctx context.Context, key, value string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE settings SET value = $1, updated_at = now() WHERE key = $2", value, key)
	if err != nil {
		return fmt.Errorf("update setting %q: %w", key, err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return models.NotFoundf("setting %q not found", key)
	}
	return nil
}

func (s *Store) AllSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM settings ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		settings[key] = value
	}
	return settings, rows.Err()
}

// pgx's stdlib driver maps string and int64 slices onto Postgres
// arrays for ANY($1) parameters.
func idArray(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func int64Array(ids []int64) []int64 {
	return ids
}
