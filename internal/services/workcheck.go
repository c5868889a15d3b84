package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"workledger/go-backend/internal/models"
)

// WorkCheckStore lists the users the daily reminders target.
type WorkCheckStore interface {
	UserIDsWithoutWorkToday(ctx context.Context, day time.Time) ([]uuid.UUID, error)
	UserIDsWithOpenWork(ctx context.Context) ([]uuid.UUID, error)
}

// WorkCheckService sends the start-of-day and end-of-day worklog
// reminders. Users with an approved day off are already excluded by
// the store query.
type WorkCheckService struct {
	store    WorkCheckStore
	notifier Notifier
	now      func() time.Time
}

func NewWorkCheckService(store WorkCheckStore, notifier Notifier) *WorkCheckService {
	return &WorkCheckService{
		store:    store,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CheckMissingStart reminds everyone who has not logged any work today.
func (s *WorkCheckService) CheckMissingStart(ctx context.Context) error {
	now := s.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	userIDs, err := s.store.UserIDsWithoutWorkToday(ctx, dayStart)
	if err != nil {
		return fmt.Errorf("list users without work: %w", err)
	}
	s.remind(ctx, userIDs, "Work Log Reminder",
		"You have not started your work day yet. Please log your work start time.")
	log.Printf("work check: %d users reminded to start", len(userIDs))
	return nil
}

// CheckMissingEnd reminds everyone still holding an open work segment.
func (s *WorkCheckService) CheckMissingEnd(ctx context.Context) error {
	userIDs, err := s.store.UserIDsWithOpenWork(ctx)
	if err != nil {
		return fmt.Errorf("list users with open work: %w", err)
	}
	s.remind(ctx, userIDs, "Work Log Reminder",
		"Your work day is still open. Please log your work end time.")
	log.Printf("work check: %d users reminded to end", len(userIDs))
	return nil
}

func (s *WorkCheckService) remind(ctx context.Context, userIDs []uuid.UUID, title, message string) {
	if len(userIDs) == 0 {
		return
	}
	notices := make([]models.Notice, 0, len(userIDs))
	for _, id := range userIDs {
		notices = append(notices, models.Notice{UserID: id, Title: title, Message: message})
	}
	if err := s.notifier.CreateNotices(ctx, notices); err != nil {
		logNotifyErr("work check notices", err)
		return
	}
	for _, n := range notices {
		s.notifier.PushNotice(ctx, n)
		logNotifyErr("work check chat", s.notifier.SendDirectMessage(ctx, n.UserID, n.Message))
	}
}
