package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"workledger/go-backend/internal/models"
	"workledger/go-backend/internal/ws"
)

// Notifier is the outbound surface the core mutation paths use.
// Delivery is best effort; a failed push or chat message never fails
// the ledger operation that triggered it.
type Notifier interface {
	CreateNotices(ctx context.Context, notices []models.Notice) error
	CreateNoticesForRole(ctx context.Context, role models.UserRole, title, message string) error
	PushNotice(ctx context.Context, n models.Notice)
	PushRoleNotice(ctx context.Context, role models.UserRole, title, message string)
	NotifyWorkStateChange(ctx context.Context, userID uuid.UUID, state *models.SegmentType)
	SendDirectMessage(ctx context.Context, userID uuid.UUID, text string) error
	SendRoleMessage(ctx context.Context, role models.UserRole, text string) error
}

type NoticeStore interface {
	InsertNotices(ctx context.Context, notices []models.Notice) error
	UserIDsByRole(ctx context.Context, role models.UserRole) ([]uuid.UUID, error)
}

type NotificationService struct {
	store   NoticeStore
	hub     *ws.Hub
	chat    *ChatWebhook
	metrics *Metrics
	now     func() time.Time
}

func NewNotificationService(store NoticeStore, hub *ws.Hub, chat *ChatWebhook, metrics *Metrics) *NotificationService {
	return &NotificationService{
		store:   store,
		hub:     hub,
		chat:    chat,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (n *NotificationService) CreateNotices(ctx context.Context, notices []models.Notice) error {
	for i := range notices {
		if notices[i].CreatedAt.IsZero() {
			notices[i].CreatedAt = n.now()
		}
	}
	if err := n.store.InsertNotices(ctx, notices); err != nil {
		return err
	}
	n.metrics.IncrementNotices(len(notices))
	return nil
}

// CreateNoticesForRole fans one notice out to every member of a role.
func (n *NotificationService) CreateNoticesForRole(ctx context.Context, role models.UserRole, title, message string) error {
	userIDs, err := n.store.UserIDsByRole(ctx, role)
	if err != nil {
		return err
	}
	notices := make([]models.Notice, 0, len(userIDs))
	for _, id := range userIDs {
		notices = append(notices, models.Notice{
			UserID:    id,
			Title:     title,
			Message:   message,
			CreatedAt: n.now(),
		})
	}
	return n.CreateNotices(ctx, notices)
}

func (n *NotificationService) PushNotice(ctx context.Context, notice models.Notice) {
	n.hub.SendToUser(notice.UserID.String(), ws.Message{
		Type:      "notifyClient",
		Payload:   notice,
		Timestamp: n.now().Unix(),
	})
}

func (n *NotificationService) PushRoleNotice(ctx context.Context, role models.UserRole, title, message string) {
	n.hub.SendToRole(string(role), ws.Message{
		Type: "notifyClient",
		Payload: map[string]string{
			"title":   title,
			"message": message,
		},
		Timestamp: n.now().Unix(),
	})
}

// NotifyWorkStateChange pushes the user's current session state; nil
// means idle.
func (n *NotificationService) NotifyWorkStateChange(ctx context.Context, userID uuid.UUID, state *models.SegmentType) {
	var payload struct {
		State     *models.SegmentType `json:"state"`
		Timestamp time.Time           `json:"timestamp"`
	}
	payload.State = state
	payload.Timestamp = n.now()

	n.hub.SendToUser(userID.String(), ws.Message{
		Type:      "workStateChanged",
		Payload:   payload,
		Timestamp: n.now().Unix(),
	})
}

func (n *NotificationService) SendDirectMessage(ctx context.Context, userID uuid.UUID, text string) error {
	if n.chat == nil {
		return nil
	}
	err := n.chat.Send(ctx, map[string]string{"user_id": userID.String(), "text": text})
	if err != nil {
		n.metrics.IncrementChatFailures()
	}
	return err
}

func (n *NotificationService) SendRoleMessage(ctx context.Context, role models.UserRole, text string) error {
	if n.chat == nil {
		return nil
	}
	err := n.chat.Send(ctx, map[string]string{"role": string(role), "text": text})
	if err != nil {
		n.metrics.IncrementChatFailures()
	}
	return err
}

// ChatWebhook posts messages to the chat bridge (an incoming-webhook
// endpoint). Transient failures are retried with exponential backoff;
// resilience beyond that is the bridge's concern.
type ChatWebhook struct {
	url    string
	client *http.Client
}

func NewChatWebhook(url string) *ChatWebhook {
	if url == "" {
		return nil
	}
	return &ChatWebhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *ChatWebhook) Send(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal chat payload: %w", err)
	}

	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return retry.RetryableError(fmt.Errorf("chat webhook returned %d", resp.StatusCode))
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("chat webhook returned %d", resp.StatusCode)
		}
		return nil
	})
}

// logNotifyErr keeps fire-and-forget delivery failures out of the
// mutation paths while still leaving a trace.
func logNotifyErr(op string, err error) {
	if err != nil {
		log.Printf("%s: %v", op, err)
	}
}
