package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/skillswap/timebank-api/internal/models"
	"github.com/skillswap/timebank-api/pkg/jobs"
	appErrors "github.com/skillswap/timebank-api/pkg/errors"
)

const notificationJobType = "notification.deliver"

// notificationEmitter is what domain services need to announce events. Emit
// never fails the caller: the triggering change has already committed.
type notificationEmitter interface {
	Emit(ctx context.Context, items []*models.Notification)
}

type notificationRepository interface {
	CreateBatch(ctx context.Context, items []*models.Notification) error
	ListByRecipient(ctx context.Context, recipientID string, unreadOnly bool, page, size int) ([]models.Notification, int, int, error)
	MarkRead(ctx context.Context, id, recipientID string, ts time.Time) error
	MarkAllRead(ctx context.Context, recipientID string, ts time.Time) (int64, error)
}

type recipientLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// EmailSender delivers a rendered message to an address.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogEmailSender writes outgoing mail to the log instead of an SMTP relay.
type LogEmailSender struct {
	logger *zap.Logger
}

// NewLogEmailSender constructs a LogEmailSender.
func NewLogEmailSender(logger *zap.Logger) *LogEmailSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogEmailSender{logger: logger}
}

// Send implements EmailSender.
func (s *LogEmailSender) Send(ctx context.Context, to, subject, body string) error {
	s.logger.Info("email dispatched", zap.String("to", to), zap.String("subject", subject), zap.Int("body_bytes", len(body)))
	return nil
}

// deliveryPolicy lists the channels beyond in-app storage for each type.
var deliveryPolicy = map[models.NotificationType][]models.NotificationChannel{
	models.NotifySessionRequested: {models.ChannelEmail},
	models.NotifySessionResolved:  {models.ChannelEmail},
	models.NotifyCreditsGranted:   {models.ChannelEmail},
}

var notificationSubjects = map[models.NotificationType]string{
	models.NotifySessionRequested: "New session request",
	models.NotifySessionApproved:  "Your session was approved",
	models.NotifySessionRejected:  "Your session request was declined",
	models.NotifySessionCancelled: "A session was cancelled",
	models.NotifySessionStarted:   "Your session has started",
	models.NotifySessionCompleted: "Session completed",
	models.NotifySessionDisputed:  "A session is under dispute",
	models.NotifySessionResolved:  "Your dispute has been resolved",
	models.NotifyEndorsed:         "You received an endorsement",
	models.NotifyCreditsGranted:   "Credits were added to your wallet",
}

// deliveryJob is the payload carried through the queue.
type deliveryJob struct {
	Notification *models.Notification
	Channel      models.NotificationChannel
}

// NotificationService persists in-app notifications and fans them out to
// external channels through the background queue.
type NotificationService struct {
	repo    notificationRepository
	users   recipientLookup
	queue   jobEnqueuer
	email   EmailSender
	metrics *MetricsService
	logger  *zap.Logger
}

// NewNotificationService constructs a NotificationService. queue may be nil,
// in which case only in-app notifications are produced.
func NewNotificationService(repo notificationRepository, users recipientLookup, queue jobEnqueuer, email EmailSender, metrics *MetricsService, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{repo: repo, users: users, queue: queue, email: email, metrics: metrics, logger: logger}
}

// SetQueue attaches the delivery queue once it has been built around Deliver.
func (s *NotificationService) SetQueue(queue jobEnqueuer) {
	s.queue = queue
}

// Emit stores items and schedules their external deliveries.
func (s *NotificationService) Emit(ctx context.Context, items []*models.Notification) {
	if len(items) == 0 {
		return
	}
	// The request context may already be done once the response is written.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.repo.CreateBatch(storeCtx, items); err != nil {
		s.logger.Error("failed to store notifications", zap.Int("count", len(items)), zap.Error(err))
		return
	}
	for _, item := range items {
		s.metrics.RecordNotification(models.ChannelInApp, true)
		if s.queue == nil {
			continue
		}
		for _, channel := range deliveryPolicy[item.Type] {
			job := jobs.Job{Type: notificationJobType, Payload: deliveryJob{Notification: item, Channel: channel}}
			if err := s.queue.Enqueue(job); err != nil {
				s.logger.Warn("failed to enqueue notification delivery",
					zap.String("notification_id", item.ID), zap.String("channel", string(channel)), zap.Error(err))
			}
		}
	}
}

// Deliver is the queue handler for external channels.
func (s *NotificationService) Deliver(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(deliveryJob)
	if !ok || payload.Notification == nil {
		s.logger.Error("dropping malformed notification job", zap.String("job_id", job.ID))
		return nil
	}
	n := payload.Notification

	switch payload.Channel {
	case models.ChannelEmail:
		if s.email == nil || s.users == nil {
			return nil
		}
		user, err := s.users.FindByID(ctx, n.RecipientID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			return fmt.Errorf("load notification recipient: %w", err)
		}
		if !user.Active {
			return nil
		}
		subject := notificationSubjects[n.Type]
		if subject == "" {
			subject = string(n.Type)
		}
		if err := s.email.Send(ctx, user.Email, subject, string(n.Payload)); err != nil {
			s.metrics.RecordNotification(models.ChannelEmail, false)
			return fmt.Errorf("send notification email: %w", err)
		}
		s.metrics.RecordNotification(models.ChannelEmail, true)
	default:
		s.logger.Warn("unsupported notification channel", zap.String("channel", string(payload.Channel)))
	}
	return nil
}

// List returns the caller's notifications. Anonymous callers get an empty page.
func (s *NotificationService) List(ctx context.Context, recipientID string, unreadOnly bool, page, size int) ([]models.Notification, *models.Pagination, int, error) {
	page, size = models.NormalizePage(page, size)
	if recipientID == "" {
		return []models.Notification{}, &models.Pagination{Page: page, PageSize: size}, 0, nil
	}
	items, total, unread, err := s.repo.ListByRecipient(ctx, recipientID, unreadOnly, page, size)
	if err != nil {
		return nil, nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	return items, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, unread, nil
}

// MarkRead marks one of the caller's notifications as read.
func (s *NotificationService) MarkRead(ctx context.Context, id, recipientID string) error {
	if err := s.repo.MarkRead(ctx, id, recipientID, time.Now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notification read")
	}
	return nil
}

// MarkAllRead marks every unread notification of the caller as read.
func (s *NotificationService) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	n, err := s.repo.MarkAllRead(ctx, recipientID, time.Now().UTC())
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark notifications read")
	}
	return n, nil
}

func newNotification(recipientID string, kind models.NotificationType, sessionID *int64, payload map[string]interface{}) *models.Notification {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte(`{}`)
	}
	return &models.Notification{
		RecipientID: recipientID,
		Type:        kind,
		SessionID:   sessionID,
		Payload:     raw,
	}
}
