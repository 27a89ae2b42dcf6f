package notifications

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"github.com/whatsub/notifications/pkg/db/models"
	dbtypes "github.com/whatsub/notifications/pkg/db/types"
	"github.com/whatsub/notifications/pkg/enums"
	pkgerrors "github.com/whatsub/notifications/pkg/errors"
	"github.com/whatsub/notifications/pkg/logger"
	"github.com/whatsub/notifications/pkg/pagination"
)

const maxUserIDLength = 36

// expirableKinds are the kinds whose transport lives outside this service and
// can therefore sit in queued forever.
var expirableKinds = []enums.NotificationKind{
	enums.NotificationKindEmail,
	enums.NotificationKindSMS,
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the notification lifecycle manager plus its query surface.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Notification, error)
	List(ctx context.Context, params ListParams) ([]models.Notification, error)
	MarkRead(ctx context.Context, userID string, notificationID int64) (bool, error)
	MarkDelivered(ctx context.Context, notificationID int64) (bool, error)
	UnreadCount(ctx context.Context, userID string) int64
	PendingForUser(ctx context.Context, userID string, limit int) ([]models.Notification, error)
	DeleteBySubscription(ctx context.Context, subscriptionID int64) (int64, error)
	ExpireQueued(ctx context.Context, ttl time.Duration) (int64, error)
}

type service struct {
	repo  Repository
	tx    txRunner
	logg  *logger.Logger
	check *validator.Validate
	now   func() time.Time
}

// CreateInput is an inbound creation request.
type CreateInput struct {
	UserID         string
	SubscriptionID int64
	Subject        *string
	Message        *string
	Kind           enums.NotificationKind
	RecipientEmail *string
	DeviceToken    *string
	Metadata       map[string]any
}

// ListParams filters a user's notifications.
type ListParams struct {
	UserID     string
	UnreadOnly bool
	Page       pagination.Params
}

// NewService wires notifications dependencies.
func NewService(repo Repository, tx txRunner, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction runner required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &service{
		repo:  repo,
		tx:    tx,
		logg:  logg,
		check: validator.New(),
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// Create persists a queued notification. Push notifications advance to sent
// in the same transaction, so callers never observe them queued.
func (s *service) Create(ctx context.Context, input CreateInput) (*models.Notification, error) {
	input.UserID = strings.TrimSpace(input.UserID)
	if err := s.validateCreate(input); err != nil {
		return nil, err
	}

	now := s.now()
	record := &models.Notification{
		UserID:         input.UserID,
		SubscriptionID: input.SubscriptionID,
		Kind:           input.Kind,
		Subject:        input.Subject,
		Message:        input.Message,
		Status:         enums.NotificationStatusQueued,
		RecipientEmail: input.RecipientEmail,
		DeviceToken:    input.DeviceToken,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if len(input.Metadata) > 0 {
		record.Metadata = dbtypes.JSONMap(input.Metadata)
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.Create(ctx, record); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "insert notification")
		}
		if record.Kind != enums.NotificationKindPush {
			return nil
		}

		next, err := record.Status.Transition(enums.NotificationStatusSent)
		if err != nil {
			return err
		}
		res, err := repo.Transition(ctx, record.ID, record.Status, next, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodePersistence, err, "advance push notification")
		}
		if !res.Updated {
			return pkgerrors.New(pkgerrors.CodePersistence, "push notification changed before it was sent")
		}
		record.Status = next
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeCreation, err, "create notification")
	}

	ctx = s.logg.WithNotificationID(ctx, record.ID)
	ctx = s.logg.WithFields(ctx, map[string]any{
		"subscription_id":   record.SubscriptionID,
		"notification_type": record.Kind,
		"status":            record.Status,
	})
	s.logg.Info(ctx, "notification created")
	return record, nil
}

func (s *service) validateCreate(input CreateInput) error {
	if input.UserID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if len(input.UserID) > maxUserIDLength {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id too long").
			WithDetails(map[string]any{"max": maxUserIDLength})
	}
	if input.SubscriptionID <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription id must be positive")
	}
	if !input.Kind.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid notification type").
			WithDetails(map[string]any{"notification_type": input.Kind})
	}
	if input.RecipientEmail != nil {
		if err := s.check.Var(*input.RecipientEmail, "required,email"); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid recipient email")
		}
	}
	return nil
}

func (s *service) List(ctx context.Context, params ListParams) ([]models.Notification, error) {
	userID := strings.TrimSpace(params.UserID)
	if userID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if err := params.Page.Validate(); err != nil {
		return nil, err
	}

	rows, err := s.repo.List(ctx, listNotificationsParams{
		UserID:     userID,
		UnreadOnly: params.UnreadOnly,
		Page:       params.Page,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "list notifications")
	}
	return rows, nil
}

// MarkRead returns false when no record with that id belongs to the user.
// Another user's record is indistinguishable from a missing one.
func (s *service) MarkRead(ctx context.Context, userID string, notificationID int64) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if notificationID <= 0 {
		return false, nil
	}

	result, err := s.repo.MarkRead(ctx, userID, notificationID, s.now())
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "mark notification read")
	}
	if result.Updated {
		s.logg.Info(s.logg.WithNotificationID(s.logg.WithUserID(ctx, userID), notificationID), "notification marked read")
	}
	return result.Found, nil
}

// MarkDelivered is idempotent. It returns false only for unknown ids; a failed
// notification can never be delivered and yields a state conflict.
func (s *service) MarkDelivered(ctx context.Context, notificationID int64) (bool, error) {
	if notificationID <= 0 {
		return false, nil
	}

	result, err := s.repo.MarkDelivered(ctx, notificationID, s.now())
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "mark notification delivered")
	}
	if !result.Found {
		return false, nil
	}
	if result.Updated {
		s.logg.Info(s.logg.WithNotificationID(ctx, notificationID), "notification marked delivered")
		return true, nil
	}
	if result.Status != enums.NotificationStatusDelivered {
		return false, pkgerrors.New(pkgerrors.CodeStateConflict, "notification cannot be delivered").
			WithDetails(map[string]any{"id": notificationID, "status": result.Status})
	}
	return true, nil
}

// UnreadCount is advisory: store failures are logged and reported as zero.
func (s *service) UnreadCount(ctx context.Context, userID string) int64 {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0
	}
	count, err := s.repo.UnreadCount(ctx, userID)
	if err != nil {
		s.logg.Error(s.logg.WithUserID(ctx, userID), "unread count unavailable", err)
		return 0
	}
	return count
}

// PendingForUser returns the newest unread notifications a stream may push.
func (s *service) PendingForUser(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	if limit < pagination.MinLimit || limit > pagination.MaxLimit {
		limit = pagination.DefaultLimit
	}
	rows, err := s.repo.ListUnread(ctx, userID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "list unread notifications")
	}
	return rows, nil
}

func (s *service) DeleteBySubscription(ctx context.Context, subscriptionID int64) (int64, error) {
	if subscriptionID <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "subscription id must be positive")
	}
	deleted, err := s.repo.DeleteBySubscription(ctx, subscriptionID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "delete notifications by subscription")
	}

	ctx = s.logg.WithSubscriptionID(ctx, subscriptionID)
	s.logg.Info(s.logg.WithField(ctx, "deleted", deleted), "subscription notifications deleted")
	return deleted, nil
}

// ExpireQueued fails email and sms notifications still queued after ttl.
func (s *service) ExpireQueued(ctx context.Context, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "queued ttl must be positive")
	}
	now := s.now()
	changed, err := s.repo.FailQueuedBefore(ctx, expirableKinds, now.Add(-ttl), now)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodePersistence, err, "expire queued notifications")
	}
	if changed > 0 {
		s.logg.Info(s.logg.WithField(ctx, "expired", changed), "queued notifications failed")
	}
	return changed, nil
}
