package notifications

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/whatsub/notifications/pkg/db/models"
	"github.com/whatsub/notifications/pkg/enums"
	"github.com/whatsub/notifications/pkg/pagination"
)

// Repository exposes persistence helpers for notifications. Every mutation is
// a single conditional UPDATE so concurrent callers converge.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, notification *models.Notification) error
	List(ctx context.Context, params listNotificationsParams) ([]models.Notification, error)
	ListUnread(ctx context.Context, userID string, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, userID string, notificationID int64, now time.Time) (notificationMarkResult, error)
	MarkDelivered(ctx context.Context, notificationID int64, now time.Time) (notificationMarkResult, error)
	Transition(ctx context.Context, notificationID int64, from, to enums.NotificationStatus, now time.Time) (notificationMarkResult, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
	DeleteBySubscription(ctx context.Context, subscriptionID int64) (int64, error)
	FailQueuedBefore(ctx context.Context, kinds []enums.NotificationKind, cutoff, now time.Time) (int64, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a notifications repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

type listNotificationsParams struct {
	UserID     string
	UnreadOnly bool
	Page       pagination.Params
}

// notificationMarkResult reports whether a conditional update changed a row
// and, when it did not, whether the row exists and which status it holds.
type notificationMarkResult struct {
	Updated bool
	Found   bool
	Status  enums.NotificationStatus
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Create(ctx context.Context, notification *models.Notification) error {
	return r.db.WithContext(ctx).Create(notification).Error
}

func (r *repositoryImpl) List(ctx context.Context, params listNotificationsParams) ([]models.Notification, error) {
	query := r.db.WithContext(ctx).Model(&models.Notification{}).Where("user_id = ?", params.UserID)
	if params.UnreadOnly {
		query = query.Where("read_at IS NULL")
	}

	var notifications []models.Notification
	err := query.
		Order("created_at DESC, id DESC").
		Limit(params.Page.Limit).
		Offset(params.Page.Offset).
		Find(&notifications).Error
	if err != nil {
		return nil, err
	}
	return notifications, nil
}

// ListUnread returns the newest unread notifications for a user, whatever
// their status.
func (r *repositoryImpl) ListUnread(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	var notifications []models.Notification
	err := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND read_at IS NULL", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&notifications).Error
	if err != nil {
		return nil, err
	}
	return notifications, nil
}

func (r *repositoryImpl) MarkRead(ctx context.Context, userID string, notificationID int64, now time.Time) (notificationMarkResult, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND user_id = ? AND read_at IS NULL", notificationID, userID).
		UpdateColumns(map[string]any{"read_at": now, "updated_at": now})
	if result.Error != nil {
		return notificationMarkResult{}, result.Error
	}

	mark := notificationMarkResult{Updated: result.RowsAffected > 0}
	if mark.Updated {
		mark.Found = true
		return mark, nil
	}

	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", notificationID, userID).
		Count(&count).Error; err != nil {
		return notificationMarkResult{}, err
	}
	mark.Found = count > 0
	return mark, nil
}

func (r *repositoryImpl) MarkDelivered(ctx context.Context, notificationID int64, now time.Time) (notificationMarkResult, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND delivered_at IS NULL AND status IN ?", notificationID, statusStrings(enums.PredecessorsOf(enums.NotificationStatusDelivered))).
		UpdateColumns(map[string]any{
			"status":       string(enums.NotificationStatusDelivered),
			"delivered_at": now,
			"updated_at":   now,
		})
	if result.Error != nil {
		return notificationMarkResult{}, result.Error
	}
	if result.RowsAffected > 0 {
		return notificationMarkResult{Updated: true, Found: true, Status: enums.NotificationStatusDelivered}, nil
	}
	return r.currentState(ctx, notificationID)
}

// Transition is a compare-and-set on status. Moving into delivered also stamps
// delivered_at so the two columns never disagree.
func (r *repositoryImpl) Transition(ctx context.Context, notificationID int64, from, to enums.NotificationStatus, now time.Time) (notificationMarkResult, error) {
	if _, err := from.Transition(to); err != nil {
		return notificationMarkResult{}, err
	}

	updates := map[string]any{"status": string(to), "updated_at": now}
	if to == enums.NotificationStatusDelivered {
		updates["delivered_at"] = now
	}

	result := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND status = ?", notificationID, string(from)).
		UpdateColumns(updates)
	if result.Error != nil {
		return notificationMarkResult{}, result.Error
	}
	if result.RowsAffected > 0 {
		return notificationMarkResult{Updated: true, Found: true, Status: to}, nil
	}
	return r.currentState(ctx, notificationID)
}

func (r *repositoryImpl) UnreadCount(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("user_id = ? AND read_at IS NULL", userID).
		Count(&count).Error
	return count, err
}

func (r *repositoryImpl) DeleteBySubscription(ctx context.Context, subscriptionID int64) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Delete(&models.Notification{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// FailQueuedBefore moves stale queued notifications of the given kinds to failed.
func (r *repositoryImpl) FailQueuedBefore(ctx context.Context, kinds []enums.NotificationKind, cutoff, now time.Time) (int64, error) {
	if len(kinds) == 0 {
		return 0, nil
	}
	names := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		names = append(names, string(kind))
	}

	result := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("status = ? AND notification_type IN ? AND created_at < ?", string(enums.NotificationStatusQueued), names, cutoff).
		UpdateColumns(map[string]any{"status": string(enums.NotificationStatusFailed), "updated_at": now})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repositoryImpl) currentState(ctx context.Context, notificationID int64) (notificationMarkResult, error) {
	var row models.Notification
	err := r.db.WithContext(ctx).
		Select("id", "status").
		Where("id = ?", notificationID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notificationMarkResult{}, nil
	}
	if err != nil {
		return notificationMarkResult{}, err
	}
	return notificationMarkResult{Found: true, Status: row.Status}, nil
}

func statusStrings(statuses []enums.NotificationStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, status := range statuses {
		out = append(out, string(status))
	}
	return out
}
