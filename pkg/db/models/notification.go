package models

import (
	"time"

	dbtypes "github.com/whatsub/notifications/pkg/db/types"
	"github.com/whatsub/notifications/pkg/enums"
)

// Notification is one message owed to a user about a subscription event.
type Notification struct {
	ID             int64                    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         string                   `gorm:"type:varchar(36);not null;index" json:"user_id"`
	SubscriptionID int64                    `gorm:"not null;index" json:"subscription_id"`
	Kind           enums.NotificationKind   `gorm:"column:notification_type;type:varchar(16);not null" json:"notification_type"`
	Subject        *string                  `gorm:"type:text" json:"subject"`
	Message        *string                  `gorm:"type:text" json:"message"`
	Status         enums.NotificationStatus `gorm:"type:varchar(16);not null;default:queued" json:"status"`
	RecipientEmail *string                  `gorm:"type:varchar(255)" json:"recipient_email"`
	DeviceToken    *string                  `gorm:"type:varchar(255)" json:"device_token"`
	Metadata       dbtypes.JSONMap          `gorm:"type:jsonb" json:"metadata"`
	ReadAt         *time.Time               `json:"read_at"`
	DeliveredAt    *time.Time               `json:"delivered_at"`
	CreatedAt      time.Time                `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time                `gorm:"not null" json:"updated_at"`
}

func (Notification) TableName() string {
	return "notifications"
}

// IsRead reports whether read_at has been set.
func (n Notification) IsRead() bool {
	return n.ReadAt != nil
}
