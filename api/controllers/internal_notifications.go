package controllers

import (
	"net/http"
	"time"

	"github.com/whatsub/notifications/api/responses"
	"github.com/whatsub/notifications/api/validators"
	"github.com/whatsub/notifications/internal/notifications"
	"github.com/whatsub/notifications/pkg/enums"
	pkgerrors "github.com/whatsub/notifications/pkg/errors"
	"github.com/whatsub/notifications/pkg/logger"
	"github.com/whatsub/notifications/pkg/types"
)

type createNotificationRequest struct {
	UserID           string         `json:"user_id" validate:"required,max=36"`
	SubscriptionID   int64          `json:"subscription_id" validate:"required,min=1"`
	Subject          *string        `json:"subject" validate:"omitempty,max=255"`
	Message          *string        `json:"body"`
	NotificationType string         `json:"notification_type" validate:"required,oneof=email sms push"`
	RecipientEmail   *string        `json:"recipient_email" validate:"omitempty,email"`
	DeviceToken      *string        `json:"device_token" validate:"omitempty,max=255"`
	Metadata         map[string]any `json:"metadata"`
}

// CreateNotification is the creation boundary for trusted callers. Push
// notifications come back already sent.
func CreateNotification(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createNotificationRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		kind, err := enums.ParseNotificationKind(req.NotificationType)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid notification_type"))
			return
		}

		created, err := svc.Create(r.Context(), notifications.CreateInput{
			UserID:         req.UserID,
			SubscriptionID: req.SubscriptionID,
			Subject:        req.Subject,
			Message:        req.Message,
			Kind:           kind,
			RecipientEmail: req.RecipientEmail,
			DeviceToken:    req.DeviceToken,
			Metadata:       req.Metadata,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, types.CreatedNotification{
			ID:        created.ID,
			Status:    string(created.Status),
			Timestamp: created.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
}

// DeleteSubscriptionNotifications cascades a subscription cancellation.
func DeleteSubscriptionNotifications(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subscriptionID, err := validators.ParsePathID(r, "subscriptionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		deleted, err := svc.DeleteBySubscription(r.Context(), subscriptionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, types.DeletedCount{Deleted: deleted})
	}
}
