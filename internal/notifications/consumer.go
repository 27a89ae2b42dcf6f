package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/shopspring/decimal"

	"github.com/whatsub/notifications/pkg/db/models"
	"github.com/whatsub/notifications/pkg/enums"
	pkgerrors "github.com/whatsub/notifications/pkg/errors"
	"github.com/whatsub/notifications/pkg/idempotency"
	"github.com/whatsub/notifications/pkg/logger"
	"github.com/whatsub/notifications/pkg/metrics"
)

const billingEventsConsumer = "billing-notifications"

// Billing event types carried in the event_type attribute.
const (
	EventPaymentDue            = "billing.payment_due"
	EventSubscriptionCancelled = "subscription.cancelled"
)

const (
	defaultPlanName = "Subscription"
	defaultUserName = "Subscriber"
	defaultPrice    = "0.00"
)

var errMalformedEvent = errors.New("malformed billing event")

type lifecycle interface {
	Create(ctx context.Context, input CreateInput) (*models.Notification, error)
	DeleteBySubscription(ctx context.Context, subscriptionID int64) (int64, error)
}

// Consumer turns upstream billing events into notifications.
type Consumer struct {
	lifecycle    lifecycle
	subscription *pubsub.Subscriber
	idempotency  *idempotency.Manager
	metrics      *metrics.ConsumerMetrics
	logg         *logger.Logger
}

// NewConsumer builds a billing event consumer.
func NewConsumer(svc lifecycle, subscription *pubsub.Subscriber, manager *idempotency.Manager, m *metrics.ConsumerMetrics, logg *logger.Logger) (*Consumer, error) {
	if svc == nil {
		return nil, fmt.Errorf("notifications service required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("billing subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		lifecycle:    svc,
		subscription: subscription,
		idempotency:  manager,
		metrics:      m,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg.ID, msg.Attributes, msg.Data)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack     bool
	nack    bool
	outcome string
}

func (c *Consumer) process(ctx context.Context, messageID string, attributes map[string]string, data []byte) (result processResult) {
	eventType := attributes["event_type"]
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": messageID,
		"event_type": eventType,
	})
	defer func() {
		c.metrics.Observe(eventType, result.outcome)
	}()

	if eventType != EventPaymentDue && eventType != EventSubscriptionCancelled {
		c.logg.Info(logCtx, "skipping unhandled billing event")
		return processResult{ack: true, outcome: metrics.OutcomeSkipped}
	}

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, billingEventsConsumer, messageID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true, outcome: metrics.OutcomeRetry}
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true, outcome: metrics.OutcomeDuplicate}
	}

	switch eventType {
	case EventPaymentDue:
		err = c.handlePaymentDue(ctx, logCtx, data)
	case EventSubscriptionCancelled:
		err = c.handleSubscriptionCancelled(ctx, logCtx, data)
	}
	if err == nil {
		return processResult{ack: true, outcome: metrics.OutcomeProcessed}
	}

	// poison: ack so it is not redelivered
	if errors.Is(err, errMalformedEvent) || pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		c.logg.Error(logCtx, "dropping malformed billing event", err)
		return processResult{ack: true, outcome: metrics.OutcomePoison}
	}

	c.logg.Error(logCtx, "billing event handling failed", err)
	if delErr := c.idempotency.Delete(ctx, billingEventsConsumer, messageID); delErr != nil {
		c.logg.Warn(c.logg.WithField(logCtx, "delete_error", delErr.Error()), "failed to clear idempotency key")
	}
	return processResult{nack: true, outcome: metrics.OutcomeRetry}
}

func (c *Consumer) handlePaymentDue(ctx, logCtx context.Context, data []byte) error {
	var payload paymentDuePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("%w: %v", errMalformedEvent, err)
	}
	input, err := payload.toCreateInput()
	if err != nil {
		return err
	}

	created, err := c.lifecycle.Create(ctx, input)
	if err != nil {
		return err
	}

	logCtx = c.logg.WithNotificationID(logCtx, created.ID)
	logCtx = c.logg.WithSubscriptionID(logCtx, created.SubscriptionID)
	c.logg.Info(c.logg.WithUserID(logCtx, created.UserID), "payment reminder created")
	return nil
}

func (c *Consumer) handleSubscriptionCancelled(ctx, logCtx context.Context, data []byte) error {
	var payload subscriptionCancelledPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("%w: %v", errMalformedEvent, err)
	}
	if payload.SubscriptionID == nil || *payload.SubscriptionID <= 0 {
		return fmt.Errorf("%w: subscription_id is required", errMalformedEvent)
	}

	deleted, err := c.lifecycle.DeleteBySubscription(ctx, *payload.SubscriptionID)
	if err != nil {
		return err
	}
	logCtx = c.logg.WithSubscriptionID(logCtx, *payload.SubscriptionID)
	c.logg.Info(c.logg.WithField(logCtx, "deleted", deleted), "cancelled subscription notifications removed")
	return nil
}

type paymentDuePayload struct {
	UserID           *string         `json:"user_id"`
	SubscriptionID   *int64          `json:"subscription_id"`
	SubscriptionPlan string          `json:"subscription_plan"`
	BillingDate      string          `json:"billing_date"`
	Price            json.RawMessage `json:"price"`
	UserName         string          `json:"user_name"`
}

type subscriptionCancelledPayload struct {
	SubscriptionID *int64 `json:"subscription_id"`
}

// toCreateInput renders the payment reminder. Only user_id and
// subscription_id are mandatory; everything else has a display default.
func (p paymentDuePayload) toCreateInput() (CreateInput, error) {
	var missing []string
	if p.UserID == nil || strings.TrimSpace(*p.UserID) == "" {
		missing = append(missing, "user_id")
	}
	if p.SubscriptionID == nil {
		missing = append(missing, "subscription_id")
	}
	if len(missing) > 0 {
		return CreateInput{}, fmt.Errorf("%w: missing required fields %v", errMalformedEvent, missing)
	}

	plan := strings.TrimSpace(p.SubscriptionPlan)
	if plan == "" {
		plan = defaultPlanName
	}
	userName := strings.TrimSpace(p.UserName)
	if userName == "" {
		userName = defaultUserName
	}
	amount, price := p.price()

	subject := fmt.Sprintf("Upcoming Payment: %s", plan)
	body := fmt.Sprintf(
		"Hello %s,\n\nYour subscription for %s is due on %s.\nAmount: $%s\n\nPlease ensure your payment method is up to date.",
		userName, plan, p.BillingDate, amount,
	)

	return CreateInput{
		UserID:         *p.UserID,
		SubscriptionID: *p.SubscriptionID,
		Subject:        &subject,
		Message:        &body,
		Kind:           enums.NotificationKindPush,
		Metadata: map[string]any{
			"subscription_id": *p.SubscriptionID,
			"user_id":         *p.UserID,
			"billing_date":    p.BillingDate,
			"price":           price,
		},
	}, nil
}

// price returns the amount shown in the reminder body and the value kept in
// metadata. Strings pass through verbatim; numbers render in their shortest
// decimal form and stay numeric in metadata.
func (p paymentDuePayload) price() (string, any) {
	raw := bytes.TrimSpace(p.Price)
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value any
	if len(raw) == 0 || dec.Decode(&value) != nil || value == nil {
		return defaultPrice, defaultPrice
	}

	switch v := value.(type) {
	case string:
		return v, v
	case json.Number:
		if amount, err := decimal.NewFromString(v.String()); err == nil {
			return amount.String(), v
		}
		return v.String(), v
	default:
		return string(raw), v
	}
}
