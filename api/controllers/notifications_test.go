package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/whatsub/notifications/api/middleware"
	"github.com/whatsub/notifications/internal/notifications"
	"github.com/whatsub/notifications/pkg/db/models"
	"github.com/whatsub/notifications/pkg/enums"
	pkgerrors "github.com/whatsub/notifications/pkg/errors"
	"github.com/whatsub/notifications/pkg/logger"
)

type testNotificationsService struct {
	createFn   func(ctx context.Context, input notifications.CreateInput) (*models.Notification, error)
	listFn     func(ctx context.Context, params notifications.ListParams) ([]models.Notification, error)
	markReadFn func(ctx context.Context, userID string, id int64) (bool, error)
	unreadFn   func(ctx context.Context, userID string) int64
	pendingFn  func(ctx context.Context, userID string, limit int) ([]models.Notification, error)
	deliverFn  func(ctx context.Context, id int64) (bool, error)
	deleteFn   func(ctx context.Context, subscriptionID int64) (int64, error)
}

func (s *testNotificationsService) Create(ctx context.Context, input notifications.CreateInput) (*models.Notification, error) {
	return s.createFn(ctx, input)
}

func (s *testNotificationsService) List(ctx context.Context, params notifications.ListParams) ([]models.Notification, error) {
	if s.listFn != nil {
		return s.listFn(ctx, params)
	}
	return nil, nil
}

func (s *testNotificationsService) MarkRead(ctx context.Context, userID string, id int64) (bool, error) {
	return s.markReadFn(ctx, userID, id)
}

func (s *testNotificationsService) MarkDelivered(ctx context.Context, id int64) (bool, error) {
	if s.deliverFn != nil {
		return s.deliverFn(ctx, id)
	}
	return true, nil
}

func (s *testNotificationsService) UnreadCount(ctx context.Context, userID string) int64 {
	return s.unreadFn(ctx, userID)
}

func (s *testNotificationsService) PendingForUser(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	if s.pendingFn != nil {
		return s.pendingFn(ctx, userID, limit)
	}
	return nil, nil
}

func (s *testNotificationsService) DeleteBySubscription(ctx context.Context, subscriptionID int64) (int64, error) {
	return s.deleteFn(ctx, subscriptionID)
}

func (s *testNotificationsService) ExpireQueued(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func withUser(req *http.Request, userID string) *http.Request {
	return req.WithContext(middleware.WithUserID(req.Context(), userID))
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}

func decodeData(t *testing.T, body io.Reader, dest any) {
	t.Helper()
	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	if err := json.NewDecoder(body).Decode(&envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if err := json.Unmarshal(envelope.Data, dest); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func TestListNotificationsPassesFilters(t *testing.T) {
	var captured notifications.ListParams
	svc := &testNotificationsService{
		listFn: func(ctx context.Context, params notifications.ListParams) ([]models.Notification, error) {
			captured = params
			return []models.Notification{{ID: 2, UserID: "u1"}, {ID: 1, UserID: "u1"}}, nil
		},
	}
	req := withUser(httptest.NewRequest(http.MethodGet, "/api/v1/notifications?unreadOnly=true&limit=2&offset=4", nil), "u1")
	resp := httptest.NewRecorder()
	ListNotifications(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if captured.UserID != "u1" || !captured.UnreadOnly || captured.Page.Limit != 2 || captured.Page.Offset != 4 {
		t.Fatalf("unexpected params %+v", captured)
	}
	var rows []models.Notification
	decodeData(t, resp.Body, &rows)
	if len(rows) != 2 || rows[0].ID != 2 {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestListNotificationsRejectsLimitOutOfRange(t *testing.T) {
	svc := &testNotificationsService{
		listFn: func(context.Context, notifications.ListParams) ([]models.Notification, error) {
			t.Fatal("service should not be called")
			return nil, nil
		},
	}
	for _, query := range []string{"limit=0", "limit=101", "offset=-1", "unreadOnly=maybe"} {
		req := withUser(httptest.NewRequest(http.MethodGet, "/api/v1/notifications?"+query, nil), "u1")
		resp := httptest.NewRecorder()
		ListNotifications(svc, testLogger())(resp, req)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 got %d", query, resp.Code)
		}
	}
}

func TestListNotificationsEmptyIsArray(t *testing.T) {
	svc := &testNotificationsService{}
	req := withUser(httptest.NewRequest(http.MethodGet, "/api/v1/notifications", nil), "u1")
	resp := httptest.NewRecorder()
	ListNotifications(svc, testLogger())(resp, req)
	if !strings.Contains(resp.Body.String(), `"data":[]`) {
		t.Fatalf("expected empty array, got %s", resp.Body.String())
	}
}

func TestListNotificationsRequiresUser(t *testing.T) {
	resp := httptest.NewRecorder()
	ListNotifications(&testNotificationsService{}, testLogger())(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestUnreadCount(t *testing.T) {
	svc := &testNotificationsService{
		unreadFn: func(ctx context.Context, userID string) int64 {
			if userID != "u1" {
				t.Fatalf("unexpected user %s", userID)
			}
			return 3
		},
	}
	req := withUser(httptest.NewRequest(http.MethodGet, "/api/v1/notifications/unread-count", nil), "u1")
	resp := httptest.NewRecorder()
	UnreadCount(svc, testLogger())(resp, req)

	var body struct {
		Count int64 `json:"count"`
	}
	decodeData(t, resp.Body, &body)
	if body.Count != 3 {
		t.Fatalf("expected 3 got %d", body.Count)
	}
}

func TestMarkNotificationReadSuccess(t *testing.T) {
	called := false
	svc := &testNotificationsService{
		markReadFn: func(ctx context.Context, userID string, id int64) (bool, error) {
			called = true
			if userID != "u1" || id != 42 {
				t.Fatalf("unexpected args %s %d", userID, id)
			}
			return true, nil
		},
	}

	req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/notifications/42/read", nil), "u1")
	req = withURLParam(req, "notificationId", "42")
	resp := httptest.NewRecorder()
	MarkNotificationRead(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if !called {
		t.Fatal("expected service called")
	}
	var body map[string]bool
	decodeData(t, resp.Body, &body)
	if !body["read"] {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestMarkNotificationReadNotFound(t *testing.T) {
	svc := &testNotificationsService{
		markReadFn: func(context.Context, string, int64) (bool, error) { return false, nil },
	}
	req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/notifications/999/read", nil), "u1")
	req = withURLParam(req, "notificationId", "999")
	resp := httptest.NewRecorder()
	MarkNotificationRead(svc, testLogger())(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestMarkNotificationReadInvalidID(t *testing.T) {
	svc := &testNotificationsService{
		markReadFn: func(context.Context, string, int64) (bool, error) {
			t.Fatal("service should not be called")
			return false, nil
		},
	}
	req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/notifications/abc/read", nil), "u1")
	req = withURLParam(req, "notificationId", "abc")
	resp := httptest.NewRecorder()
	MarkNotificationRead(svc, testLogger())(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestMarkNotificationReadPersistenceError(t *testing.T) {
	svc := &testNotificationsService{
		markReadFn: func(context.Context, string, int64) (bool, error) {
			return false, pkgerrors.New(pkgerrors.CodePersistence, "mark notification read")
		},
	}
	req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/notifications/1/read", nil), "u1")
	req = withURLParam(req, "notificationId", "1")
	resp := httptest.NewRecorder()
	MarkNotificationRead(svc, testLogger())(resp, req)
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
}

func TestCreateNotificationReturns201(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := &testNotificationsService{
		createFn: func(ctx context.Context, input notifications.CreateInput) (*models.Notification, error) {
			if input.Kind != enums.NotificationKindPush || input.SubscriptionID != 7 || input.Metadata["plan"] != "pro" {
				t.Fatalf("unexpected input %+v", input)
			}
			return &models.Notification{ID: 11, Status: enums.NotificationStatusSent, CreatedAt: created}, nil
		},
	}
	body := `{"user_id":"u1","subscription_id":7,"notification_type":"push","subject":"Hi","metadata":{"plan":"pro"}}`
	req := httptest.NewRequest(http.MethodPost, "/internal/v1/notifications", strings.NewReader(body))
	resp := httptest.NewRecorder()
	CreateNotification(svc, testLogger())(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	var out struct {
		ID        int64  `json:"id"`
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	decodeData(t, resp.Body, &out)
	if out.ID != 11 || out.Status != "sent" || out.Timestamp != "2026-03-01T12:00:00Z" {
		t.Fatalf("unexpected body %+v", out)
	}
}

func TestCreateNotificationAcceptsBillingReminderPayload(t *testing.T) {
	var got notifications.CreateInput
	svc := &testNotificationsService{
		createFn: func(ctx context.Context, input notifications.CreateInput) (*models.Notification, error) {
			got = input
			return &models.Notification{ID: 3, Status: enums.NotificationStatusSent, CreatedAt: time.Now()}, nil
		},
	}
	body := `{"user_id":"test-user-123","subscription_id":1,"subject":"Upcoming Payment: Netflix",` +
		`"body":"Hello Test User,\n\nYour subscription for Netflix is due on 2024-01-15.\nAmount: $15.99\n\nPlease ensure your payment method is up to date.",` +
		`"notification_type":"push","metadata":{"subscription_id":1,"user_id":"test-user-123","billing_date":"2024-01-15","price":"15.99"}}`
	req := httptest.NewRequest(http.MethodPost, "/internal/v1/notifications", strings.NewReader(body))
	resp := httptest.NewRecorder()
	CreateNotification(svc, testLogger())(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	if got.Message == nil || !strings.HasPrefix(*got.Message, "Hello Test User,\n\n") || !strings.Contains(*got.Message, "Amount: $15.99") {
		t.Fatalf("body not forwarded as message: %+v", got.Message)
	}
	if got.Subject == nil || *got.Subject != "Upcoming Payment: Netflix" {
		t.Fatalf("unexpected subject %+v", got.Subject)
	}
	if got.UserID != "test-user-123" || got.SubscriptionID != 1 || got.Kind != enums.NotificationKindPush {
		t.Fatalf("unexpected input %+v", got)
	}
	if got.Metadata["price"] != "15.99" || got.Metadata["billing_date"] != "2024-01-15" {
		t.Fatalf("unexpected metadata %+v", got.Metadata)
	}
}

func TestCreateNotificationValidation(t *testing.T) {
	svc := &testNotificationsService{
		createFn: func(context.Context, notifications.CreateInput) (*models.Notification, error) {
			t.Fatal("service should not be called")
			return nil, nil
		},
	}
	bodies := []string{
		`{"subscription_id":7,"notification_type":"push"}`,
		`{"user_id":"u1","subscription_id":0,"notification_type":"push"}`,
		`{"user_id":"u1","subscription_id":7,"notification_type":"fax"}`,
		`{"user_id":"u1","subscription_id":7,"notification_type":"email","recipient_email":"nope"}`,
		`{"user_id":"u1","subscription_id":7,"notification_type":"push","message":"legacy field"}`,
		`not json`,
	}
	for _, body := range bodies {
		req := httptest.NewRequest(http.MethodPost, "/internal/v1/notifications", strings.NewReader(body))
		resp := httptest.NewRecorder()
		CreateNotification(svc, testLogger())(resp, req)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 got %d", body, resp.Code)
		}
	}
}

func TestCreateNotificationCreationError(t *testing.T) {
	svc := &testNotificationsService{
		createFn: func(context.Context, notifications.CreateInput) (*models.Notification, error) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeCreation, pkgerrors.New(pkgerrors.CodePersistence, "insert notification"), "create notification")
		},
	}
	req := httptest.NewRequest(http.MethodPost, "/internal/v1/notifications", strings.NewReader(`{"user_id":"u1","subscription_id":7,"notification_type":"sms"}`))
	resp := httptest.NewRecorder()
	CreateNotification(svc, testLogger())(resp, req)
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), string(pkgerrors.CodeCreation)) {
		t.Fatalf("expected creation code, got %s", resp.Body.String())
	}
}

func TestDeleteSubscriptionNotifications(t *testing.T) {
	svc := &testNotificationsService{
		deleteFn: func(ctx context.Context, subscriptionID int64) (int64, error) {
			if subscriptionID != 7 {
				t.Fatalf("unexpected subscription %d", subscriptionID)
			}
			return 2, nil
		},
	}
	req := withURLParam(httptest.NewRequest(http.MethodDelete, "/internal/v1/subscriptions/7/notifications", nil), "subscriptionId", "7")
	resp := httptest.NewRecorder()
	DeleteSubscriptionNotifications(svc, testLogger())(resp, req)

	var body struct {
		Deleted int64 `json:"deleted"`
	}
	decodeData(t, resp.Body, &body)
	if body.Deleted != 2 {
		t.Fatalf("expected 2 got %d", body.Deleted)
	}
}
