package notifications

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/whatsub/notifications/pkg/db"
	"github.com/whatsub/notifications/pkg/db/models"
	"github.com/whatsub/notifications/pkg/enums"
	"github.com/whatsub/notifications/pkg/migrate"
	"github.com/whatsub/notifications/pkg/pagination"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setupNotificationsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	// one connection keeps every statement on the same in-memory database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, migrate.AutoMigrateModels(context.Background(), db.NewFromGorm(conn)))
	return conn
}

// setupFileTestDB backs the repository with a sqlite file so several
// connections can race on the same rows.
func setupFileTestDB(t *testing.T, conns int) *gorm.DB {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "notifications.db") + "?_busy_timeout=5000&_journal_mode=WAL"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(conns)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, migrate.AutoMigrateModels(context.Background(), db.NewFromGorm(conn)))
	return conn
}

func seedNotification(t *testing.T, repo Repository, userID string, subscriptionID int64, kind enums.NotificationKind, status enums.NotificationStatus, createdAt time.Time) *models.Notification {
	t.Helper()
	subject := "Upcoming Payment"
	record := &models.Notification{
		UserID:         userID,
		SubscriptionID: subscriptionID,
		Kind:           kind,
		Subject:        &subject,
		Status:         status,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
	require.NoError(t, repo.Create(context.Background(), record))
	require.Positive(t, record.ID)
	return record
}

func loadNotification(t *testing.T, conn *gorm.DB, id int64) models.Notification {
	t.Helper()
	var row models.Notification
	require.NoError(t, conn.Take(&row, "id = ?", id).Error)
	return row
}

func TestRepositoryCreateAssignsAscendingIDs(t *testing.T) {
	repo := NewRepository(setupNotificationsTestDB(t))

	first := seedNotification(t, repo, "u1", 7, enums.NotificationKindEmail, enums.NotificationStatusQueued, baseTime)
	second := seedNotification(t, repo, "u1", 7, enums.NotificationKindEmail, enums.NotificationStatusQueued, baseTime)
	assert.Greater(t, second.ID, first.ID)
}

func TestRepositoryListOrderingAndPagination(t *testing.T) {
	conn := setupNotificationsTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 7; i++ {
		// two rows share a timestamp to exercise the id tie-break
		created := baseTime.Add(time.Duration(i/2) * time.Minute)
		ids = append(ids, seedNotification(t, repo, "u1", 7, enums.NotificationKindPush, enums.NotificationStatusSent, created).ID)
	}
	seedNotification(t, repo, "u2", 8, enums.NotificationKindPush, enums.NotificationStatusSent, baseTime.Add(time.Hour))

	all, err := repo.List(ctx, listNotificationsParams{UserID: "u1", Page: pagination.Params{Limit: 100}})
	require.NoError(t, err)
	require.Len(t, all, 7)
	for i := 1; i < len(all); i++ {
		prev, cur := all[i-1], all[i]
		assert.False(t, cur.CreatedAt.After(prev.CreatedAt), "created_at must be descending")
		if cur.CreatedAt.Equal(prev.CreatedAt) {
			assert.Less(t, cur.ID, prev.ID)
		}
	}
	assert.Equal(t, ids[6], all[0].ID)

	var paged []int64
	for offset := 0; offset < 7; offset += 3 {
		page, err := repo.List(ctx, listNotificationsParams{UserID: "u1", Page: pagination.Params{Limit: 3, Offset: offset}})
		require.NoError(t, err)
		for _, n := range page {
			paged = append(paged, n.ID)
		}
	}
	var expected []int64
	for _, n := range all {
		expected = append(expected, n.ID)
	}
	assert.Equal(t, expected, paged, "pagination must neither skip nor duplicate")
}

func TestRepositoryListUnreadOnly(t *testing.T) {
	repo := NewRepository(setupNotificationsTestDB(t))
	ctx := context.Background()

	read := seedNotification(t, repo, "u1", 7, enums.NotificationKindPush, enums.NotificationStatusSent, baseTime)
	unread := seedNotification(t, repo, "u1", 7, enums.NotificationKindPush, enums.NotificationStatusSent, baseTime.Add(time.Second))
	_, err := repo.MarkRead(ctx, "u1", read.ID, baseTime.Add(time.Minute))
	require.NoError(t, err)

	rows, err := repo.List(ctx, listNotificationsParams{UserID: "u1", UnreadOnly: true, Page: pagination.Default()})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, unread.ID, rows[0].ID)
	for _, row := range rows {
		assert.Nil(t, row.ReadAt)
	}
}

func TestRepositoryMarkRead(t *testing.T) {
	conn := setupNotificationsTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	n := seedNotification(t, repo, "u1", 7, enums.NotificationKindPush, enums.NotificationStatusSent, baseTime)

	first, err := repo.MarkRead(ctx, "u1", n.ID, baseTime.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, notificationMarkResult{Updated: true, Found: true}, first)
	readAt := loadNotification(t, conn, n.ID).ReadAt
	require.NotNil(t, readAt)

	second, err := repo.MarkRead(ctx, "u1", n.ID, baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, second.Updated)
	assert.True(t, second.Found)
	again := loadNotification(t, conn, n.ID).ReadAt
	require.NotNil(t, again)
	assert.True(t, readAt.Equal(*again), "read_at must not move on a repeated mark")

	other, err := repo.MarkRead(ctx, "u2", n.ID, baseTime)
	require.NoError(t, err)
	assert.False(t, other.Found, "another user's record looks missing")

	missing, err := repo.MarkRead(ctx, "u1", 999, baseTime)
	require.NoError(t, err)
	assert.False(t, missing.Found)
}

func TestRepositoryMarkDelivered(t *testing.T) {
	conn := setupNotificationsTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	n := seedNotification(t, repo, "u1", 7, enums.NotificationKindPush, enums.NotificationStatusSent, baseTime)

	first, err := repo.MarkDelivered(ctx, n.ID, baseTime.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, first.Updated)
	row := loadNotification(t, conn, n.ID)
	assert.Equal(t, enums.NotificationStatusDelivered, row.Status)
	require.NotNil(t, row.DeliveredAt)
	deliveredAt := *row.DeliveredAt

	second, err := repo.MarkDelivered(ctx, n.ID, baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, second.Updated)
	assert.True(t, second.Found)
	assert.Equal(t, enums.NotificationStatusDelivered, second.Status)
	row = loadNotification(t, conn, n.ID)
	assert.True(t, deliveredAt.Equal(*row.DeliveredAt), "delivered_at must not change on the second call")

	queued := seedNotification(t, repo, "u1", 7, enums.NotificationKindEmail, enums.NotificationStatusQueued, baseTime)
	res, err := repo.MarkDelivered(ctx, queued.ID, baseTime)
	require.NoError(t, err)
	assert.True(t, res.Updated, "queued may move straight to delivered")

	failed := seedNotification(t, repo, "u1", 7, enums.NotificationKindSMS, enums.NotificationStatusFailed, baseTime)
	res, err = repo.MarkDelivered(ctx, failed.ID, baseTime)
	require.NoError(t, err)
	assert.Equal(t, notificationMarkResult{Found: true, Status: enums.NotificationStatusFailed}, res)
	assert.Nil(t, loadNotification(t, conn, failed.ID).DeliveredAt)

	missing, err := repo.MarkDelivered(ctx, 999, baseTime)
	require.NoError(t, err)
	assert.False(t, missing.Found)
}

func TestRepositoryConcurrentMarksWriteOnce(t *testing.T) {
	const workers = 8
	conn := setupFileTestDB(t, workers)
	repo := NewRepository(conn)
	ctx := context.Background()

	n := seedNotification(t, repo, "u1", 7, enums.NotificationKindPush, enums.NotificationStatusSent, baseTime)

	var (
		wg       sync.WaitGroup
		start    = make(chan struct{})
		reads    = make([]notificationMarkResult, workers)
		delivers = make([]notificationMarkResult, workers)
		errs     = make([]error, 2*workers)
	)
	stamp := func(i int) time.Time { return baseTime.Add(time.Duration(i+1) * time.Minute) }
	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			reads[i], errs[2*i] = repo.MarkRead(ctx, "u1", n.ID, stamp(i))
		}()
		go func() {
			defer wg.Done()
			<-start
			delivers[i], errs[2*i+1] = repo.MarkDelivered(ctx, n.ID, stamp(i))
		}()
	}
	close(start)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	readWinner, deliverWinner := -1, -1
	for i := 0; i < workers; i++ {
		assert.True(t, reads[i].Found, "every mark read reports success")
		assert.True(t, delivers[i].Found)
		assert.True(t, delivers[i].Updated || delivers[i].Status == enums.NotificationStatusDelivered,
			"every mark delivered converges on delivered")
		if reads[i].Updated {
			require.Equal(t, -1, readWinner, "read_at written more than once")
			readWinner = i
		}
		if delivers[i].Updated {
			require.Equal(t, -1, deliverWinner, "delivered_at written more than once")
			deliverWinner = i
		}
	}
	require.NotEqual(t, -1, readWinner)
	require.NotEqual(t, -1, deliverWinner)

	row := loadNotification(t, conn, n.ID)
	require.NotNil(t, row.ReadAt)
	require.NotNil(t, row.DeliveredAt)
	assert.True(t, row.ReadAt.Equal(stamp(readWinner)))
	assert.True(t, row.DeliveredAt.Equal(stamp(deliverWinner)))
	assert.Equal(t, enums.NotificationStatusDelivered, row.Status)
}

func TestRepositoryTransition(t *testing.T) {
	conn := setupNotificationsTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	n := seedNotification(t, repo, "u1", 7, enums.NotificationKindPush, enums.NotificationStatusQueued, baseTime)

	res, err := repo.Transition(ctx, n.ID, enums.NotificationStatusQueued, enums.NotificationStatusSent, baseTime)
	require.NoError(t, err)
	assert.True(t, res.Updated)

	res, err = repo.Transition(ctx, n.ID, enums.NotificationStatusQueued, enums.NotificationStatusSent, baseTime)
	require.NoError(t, err)
	assert.False(t, res.Updated, "compare-and-set must fail once status moved")
	assert.Equal(t, enums.NotificationStatusSent, res.Status)

	_, err = repo.Transition(ctx, n.ID, enums.NotificationStatusDelivered, enums.NotificationStatusQueued, baseTime)
	var illegal enums.ErrIllegalTransition
	require.ErrorAs(t, err, &illegal)

	res, err = repo.Transition(ctx, n.ID, enums.NotificationStatusSent, enums.NotificationStatusDelivered, baseTime.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, res.Updated)
	assert.NotNil(t, loadNotification(t, conn, n.ID).DeliveredAt)
}

func TestRepositoryUnreadCountAndListUnread(t *testing.T) {
	repo := NewRepository(setupNotificationsTestDB(t))
	ctx := context.Background()

	older := seedNotification(t, repo, "u1", 7, enums.NotificationKindPush, enums.NotificationStatusSent, baseTime)
	newer := seedNotification(t, repo, "u1", 7, enums.NotificationKindPush, enums.NotificationStatusSent, baseTime.Add(time.Minute))
	failed := seedNotification(t, repo, "u1", 7, enums.NotificationKindSMS, enums.NotificationStatusFailed, baseTime.Add(2*time.Minute))
	read := seedNotification(t, repo, "u1", 7, enums.NotificationKindPush, enums.NotificationStatusSent, baseTime.Add(3*time.Minute))
	_, err := repo.MarkRead(ctx, "u1", read.ID, baseTime.Add(time.Hour))
	require.NoError(t, err)

	count, err := repo.UnreadCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	rows, err := repo.ListUnread(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, rows, 3, "read records are excluded, failed unread ones are not")
	assert.Equal(t, failed.ID, rows[0].ID)
	assert.Equal(t, newer.ID, rows[1].ID)
	assert.Equal(t, older.ID, rows[2].ID)

	rows, err = repo.ListUnread(ctx, "u1", 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, failed.ID, rows[0].ID)
}

func TestRepositoryDeleteBySubscription(t *testing.T) {
	conn := setupNotificationsTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	seedNotification(t, repo, "u1", 7, enums.NotificationKindPush, enums.NotificationStatusSent, baseTime)
	seedNotification(t, repo, "u2", 7, enums.NotificationKindEmail, enums.NotificationStatusQueued, baseTime)
	keep := seedNotification(t, repo, "u1", 8, enums.NotificationKindPush, enums.NotificationStatusSent, baseTime)

	deleted, err := repo.DeleteBySubscription(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	var remaining []models.Notification
	require.NoError(t, conn.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	assert.Equal(t, keep.ID, remaining[0].ID)

	deleted, err = repo.DeleteBySubscription(ctx, 42)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestRepositoryFailQueuedBefore(t *testing.T) {
	conn := setupNotificationsTestDB(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	staleEmail := seedNotification(t, repo, "u1", 7, enums.NotificationKindEmail, enums.NotificationStatusQueued, baseTime)
	stalePush := seedNotification(t, repo, "u1", 7, enums.NotificationKindPush, enums.NotificationStatusQueued, baseTime)
	freshSMS := seedNotification(t, repo, "u1", 7, enums.NotificationKindSMS, enums.NotificationStatusQueued, baseTime.Add(48*time.Hour))
	sentEmail := seedNotification(t, repo, "u1", 7, enums.NotificationKindEmail, enums.NotificationStatusSent, baseTime)

	cutoff := baseTime.Add(24 * time.Hour)
	changed, err := repo.FailQueuedBefore(ctx, []enums.NotificationKind{enums.NotificationKindEmail, enums.NotificationKindSMS}, cutoff, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), changed)

	assert.Equal(t, enums.NotificationStatusFailed, loadNotification(t, conn, staleEmail.ID).Status)
	assert.Equal(t, enums.NotificationStatusQueued, loadNotification(t, conn, stalePush.ID).Status)
	assert.Equal(t, enums.NotificationStatusQueued, loadNotification(t, conn, freshSMS.ID).Status)
	assert.Equal(t, enums.NotificationStatusSent, loadNotification(t, conn, sentEmail.ID).Status)

	changed, err = repo.FailQueuedBefore(ctx, nil, cutoff, cutoff)
	require.NoError(t, err)
	assert.Zero(t, changed)
}

func TestRepositoryWithTxRollsBack(t *testing.T) {
	conn := setupNotificationsTestDB(t)
	repo := NewRepository(conn)
	client := db.NewFromGorm(conn)

	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		seedNotification(t, repo.WithTx(tx), "u1", 7, enums.NotificationKindPush, enums.NotificationStatusQueued, baseTime)
		return gorm.ErrInvalidTransaction
	})
	require.Error(t, err)

	count, err := repo.UnreadCount(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, count)
}
