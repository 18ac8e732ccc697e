package repository

import (
	"context"
	"regexp"
	"testing"

	"assetledger/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	return db, mock
}

func TestOutboxCreate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutboxRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `outbox_message`")).
		WillReturnResult(sqlmock.NewResult(11, 1))

	msg := &model.OutboxMessage{
		MessageKey: "CS1",
		EventType:  model.EventConsumeSettled,
		Topic:      "asset_event",
		Payload:    `{"consume_no":"CS1"}`,
		Status:     model.OutboxStatusPending,
	}
	require.NoError(t, repo.Create(context.Background(), nil, msg))

	assert.Equal(t, int64(11), msg.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxGetPendingMessages(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutboxRepository(db)

	rows := sqlmock.NewRows([]string{"id", "message_key", "event_type", "topic", "payload", "status", "retry_count"}).
		AddRow(1, "CS1", model.EventConsumeSettled, "asset_event", "{}", model.OutboxStatusPending, 0).
		AddRow(2, "TF1", model.EventAssetTransferred, "asset_event", "{}", model.OutboxStatusPending, 2)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `outbox_message` WHERE status = ?")).
		WillReturnRows(rows)

	messages, err := repo.GetPendingMessages(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "TF1", messages[1].MessageKey)
	assert.Equal(t, 2, messages[1].RetryCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxUpdateStatus(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutboxRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE `outbox_message` SET `status`=?")).
		WithArgs(model.OutboxStatusSent, sqlmock.AnyArg(), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateStatus(context.Background(), 7, model.OutboxStatusSent))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxIncrementRetryCount(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutboxRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE `outbox_message` SET `retry_count`=retry_count + 1")).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.IncrementRetryCount(context.Background(), 3))
	assert.NoError(t, mock.ExpectationsWereMet())
}
