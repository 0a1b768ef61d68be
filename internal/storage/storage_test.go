package storage

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	return NewService(gormDB, nil), mock
}

func TestAppendMessage(t *testing.T) {
	svc, mock := setupTestDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(
		`INSERT INTO "messages" ("sender_id","receiver_id","body","timestamp","read") VALUES ($1,$2,$3,$4,$5) RETURNING "id"`)).
		WithArgs("u1", "u2", "hi", sqlmock.AnyArg(), false).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	before := time.Now().UTC()
	msg, err := svc.AppendMessage(context.Background(), "u1", "u2", "hi")
	require.NoError(t, err)

	assert.Equal(t, uint(1), msg.ID)
	assert.Equal(t, "u1", msg.SenderID)
	assert.Equal(t, "u2", msg.ReceiverID)
	assert.Equal(t, "hi", msg.Body)
	assert.False(t, msg.Read, "new messages start unread")
	assert.False(t, msg.Timestamp.Before(before), "timestamp is server-assigned")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendMessage_StorageFailure(t *testing.T) {
	svc, mock := setupTestDB(t)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	msg, err := svc.AppendMessage(context.Background(), "u1", "u2", "hi")
	assert.Nil(t, msg)
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestFindConversation_BothDirectionsOrdered(t *testing.T) {
	svc, mock := setupTestDB(t)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "sender_id", "receiver_id", "body", "timestamp", "read"}).
		AddRow(1, "u1", "u2", "first", now, true).
		AddRow(2, "u2", "u1", "second", now.Add(time.Second), false).
		AddRow(3, "u1", "u2", "third", now.Add(2*time.Second), false)

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT * FROM "messages" WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $3 AND receiver_id = $4) ORDER BY timestamp asc, id asc`)).
		WithArgs("u1", "u2", "u2", "u1").
		WillReturnRows(rows)

	messages, err := svc.FindConversation(context.Background(), "u1", "u2")
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "first", messages[0].Body)
	assert.Equal(t, "second", messages[1].Body)
	assert.Equal(t, "third", messages[2].Body)
}

func TestFindConversation_EmptyIsNotAnError(t *testing.T) {
	svc, mock := setupTestDB(t)

	mock.ExpectQuery(`SELECT \* FROM "messages"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "sender_id", "receiver_id", "body", "timestamp", "read"}))

	messages, err := svc.FindConversation(context.Background(), "u1", "u2")
	assert.NoError(t, err)
	assert.Empty(t, messages)
}

func TestMarkDelivered(t *testing.T) {
	svc, mock := setupTestDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(
		`UPDATE "messages" SET "read"=$1 WHERE sender_id = $2 AND receiver_id = $3 AND read = $4`)).
		WithArgs(true, "u1", "u2", false).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	// Viewer u2 marks messages sent to them by u1.
	err := svc.MarkDelivered(context.Background(), "u2", "u1")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkDelivered_Idempotent(t *testing.T) {
	svc, mock := setupTestDB(t)

	// Second run matches zero rows and still succeeds.
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "messages"`).
		WithArgs(true, "u1", "u2", false).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := svc.MarkDelivered(context.Background(), "u2", "u1")
	assert.NoError(t, err)
}

func TestMarkDelivered_StorageFailure(t *testing.T) {
	svc, mock := setupTestDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "messages"`).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := svc.MarkDelivered(context.Background(), "u2", "u1")
	assert.ErrorIs(t, err, ErrPersistence)
}
