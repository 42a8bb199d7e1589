package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"crm-webhook-engine/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var deliveryLogCols = []string{
	"id", "webhook_id", "tenant_id", "event_type", "url", "payload",
	"response_status", "status_text", "response_body", "success", "duration_ms", "error_message", "created_at",
}

func sampleLog() *domain.DeliveryLog {
	status := 500
	msg := domain.FallbackDeliveryError
	return &domain.DeliveryLog{
		ID:             uuid.New(),
		SubscriptionID: uuid.New(),
		TenantID:       uuid.New(),
		EventType:      "deal.created",
		URL:            "https://a.example.com/hook",
		Payload:        `{"event":"deal.created","data":{},"sentAt":"2026-03-01T12:00:00.000Z"}`,
		ResponseStatus: &status,
		StatusText:     "Internal Server Error",
		ResponseBody:   "boom",
		Success:        false,
		DurationMs:     42,
		ErrorMessage:   &msg,
		CreatedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestDeliveryLogRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryLogRepo(mock)
	l := sampleLog()

	mock.ExpectExec("INSERT INTO webhook_logs").
		WithArgs(l.ID, l.SubscriptionID, l.TenantID, l.EventType, l.URL, l.Payload,
			l.ResponseStatus, l.StatusText, l.ResponseBody, l.Success, l.DurationMs,
			l.ErrorMessage, l.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), l))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryLogRepo_Create_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryLogRepo(mock)
	mock.ExpectExec("INSERT INTO webhook_logs").
		WillReturnError(errors.New("foreign key violation"))

	err = repo.Create(context.Background(), sampleLog())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "inserting delivery log")
}

func TestDeliveryLogRepo_GetByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryLogRepo(mock)
	l := sampleLog()

	mock.ExpectQuery("SELECT .+ FROM webhook_logs WHERE id = \\$1").
		WithArgs(l.ID).
		WillReturnRows(pgxmock.NewRows(deliveryLogCols).
			AddRow(l.ID, l.SubscriptionID, l.TenantID, l.EventType, l.URL, l.Payload,
				l.ResponseStatus, l.StatusText, l.ResponseBody, l.Success, l.DurationMs,
				l.ErrorMessage, l.CreatedAt))

	got, err := repo.GetByID(context.Background(), l.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, l.Payload, got.Payload)
	assert.Equal(t, 500, *got.ResponseStatus)
	assert.Equal(t, domain.FallbackDeliveryError, *got.ErrorMessage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryLogRepo_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryLogRepo(mock)
	mock.ExpectQuery("SELECT .+ FROM webhook_logs WHERE id").
		WillReturnError(pgx.ErrNoRows)

	got, err := repo.GetByID(context.Background(), uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeliveryLogRepo_ListBySubscription(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryLogRepo(mock)
	older, newer := sampleLog(), sampleLog()
	newer.SubscriptionID = older.SubscriptionID
	newer.CreatedAt = older.CreatedAt.Add(time.Minute)

	rows := pgxmock.NewRows(deliveryLogCols)
	for _, l := range []*domain.DeliveryLog{newer, older} {
		rows.AddRow(l.ID, l.SubscriptionID, l.TenantID, l.EventType, l.URL, l.Payload,
			l.ResponseStatus, l.StatusText, l.ResponseBody, l.Success, l.DurationMs,
			l.ErrorMessage, l.CreatedAt)
	}
	mock.ExpectQuery("SELECT .+ FROM webhook_logs WHERE webhook_id = \\$1 ORDER BY created_at DESC LIMIT \\$2").
		WithArgs(older.SubscriptionID, 10).
		WillReturnRows(rows)

	logs, err := repo.ListBySubscription(context.Background(), older.SubscriptionID, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, newer.ID, logs[0].ID)
	assert.Equal(t, older.ID, logs[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryLogRepo_ListBySubscription_Empty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewDeliveryLogRepo(mock)
	mock.ExpectQuery("SELECT .+ FROM webhook_logs").
		WillReturnRows(pgxmock.NewRows(deliveryLogCols))

	logs, err := repo.ListBySubscription(context.Background(), uuid.New(), 50)
	require.NoError(t, err)
	assert.NotNil(t, logs)
	assert.Empty(t, logs)
}
