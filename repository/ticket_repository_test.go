package repository_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/Simoh8/eventpng-payments/models"
	"github.com/Simoh8/eventpng-payments/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestGetEventTicket_Success(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormTicketRepo(gormDB)

	id := uuid.New()
	eventID := uuid.New()
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "event_id", "name", "price_minor", "currency", "remaining_quantity", "active", "created_at", "updated_at"}).
		AddRow(id, eventID, "General Admission", 2500, "KES", 10, true, now, now)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "event_tickets"`)).
		WillReturnRows(rows)

	et, err := repo.GetEventTicket(context.Background(), id)
	assert.NoError(t, err)
	assert.Equal(t, int64(2500), et.PriceMinor)
	assert.NotNil(t, et.RemainingQuantity)
	assert.Equal(t, 10, *et.RemainingQuantity)
}

func TestGetEventTicket_NotFound(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormTicketRepo(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "event_tickets"`)).
		WillReturnRows(sqlmock.NewRows([]string{}))

	et, err := repo.GetEventTicket(context.Background(), uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Nil(t, et)
}

func TestGetEventTicketForUpdate_TakesRowLock(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormTicketRepo(gormDB)

	id := uuid.New()
	rows := sqlmock.NewRows([]string{"id", "event_id", "name", "price_minor", "currency", "remaining_quantity", "active"}).
		AddRow(id, uuid.New(), "VIP", 10000, "KES", 2, true)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM "event_tickets"(.+)FOR UPDATE`).
		WillReturnRows(rows)
	mock.ExpectCommit()

	err := repo.WithTx(context.Background(), func(tx repository.TicketRepository) error {
		et, err := tx.GetEventTicketForUpdate(context.Background(), id)
		assert.NoError(t, err)
		assert.Equal(t, id, et.ID)
		return nil
	})
	assert.NoError(t, err)
}

func TestDecrementInventory_Success(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormTicketRepo(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "event_tickets" SET (.+)remaining_quantity IS NULL OR remaining_quantity >=`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ok, err := repo.DecrementInventory(context.Background(), uuid.New(), 2)
	assert.NoError(t, err)
	assert.True(t, ok)
}

func TestDecrementInventory_Insufficient(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormTicketRepo(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "event_tickets"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	ok, err := repo.DecrementInventory(context.Background(), uuid.New(), 5)
	assert.NoError(t, err)
	assert.False(t, ok, "guarded update must report no rows when stock is short")
}

func TestRestoreInventory(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormTicketRepo(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "event_tickets"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.RestoreInventory(context.Background(), uuid.New(), 1)
	assert.NoError(t, err)
}

func TestCreatePurchase_Success(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormTicketRepo(gormDB)

	purchase := &models.TicketPurchase{
		ID:               uuid.New(),
		EventTicketID:    uuid.New(),
		OrderID:          uuid.New(),
		TransactionID:    uuid.New(),
		Status:           models.TicketPurchaseStatusConfirmed,
		VerificationCode: "0123456789abcdef0123456789abcdef",
		PriceMinor:       2500,
		Currency:         "KES",
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "ticket_purchases"`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.CreatePurchase(context.Background(), purchase)
	assert.NoError(t, err)
}

func TestGetPurchasesByTransactionID(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormTicketRepo(gormDB)

	txnID := uuid.New()
	rows := sqlmock.NewRows([]string{"id", "transaction_id", "status", "verification_code", "price_minor", "currency"}).
		AddRow(uuid.New(), txnID, models.TicketPurchaseStatusConfirmed, "code-1", 2500, "KES").
		AddRow(uuid.New(), txnID, models.TicketPurchaseStatusConfirmed, "code-2", 2500, "KES")

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "ticket_purchases"`)).
		WillReturnRows(rows)

	purchases, err := repo.GetPurchasesByTransactionID(context.Background(), txnID)
	assert.NoError(t, err)
	assert.Len(t, purchases, 2)
}

func TestGetPurchasesByTransactionID_Empty(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormTicketRepo(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "ticket_purchases"`)).
		WillReturnRows(sqlmock.NewRows([]string{}))

	purchases, err := repo.GetPurchasesByTransactionID(context.Background(), uuid.New())
	assert.NoError(t, err)
	assert.Empty(t, purchases)
}

func TestUpdatePurchaseStatus_Conditional(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormTicketRepo(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "ticket_purchases" SET (.+) WHERE id = \$\d+ AND status = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	changed, err := repo.UpdatePurchaseStatus(context.Background(), uuid.New(),
		models.TicketPurchaseStatusConfirmed, models.TicketPurchaseStatusCancelled, nil)
	assert.NoError(t, err)
	assert.True(t, changed)
}

func TestUpdatePurchaseStatus_AlreadyTransitioned(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormTicketRepo(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "ticket_purchases"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	refund := int64(2500)
	changed, err := repo.UpdatePurchaseStatus(context.Background(), uuid.New(),
		models.TicketPurchaseStatusConfirmed, models.TicketPurchaseStatusRefunded, &refund)
	assert.NoError(t, err)
	assert.False(t, changed)
}

func TestMarkEmailSent(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	repo := repository.NewGormTicketRepo(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "ticket_purchases"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.MarkEmailSent(context.Background(), uuid.New(), time.Now())
	assert.NoError(t, err)
}
