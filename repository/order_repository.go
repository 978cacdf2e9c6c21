package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Simoh8/eventpng-payments/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned when a row does not exist. Callers should not see
// gorm errors directly.
var ErrNotFound = errors.New("record not found")

// IsDuplicateKey reports whether err is a unique-constraint violation. Both
// the gorm translated error and the raw postgres error code are recognized.
func IsDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type OrderRepository interface {
	// WithTx runs fn inside a database transaction; the repository passed to
	// fn is bound to that transaction. Row locks taken inside fn are held
	// until fn returns.
	WithTx(ctx context.Context, fn func(tx OrderRepository) error) error

	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetOrderByReference(ctx context.Context, reference string) (*models.Order, error)
	MarkOrderPaid(ctx context.Context, orderID uuid.UUID, paidAt time.Time) error
	MarkOrderFailed(ctx context.Context, orderID uuid.UUID) error

	CreateTransaction(ctx context.Context, txn *models.Transaction) error
	GetTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error)
	// GetTransactionByReferenceForUpdate takes a SELECT ... FOR UPDATE row
	// lock; only meaningful inside WithTx.
	GetTransactionByReferenceForUpdate(ctx context.Context, reference string) (*models.Transaction, error)
	// MarkTransactionSucceeded transitions pending -> succeeded with a
	// conditional update; returns false when the row was not pending anymore.
	MarkTransactionSucceeded(ctx context.Context, id uuid.UUID, externalID *string, rawPayload string) (bool, error)
	MarkTransactionFailed(ctx context.Context, id uuid.UUID, rawPayload string) (bool, error)
}

type gormOrderRepo struct {
	db *gorm.DB
}

func NewGormOrderRepo(db *gorm.DB) OrderRepository {
	return &gormOrderRepo{db: db}
}

func (r *gormOrderRepo) WithTx(ctx context.Context, fn func(tx OrderRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormOrderRepo{db: tx})
	})
}

func (r *gormOrderRepo) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *gormOrderRepo) GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, translate(err)
	}
	return &order, nil
}

func (r *gormOrderRepo) GetOrderByReference(ctx context.Context, reference string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("reference = ?", reference).First(&order).Error; err != nil {
		return nil, translate(err)
	}
	return &order, nil
}

func (r *gormOrderRepo) MarkOrderPaid(ctx context.Context, orderID uuid.UUID, paidAt time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, models.OrderStatusPending).
		Updates(map[string]interface{}{
			"status":     models.OrderStatusPaid,
			"paid_at":    paidAt,
			"updated_at": time.Now(),
		}).Error
}

func (r *gormOrderRepo) MarkOrderFailed(ctx context.Context, orderID uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, models.OrderStatusPending).
		Updates(map[string]interface{}{
			"status":     models.OrderStatusFailed,
			"updated_at": time.Now(),
		}).Error
}

func (r *gormOrderRepo) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *gormOrderRepo) GetTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.db.WithContext(ctx).Where("reference = ?", reference).First(&txn).Error; err != nil {
		return nil, translate(err)
	}
	return &txn, nil
}

func (r *gormOrderRepo) GetTransactionByReferenceForUpdate(ctx context.Context, reference string) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("reference = ?", reference).
		First(&txn).Error
	if err != nil {
		return nil, translate(err)
	}
	return &txn, nil
}

func (r *gormOrderRepo) MarkTransactionSucceeded(ctx context.Context, id uuid.UUID, externalID *string, rawPayload string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, models.TransactionStatusPending).
		Updates(map[string]interface{}{
			"status":      models.TransactionStatusSucceeded,
			"external_id": externalID,
			"raw_payload": rawPayload,
			"updated_at":  time.Now(),
		})
	return res.RowsAffected > 0, res.Error
}

func (r *gormOrderRepo) MarkTransactionFailed(ctx context.Context, id uuid.UUID, rawPayload string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Where("id = ? AND status = ?", id, models.TransactionStatusPending).
		Updates(map[string]interface{}{
			"status":      models.TransactionStatusFailed,
			"raw_payload": rawPayload,
			"updated_at":  time.Now(),
		})
	return res.RowsAffected > 0, res.Error
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
