package repository

import (
	"context"
	"time"

	"github.com/Simoh8/eventpng-payments/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TicketRepository interface {
	WithTx(ctx context.Context, fn func(tx TicketRepository) error) error

	GetEventTicket(ctx context.Context, id uuid.UUID) (*models.EventTicket, error)
	GetEventTicketForUpdate(ctx context.Context, id uuid.UUID) (*models.EventTicket, error)
	// DecrementInventory atomically subtracts qty from remaining_quantity.
	// Returns false when the ticket does not have qty units left. Unlimited
	// inventory (NULL) always succeeds.
	DecrementInventory(ctx context.Context, id uuid.UUID, qty int) (bool, error)
	RestoreInventory(ctx context.Context, id uuid.UUID, qty int) error

	CreatePurchase(ctx context.Context, purchase *models.TicketPurchase) error
	GetPurchaseByID(ctx context.Context, id uuid.UUID) (*models.TicketPurchase, error)
	GetPurchaseByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.TicketPurchase, error)
	GetPurchasesByTransactionID(ctx context.Context, transactionID uuid.UUID) ([]models.TicketPurchase, error)
	GetPurchasesByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.TicketPurchase, error)
	// UpdatePurchaseStatus transitions from -> to conditionally; returns false
	// when the row was no longer in the from status.
	UpdatePurchaseStatus(ctx context.Context, id uuid.UUID, from, to models.TicketPurchaseStatus, refundMinor *int64) (bool, error)
	MarkEmailSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error
}

type gormTicketRepo struct {
	db *gorm.DB
}

func NewGormTicketRepo(db *gorm.DB) TicketRepository {
	return &gormTicketRepo{db: db}
}

func (r *gormTicketRepo) WithTx(ctx context.Context, fn func(tx TicketRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTicketRepo{db: tx})
	})
}

func (r *gormTicketRepo) GetEventTicket(ctx context.Context, id uuid.UUID) (*models.EventTicket, error) {
	var et models.EventTicket
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&et).Error; err != nil {
		return nil, translate(err)
	}
	return &et, nil
}

func (r *gormTicketRepo) GetEventTicketForUpdate(ctx context.Context, id uuid.UUID) (*models.EventTicket, error) {
	var et models.EventTicket
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&et).Error
	if err != nil {
		return nil, translate(err)
	}
	return &et, nil
}

func (r *gormTicketRepo) DecrementInventory(ctx context.Context, id uuid.UUID, qty int) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.EventTicket{}).
		Where("id = ? AND (remaining_quantity IS NULL OR remaining_quantity >= ?)", id, qty).
		Update("remaining_quantity", gorm.Expr("remaining_quantity - ?", qty))
	return res.RowsAffected > 0, res.Error
}

func (r *gormTicketRepo) RestoreInventory(ctx context.Context, id uuid.UUID, qty int) error {
	return r.db.WithContext(ctx).Model(&models.EventTicket{}).
		Where("id = ?", id).
		Update("remaining_quantity", gorm.Expr("remaining_quantity + ?", qty)).Error
}

func (r *gormTicketRepo) CreatePurchase(ctx context.Context, purchase *models.TicketPurchase) error {
	return r.db.WithContext(ctx).Create(purchase).Error
}

func (r *gormTicketRepo) GetPurchaseByID(ctx context.Context, id uuid.UUID) (*models.TicketPurchase, error) {
	var p models.TicketPurchase
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (r *gormTicketRepo) GetPurchaseByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.TicketPurchase, error) {
	var p models.TicketPurchase
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&p).Error
	if err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (r *gormTicketRepo) GetPurchasesByTransactionID(ctx context.Context, transactionID uuid.UUID) ([]models.TicketPurchase, error) {
	var purchases []models.TicketPurchase
	if err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).Find(&purchases).Error; err != nil {
		return nil, err
	}
	return purchases, nil
}

func (r *gormTicketRepo) GetPurchasesByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.TicketPurchase, error) {
	var purchases []models.TicketPurchase
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Find(&purchases).Error; err != nil {
		return nil, err
	}
	return purchases, nil
}

func (r *gormTicketRepo) UpdatePurchaseStatus(ctx context.Context, id uuid.UUID, from, to models.TicketPurchaseStatus, refundMinor *int64) (bool, error) {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now(),
	}
	if refundMinor != nil {
		updates["refund_amount_minor"] = *refundMinor
	}
	res := r.db.WithContext(ctx).Model(&models.TicketPurchase{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

func (r *gormTicketRepo) MarkEmailSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	return r.db.WithContext(ctx).Model(&models.TicketPurchase{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"email_sent":    true,
			"email_sent_at": sentAt,
		}).Error
}
