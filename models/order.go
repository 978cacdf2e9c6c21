package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusRefunded  OrderStatus = "refunded"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is one external checkout attempt. UserID is nullable because a webhook
// can arrive for a reference we never saw, in which case the order is created
// lazily from the processor payload.
type Order struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey"`
	UserID         *uuid.UUID `gorm:"type:uuid;index"`
	Reference      string     `gorm:"type:varchar(64);uniqueIndex;not null"`
	SubtotalMinor  int64      `gorm:"not null"` // smallest currency unit
	TaxMinor       int64      `gorm:"not null"`
	TotalMinor     int64      `gorm:"not null"`
	Currency       string     `gorm:"type:varchar(10);not null"`
	Status         OrderStatus `gorm:"type:varchar(20);not null"`
	BillingEmail   string     `gorm:"type:varchar(255)"`
	BillingName    string     `gorm:"type:varchar(255)"`
	BillingAddress string     `gorm:"type:varchar(1024)"`
	PaidAt         *time.Time
	CreatedAt      time.Time      `gorm:"autoCreateTime"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime"`
	DeletedAt      gorm.DeletedAt `gorm:"index"` // orders are never hard-deleted
}

type TransactionType string

const (
	TransactionTypeCharge TransactionType = "charge"
	TransactionTypeRefund TransactionType = "refund"
)

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusSucceeded TransactionStatus = "succeeded"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// Transaction is one ledger entry for a charge or refund against an Order.
// The external processor reference is the canonical lookup key; the unique
// index is what makes concurrent settlement attempts collapse to one winner.
type Transaction struct {
	ID          uuid.UUID         `gorm:"type:uuid;primaryKey"`
	OrderID     uuid.UUID         `gorm:"type:uuid;index;not null"`
	Type        TransactionType   `gorm:"type:varchar(10);not null"`
	AmountMinor int64             `gorm:"not null"`
	Currency    string            `gorm:"type:varchar(10);not null"`
	Status      TransactionStatus `gorm:"type:varchar(20);not null"`
	Reference   string            `gorm:"type:varchar(64);uniqueIndex;not null"`
	ExternalID  *string           `gorm:"type:varchar(128)"`
	Metadata    *string           `gorm:"type:jsonb"` // ticket line items captured at checkout
	RawPayload  *string           `gorm:"type:jsonb"` // processor payload, for audit
	CreatedAt   time.Time         `gorm:"autoCreateTime"`
	UpdatedAt   time.Time         `gorm:"autoUpdateTime"`
}
