package models

import (
	"time"

	"github.com/google/uuid"
)

// EventTicket is the priced, purchasable ticket type for an event. Inventory
// lives on RemainingQuantity; nil means unlimited. This service only reads the
// sale window and mutates RemainingQuantity — the rest is owned elsewhere.
type EventTicket struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey"`
	EventID           uuid.UUID `gorm:"type:uuid;index;not null"`
	Name              string    `gorm:"type:varchar(255);not null"`
	PriceMinor        int64     `gorm:"not null"`
	Currency          string    `gorm:"type:varchar(10);not null"`
	RemainingQuantity *int
	SaleStartsAt      *time.Time
	SaleEndsAt        *time.Time
	Active            bool      `gorm:"not null;default:true"`
	CreatedAt         time.Time `gorm:"autoCreateTime"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime"`
}

type TicketPurchaseStatus string

const (
	TicketPurchaseStatusPending   TicketPurchaseStatus = "pending"
	TicketPurchaseStatusConfirmed TicketPurchaseStatus = "confirmed"
	TicketPurchaseStatusCancelled TicketPurchaseStatus = "cancelled"
	TicketPurchaseStatusRefunded  TicketPurchaseStatus = "refunded"
	TicketPurchaseStatusUsed      TicketPurchaseStatus = "used"
)

// TicketPurchase is one issued ticket: one row per admitted person, each with
// its own verification code and QR artifact. TransactionID tags the settlement
// that produced the row so retried issuance can detect existing purchases.
type TicketPurchase struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey"`
	UserID            *uuid.UUID `gorm:"type:uuid;index"`
	EventTicketID     uuid.UUID  `gorm:"type:uuid;index;not null"`
	OrderID           uuid.UUID  `gorm:"type:uuid;index;not null"`
	TransactionID     uuid.UUID  `gorm:"type:uuid;index;not null"`
	Status            TicketPurchaseStatus `gorm:"type:varchar(20);not null"`
	VerificationCode  string     `gorm:"type:varchar(64);uniqueIndex;not null"`
	QRCode            []byte     `gorm:"type:bytea"` // PNG encoding "ticket:<code>"
	PriceMinor        int64      `gorm:"not null"`
	Currency          string     `gorm:"type:varchar(10);not null"`
	RefundAmountMinor *int64
	EmailSent         bool `gorm:"not null;default:false"`
	EmailSentAt       *time.Time
	UsedAt            *time.Time
	CreatedAt         time.Time `gorm:"autoCreateTime"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime"`
}
