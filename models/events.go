package models

import "time"

// PaymentEvent is the message published to the event bus after a settlement
// or ticket lifecycle change commits.
type PaymentEvent struct {
	Type          string    `json:"type"` // "payment_succeeded", "payment_failed", "ticket_issued", "ticket_cancelled"
	OrderID       string    `json:"order_id"`
	UserID        string    `json:"user_id,omitempty"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Reference     string    `json:"reference"`
	AmountMinor   int64     `json:"amount"` // smallest currency unit
	Currency      string    `json:"currency"`
	TicketCount   int       `json:"ticket_count,omitempty"`
	Timestamp     time.Time `json:"timestamp"` // UTC event time
}

// TicketLineItem describes one ticket type + quantity inside a checkout.
// Line items are serialized into Transaction.Metadata at initiation so a
// webhook that lands before the local order exists can still issue tickets.
type TicketLineItem struct {
	EventID        string `json:"event_id"`
	EventTicketID  string `json:"event_ticket_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceMinor int64  `json:"unit_price"`
	Currency       string `json:"currency"`
}

// TransactionMetadata is the shape of the Transaction.Metadata jsonb blob.
type TransactionMetadata struct {
	Items         []TicketLineItem `json:"items"`
	CustomerEmail string           `json:"customer_email,omitempty"`
	CustomerName  string           `json:"customer_name,omitempty"`
}
