package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Simoh8/eventpng-payments/models"
	"github.com/Simoh8/eventpng-payments/repository"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

const qrImageSize = 256

// IssueResult reports what a settlement produced. Skipped carries one entry
// per line item that could not be honored; partial issuance is a reported
// outcome, not a failure.
type IssueResult struct {
	Purchases []models.TicketPurchase
	Skipped   []SkippedLineItem
}

type SkippedLineItem struct {
	Item   models.TicketLineItem
	Reason error
}

// TicketIssuer materializes TicketPurchase rows for a settled transaction:
// one row per admitted person, each with its own verification code and QR
// artifact. Inventory decrement and purchase insert share one atomic unit.
type TicketIssuer struct {
	tickets repository.TicketRepository
	orders  repository.OrderRepository
	email   EmailSender
	logger  *zap.Logger
}

func NewTicketIssuer(tickets repository.TicketRepository, orders repository.OrderRepository, email EmailSender, logger *zap.Logger) *TicketIssuer {
	return &TicketIssuer{tickets: tickets, orders: orders, email: email, logger: logger}
}

// IssueFor creates the purchases for (order, transaction). The caller must
// have observed NewlySettled; even so, a second invocation for the same
// transaction finds the existing purchases and returns them unchanged.
func (i *TicketIssuer) IssueFor(ctx context.Context, order *models.Order, txn *models.Transaction) (IssueResult, error) {
	if txn.Status != models.TransactionStatusSucceeded {
		return IssueResult{}, fmt.Errorf("transaction %s is not succeeded", txn.ID)
	}

	existing, err := i.tickets.GetPurchasesByTransactionID(ctx, txn.ID)
	if err != nil {
		return IssueResult{}, err
	}
	if len(existing) > 0 {
		i.logger.Info("Tickets already issued for transaction, skipping",
			zap.String("transaction_id", txn.ID.String()),
			zap.Int("count", len(existing)),
		)
		return IssueResult{Purchases: existing}, nil
	}

	items, err := lineItems(txn)
	if err != nil {
		return IssueResult{}, err
	}
	if len(items) == 0 {
		i.logger.Warn("Settled transaction carries no ticket line items",
			zap.String("transaction_id", txn.ID.String()),
		)
		return IssueResult{}, nil
	}

	var (
		result        IssueResult
		alreadyIssued bool
	)
	err = i.tickets.WithTx(ctx, func(tx repository.TicketRepository) error {
		// Re-check inside the transaction: a concurrent retry may have won
		// the issuance between the guard above and the lock here.
		existing, err := tx.GetPurchasesByTransactionID(ctx, txn.ID)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			result = IssueResult{Purchases: existing}
			alreadyIssued = true
			return nil
		}

		for _, item := range items {
			ticketTypeID, err := uuid.Parse(item.EventTicketID)
			if err != nil {
				result.Skipped = append(result.Skipped, SkippedLineItem{Item: item, Reason: fmt.Errorf("bad ticket id: %w", err)})
				continue
			}

			et, err := tx.GetEventTicketForUpdate(ctx, ticketTypeID)
			if err != nil {
				result.Skipped = append(result.Skipped, SkippedLineItem{Item: item, Reason: err})
				continue
			}

			ok, err := tx.DecrementInventory(ctx, et.ID, item.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				i.logger.Warn("Insufficient inventory for line item, skipping",
					zap.String("event_ticket_id", et.ID.String()),
					zap.Int("requested", item.Quantity),
				)
				result.Skipped = append(result.Skipped, SkippedLineItem{Item: item, Reason: ErrInsufficientInventory})
				continue
			}

			for unit := 0; unit < item.Quantity; unit++ {
				purchase, err := i.newPurchase(order, txn, et, item)
				if err != nil {
					return err
				}
				if err := tx.CreatePurchase(ctx, purchase); err != nil {
					return err
				}
				result.Purchases = append(result.Purchases, *purchase)
			}
		}
		return nil
	})
	if err != nil {
		return IssueResult{}, err
	}

	// Emails are best-effort and happen after the commit so a send failure
	// can never unwind an issued ticket. Purchases found by the re-check
	// were emailed by whoever created them.
	if !alreadyIssued {
		for idx := range result.Purchases {
			i.deliverEmail(ctx, order, &result.Purchases[idx], false, nil)
		}
	}

	return result, nil
}

// Cancel moves a confirmed purchase to cancelled (or refunded when a refund
// amount is given), restoring its inventory unit in the same atomic unit.
// Returns false when the purchase is not cancellable.
func (i *TicketIssuer) Cancel(ctx context.Context, purchaseID uuid.UUID, refundMinor *int64) (bool, error) {
	var (
		cancelled bool
		purchase  *models.TicketPurchase
	)

	err := i.tickets.WithTx(ctx, func(tx repository.TicketRepository) error {
		p, err := tx.GetPurchaseByIDForUpdate(ctx, purchaseID)
		if err != nil {
			return err
		}
		purchase = p

		if p.Status != models.TicketPurchaseStatusConfirmed {
			return nil
		}

		to := models.TicketPurchaseStatusCancelled
		if refundMinor != nil {
			to = models.TicketPurchaseStatusRefunded
		}
		changed, err := tx.UpdatePurchaseStatus(ctx, p.ID, models.TicketPurchaseStatusConfirmed, to, refundMinor)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		if err := tx.RestoreInventory(ctx, p.EventTicketID, 1); err != nil {
			return err
		}
		p.Status = to
		cancelled = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if cancelled {
		i.deliverEmail(ctx, nil, purchase, true, refundMinor)
	}
	return cancelled, nil
}

func (i *TicketIssuer) newPurchase(order *models.Order, txn *models.Transaction, et *models.EventTicket, item models.TicketLineItem) (*models.TicketPurchase, error) {
	code, err := newVerificationCode()
	if err != nil {
		return nil, err
	}
	png, err := qrcode.Encode("ticket:"+code, qrcode.Medium, qrImageSize)
	if err != nil {
		return nil, err
	}

	return &models.TicketPurchase{
		ID:               uuid.New(),
		UserID:           order.UserID,
		EventTicketID:    et.ID,
		OrderID:          order.ID,
		TransactionID:    txn.ID,
		Status:           models.TicketPurchaseStatusConfirmed,
		VerificationCode: code,
		QRCode:           png,
		PriceMinor:       item.UnitPriceMinor,
		Currency:         et.Currency,
	}, nil
}

func (i *TicketIssuer) deliverEmail(ctx context.Context, order *models.Order, purchase *models.TicketPurchase, isCancellation bool, refundMinor *int64) {
	if i.email == nil {
		return
	}
	recipient := ""
	if order != nil {
		recipient = order.BillingEmail
	} else if owner, err := i.orders.GetOrderByID(ctx, purchase.OrderID); err == nil {
		recipient = owner.BillingEmail
	}
	if err := i.email.SendTicketEmail(ctx, purchase, recipient, isCancellation, refundMinor); err != nil {
		i.logger.Warn("Ticket email failed",
			zap.String("purchase_id", purchase.ID.String()),
			zap.Error(err),
		)
		return
	}
	if !isCancellation {
		if err := i.tickets.MarkEmailSent(ctx, purchase.ID, time.Now()); err != nil {
			i.logger.Warn("Failed to record email sent flag", zap.Error(err))
		}
	}
}

func lineItems(txn *models.Transaction) ([]models.TicketLineItem, error) {
	if txn.Metadata == nil || *txn.Metadata == "" {
		return nil, nil
	}
	var meta models.TransactionMetadata
	if err := json.Unmarshal([]byte(*txn.Metadata), &meta); err != nil {
		return nil, fmt.Errorf("decode transaction metadata: %w", err)
	}
	return meta.Items, nil
}

// newVerificationCode returns 128 bits of hex-encoded randomness. Codes are
// unguessable and immutable for the life of the purchase.
func newVerificationCode() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
