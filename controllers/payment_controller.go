package controllers

import (
	"context"
	"net/http"

	"github.com/Simoh8/eventpng-payments/middleware"
	"github.com/Simoh8/eventpng-payments/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReconcilerAPI is what the HTTP layer needs from the reconciliation core.
type ReconcilerAPI interface {
	CreateTicketPayment(ctx context.Context, principal services.Principal, eventID, ticketTypeID uuid.UUID, quantity int) (services.CreatePaymentOutcome, error)
	HandleVerifyPoll(ctx context.Context, reference string, principal services.Principal) (services.VerifyOutcome, error)
	HandleWebhook(ctx context.Context, rawBody []byte, signatureHeader string) (services.WebhookOutcome, error)
	SettleConfirmed(ctx context.Context, reference string, amountMinor int64, currency, customerEmail string, rawPayload []byte) (bool, int, error)
	FailCharge(ctx context.Context, reference string, amountMinor int64, currency string, rawPayload []byte) error
	CancelTicket(ctx context.Context, principal services.Principal, purchaseID uuid.UUID, refundMinor *int64) (bool, error)
}

type PaymentController struct {
	Recon  ReconcilerAPI
	Stripe *services.StripeGateway
	Logger *zap.Logger
}

// CreateTicketPayment opens a Paystack checkout for a quantity of one ticket
// type and returns the hosted payment page URL.
func (pc *PaymentController) CreateTicketPayment(c *gin.Context) {
	var req struct {
		EventID      uuid.UUID `json:"event_id" binding:"required"`
		TicketTypeID uuid.UUID `json:"ticket_type_id" binding:"required"`
		Quantity     int       `json:"quantity" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	principal, ok := pc.principal(c)
	if !ok {
		return
	}

	outcome, err := pc.Recon.CreateTicketPayment(c.Request.Context(), principal, req.EventID, req.TicketTypeID, req.Quantity)
	if err != nil {
		pc.respondServiceError(c, err, "Failed to create ticket payment")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"payment_url": outcome.PaymentURL,
		"reference":   outcome.Reference,
		"order_id":    outcome.OrderID,
	})
}

// VerifyPayment is the client-driven poll. It settles the reference when the
// processor confirms it and the webhook has not arrived yet; a still-pending
// charge is reported with 202 so the client retries.
func (pc *PaymentController) VerifyPayment(c *gin.Context) {
	reference := c.Param("reference")
	principal, ok := pc.principal(c)
	if !ok {
		return
	}

	outcome, err := pc.Recon.HandleVerifyPoll(c.Request.Context(), reference, principal)
	if err != nil {
		middleware.RecordSettlement("verify_poll", "error")
		pc.respondServiceError(c, err, "Failed to verify payment")
		return
	}

	if outcome.Status == services.VerifyStatusPending {
		c.JSON(http.StatusAccepted, gin.H{"status": "pending", "reference": reference})
		return
	}

	if outcome.NewlySettled {
		middleware.RecordSettlement("verify_poll", "settled")
		middleware.RecordTicketsIssued(len(outcome.Purchases))
	} else {
		middleware.RecordSettlement("verify_poll", "duplicate")
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         "success",
		"order_id":       outcome.Order.ID,
		"transaction_id": outcome.Transaction.ID,
		"data": gin.H{
			"amount":   outcome.Transaction.AmountMinor,
			"currency": outcome.Transaction.Currency,
			"paid_at":  outcome.Order.PaidAt,
			"tickets":  ticketViews(outcome.Purchases),
		},
	})
}

// CancelTicket cancels (or refunds) one confirmed ticket purchase.
func (pc *PaymentController) CancelTicket(c *gin.Context) {
	purchaseID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ticket id"})
		return
	}

	var req struct {
		RefundAmount *int64 `json:"refund_amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	principal, ok := pc.principal(c)
	if !ok {
		return
	}

	cancelled, err := pc.Recon.CancelTicket(c.Request.Context(), principal, purchaseID, req.RefundAmount)
	if err != nil {
		pc.respondServiceError(c, err, "Failed to cancel ticket")
		return
	}
	if !cancelled {
		c.JSON(http.StatusConflict, gin.H{"error": "ticket is not cancellable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}
