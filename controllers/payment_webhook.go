package controllers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/Simoh8/eventpng-payments/middleware"
	"github.com/Simoh8/eventpng-payments/services"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v80"
	"go.uber.org/zap"
)

// PaystackWebhook is the asynchronous settlement trigger. A bad signature is
// the only non-200 outcome; every internal failure after the signature check
// is logged and acknowledged so Paystack does not retry-storm us.
func (pc *PaymentController) PaystackWebhook(c *gin.Context) {
	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	outcome, err := pc.Recon.HandleWebhook(c.Request.Context(), rawBody, c.GetHeader("X-Paystack-Signature"))
	if err != nil {
		if err == services.ErrInvalidSignature {
			pc.Logger.Warn("Paystack webhook signature verification failed")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
		pc.Logger.Error("Paystack webhook processing failed",
			zap.String("reference", outcome.Reference),
			zap.Error(err),
		)
		middleware.RecordSettlement("webhook", "error")
		c.JSON(http.StatusOK, gin.H{"status": "received"})
		return
	}

	if outcome.NewlySettled {
		middleware.RecordSettlement("webhook", "settled")
		middleware.RecordTicketsIssued(outcome.TicketsIssued)
	} else if outcome.Event == "charge.success" {
		middleware.RecordSettlement("webhook", "duplicate")
	}

	c.JSON(http.StatusOK, gin.H{"status": "received"})
}

// StripeWebhook handles the secondary processor's push notifications.
func (pc *PaymentController) StripeWebhook(c *gin.Context) {
	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	event, err := pc.Stripe.ParseWebhook(rawBody, c.GetHeader("Stripe-Signature"))
	if err != nil {
		pc.Logger.Warn("Stripe webhook signature verification failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook"})
		return
	}

	switch event.Type {
	case "payment_intent.succeeded":
		pc.handleStripeIntent(c, event, true)
	case "payment_intent.payment_failed":
		pc.handleStripeIntent(c, event, false)
	default:
		pc.Logger.Info("Unhandled Stripe event type", zap.String("event_type", string(event.Type)))
	}

	c.JSON(http.StatusOK, gin.H{"status": "received"})
}

func (pc *PaymentController) handleStripeIntent(c *gin.Context, event stripe.Event, succeeded bool) {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		pc.Logger.Error("Failed to unmarshal payment intent", zap.Error(err))
		return
	}
	reference := pi.Metadata["reference"]
	if reference == "" {
		pc.Logger.Warn("Stripe payment intent carries no reference", zap.String("intent_id", pi.ID))
		return
	}

	ctx := c.Request.Context()
	if !succeeded {
		if err := pc.Recon.FailCharge(ctx, reference, pi.Amount, string(pi.Currency), event.Data.Raw); err != nil {
			pc.Logger.Error("Failed to record failed charge", zap.Error(err))
		}
		return
	}

	newlySettled, issued, err := pc.Recon.SettleConfirmed(ctx, reference, pi.Amount, string(pi.Currency), pi.ReceiptEmail, event.Data.Raw)
	if err != nil {
		pc.Logger.Error("Stripe settlement failed",
			zap.String("reference", reference),
			zap.Error(err),
		)
		middleware.RecordSettlement("webhook", "error")
		return
	}
	if newlySettled {
		middleware.RecordSettlement("webhook", "settled")
		middleware.RecordTicketsIssued(issued)
	} else {
		middleware.RecordSettlement("webhook", "duplicate")
	}
}
