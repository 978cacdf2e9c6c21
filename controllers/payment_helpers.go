package controllers

import (
	"errors"
	"net/http"

	"github.com/Simoh8/eventpng-payments/middleware"
	"github.com/Simoh8/eventpng-payments/models"
	"github.com/Simoh8/eventpng-payments/repository"
	"github.com/Simoh8/eventpng-payments/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// principal builds the caller identity from what the auth middleware stored.
// Writes the error response itself when the context is unusable.
func (pc *PaymentController) principal(c *gin.Context) (services.Principal, bool) {
	userID, err := uuid.Parse(middleware.GetUserID(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return services.Principal{}, false
	}
	return services.Principal{
		UserID: userID,
		Email:  middleware.GetUserEmail(c),
	}, true
}

// respondServiceError maps service-layer errors onto HTTP statuses. Anything
// unrecognized is a 500 with the detail kept in the logs.
func (pc *PaymentController) respondServiceError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, services.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "You do not own this order"})
	case errors.Is(err, services.ErrReferenceNotFound), errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, services.ErrTicketUnavailable):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Ticket is not available for sale"})
	case errors.Is(err, services.ErrInsufficientInventory):
		c.JSON(http.StatusConflict, gin.H{"error": "Not enough tickets remaining"})
	case errors.Is(err, services.ErrGatewayUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "Payment provider unavailable, try again"})
	default:
		pc.Logger.Error(msg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}

func ticketViews(purchases []models.TicketPurchase) []gin.H {
	views := make([]gin.H, 0, len(purchases))
	for _, p := range purchases {
		views = append(views, gin.H{
			"id":                p.ID,
			"event_ticket_id":   p.EventTicketID,
			"status":            p.Status,
			"verification_code": p.VerificationCode,
		})
	}
	return views
}
