package routes

import (
	"github.com/Simoh8/eventpng-payments/controllers"
	"github.com/Simoh8/eventpng-payments/middleware"

	"github.com/gin-gonic/gin"
)

func RegisterPaymentRoutes(r *gin.Engine, pc *controllers.PaymentController, jwtSecret string) {
	payments := r.Group("/payments")
	payments.Use(middleware.AuthMiddleware(jwtSecret))
	payments.POST("/tickets/paystack/create-payment/", pc.CreateTicketPayment)
	payments.GET("/paystack/verify/:reference", pc.VerifyPayment)
	payments.POST("/tickets/:id/cancel", pc.CancelTicket)

	// Processor webhooks authenticate with signatures, not bearer tokens.
	r.POST("/payments/paystack/webhook/", pc.PaystackWebhook)
	r.POST("/payments/stripe/webhook", pc.StripeWebhook)
}
