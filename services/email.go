package services

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/Simoh8/eventpng-payments/models"
)

// EmailSender is the collaborator contract for ticket emails. Issuance treats
// sends as fire-and-forget: a failed send is logged, never rolled back into
// the settlement.
type EmailSender interface {
	SendTicketEmail(ctx context.Context, purchase *models.TicketPurchase, recipient string, isCancellation bool, refundMinor *int64) error
}

type SMTPSender struct {
	host     string
	port     string
	username string
	password string
	from     string
}

func NewSMTPSender(host, port, username, password, from string) (*SMTPSender, error) {
	if host == "" || port == "" {
		return nil, fmt.Errorf("smtp host and port are required")
	}
	if from == "" {
		from = username
	}
	return &SMTPSender{host: host, port: port, username: username, password: password, from: from}, nil
}

func (s *SMTPSender) SendTicketEmail(ctx context.Context, purchase *models.TicketPurchase, recipient string, isCancellation bool, refundMinor *int64) error {
	if recipient == "" {
		return fmt.Errorf("no recipient for ticket %s", purchase.ID)
	}

	subject := "Your EventPNG ticket"
	body := fmt.Sprintf("<p>Your ticket is confirmed.</p><p>Verification code: <b>%s</b></p>", purchase.VerificationCode)
	if isCancellation {
		subject = "Your EventPNG ticket has been cancelled"
		body = "<p>Your ticket has been cancelled.</p>"
		if refundMinor != nil {
			body += fmt.Sprintf("<p>A refund of %d %s (minor units) is on its way.</p>", *refundMinor, purchase.Currency)
		}
	}

	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	auth := smtp.PlainAuth("", s.username, s.password, s.host)
	msg := []byte(
		"From: " + s.from + "\r\n" +
			"To: " + recipient + "\r\n" +
			"Subject: " + subject + "\r\n" +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/html; charset=UTF-8\r\n" +
			"\r\n" +
			body,
	)

	if err := smtp.SendMail(addr, auth, s.from, []string{recipient}, msg); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}
	return nil
}
