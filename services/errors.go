package services

import "errors"

var (
	// ErrGatewayUnavailable covers network failures and processor 5xx
	// responses; callers may retry.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrGatewayDeclined covers processor 4xx responses; not retryable.
	ErrGatewayDeclined = errors.New("payment gateway declined request")
	// ErrInvalidSignature rejects a webhook whose signature does not match
	// its body. No side effects may occur after this error.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrUnauthorized means the requesting principal does not own the order.
	ErrUnauthorized = errors.New("not authorized for this order")
	// ErrReferenceNotFound means neither the local ledger nor the gateway
	// knows the reference.
	ErrReferenceNotFound = errors.New("payment reference not found")
	// ErrInsufficientInventory marks a line item skipped during issuance.
	ErrInsufficientInventory = errors.New("insufficient ticket inventory")
	// ErrTicketUnavailable means the ticket type is inactive or outside its
	// sale window at checkout time.
	ErrTicketUnavailable = errors.New("ticket not available for sale")
)
