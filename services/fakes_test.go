package services

import (
	"context"
	"sync"
	"time"

	"github.com/Simoh8/eventpng-payments/models"
	"github.com/Simoh8/eventpng-payments/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// The fakes below serialize WithTx on a mutex, mirroring the row-lock
// discipline of the real Postgres repositories: two concurrent settle or
// issuance attempts for the same rows execute one after the other.

type orderStore struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*models.Order
	txns   map[string]*models.Transaction // keyed by reference

	// missNextLockedRead makes the next locked transaction lookup come back
	// empty, the way a READ COMMITTED snapshot misses a row another
	// transaction has inserted but not yet committed.
	missNextLockedRead bool
}

type fakeOrderRepo struct {
	s    *orderStore
	inTx bool
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{s: &orderStore{
		orders: make(map[uuid.UUID]*models.Order),
		txns:   make(map[string]*models.Transaction),
	}}
}

func (f *fakeOrderRepo) lock() func() {
	if f.inTx {
		return func() {}
	}
	f.s.mu.Lock()
	return f.s.mu.Unlock
}

func (f *fakeOrderRepo) WithTx(ctx context.Context, fn func(tx repository.OrderRepository) error) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	return fn(&fakeOrderRepo{s: f.s, inTx: true})
}

func (f *fakeOrderRepo) CreateOrder(ctx context.Context, order *models.Order) error {
	defer f.lock()()
	for _, o := range f.s.orders {
		if o.Reference == order.Reference {
			return gorm.ErrDuplicatedKey
		}
	}
	cp := *order
	f.s.orders[order.ID] = &cp
	return nil
}

func (f *fakeOrderRepo) GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	defer f.lock()()
	o, ok := f.s.orders[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrderRepo) GetOrderByReference(ctx context.Context, reference string) (*models.Order, error) {
	defer f.lock()()
	for _, o := range f.s.orders {
		if o.Reference == reference {
			cp := *o
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeOrderRepo) MarkOrderPaid(ctx context.Context, orderID uuid.UUID, paidAt time.Time) error {
	defer f.lock()()
	o, ok := f.s.orders[orderID]
	if !ok {
		return repository.ErrNotFound
	}
	if o.Status == models.OrderStatusPending {
		o.Status = models.OrderStatusPaid
		t := paidAt
		o.PaidAt = &t
	}
	return nil
}

func (f *fakeOrderRepo) MarkOrderFailed(ctx context.Context, orderID uuid.UUID) error {
	defer f.lock()()
	o, ok := f.s.orders[orderID]
	if !ok {
		return repository.ErrNotFound
	}
	if o.Status == models.OrderStatusPending {
		o.Status = models.OrderStatusFailed
	}
	return nil
}

func (f *fakeOrderRepo) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	defer f.lock()()
	if _, exists := f.s.txns[txn.Reference]; exists {
		return gorm.ErrDuplicatedKey
	}
	cp := *txn
	f.s.txns[txn.Reference] = &cp
	return nil
}

func (f *fakeOrderRepo) GetTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	defer f.lock()()
	t, ok := f.s.txns[reference]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeOrderRepo) GetTransactionByReferenceForUpdate(ctx context.Context, reference string) (*models.Transaction, error) {
	if f.s.missNextLockedRead {
		f.s.missNextLockedRead = false
		return nil, repository.ErrNotFound
	}
	return f.GetTransactionByReference(ctx, reference)
}

func (f *fakeOrderRepo) MarkTransactionSucceeded(ctx context.Context, id uuid.UUID, externalID *string, rawPayload string) (bool, error) {
	defer f.lock()()
	for _, t := range f.s.txns {
		if t.ID == id {
			if t.Status != models.TransactionStatusPending {
				return false, nil
			}
			t.Status = models.TransactionStatusSucceeded
			t.ExternalID = externalID
			t.RawPayload = &rawPayload
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeOrderRepo) MarkTransactionFailed(ctx context.Context, id uuid.UUID, rawPayload string) (bool, error) {
	defer f.lock()()
	for _, t := range f.s.txns {
		if t.ID == id {
			if t.Status != models.TransactionStatusPending {
				return false, nil
			}
			t.Status = models.TransactionStatusFailed
			t.RawPayload = &rawPayload
			return true, nil
		}
	}
	return false, nil
}

type ticketStore struct {
	mu        sync.Mutex
	tickets   map[uuid.UUID]*models.EventTicket
	purchases map[uuid.UUID]*models.TicketPurchase

	// missNextPurchaseRead makes the next purchase lookup come back empty,
	// modeling a concurrent issuance committing between the unlocked guard
	// and the locked re-check.
	missNextPurchaseRead bool
}

type fakeTicketRepo struct {
	s    *ticketStore
	inTx bool
}

func newFakeTicketRepo() *fakeTicketRepo {
	return &fakeTicketRepo{s: &ticketStore{
		tickets:   make(map[uuid.UUID]*models.EventTicket),
		purchases: make(map[uuid.UUID]*models.TicketPurchase),
	}}
}

func (f *fakeTicketRepo) lock() func() {
	if f.inTx {
		return func() {}
	}
	f.s.mu.Lock()
	return f.s.mu.Unlock
}

func (f *fakeTicketRepo) WithTx(ctx context.Context, fn func(tx repository.TicketRepository) error) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	return fn(&fakeTicketRepo{s: f.s, inTx: true})
}

func (f *fakeTicketRepo) addTicket(et *models.EventTicket) {
	cp := *et
	if et.RemainingQuantity != nil {
		n := *et.RemainingQuantity
		cp.RemainingQuantity = &n
	}
	f.s.tickets[et.ID] = &cp
}

func (f *fakeTicketRepo) remaining(id uuid.UUID) *int {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	return f.s.tickets[id].RemainingQuantity
}

func (f *fakeTicketRepo) GetEventTicket(ctx context.Context, id uuid.UUID) (*models.EventTicket, error) {
	defer f.lock()()
	et, ok := f.s.tickets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *et
	return &cp, nil
}

func (f *fakeTicketRepo) GetEventTicketForUpdate(ctx context.Context, id uuid.UUID) (*models.EventTicket, error) {
	return f.GetEventTicket(ctx, id)
}

func (f *fakeTicketRepo) DecrementInventory(ctx context.Context, id uuid.UUID, qty int) (bool, error) {
	defer f.lock()()
	et, ok := f.s.tickets[id]
	if !ok {
		return false, nil
	}
	if et.RemainingQuantity == nil {
		return true, nil
	}
	if *et.RemainingQuantity < qty {
		return false, nil
	}
	*et.RemainingQuantity -= qty
	return true, nil
}

func (f *fakeTicketRepo) RestoreInventory(ctx context.Context, id uuid.UUID, qty int) error {
	defer f.lock()()
	et, ok := f.s.tickets[id]
	if !ok {
		return repository.ErrNotFound
	}
	if et.RemainingQuantity != nil {
		*et.RemainingQuantity += qty
	}
	return nil
}

func (f *fakeTicketRepo) CreatePurchase(ctx context.Context, purchase *models.TicketPurchase) error {
	defer f.lock()()
	cp := *purchase
	f.s.purchases[purchase.ID] = &cp
	return nil
}

func (f *fakeTicketRepo) GetPurchaseByID(ctx context.Context, id uuid.UUID) (*models.TicketPurchase, error) {
	defer f.lock()()
	p, ok := f.s.purchases[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeTicketRepo) GetPurchaseByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.TicketPurchase, error) {
	return f.GetPurchaseByID(ctx, id)
}

func (f *fakeTicketRepo) GetPurchasesByTransactionID(ctx context.Context, transactionID uuid.UUID) ([]models.TicketPurchase, error) {
	defer f.lock()()
	if f.s.missNextPurchaseRead {
		f.s.missNextPurchaseRead = false
		return nil, nil
	}
	var out []models.TicketPurchase
	for _, p := range f.s.purchases {
		if p.TransactionID == transactionID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeTicketRepo) GetPurchasesByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.TicketPurchase, error) {
	defer f.lock()()
	var out []models.TicketPurchase
	for _, p := range f.s.purchases {
		if p.OrderID == orderID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeTicketRepo) UpdatePurchaseStatus(ctx context.Context, id uuid.UUID, from, to models.TicketPurchaseStatus, refundMinor *int64) (bool, error) {
	defer f.lock()()
	p, ok := f.s.purchases[id]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	if refundMinor != nil {
		v := *refundMinor
		p.RefundAmountMinor = &v
	}
	return true, nil
}

func (f *fakeTicketRepo) MarkEmailSent(ctx context.Context, id uuid.UUID, sentAt time.Time) error {
	defer f.lock()()
	if p, ok := f.s.purchases[id]; ok {
		p.EmailSent = true
		t := sentAt
		p.EmailSentAt = &t
	}
	return nil
}

type fakeGateway struct {
	mu          sync.Mutex
	verifyOut   VerifyResult
	verifyErr   error
	verifyCalls int
	initOut     InitializeResult
	initErr     error
	validSig    string
}

func (g *fakeGateway) Initialize(ctx context.Context, email string, amountMinor int64, currency, reference, callbackURL string, metadata map[string]interface{}) (InitializeResult, error) {
	if g.initErr != nil {
		return InitializeResult{}, g.initErr
	}
	out := g.initOut
	if out.Reference == "" {
		out.Reference = reference
	}
	return out, nil
}

func (g *fakeGateway) Verify(ctx context.Context, reference string) (VerifyResult, error) {
	g.mu.Lock()
	g.verifyCalls++
	g.mu.Unlock()
	if g.verifyErr != nil {
		return VerifyResult{}, g.verifyErr
	}
	return g.verifyOut, nil
}

func (g *fakeGateway) ValidateSignature(rawBody []byte, signatureHeader string) bool {
	return signatureHeader == g.validSig
}

type fakeEmailSender struct {
	mu   sync.Mutex
	sent []string // verification codes
	fail bool
}

func (f *fakeEmailSender) SendTicketEmail(ctx context.Context, purchase *models.TicketPurchase, recipient string, isCancellation bool, refundMinor *int64) error {
	if f.fail {
		return context.DeadlineExceeded
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, purchase.VerificationCode)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []models.PaymentEvent
}

func (f *fakePublisher) SendPaymentEvent(event models.PaymentEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakePublisher) byType(t string) []models.PaymentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.PaymentEvent
	for _, e := range f.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
