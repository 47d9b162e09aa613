package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Abidoyesimze/StackPay/chain"
	"github.com/Abidoyesimze/StackPay/common"
	"github.com/Abidoyesimze/StackPay/db/models"
	"github.com/Abidoyesimze/StackPay/lib/webhook"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

var errBoom = errors.New("boom")

type fakeInvoiceStore struct {
	mu       sync.Mutex
	invoices map[string]*models.Invoice
	now      func() time.Time

	listErrs        []error
	setStatusErr    error
	confirmationLog []int64
	listCalls       int
	expireCalls     int
}

func newFakeInvoiceStore(now func() time.Time) *fakeInvoiceStore {
	return &fakeInvoiceStore{invoices: map[string]*models.Invoice{}, now: now}
}

func (s *fakeInvoiceStore) put(invoice models.Invoice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invoices[invoice.ID] = &invoice
}

func (s *fakeInvoiceStore) get(id string) models.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.invoices[id]
}

func (s *fakeInvoiceStore) Create(ctx context.Context, params CreateInvoiceParams) (*models.Invoice, error) {
	invoice := models.Invoice{
		ID:             params.ID,
		MerchantID:     params.MerchantID,
		PaymentAddress: params.PaymentAddress,
		AmountBase:     params.AmountBase,
		AmountQuote:    params.AmountQuote,
		Currency:       params.Currency,
		Description:    params.Description,
		Metadata:       params.Metadata,
		Status:         common.InvoiceStatusPending,
		ExpiresAt:      s.now().Add(params.ExpiresIn),
	}
	s.put(invoice)
	return &invoice, nil
}

func (s *fakeInvoiceStore) FindByID(ctx context.Context, id string) (*models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	invoice, ok := s.invoices[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *invoice
	return &copied, nil
}

func (s *fakeInvoiceStore) ListNonTerminal(ctx context.Context) ([]models.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if len(s.listErrs) > 0 {
		err := s.listErrs[0]
		s.listErrs = s.listErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	result := []models.Invoice{}
	for _, invoice := range s.invoices {
		open := invoice.Status == common.InvoiceStatusPending || invoice.Status == common.InvoiceStatusConfirming
		if open && invoice.ExpiresAt.After(s.now()) {
			result = append(result, *invoice)
		}
	}
	return result, nil
}

func (s *fakeInvoiceStore) SetStatus(ctx context.Context, id, status, txRef string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setStatusErr != nil {
		return false, s.setStatusErr
	}
	invoice, ok := s.invoices[id]
	if !ok {
		return false, ErrNotFound
	}
	if !common.CanTransition(invoice.Status, status) {
		return false, nil
	}
	invoice.Status = status
	if invoice.TxHash == "" {
		invoice.TxHash = txRef
	}
	if status == common.InvoiceStatusConfirmed && invoice.ConfirmedAt.IsZero() {
		invoice.ConfirmedAt = bun.NullTime{Time: s.now()}
	}
	return true, nil
}

func (s *fakeInvoiceStore) SetConfirmations(ctx context.Context, id string, count int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmationLog = append(s.confirmationLog, count)
	s.invoices[id].Confirmations = count
	return nil
}

func (s *fakeInvoiceStore) ExpireStale(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireCalls++
	n := 0
	for _, invoice := range s.invoices {
		if invoice.Status == common.InvoiceStatusPending && invoice.ExpiresAt.Before(s.now()) {
			invoice.Status = common.InvoiceStatusExpired
			n++
		}
	}
	return n, nil
}

type fakeMerchants map[string]*models.Merchant

func (m fakeMerchants) FindByID(ctx context.Context, id string) (*models.Merchant, error) {
	merchant, ok := m[id]
	if !ok {
		return nil, ErrNotFound
	}
	return merchant, nil
}

type releaseCall struct {
	invoiceID   string
	destination string
	amount      int64
}

type fakeChain struct {
	mu         sync.Mutex
	payments   map[string]chain.IncomingPayment
	depths     map[string]chain.TxStatus
	findErrs   map[string]error
	releaseTx  string
	releaseErr error
	releases   []releaseCall
	finds      int
	addresses  int
	// when set, GetConfirmationDepth calls it before answering
	depthHook func()
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		payments: map[string]chain.IncomingPayment{},
		depths:   map[string]chain.TxStatus{},
		findErrs: map[string]error{},
	}
}

func (c *fakeChain) FindIncomingPayment(ctx context.Context, address string, expectedAmount int64) (chain.IncomingPayment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finds++
	if err := c.findErrs[address]; err != nil {
		return chain.IncomingPayment{}, err
	}
	payment := c.payments[address]
	if payment.Found && payment.Amount != expectedAmount {
		return chain.IncomingPayment{}, nil
	}
	return payment, nil
}

func (c *fakeChain) GetConfirmationDepth(ctx context.Context, txRef string) (chain.TxStatus, error) {
	if c.depthHook != nil {
		c.depthHook()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.depths[txRef], nil
}

func (c *fakeChain) ReleaseFunds(ctx context.Context, invoiceID, destination string, amount int64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releases = append(c.releases, releaseCall{invoiceID: invoiceID, destination: destination, amount: amount})
	if c.releaseErr != nil {
		return "", &chain.BroadcastError{InvoiceID: invoiceID, Err: c.releaseErr}
	}
	return c.releaseTx, nil
}

func (c *fakeChain) NewAddress(ctx context.Context, invoiceID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addresses++
	return "bcrt1q-" + invoiceID, nil
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *fakeLocker) TryAcquire(ctx context.Context, invoiceID string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.held[invoiceID], nil
}

type notification struct {
	merchantID string
	payload    webhook.Payload
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *fakeNotifier) Notify(ctx context.Context, merchantID string, payload webhook.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{merchantID: merchantID, payload: payload})
	return nil
}

func (n *fakeNotifier) events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	events := []string{}
	for _, s := range n.sent {
		events = append(events, s.payload.Event)
	}
	return events
}

// recordingDispatcher keeps the outcome of every Notify call.
type recordingDispatcher struct {
	*webhook.MemoryDispatcher
	mu      sync.Mutex
	events  []string
	results []error
}

func (d *recordingDispatcher) Notify(ctx context.Context, merchantID string, payload webhook.Payload) error {
	err := d.MemoryDispatcher.Notify(ctx, merchantID, payload)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, payload.Event)
	d.results = append(d.results, err)
	return err
}

type nopDeliverer struct{}

func (nopDeliverer) Deliver(ctx context.Context, url string, payload webhook.Payload) error {
	return nil
}

type fakeQuoter struct {
	rate decimal.Decimal
	err  error
}

func (q fakeQuoter) BTCUSD(ctx context.Context) (decimal.Decimal, error) {
	return q.rate, q.err
}
