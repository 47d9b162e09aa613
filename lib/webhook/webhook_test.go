package webhook

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"

	"github.com/Abidoyesimze/StackPay/common"
	"github.com/Abidoyesimze/StackPay/db/models"
	"github.com/labstack/gommon/log"
	"github.com/ziflex/lecho/v3"
)

// syncBuffer lets the dispatcher goroutines and the test share log output.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger(out *syncBuffer) *lecho.Logger {
	return lecho.New(out, lecho.WithLevel(log.DEBUG))
}

type merchantMap map[string]*models.Merchant

func (m merchantMap) FindByID(ctx context.Context, id string) (*models.Merchant, error) {
	merchant, ok := m[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return merchant, nil
}

// scriptedDeliverer fails the first failures calls.
type scriptedDeliverer struct {
	failures int32
	calls    int32
	urls     chan string
}

func (d *scriptedDeliverer) Deliver(ctx context.Context, url string, payload Payload) error {
	n := atomic.AddInt32(&d.calls, 1)
	if d.urls != nil {
		d.urls <- url
	}
	if n <= atomic.LoadInt32(&d.failures) {
		return &DeliveryError{StatusCode: 500}
	}
	return nil
}

func testPayload() Payload {
	return Payload{Event: common.EventPaymentConfirmed, InvoiceID: "inv-1", AmountBTC: 0.001, AmountUSD: 50}
}
