package webhook

import (
	"time"

	"github.com/Abidoyesimze/StackPay/db/models"
)

// Payload is the JSON body posted to merchant endpoints.
type Payload struct {
	Event         string    `json:"event"`
	InvoiceID     string    `json:"invoice_id"`
	AmountBTC     float64   `json:"amount_btc"`
	AmountUSD     float64   `json:"amount_usd"`
	TxHash        string    `json:"tx_hash,omitempty"`
	Confirmations int64     `json:"confirmations,omitempty"`
	ConversionTx  string    `json:"conversion_tx,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewPayload(event string, invoice *models.Invoice, at time.Time) Payload {
	return Payload{
		Event:     event,
		InvoiceID: invoice.ID,
		AmountBTC: invoice.AmountBTC().InexactFloat64(),
		AmountUSD: invoice.AmountUSD().InexactFloat64(),
		TxHash:    invoice.TxHash,
		Timestamp: at.UTC(),
	}
}
