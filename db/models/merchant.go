package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Merchant : Merchant Model
// Merchant rows are owned by the merchant API; this service only reads them.
type Merchant struct {
	ID                 string       `json:"id" bun:",pk"`
	Email              string       `json:"email" bun:",notnull,unique"`
	BusinessName       string       `json:"business_name" bun:",notnull"`
	APIKeyHash         string       `json:"-" bun:",notnull"`
	WebhookURL         string       `json:"webhook_url,omitempty" bun:",nullzero"`
	AutoConvertEnabled bool         `json:"auto_convert_enabled" bun:",notnull,default:false"`
	PayoutAddress      string       `json:"payout_address,omitempty" bun:",nullzero"`
	CreatedAt          time.Time    `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt          bun.NullTime `json:"updated_at"`
}

func (m *Merchant) HasWebhook() bool {
	return m.WebhookURL != ""
}
