package models

import (
	"context"
	"time"

	"github.com/Abidoyesimze/StackPay/common"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Invoice : Invoice Model
type Invoice struct {
	ID             string                 `json:"id" bun:",pk"`
	MerchantID     string                 `json:"merchant_id" bun:",notnull"`
	Merchant       *Merchant              `json:"-" bun:"rel:belongs-to,join:merchant_id=id"`
	PaymentAddress string                 `json:"payment_address" bun:",notnull"`
	AmountBase     int64                  `json:"amount_base" bun:",notnull"`
	AmountQuote    int64                  `json:"amount_quote" bun:",notnull"`
	Currency       string                 `json:"currency" bun:",notnull"`
	Description    string                 `json:"description,omitempty" bun:",nullzero"`
	Metadata       map[string]interface{} `json:"metadata,omitempty" bun:"type:jsonb"`
	Status         string                 `json:"status" bun:",notnull,default:'pending'"`
	TxHash         string                 `json:"tx_hash,omitempty" bun:",nullzero,unique"`
	Confirmations  int64                  `json:"confirmations" bun:",notnull,default:0"`
	ClaimedBy      string                 `json:"-" bun:",nullzero"`
	ClaimedUntil   bun.NullTime           `json:"-"`
	ExpiresAt      time.Time              `json:"expires_at" bun:",notnull"`
	ConfirmedAt    bun.NullTime           `json:"confirmed_at"`
	CreatedAt      time.Time              `json:"created_at" bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt      bun.NullTime           `json:"updated_at"`
}

func (i *Invoice) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	switch query.(type) {
	case *bun.UpdateQuery:
		i.UpdatedAt = bun.NullTime{Time: time.Now()}
	}
	return nil
}

// AmountBTC is the base amount in whole bitcoin.
func (i *Invoice) AmountBTC() decimal.Decimal {
	return decimal.New(i.AmountBase, 0).Div(decimal.New(common.SatsPerBTC, 0))
}

// AmountUSD is the quote amount in whole dollars.
func (i *Invoice) AmountUSD() decimal.Decimal {
	return decimal.New(i.AmountQuote, -2)
}

func (i *Invoice) IsExpired(now time.Time) bool {
	return !i.ExpiresAt.After(now)
}

var _ bun.BeforeAppendModelHook = (*Invoice)(nil)
