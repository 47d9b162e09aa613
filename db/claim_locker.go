package db

import (
	"context"
	"time"

	"github.com/Abidoyesimze/StackPay/db/models"
	"github.com/Abidoyesimze/StackPay/lib/service"
	"github.com/uptrace/bun"
)

// ClaimLocker claims invoices through the claimed_by/claimed_until columns
// of the invoice row itself. Expiry is judged by the database clock so
// workers with skewed clocks agree on who holds a claim.
type ClaimLocker struct {
	db    *bun.DB
	owner string
}

func NewClaimLocker(db *bun.DB, owner string) *ClaimLocker {
	return &ClaimLocker{db: db, owner: owner}
}

func (l *ClaimLocker) TryAcquire(ctx context.Context, invoiceID string, ttl time.Duration) (bool, error) {
	res, err := l.db.NewUpdate().
		Model((*models.Invoice)(nil)).
		Set("claimed_by = ?", l.owner).
		Set("claimed_until = now() + ? * interval '1 millisecond'", ttl.Milliseconds()).
		Where("id = ?", invoiceID).
		WhereGroup(" AND ", func(q *bun.UpdateQuery) *bun.UpdateQuery {
			return q.Where("claimed_until IS NULL").WhereOr("claimed_until < now()")
		}).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

var _ service.Locker = (*ClaimLocker)(nil)
