package migrations

import (
	"context"

	"github.com/Abidoyesimze/StackPay/db/models"
	"github.com/uptrace/bun"
)

/* This init reflects the latest model fields when run on a fresh db,
so later migrations that add or drop columns must use IfNotExists/IfExists.
*/
func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		if _, err := db.NewCreateTable().Model((*models.Merchant)(nil)).IfNotExists().Exec(ctx); err != nil {
			return err
		}
		if _, err := db.NewCreateTable().
			Model((*models.Invoice)(nil)).
			IfNotExists().
			ForeignKey(`("merchant_id") REFERENCES "merchants" ("id") ON DELETE CASCADE`).
			Exec(ctx); err != nil {
			return err
		}
		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		if _, err := db.NewDropTable().Model((*models.Invoice)(nil)).IfExists().Exec(ctx); err != nil {
			return err
		}
		_, err := db.NewDropTable().Model((*models.Merchant)(nil)).IfExists().Exec(ctx)
		return err
	})
}
