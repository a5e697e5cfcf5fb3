package migration

import (
	"fmt"

	contractdomain "github.com/smallbiznis/expertly/internal/contract/domain"
	memberdomain "github.com/smallbiznis/expertly/internal/member/domain"
	paymentdomain "github.com/smallbiznis/expertly/internal/payment/domain"
	productdomain "github.com/smallbiznis/expertly/internal/product/domain"
	rebatedomain "github.com/smallbiznis/expertly/internal/rebate/domain"
	"gorm.io/gorm"
)

// Models lists every table owned or read by the payment core.
func Models() []any {
	return []any{
		&memberdomain.Member{},
		&contractdomain.Contract{},
		&productdomain.Product{},
		&productdomain.Order{},
		&productdomain.OrderItem{},
		&paymentdomain.Payment{},
		&paymentdomain.PaymentDetail{},
		&paymentdomain.PaymentMetadata{},
		&paymentdomain.PaymentCancellationDetail{},
		&paymentdomain.PaymentManipulationDetail{},
		&rebatedomain.Rebate{},
	}
}

const successfulReferenceIndex = `CREATE UNIQUE INDEX IF NOT EXISTS ux_payments_type_reference
	ON payments (payment_type, reference_id)
	WHERE status <> 'FAILED' AND status <> 'AMOUNT_MANIPULATED'`

// AutoMigrate builds the schema from the models for sqlite and mysql.
// MySQL has no partial indexes, so there the (type, reference) guard is
// left to the successful-payment check in the handlers.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	switch db.Dialector.Name() {
	case "sqlite", "postgres":
		if err := db.Exec(successfulReferenceIndex).Error; err != nil {
			return fmt.Errorf("create payments reference index: %w", err)
		}
	}
	return nil
}
