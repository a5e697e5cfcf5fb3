package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) error
	InsertDetails(ctx context.Context, db *gorm.DB, details []PaymentDetail) error
	InsertMetadata(ctx context.Context, db *gorm.DB, metadata *PaymentMetadata) error
	InsertCancellationDetail(ctx context.Context, db *gorm.DB, detail *PaymentCancellationDetail) error
	InsertManipulationDetail(ctx context.Context, db *gorm.DB, detail *PaymentManipulationDetail) error

	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*Payment, error)
	FindSuccessfulByReference(ctx context.Context, db *gorm.DB, paymentType PaymentType, referenceID snowflake.ID) (*Payment, error)
	FindSuccessfulByOrderID(ctx context.Context, db *gorm.DB, orderID string) (*Payment, error)
	ListMetadata(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) ([]PaymentMetadata, error)
	ListCancellationDetails(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) ([]PaymentCancellationDetail, error)
	FindManipulationDetail(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) (*PaymentManipulationDetail, error)

	// UpdateCancellation writes canceled_amount, status and version when the
	// stored version still equals expectedVersion.
	UpdateCancellation(ctx context.Context, db *gorm.DB, payment *Payment, expectedVersion int64) (bool, error)
}
