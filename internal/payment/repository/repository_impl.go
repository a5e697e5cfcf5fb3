package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/expertly/internal/payment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	if payment == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Create(payment).Error
}

func (r *repo) InsertDetails(ctx context.Context, db *gorm.DB, details []domain.PaymentDetail) error {
	if len(details) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&details).Error
}

func (r *repo) InsertMetadata(ctx context.Context, db *gorm.DB, metadata *domain.PaymentMetadata) error {
	if metadata == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Create(metadata).Error
}

func (r *repo) InsertCancellationDetail(ctx context.Context, db *gorm.DB, detail *domain.PaymentCancellationDetail) error {
	if detail == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Create(detail).Error
}

func (r *repo) InsertManipulationDetail(ctx context.Context, db *gorm.DB, detail *domain.PaymentManipulationDetail) error {
	if detail == nil {
		return gorm.ErrInvalidData
	}
	return db.WithContext(ctx).Create(detail).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*domain.Payment, error) {
	stmt := db.WithContext(ctx).Model(&domain.Payment{}).Where("id = ?", id)
	if forUpdate {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var payment domain.Payment
	if err := stmt.Take(&payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, err
	}
	return &payment, nil
}

func (r *repo) FindSuccessfulByReference(ctx context.Context, db *gorm.DB, paymentType domain.PaymentType, referenceID snowflake.ID) (*domain.Payment, error) {
	var payment domain.Payment
	err := db.WithContext(ctx).
		Where("payment_type = ? AND reference_id = ? AND status IN ?", paymentType, referenceID, domain.SuccessfulStatuses).
		Order("payment_date DESC").
		Take(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repo) FindSuccessfulByOrderID(ctx context.Context, db *gorm.DB, orderID string) (*domain.Payment, error) {
	var payment domain.Payment
	err := db.WithContext(ctx).
		Where("order_id = ? AND status IN ?", orderID, domain.SuccessfulStatuses).
		Take(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repo) ListMetadata(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) ([]domain.PaymentMetadata, error) {
	var items []domain.PaymentMetadata
	err := db.WithContext(ctx).Raw(
		`SELECT id, payment_id, type, payload, created_at
		 FROM payment_metadata WHERE payment_id = ? ORDER BY id ASC`,
		paymentID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListCancellationDetails(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) ([]domain.PaymentCancellationDetail, error) {
	var items []domain.PaymentCancellationDetail
	err := db.WithContext(ctx).Raw(
		`SELECT id, payment_id, amount, remaining_after, reason, is_full, transaction_key, canceled_at
		 FROM payment_cancellation_details WHERE payment_id = ? ORDER BY canceled_at ASC, id ASC`,
		paymentID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindManipulationDetail(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) (*domain.PaymentManipulationDetail, error) {
	var item domain.PaymentManipulationDetail
	err := db.WithContext(ctx).Raw(
		`SELECT id, payment_id, order_id, expected_amount, requested_amount, ip_address, user_agent, detected_at
		 FROM payment_manipulation_details WHERE payment_id = ?`,
		paymentID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) UpdateCancellation(ctx context.Context, db *gorm.DB, payment *domain.Payment, expectedVersion int64) (bool, error) {
	if payment == nil {
		return false, gorm.ErrInvalidData
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET canceled_amount = ?, status = ?, version = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		payment.CanceledAmount,
		payment.Status,
		payment.Version,
		payment.UpdatedAt,
		payment.ID,
		expectedVersion,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
