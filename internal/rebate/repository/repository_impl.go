package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/expertly/internal/payment/domain"
	"github.com/smallbiznis/expertly/internal/rebate/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var eligibleStatuses = []paymentdomain.Status{
	paymentdomain.StatusPaid,
	paymentdomain.StatusPartiallyCanceled,
}

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) ListEligiblePayments(ctx context.Context, db *gorm.DB, start, end time.Time) ([]paymentdomain.Payment, error) {
	var items []paymentdomain.Payment
	err := db.WithContext(ctx).
		Where("status IN ?", eligibleStatuses).
		Where("payment_date >= ? AND payment_date < ?", start.UTC(), end.UTC()).
		Where("NOT EXISTS (SELECT 1 FROM rebates r WHERE r.payment_id = payments.id)").
		Order("payment_date ASC, id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) InsertIgnoreExisting(ctx context.Context, db *gorm.DB, rebates []domain.Rebate) (int64, error) {
	if len(rebates) == 0 {
		return 0, nil
	}
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "payment_id"}},
			DoNothing: true,
		}).
		Create(&rebates)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*domain.Rebate, error) {
	stmt := db.WithContext(ctx).Model(&domain.Rebate{}).Where("id = ?", id)
	if forUpdate {
		stmt = stmt.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var item domain.Rebate
	if err := stmt.Take(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (r *repo) ListByPeriod(ctx context.Context, db *gorm.DB, periodLabel string) ([]domain.Rebate, error) {
	var items []domain.Rebate
	err := db.WithContext(ctx).
		Where("period_label = ?", periodLabel).
		Order("id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListByPeriodAndStatus(ctx context.Context, db *gorm.DB, periodLabel string, status domain.Status, afterID snowflake.ID, limit int) ([]domain.Rebate, error) {
	stmt := db.WithContext(ctx).
		Where("period_label = ? AND status = ? AND id > ?", periodLabel, status, afterID).
		Order("id ASC")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	var items []domain.Rebate
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListByExpertAndPeriod(ctx context.Context, db *gorm.DB, expertID snowflake.ID, periodLabel string) ([]domain.Rebate, error) {
	var items []domain.Rebate
	err := db.WithContext(ctx).
		Where("expert_id = ? AND period_label = ?", expertID, periodLabel).
		Order("created_at ASC, id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to domain.Status, reason *string, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE rebates
		 SET status = ?, failure_reason = ?, processed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		to, reason, at, at, id, from,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
