package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/expertly/internal/payment/domain"
	"gorm.io/gorm"
)

type Repository interface {
	// ListEligiblePayments returns PAID and PARTIALLY_CANCELED payments made
	// in [start, end) that no rebate references yet.
	ListEligiblePayments(ctx context.Context, db *gorm.DB, start, end time.Time) ([]paymentdomain.Payment, error)
	// InsertIgnoreExisting skips rows whose payment already has a rebate and
	// returns the number of rows written.
	InsertIgnoreExisting(ctx context.Context, db *gorm.DB, rebates []Rebate) (int64, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID, forUpdate bool) (*Rebate, error)
	ListByPeriod(ctx context.Context, db *gorm.DB, periodLabel string) ([]Rebate, error)
	ListByPeriodAndStatus(ctx context.Context, db *gorm.DB, periodLabel string, status Status, afterID snowflake.ID, limit int) ([]Rebate, error)
	ListByExpertAndPeriod(ctx context.Context, db *gorm.DB, expertID snowflake.ID, periodLabel string) ([]Rebate, error)
	// Transition reports false when the row is no longer in from.
	Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to Status, reason *string, at time.Time) (bool, error)
}
