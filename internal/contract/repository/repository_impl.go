package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/expertly/internal/contract/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, contract *domain.Contract) error {
	return db.WithContext(ctx).Create(contract).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Contract, error) {
	var contract domain.Contract
	err := db.WithContext(ctx).Raw(
		`SELECT id, client_id, expert_id, title, price, start_date, end_date, status, created_at, updated_at
		 FROM contracts WHERE id = ?`,
		id,
	).Scan(&contract).Error
	if err != nil {
		return nil, err
	}
	if contract.ID == 0 {
		return nil, domain.ErrNotFound
	}
	return &contract, nil
}

// UpdateStatus moves the contract from one status to another and reports
// whether the row was in the expected state.
func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to domain.Status, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE contracts SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		to,
		at,
		id,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
