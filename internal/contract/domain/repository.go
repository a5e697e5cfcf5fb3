package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("contract_not_found")

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, contract *Contract) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Contract, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to Status, at time.Time) (bool, error)
}
