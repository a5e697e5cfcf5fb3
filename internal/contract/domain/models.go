package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPendingPayment Status = "PENDING_PAYMENT"
	StatusInProgress     Status = "IN_PROGRESS"
	StatusCompleted      Status = "COMPLETED"
	StatusCanceled       Status = "CANCELED"
)

// Contract binds a client and an expert on a fixed price project.
type Contract struct {
	ID        snowflake.ID    `json:"id" gorm:"primaryKey;autoIncrement:false"`
	ClientID  snowflake.ID    `json:"client_id" gorm:"not null;index"`
	ExpertID  snowflake.ID    `json:"expert_id" gorm:"not null;index"`
	Title     string          `json:"title" gorm:"type:varchar(200);not null"`
	Price     decimal.Decimal `json:"price" gorm:"type:numeric(18,2);not null"`
	StartDate time.Time       `json:"start_date" gorm:"not null"`
	EndDate   time.Time       `json:"end_date" gorm:"not null"`
	Status    Status          `json:"status" gorm:"type:varchar(20);not null"`
	CreatedAt time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time       `json:"updated_at" gorm:"not null"`
}

func (Contract) TableName() string { return "contracts" }
