package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Role string

const (
	RoleClient Role = "CLIENT"
	RoleExpert Role = "EXPERT"
	RoleAdmin  Role = "ADMIN"
)

// Member is the marketplace identity owned by the account subsystem. Payments
// only read the display name and the gateway customer key.
type Member struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Name        string       `json:"name" gorm:"type:varchar(100);not null"`
	Email       string       `json:"email" gorm:"type:varchar(255);not null;uniqueIndex:ux_members_email"`
	Role        Role         `json:"role" gorm:"type:varchar(20);not null"`
	CustomerKey string       `json:"customer_key" gorm:"type:varchar(64);not null;uniqueIndex:ux_members_customer_key"`
	CreatedAt   time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time    `json:"updated_at" gorm:"not null"`
}

func (Member) TableName() string { return "members" }
