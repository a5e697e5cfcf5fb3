package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/expertly/internal/member/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Insert stores the member, issuing a gateway customer key when none is set.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, member *domain.Member) error {
	if strings.TrimSpace(member.CustomerKey) == "" {
		member.CustomerKey = uuid.NewString()
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO members (id, name, email, role, customer_key, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		member.ID,
		member.Name,
		member.Email,
		member.Role,
		member.CustomerKey,
		member.CreatedAt,
		member.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Member, error) {
	var member domain.Member
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, email, role, customer_key, created_at, updated_at
		 FROM members WHERE id = ?`,
		id,
	).Scan(&member).Error
	if err != nil {
		return nil, err
	}
	if member.ID == 0 {
		return nil, domain.ErrNotFound
	}
	return &member, nil
}
