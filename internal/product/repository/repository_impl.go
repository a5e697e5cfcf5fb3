package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/expertly/internal/product/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, product *domain.Product) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO products (id, seller_id, name, price, stock, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		product.ID,
		product.SellerID,
		product.Name,
		product.Price,
		product.Stock,
		product.Active,
		product.CreatedAt,
		product.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Product, error) {
	var p domain.Product
	err := db.WithContext(ctx).Raw(
		`SELECT id, seller_id, name, price, stock, active, created_at, updated_at
		 FROM products WHERE id = ?`,
		id,
	).Scan(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == 0 {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

// DecreaseStock reserves quantity units. The guard on stock keeps two
// concurrent buyers from overselling the last unit.
func (r *repo) DecreaseStock(ctx context.Context, db *gorm.DB, id snowflake.ID, quantity int64, at time.Time) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE products SET stock = stock - ?, updated_at = ?
		 WHERE id = ? AND stock >= ?`,
		quantity,
		at,
		id,
		quantity,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrInsufficientStock
	}
	return nil
}

func (r *repo) IncreaseStock(ctx context.Context, db *gorm.DB, id snowflake.ID, quantity int64, at time.Time) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE products SET stock = stock + ?, updated_at = ? WHERE id = ?`,
		quantity,
		at,
		id,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *repo) CreateOrder(ctx context.Context, db *gorm.DB, order *domain.Order, items []domain.OrderItem) error {
	if order == nil {
		return gorm.ErrInvalidData
	}
	if err := db.WithContext(ctx).Create(order).Error; err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&items).Error
}

func (r *repo) FindOrderItems(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]domain.OrderItem, error) {
	var items []domain.OrderItem
	err := db.WithContext(ctx).Raw(
		`SELECT id, order_id, product_id, quantity, unit_price, created_at
		 FROM order_items WHERE order_id = ? ORDER BY id ASC`,
		orderID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) MarkOrderCanceled(ctx context.Context, db *gorm.DB, orderID snowflake.ID, at time.Time) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`,
		domain.OrderStatusCanceled,
		at,
		orderID,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}
