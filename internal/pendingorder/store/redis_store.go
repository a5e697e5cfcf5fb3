package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/expertly/internal/pendingorder/domain"
)

const keyPrefix = "payment:pending:"

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) domain.Store {
	return &RedisStore{client: client}
}

func key(orderID string) string {
	return keyPrefix + orderID
}

// Put writes the order with its ttl in one SET so a crash cannot leave a
// key without expiry.
func (s *RedisStore) Put(ctx context.Context, order domain.PendingOrder, ttl time.Duration) error {
	order.OrderID = strings.TrimSpace(order.OrderID)
	if order.OrderID == "" || order.PaymentType == "" || ttl <= 0 {
		return domain.ErrInvalidOrder
	}
	payload, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode pending order: %w", err)
	}
	return s.client.Set(ctx, key(order.OrderID), payload, ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, orderID string) (*domain.PendingOrder, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, domain.ErrNotFound
	}
	payload, err := s.client.Get(ctx, key(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var order domain.PendingOrder
	if err := json.Unmarshal(payload, &order); err != nil {
		return nil, fmt.Errorf("decode pending order %s: %w", orderID, err)
	}
	return &order, nil
}

func (s *RedisStore) Delete(ctx context.Context, orderID string) error {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil
	}
	return s.client.Del(ctx, key(orderID)).Err()
}
