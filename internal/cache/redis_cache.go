package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"minimart/backend/internal/domain"
)

type RedisMemberDiscountCache struct {
	client *redis.Client
}

func NewRedisMemberDiscountCache(addr string, password string, db int) *RedisMemberDiscountCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisMemberDiscountCache{client: client}
}

func (c *RedisMemberDiscountCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisMemberDiscountCache) Close() error {
	return c.client.Close()
}

func key(memberID string) string {
	return "member:discount:" + memberID
}

func (c *RedisMemberDiscountCache) Get(ctx context.Context, memberID string) (*domain.MemberDiscount, bool, error) {
	val, err := c.client.Get(ctx, key(memberID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var discount domain.MemberDiscount
	if err := json.Unmarshal([]byte(val), &discount); err != nil {
		return nil, false, err
	}
	return &discount, true, nil
}

func (c *RedisMemberDiscountCache) Set(ctx context.Context, memberID string, value *domain.MemberDiscount, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key(memberID), payload, ttl).Err()
}

func (c *RedisMemberDiscountCache) Invalidate(ctx context.Context, memberID string) error {
	return c.client.Del(ctx, key(memberID)).Err()
}
