package cache

import (
	"context"
	"time"

	"minimart/backend/internal/domain"
)

// MemberDiscountCache holds resolved member discount bundles so the
// register does not hit the database on every scan. Entries are
// invalidated whenever a member's tier changes.
type MemberDiscountCache interface {
	Get(ctx context.Context, memberID string) (*domain.MemberDiscount, bool, error)
	Set(ctx context.Context, memberID string, value *domain.MemberDiscount, ttl time.Duration) error
	Invalidate(ctx context.Context, memberID string) error
}

type NoopMemberDiscountCache struct{}

func (NoopMemberDiscountCache) Get(_ context.Context, _ string) (*domain.MemberDiscount, bool, error) {
	return nil, false, nil
}

func (NoopMemberDiscountCache) Set(_ context.Context, _ string, _ *domain.MemberDiscount, _ time.Duration) error {
	return nil
}

func (NoopMemberDiscountCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
