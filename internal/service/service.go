package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"minimart/backend/internal/cache"
	"minimart/backend/internal/domain"
	"minimart/backend/internal/store"
)

var ErrForbidden = errors.New("forbidden")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Config carries the business knobs that vary per deployment.
type Config struct {
	ReturnWindowDays        int
	NonReturnableCategories []string
	PointsRate              decimal.Decimal
	MemberDiscountTTL       time.Duration
}

type Service struct {
	repo      store.Repository
	discounts cache.MemberDiscountCache
	logger    zerolog.Logger
	cfg       Config

	now func() time.Time
}

func New(repo store.Repository, discounts cache.MemberDiscountCache, logger zerolog.Logger, cfg Config) *Service {
	if discounts == nil {
		discounts = cache.NoopMemberDiscountCache{}
	}
	if cfg.ReturnWindowDays <= 0 {
		cfg.ReturnWindowDays = 7
	}
	if cfg.PointsRate.Sign() <= 0 {
		cfg.PointsRate = decimal.NewFromInt(1)
	}
	if cfg.MemberDiscountTTL <= 0 {
		cfg.MemberDiscountTTL = 5 * time.Minute
	}

	return &Service{
		repo:      repo,
		discounts: discounts,
		logger:    logger,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	return nil
}

func (s *Service) nonReturnable(category string) bool {
	for _, c := range s.cfg.NonReturnableCategories {
		if c == category {
			return true
		}
	}
	return false
}
