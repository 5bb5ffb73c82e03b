package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"minimart/backend/internal/domain"
	"minimart/backend/internal/store"
	"minimart/backend/internal/xid"
)

// ResolveDiscount returns the rate bundle for a member, consulting the
// cache first. A member whose tier has no matching rule shops at full
// price and earns no points.
func (s *Service) ResolveDiscount(ctx context.Context, memberID string) (domain.MemberDiscount, error) {
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return domain.MemberDiscount{}, fmt.Errorf("%w: member id is required", store.ErrInvalidInput)
	}

	if cached, ok, err := s.discounts.Get(ctx, memberID); err == nil && ok {
		return *cached, nil
	} else if err != nil {
		s.logger.Warn().Err(err).Str("member_id", memberID).Msg("discount cache read failed")
	}

	member, err := s.repo.GetMember(ctx, memberID)
	if err != nil {
		return domain.MemberDiscount{}, err
	}
	if member.Status != domain.MemberStatusActive {
		return domain.MemberDiscount{}, fmt.Errorf("%w: member %s", store.ErrMemberDisabled, memberID)
	}

	discount := domain.MemberDiscount{
		MemberID:     memberID,
		TierCode:     member.TierCode,
		DiscountRate: decimal.NewFromInt(1),
		PointsRate:   decimal.Zero,
	}
	rules, err := s.repo.ListTierRules(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Str("member_id", memberID).Msg("tier rules unavailable, selling at full price")
	} else {
		for _, rule := range rules {
			if rule.TierCode == member.TierCode {
				discount.DiscountRate = rule.DiscountRate
				discount.PointsRate = rule.PointsRate
				break
			}
		}
	}

	if err := s.discounts.Set(ctx, memberID, &discount, s.cfg.MemberDiscountTTL); err != nil {
		s.logger.Warn().Err(err).Str("member_id", memberID).Msg("discount cache write failed")
	}
	return discount, nil
}

func (s *Service) GetMember(ctx context.Context, id string) (domain.Member, error) {
	member, err := s.repo.GetMember(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Member{}, err
	}
	return *member, nil
}

func (s *Service) GetMemberByCardNo(ctx context.Context, cardNo string) (domain.Member, error) {
	cardNo = strings.TrimSpace(cardNo)
	if cardNo == "" {
		return domain.Member{}, fmt.Errorf("%w: card number is required", store.ErrInvalidInput)
	}
	member, err := s.repo.GetMemberByCardNo(ctx, cardNo)
	if err != nil {
		return domain.Member{}, err
	}
	return *member, nil
}

func (s *Service) CreateMember(ctx context.Context, cardNo, name, phone string) (domain.Member, error) {
	cardNo = strings.TrimSpace(cardNo)
	name = strings.TrimSpace(name)
	if cardNo == "" || name == "" {
		return domain.Member{}, fmt.Errorf("%w: card number and name are required", store.ErrInvalidInput)
	}

	member := domain.Member{
		ID:           xid.New("mb"),
		CardNo:       cardNo,
		Name:         name,
		Phone:        strings.TrimSpace(phone),
		TierCode:     domain.TierNormal,
		TotalConsume: decimal.Zero,
		Status:       domain.MemberStatusActive,
		CreatedAt:    s.now(),
	}
	created, err := s.repo.CreateMember(ctx, member)
	if err != nil {
		return domain.Member{}, err
	}
	s.logger.Info().Str("member_id", created.ID).Str("card_no", created.CardNo).Msg("member created")
	return *created, nil
}

func (s *Service) ListTierRules(ctx context.Context) ([]domain.TierRule, error) {
	return s.repo.ListTierRules(ctx)
}

func (s *Service) UpdateTierRule(ctx context.Context, req domain.TierRuleUpdateRequest) (domain.TierRule, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.TierRule{}, err
	}
	if req.TierCode == "" {
		return domain.TierRule{}, fmt.Errorf("%w: tier code is required", store.ErrInvalidInput)
	}
	if req.DiscountRate.Sign() <= 0 || req.DiscountRate.Cmp(decimal.NewFromInt(1)) > 0 {
		return domain.TierRule{}, fmt.Errorf("%w: discount rate must be in (0, 1]", store.ErrInvalidInput)
	}
	if req.MinConsume.Sign() < 0 || req.MinPoints < 0 || req.PointsRate.Sign() < 0 {
		return domain.TierRule{}, fmt.Errorf("%w: thresholds must not be negative", store.ErrInvalidInput)
	}

	updated, err := s.repo.UpdateTierRule(ctx, domain.TierRule{
		TierCode:     req.TierCode,
		MinConsume:   req.MinConsume,
		MinPoints:    req.MinPoints,
		DiscountRate: req.DiscountRate,
		PointsRate:   req.PointsRate,
	})
	if err != nil {
		return domain.TierRule{}, err
	}
	// Cached discounts for members of this tier go stale until their TTL
	// expires; the cache is keyed per member so a blanket purge is not
	// available here.
	s.logger.Info().Str("tier", updated.TierCode).Msg("tier rule updated")
	return *updated, nil
}

// reevaluateTier is called after any operation that moves a member's
// lifetime totals. Failures are logged, never surfaced: the sale or
// return has already committed.
func (s *Service) reevaluateTier(ctx context.Context, memberID string) domain.TierChange {
	if memberID == "" {
		return domain.TierChange{}
	}
	change, err := s.repo.EvaluateMemberTier(ctx, memberID)
	if err != nil {
		s.logger.Warn().Err(err).Str("member_id", memberID).Msg("tier evaluation failed")
		return domain.TierChange{}
	}
	if change.Changed {
		if err := s.discounts.Invalidate(ctx, memberID); err != nil {
			s.logger.Warn().Err(err).Str("member_id", memberID).Msg("discount cache invalidation failed")
		}
		s.logger.Info().Str("member_id", memberID).Str("old_tier", change.OldTier).Str("new_tier", change.NewTier).Msg("member tier changed")
	}
	return *change
}
