// internal/service/economy/application/redemption.go
package application

import (
	"context"
	"crypto/rand"
	"math/big"
	"net/mail"
	"strings"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"jeutaime/internal/pkg/logger"
	"jeutaime/internal/pkg/metrics"
	"jeutaime/internal/service/economy/domain"
)

const (
	referralCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	referralCodeLength   = 6
	maxCodeAttempts      = 5
)

// RewardConfig 是兑换码的默认奖励
type RewardConfig struct {
	PromoDefault int64
	Referral     int64
}

// RedemptionService 负责促销码和推荐码：先认领一次性码，再在同一个事务里发放奖励
type RedemptionService struct {
	tx      domain.TxManager
	codes   domain.CodeRepository
	admins  domain.AdminRepository
	ledger  *LedgerService
	rewards RewardConfig
	tracer  trace.Tracer
	now     clock
	genCode func() (string, error)
}

func NewRedemptionService(
	tx domain.TxManager,
	codes domain.CodeRepository,
	admins domain.AdminRepository,
	ledger *LedgerService,
	rewards RewardConfig,
	tracer trace.Tracer,
) *RedemptionService {
	return &RedemptionService{
		tx:      tx,
		codes:   codes,
		admins:  admins,
		ledger:  ledger,
		rewards: rewards,
		tracer:  tracer,
		now:     utcNow,
		genCode: generateReferralCode,
	}
}

// RedeemPromo 兑换促销码，返回奖励金额。
// 并发兑换同一个码时只有一个调用成功，其余得到 ErrAlreadyUsed。
func (s *RedemptionService) RedeemPromo(ctx context.Context, uid, code string) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "RedemptionService.RedeemPromo")
	defer span.End()
	code = domain.NormalizeCode(code)
	span.SetAttributes(attribute.String("account.uid", uid), attribute.String("code", code))

	if uid == "" {
		return 0, domain.ErrUnauthenticated
	}
	if code == "" {
		return 0, errors.Wrap(domain.ErrInvalidArgument, "promo code is required")
	}

	var reward int64
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		c, err := s.claim(ctx, code, domain.CodeKindPromo, uid)
		if err != nil {
			return err
		}
		reward = c.Reward
		if reward <= 0 {
			reward = s.rewards.PromoDefault
		}
		_, _, err = s.ledger.credit(ctx, uid, reward, domain.PromoCreditKey(code))
		return err
	})
	s.record(span, string(domain.CodeKindPromo), err)
	if err != nil {
		return 0, err
	}

	logger.Ctx(ctx).Info().Str("uid", uid).Str("code", code).Int64("reward", reward).Msg("promo code redeemed")
	return reward, nil
}

// CreateReferral 为推荐人生成一个新的推荐码，码冲突时重新生成
func (s *RedemptionService) CreateReferral(ctx context.Context, referrerUID, referredEmail string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "RedemptionService.CreateReferral")
	defer span.End()
	span.SetAttributes(attribute.String("account.uid", referrerUID))

	if referrerUID == "" {
		return "", domain.ErrUnauthenticated
	}
	referredEmail = strings.TrimSpace(referredEmail)
	if referredEmail == "" {
		return "", errors.Wrap(domain.ErrInvalidArgument, "referred email is required")
	}
	if _, err := mail.ParseAddress(referredEmail); err != nil {
		return "", errors.Wrapf(domain.ErrInvalidArgument, "invalid email %q", referredEmail)
	}

	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := s.genCode()
		if err != nil {
			return "", errors.Wrap(domain.ErrInternal, err.Error())
		}
		err = s.codes.Create(ctx, &domain.RedeemableCode{
			Code:          code,
			Kind:          domain.CodeKindReferral,
			OwnerUID:      referrerUID,
			ReferredEmail: referredEmail,
			Reward:        s.rewards.Referral,
			CreatedAt:     s.now(),
		})
		if errors.Is(err, domain.ErrDuplicateKey) {
			logger.Ctx(ctx).Warn().Str("code", code).Int("attempt", attempt).Msg("referral code collision, regenerating")
			continue
		}
		if err != nil {
			span.RecordError(err)
			return "", err
		}
		span.SetAttributes(attribute.String("code", code))
		logger.Ctx(ctx).Info().Str("uid", referrerUID).Str("code", code).Msg("referral code created")
		return code, nil
	}

	err := errors.Wrapf(domain.ErrInternal, "no free referral code after %d attempts", maxCodeAttempts)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return "", err
}

// RedeemReferral 兑换推荐码，被推荐人和推荐人在同一个事务里各得一份奖励
func (s *RedemptionService) RedeemReferral(ctx context.Context, uid, code string) error {
	ctx, span := s.tracer.Start(ctx, "RedemptionService.RedeemReferral")
	defer span.End()
	code = domain.NormalizeCode(code)
	span.SetAttributes(attribute.String("account.uid", uid), attribute.String("code", code))

	if uid == "" {
		return domain.ErrUnauthenticated
	}
	if code == "" {
		return errors.Wrap(domain.ErrInvalidArgument, "referral code is required")
	}

	var referrer string
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		c, err := s.claim(ctx, code, domain.CodeKindReferral, uid)
		if err != nil {
			return err
		}
		referrer = c.OwnerUID
		bonus := c.Reward
		if bonus <= 0 {
			bonus = s.rewards.Referral
		}
		referredKey, referrerKey := domain.ReferralCreditKeys(code)
		if _, _, err := s.ledger.credit(ctx, uid, bonus, referredKey); err != nil {
			return err
		}
		_, _, err = s.ledger.credit(ctx, c.OwnerUID, bonus, referrerKey)
		return err
	})
	s.record(span, string(domain.CodeKindReferral), err)
	if err != nil {
		return err
	}

	logger.Ctx(ctx).Info().Str("uid", uid).Str("referrer", referrer).Str("code", code).Msg("referral code redeemed")
	return nil
}

// IssuePromo 由管理员导入促销码，reward 为 0 时使用默认奖励
func (s *RedemptionService) IssuePromo(ctx context.Context, adminUID string, req *IssuePromoRequest) error {
	ctx, span := s.tracer.Start(ctx, "RedemptionService.IssuePromo")
	defer span.End()
	code := domain.NormalizeCode(req.Code)
	span.SetAttributes(attribute.String("account.uid", adminUID), attribute.String("code", code))

	if adminUID == "" {
		return domain.ErrUnauthenticated
	}
	isAdmin, err := s.admins.IsAdmin(ctx, adminUID)
	if err != nil {
		return err
	}
	if !isAdmin {
		return errors.Wrapf(domain.ErrPermissionDenied, "%s is not an admin", adminUID)
	}
	if code == "" {
		return errors.Wrap(domain.ErrInvalidArgument, "promo code is required")
	}
	reward := req.Reward
	switch {
	case reward < 0:
		return domain.ErrInvalidAmount
	case reward == 0:
		reward = s.rewards.PromoDefault
	}

	err = s.codes.Create(ctx, &domain.RedeemableCode{
		Code:      code,
		Kind:      domain.CodeKindPromo,
		Reward:    reward,
		CreatedAt: s.now(),
	})
	if err != nil {
		span.RecordError(err)
		return err
	}
	logger.Ctx(ctx).Info().Str("admin", adminUID).Str("code", code).Int64("reward", reward).Msg("promo code issued")
	return nil
}

// claim 在事务中锁定并认领一次性码。
// 顺序：不存在或类型不符 -> NotFound，已使用 -> AlreadyUsed，推荐码自兑 -> SelfReferral。
func (s *RedemptionService) claim(ctx context.Context, code string, kind domain.CodeKind, uid string) (*domain.RedeemableCode, error) {
	c, err := s.codes.FindByCodeForUpdate(ctx, code)
	if err != nil {
		return nil, err
	}
	if c.Kind != kind {
		return nil, errors.Wrapf(domain.ErrNotFound, "%s code %s", kind, code)
	}
	if c.Used {
		return nil, errors.Wrapf(domain.ErrAlreadyUsed, "code %s", code)
	}
	if kind == domain.CodeKindReferral && c.OwnerUID == uid {
		return nil, errors.Wrapf(domain.ErrSelfReferral, "code %s", code)
	}

	won, err := s.codes.MarkUsed(ctx, code, uid, s.now())
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, errors.Wrapf(domain.ErrAlreadyUsed, "code %s claimed concurrently", code)
	}
	return c, nil
}

func (s *RedemptionService) record(span trace.Span, kind string, err error) {
	result := metrics.ResultOK
	if err != nil {
		result = strings.ToLower(string(domain.KindOf(err)))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	metrics.RedemptionsTotal.WithLabelValues(kind, result).Inc()
}

// generateReferralCode 生成 6 位大写字母数字码
func generateReferralCode() (string, error) {
	limit := big.NewInt(int64(len(referralCodeAlphabet)))
	var sb strings.Builder
	sb.Grow(referralCodeLength)
	for i := 0; i < referralCodeLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", errors.Wrap(err, "read random")
		}
		sb.WriteByte(referralCodeAlphabet[n.Int64()])
	}
	return sb.String(), nil
}
