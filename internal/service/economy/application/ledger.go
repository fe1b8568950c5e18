// internal/service/economy/application/ledger.go
package application

import (
	"context"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"jeutaime/internal/pkg/logger"
	"jeutaime/internal/pkg/metrics"
	"jeutaime/internal/service/economy/domain"
	"jeutaime/internal/service/economy/domain/port"
)

// LedgerService 负责金币入账和购买的生命周期
type LedgerService struct {
	tx        domain.TxManager
	accounts  domain.AccountRepository
	credits   domain.CreditRecordRepository
	purchases domain.PurchaseRepository
	gateway   port.PaymentGateway
	tracer    trace.Tracer
	now       clock
	newID     func() string
}

func NewLedgerService(
	tx domain.TxManager,
	accounts domain.AccountRepository,
	credits domain.CreditRecordRepository,
	purchases domain.PurchaseRepository,
	gateway port.PaymentGateway,
	tracer trace.Tracer,
) *LedgerService {
	return &LedgerService{
		tx:        tx,
		accounts:  accounts,
		credits:   credits,
		purchases: purchases,
		gateway:   gateway,
		tracer:    tracer,
		now:       utcNow,
		newID:     newID,
	}
}

// Balance 返回账户当前余额
func (s *LedgerService) Balance(ctx context.Context, uid string) (int64, error) {
	if uid == "" {
		return 0, domain.ErrUnauthenticated
	}
	acc, err := s.accounts.FindByID(ctx, uid)
	if err != nil {
		return 0, err
	}
	return acc.Coins, nil
}

// Credit 给账户入账。同一个 (uid, idempotencyKey) 只会生效一次，重复调用返回首次入账后的余额。
// 在已有事务中调用时加入该事务。
func (s *LedgerService) Credit(ctx context.Context, uid string, amount int64, idempotencyKey string) (int64, error) {
	balance, _, err := s.credit(ctx, uid, amount, idempotencyKey)
	return balance, err
}

// credit 额外返回本次是否为重放
func (s *LedgerService) credit(ctx context.Context, uid string, amount int64, key string) (int64, bool, error) {
	ctx, span := s.tracer.Start(ctx, "LedgerService.Credit")
	defer span.End()
	span.SetAttributes(
		attribute.String("account.uid", uid),
		attribute.Int64("credit.amount", amount),
		attribute.String("credit.idempotency_key", key),
	)

	if amount <= 0 {
		metrics.CreditsTotal.WithLabelValues(metrics.ResultRejected).Inc()
		return 0, false, domain.ErrInvalidAmount
	}
	if uid == "" || key == "" {
		metrics.CreditsTotal.WithLabelValues(metrics.ResultRejected).Inc()
		return 0, false, errors.Wrap(domain.ErrInvalidArgument, "uid and idempotency key are required")
	}

	var (
		balance  int64
		replayed bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		balance, replayed, err = s.creditInTx(ctx, uid, amount, key)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.CreditsTotal.WithLabelValues(metrics.ResultFailed).Inc()
		return 0, false, err
	}

	if replayed {
		metrics.CreditsTotal.WithLabelValues(metrics.ResultReplayed).Inc()
		logger.Ctx(ctx).Debug().Str("uid", uid).Str("key", key).Msg("credit replayed")
	} else {
		metrics.CreditsTotal.WithLabelValues(metrics.ResultOK).Inc()
		metrics.CoinsCredited.Add(float64(amount))
		logger.Ctx(ctx).Info().Str("uid", uid).Str("key", key).Int64("amount", amount).Int64("balance", balance).Msg("credit applied")
	}
	span.SetAttributes(attribute.Bool("credit.replayed", replayed))
	return balance, replayed, nil
}

func (s *LedgerService) creditInTx(ctx context.Context, uid string, amount int64, key string) (int64, bool, error) {
	// 1. 幂等记录已存在则直接返回
	rec, err := s.credits.Find(ctx, uid, key)
	if err == nil {
		return replay(rec, amount)
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return 0, false, err
	}

	// 2. 先占住幂等记录，并发的重复请求会在唯一索引上失败，再读取赢家的结果
	err = s.credits.Create(ctx, &domain.CreditRecord{
		UID:            uid,
		IdempotencyKey: key,
		Amount:         amount,
		CreatedAt:      s.now(),
	})
	if errors.Is(err, domain.ErrDuplicateKey) {
		rec, err := s.credits.FindLatest(ctx, uid, key)
		if err != nil {
			return 0, false, err
		}
		return replay(rec, amount)
	}
	if err != nil {
		return 0, false, err
	}

	// 3. 原子自增并回填余额
	if err := s.accounts.IncrementCoins(ctx, uid, amount); err != nil {
		return 0, false, err
	}
	acc, err := s.accounts.FindByID(ctx, uid)
	if err != nil {
		return 0, false, err
	}
	if err := s.credits.SetBalanceAfter(ctx, uid, key, acc.Coins); err != nil {
		return 0, false, err
	}
	return acc.Coins, false, nil
}

func replay(rec *domain.CreditRecord, amount int64) (int64, bool, error) {
	if rec.Amount != amount {
		return 0, false, errors.Wrapf(domain.ErrConflict,
			"idempotency key %s already used with amount %d", rec.IdempotencyKey, rec.Amount)
	}
	return rec.BalanceAfter, true, nil
}

// OpenPurchase 向支付网关申请会话并记录一笔待支付的购买
func (s *LedgerService) OpenPurchase(ctx context.Context, uid string, req *OpenPurchaseRequest) (*OpenPurchaseResult, error) {
	ctx, span := s.tracer.Start(ctx, "LedgerService.OpenPurchase")
	defer span.End()
	span.SetAttributes(
		attribute.String("account.uid", uid),
		attribute.String("purchase.kind", req.Kind),
		attribute.Int64("purchase.amount", req.Amount),
	)

	if uid == "" {
		return nil, domain.ErrUnauthenticated
	}
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	kind, err := domain.ParsePurchaseKind(req.Kind)
	if err != nil {
		return nil, err
	}

	token, err := s.gateway.OpenSession(ctx, req.Amount, kind)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, errors.Wrap(domain.ErrInternal, err.Error())
	}

	purchase, err := domain.NewPurchase(s.newID(), uid, kind, req.Amount, token, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.purchases.Create(ctx, purchase); err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "persist purchase")
	}

	logger.Ctx(ctx).Info().
		Str("purchase_id", purchase.ID).
		Str("uid", uid).
		Str("kind", string(kind)).
		Int64("amount", req.Amount).
		Msg("purchase opened")
	return &OpenPurchaseResult{PurchaseID: purchase.ID, SessionToken: token}, nil
}

// SettlePurchase 处理一次结算信号。
// 购买已是终态时返回该购买和 ErrAlreadySettled，调用方应当把它当作成功的空操作。
func (s *LedgerService) SettlePurchase(ctx context.Context, sessionToken string, outcome domain.PurchaseStatus) (*domain.Purchase, error) {
	ctx, span := s.tracer.Start(ctx, "LedgerService.SettlePurchase")
	defer span.End()
	span.SetAttributes(
		attribute.String("purchase.session_token", sessionToken),
		attribute.String("purchase.outcome", string(outcome)),
	)

	if sessionToken == "" {
		return nil, errors.Wrap(domain.ErrInvalidArgument, "session token is required")
	}
	if !outcome.IsTerminal() {
		return nil, errors.Wrapf(domain.ErrInvalidArgument, "outcome %q is not terminal", outcome)
	}

	var purchase *domain.Purchase
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := s.purchases.FindBySessionToken(ctx, sessionToken)
		if errors.Is(err, domain.ErrNotFound) {
			return errors.Wrapf(domain.ErrUnknownSession, "session %s", sessionToken)
		}
		if err != nil {
			return err
		}
		purchase = p
		if p.Status.IsTerminal() {
			return errors.Wrapf(domain.ErrAlreadySettled, "purchase %s is %s", p.ID, p.Status)
		}

		// 条件更新，只有仍处于 pending 的购买会被翻转
		now := s.now()
		ok, err := s.purchases.TransitionStatus(ctx, p.ID, domain.PurchaseStatusPending, outcome, now)
		if err != nil {
			return err
		}
		if !ok {
			return errors.Wrapf(domain.ErrAlreadySettled, "purchase %s settled concurrently", p.ID)
		}
		p.Status = outcome
		p.SettledAt = now

		if outcome != domain.PurchaseStatusCompleted {
			return nil
		}
		switch p.Kind {
		case domain.PurchaseKindCoins:
			_, _, err = s.credit(ctx, p.OwnerUID, p.Amount, domain.PurchaseCreditKey(p.ID))
		case domain.PurchaseKindPremium:
			err = s.accounts.SetPremium(ctx, p.OwnerUID)
		}
		return err
	})

	if errors.Is(err, domain.ErrAlreadySettled) && !purchase.Status.IsTerminal() {
		// 并发结算赢家已提交，重新读取最终状态
		if latest, findErr := s.purchases.FindByID(ctx, purchase.ID); findErr == nil {
			purchase = latest
		}
	}

	result := metrics.ResultOK
	switch {
	case err == nil:
		logger.Ctx(ctx).Info().Str("purchase_id", purchase.ID).Str("status", string(purchase.Status)).Msg("purchase settled")
	case errors.Is(err, domain.ErrAlreadySettled):
		result = metrics.ResultReplayed
		logger.Ctx(ctx).Info().Str("purchase_id", purchase.ID).Msg("settlement ignored, purchase already terminal")
	default:
		result = metrics.ResultFailed
		if errors.Is(err, domain.ErrNotFound) {
			result = metrics.ResultRejected
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	metrics.SettlementsTotal.WithLabelValues(string(outcome), result).Inc()
	if err != nil && !errors.Is(err, domain.ErrAlreadySettled) {
		return nil, err
	}
	return purchase, err
}

// ApplySettlement 处理 webhook 或 Kafka 送达的结算信号。
// 已是终态的购买和未知的会话都只记录日志，不算失败，避免信号被反复重投。
// 其余错误（包括购买存在但账户缺失）返回给调用方，由其重投或进入死信。
func (s *LedgerService) ApplySettlement(ctx context.Context, sig *SettlementSignal) error {
	outcome, err := domain.ParseOutcome(sig.Outcome)
	if err != nil {
		return err
	}
	_, err = s.SettlePurchase(ctx, sig.SessionToken, outcome)
	switch {
	case err == nil, errors.Is(err, domain.ErrAlreadySettled):
		return nil
	case errors.Is(err, domain.ErrUnknownSession):
		logger.Ctx(ctx).Warn().Str("session_token", sig.SessionToken).Msg("settlement for unknown purchase dropped")
		return nil
	default:
		return err
	}
}
