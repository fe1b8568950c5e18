// internal/service/economy/application/jobs.go
package application

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"jeutaime/internal/pkg/logger"
	"jeutaime/internal/service/economy/domain"
	"jeutaime/internal/service/economy/domain/port"
)

// BonusConfig 每日奖励参数
type BonusConfig struct {
	Amount      int64
	Lookback    time.Duration
	Concurrency int
	Location    *time.Location
}

// BonusService 给近期活跃的账户发放每日奖励
type BonusService struct {
	accounts domain.AccountRepository
	ledger   *LedgerService
	policy   port.EligibilityPolicy
	events   port.EventPublisher
	cfg      BonusConfig
	tracer   trace.Tracer
	now      clock
}

func NewBonusService(
	accounts domain.AccountRepository,
	ledger *LedgerService,
	policy port.EligibilityPolicy,
	events port.EventPublisher,
	cfg BonusConfig,
	tracer trace.Tracer,
) *BonusService {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &BonusService{
		accounts: accounts,
		ledger:   ledger,
		policy:   policy,
		events:   events,
		cfg:      cfg,
		tracer:   tracer,
		now:      utcNow,
	}
}

// GrantDaily 给每个符合条件的账户入账当天的奖励。
// 幂等键按日期区分，同一天重跑不会重复入账，已入账的账户计为跳过。
func (s *BonusService) GrantDaily(ctx context.Context) (domain.JobReport, error) {
	ctx, span := s.tracer.Start(ctx, "BonusService.GrantDaily")
	defer span.End()

	now := s.now()
	day := now.In(s.cfg.Location)
	candidates, err := s.accounts.ListActiveSince(ctx, now.Add(-s.cfg.Lookback))
	if err != nil {
		span.RecordError(err)
		return domain.JobReport{}, err
	}
	span.SetAttributes(attribute.Int("job.candidates", len(candidates)))

	key := domain.DailyBonusCreditKey(day)
	dayLabel := day.Format(time.DateOnly)

	report := runItems(ctx, "daily_bonus", s.cfg.Concurrency, candidates, func(ctx context.Context, acc *domain.Account) (bool, error) {
		if s.policy != nil {
			ok, err := s.policy.Eligible(ctx, acc)
			if err != nil {
				return false, errors.Wrapf(err, "eligibility of %s", acc.UID)
			}
			if !ok {
				return false, nil
			}
		}

		_, replayed, err := s.ledger.credit(ctx, acc.UID, s.cfg.Amount, key)
		if err != nil {
			return false, err
		}

		// 重放时同样发布，上一轮可能在入账之后、发布之前失败；事件 ID 固定，扇出会去重
		if s.events != nil {
			evt := &domain.Event{
				ID:         "daily-bonus:" + dayLabel + ":" + acc.UID,
				Type:       domain.EventDailyBonusGranted,
				OccurredAt: now,
				Bonus:      &domain.BonusGranted{UID: acc.UID, Amount: s.cfg.Amount, Day: dayLabel},
			}
			if err := s.events.PublishEvent(ctx, evt); err != nil {
				return false, errors.Wrapf(err, "publish bonus event for %s", acc.UID)
			}
		}
		return !replayed, nil
	}, func(acc *domain.Account) string { return acc.UID })

	span.SetAttributes(attribute.Int("job.processed", report.Processed), attribute.Int("job.failed", report.Failed))
	logger.Ctx(ctx).Info().Str("day", dayLabel).Interface("report", report).Msg("daily bonus granted")
	return report, nil
}
