// internal/service/economy/application/membership.go
package application

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"jeutaime/internal/pkg/logger"
	"jeutaime/internal/pkg/metrics"
	"jeutaime/internal/service/economy/domain"
)

// MembershipConfig 小组周期参数
type MembershipConfig struct {
	GroupTTL    time.Duration
	Concurrency int
	// Location 决定周期按哪个时区切分
	Location *time.Location
}

// MembershipService 管理酒吧小组的成员和周期
type MembershipService struct {
	tx     domain.TxManager
	groups domain.GroupRepository
	bars   domain.BarRepository
	cfg    MembershipConfig
	tracer trace.Tracer
	now    clock
	newID  func() string
}

func NewMembershipService(
	tx domain.TxManager,
	groups domain.GroupRepository,
	bars domain.BarRepository,
	cfg MembershipConfig,
	tracer trace.Tracer,
) *MembershipService {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &MembershipService{
		tx:     tx,
		groups: groups,
		bars:   bars,
		cfg:    cfg,
		tracer: tracer,
		now:    utcNow,
		newID:  newID,
	}
}

// Join 把用户加入酒吧当前的小组，重复加入是空操作
func (s *MembershipService) Join(ctx context.Context, uid, barID string) (string, error) {
	return s.mutate(ctx, "join", uid, barID, s.groups.AddMember)
}

// Leave 把用户移出酒吧当前的小组，不是成员时是空操作
func (s *MembershipService) Leave(ctx context.Context, uid, barID string) (string, error) {
	return s.mutate(ctx, "leave", uid, barID, s.groups.RemoveMember)
}

func (s *MembershipService) mutate(ctx context.Context, op, uid, barID string, apply func(ctx context.Context, groupID, uid string) error) (string, error) {
	ctx, span := s.tracer.Start(ctx, "MembershipService."+op)
	defer span.End()
	span.SetAttributes(attribute.String("account.uid", uid), attribute.String("bar.id", barID))

	if uid == "" {
		return "", domain.ErrUnauthenticated
	}
	if barID == "" {
		return "", errors.Wrap(domain.ErrInvalidArgument, "barId is required")
	}

	var groupID string
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		now := s.now()
		g, err := s.groups.FindActiveGroup(ctx, barID, now)
		if err != nil {
			return err
		}
		// 过期但尚未清理的小组同样拒绝
		if !g.AcceptsMembers(now) {
			return errors.Wrapf(domain.ErrNotFound, "group %s no longer accepts members", g.ID)
		}
		groupID = g.ID
		return apply(ctx, g.ID, uid)
	})

	result := metrics.ResultOK
	if err != nil {
		result = metrics.ResultFailed
		if errors.Is(err, domain.ErrNotFound) {
			result = metrics.ResultRejected
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	metrics.MembershipOpsTotal.WithLabelValues(op, result).Inc()
	if err != nil {
		return "", err
	}

	logger.Ctx(ctx).Info().Str("op", op).Str("uid", uid).Str("group_id", groupID).Msg("group membership updated")
	return groupID, nil
}

// ComposeWeekly 为每个激活的酒吧创建本周期的小组。
// 已有本周期小组的酒吧跳过；(bar_id, cycle) 唯一索引保证并发运行也只会创建一个。
func (s *MembershipService) ComposeWeekly(ctx context.Context) (domain.JobReport, error) {
	ctx, span := s.tracer.Start(ctx, "MembershipService.ComposeWeekly")
	defer span.End()

	bars, err := s.bars.ListActive(ctx)
	if err != nil {
		span.RecordError(err)
		return domain.JobReport{}, err
	}

	now := s.now()
	report := runItems(ctx, "compose_weekly", s.cfg.Concurrency, bars, func(ctx context.Context, bar *domain.Bar) (bool, error) {
		return s.composeBar(ctx, bar, now)
	}, func(bar *domain.Bar) string { return bar.ID })

	span.SetAttributes(attribute.Int("job.processed", report.Processed), attribute.Int("job.skipped", report.Skipped), attribute.Int("job.failed", report.Failed))
	logger.Ctx(ctx).Info().Interface("report", report).Msg("weekly composition finished")
	return report, nil
}

func (s *MembershipService) composeBar(ctx context.Context, bar *domain.Bar, now time.Time) (bool, error) {
	cycle := domain.CycleKey(now.In(s.cfg.Location))
	_, err := s.groups.FindByBarAndCycle(ctx, bar.ID, cycle)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return false, err
	}

	g := domain.NewWeeklyGroup(s.newID(), bar, now, s.cfg.GroupTTL)
	g.Cycle = cycle
	err = s.groups.Create(ctx, g)
	if errors.Is(err, domain.ErrDuplicateKey) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	logger.Ctx(ctx).Info().Str("bar_id", bar.ID).Str("group_id", g.ID).Str("cycle", cycle).Msg("weekly group created")
	return true, nil
}

// SweepExpired 删除所有已过期的小组，每个小组和它的成员在一个事务中删除
func (s *MembershipService) SweepExpired(ctx context.Context) (domain.JobReport, error) {
	ctx, span := s.tracer.Start(ctx, "MembershipService.SweepExpired")
	defer span.End()

	expired, err := s.groups.ListExpired(ctx, s.now())
	if err != nil {
		span.RecordError(err)
		return domain.JobReport{}, err
	}

	report := runItems(ctx, "sweep_expired", s.cfg.Concurrency, expired, func(ctx context.Context, g *domain.Group) (bool, error) {
		err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
			return s.groups.Delete(ctx, g.ID)
		})
		if errors.Is(err, domain.ErrNotFound) {
			// 已被其他实例清理
			return false, nil
		}
		return err == nil, err
	}, func(g *domain.Group) string { return g.ID })

	span.SetAttributes(attribute.Int("job.processed", report.Processed), attribute.Int("job.failed", report.Failed))
	logger.Ctx(ctx).Info().Interface("report", report).Msg("expired groups swept")
	return report, nil
}

// runItems 以有限并发逐项处理，单项失败只记录日志，不影响其余项。
// fn 返回 false 且无错误表示跳过。
func runItems[T any](ctx context.Context, job string, limit int, items []T, fn func(context.Context, T) (bool, error), key func(T) string) domain.JobReport {
	var (
		mu     sync.Mutex
		report domain.JobReport
	)
	g := new(errgroup.Group)
	g.SetLimit(limit)
	for _, item := range items {
		item := item
		g.Go(func() error {
			done, err := fn(ctx, item)
			result := metrics.ResultOK
			mu.Lock()
			switch {
			case err != nil:
				report.Failed++
				result = metrics.ResultFailed
			case done:
				report.Processed++
			default:
				report.Skipped++
				result = metrics.ResultSkipped
			}
			mu.Unlock()
			metrics.JobItemsTotal.WithLabelValues(job, result).Inc()
			if err != nil {
				logger.Ctx(ctx).Error().Err(err).Str("job", job).Str("item", key(item)).Msg("job item failed, continuing")
			}
			return nil
		})
	}
	_ = g.Wait()
	return report
}
