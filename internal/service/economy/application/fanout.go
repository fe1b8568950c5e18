// internal/service/economy/application/fanout.go
package application

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"jeutaime/internal/pkg/logger"
	"jeutaime/internal/pkg/metrics"
	"jeutaime/internal/service/economy/domain"
	"jeutaime/internal/service/economy/domain/port"
)

// 通知 ID 由 (事件, 接收人, 类型) 派生，同一事件重复投递只会落一条记录
var notificationNamespace = uuid.MustParse("6f1c3f5e-8a8e-4d35-9a51-0b7e1d2c9a40")

// FanoutService 把领域事件翻译成逐个接收人的通知
type FanoutService struct {
	accounts      domain.AccountRepository
	admins        domain.AdminRepository
	letters       domain.LetterRepository
	bars          domain.BarRepository
	notifications domain.NotificationRepository
	deduper       port.Deduper
	publisher     port.NotificationPublisher
	tracer        trace.Tracer
	now           clock
}

func NewFanoutService(
	accounts domain.AccountRepository,
	admins domain.AdminRepository,
	letters domain.LetterRepository,
	bars domain.BarRepository,
	notifications domain.NotificationRepository,
	deduper port.Deduper,
	publisher port.NotificationPublisher,
	tracer trace.Tracer,
) *FanoutService {
	return &FanoutService{
		accounts:      accounts,
		admins:        admins,
		letters:       letters,
		bars:          bars,
		notifications: notifications,
		deduper:       deduper,
		publisher:     publisher,
		tracer:        tracer,
		now:           utcNow,
	}
}

// Plan 按规则表计算事件产生的通知，不写任何数据
func (s *FanoutService) Plan(ctx context.Context, e *domain.Event) ([]*domain.Notification, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	switch e.Type {
	case domain.EventAccountUpdated:
		if !e.Account.CertificationGranted() {
			return nil, nil
		}
		return s.build(e, domain.NotificationCertification, []string{e.Account.UID}, map[string]string{
			"message": "Congratulations, your account is now certified!",
		}), nil

	case domain.EventLetterInserted:
		participants, err := s.letters.ThreadParticipants(ctx, e.Letter.ThreadID)
		if err != nil {
			return nil, err
		}
		recipients := make([]string, 0, len(participants))
		for _, uid := range participants {
			if uid != e.Letter.AuthorUID {
				recipients = append(recipients, uid)
			}
		}
		return s.build(e, domain.NotificationLetter, recipients, map[string]string{
			"message":   "New letter received",
			"threadId":  e.Letter.ThreadID,
			"messageId": e.Letter.MessageID,
		}), nil

	case domain.EventReportCreated:
		admins, err := s.admins.ListUIDs(ctx)
		if err != nil {
			return nil, err
		}
		return s.build(e, domain.NotificationReport, admins, map[string]string{
			"message":    "New report filed",
			"reportId":   e.Report.ReportID,
			"targetType": string(e.Report.TargetType),
			"targetId":   e.Report.TargetID,
		}), nil

	case domain.EventDailyBonusGranted:
		return s.build(e, domain.NotificationBonus, []string{e.Bonus.UID}, map[string]string{
			"message": "Daily bonus received!",
			"amount":  strconv.FormatInt(e.Bonus.Amount, 10),
			"day":     e.Bonus.Day,
		}), nil

	default:
		// 购买结算的入账由账本负责，不产生通知
		return nil, nil
	}
}

func (s *FanoutService) build(e *domain.Event, typ domain.NotificationType, recipients []string, payload map[string]string) []*domain.Notification {
	seen := make(map[string]struct{}, len(recipients))
	out := make([]*domain.Notification, 0, len(recipients))
	now := s.now()
	for _, uid := range recipients {
		if uid == "" {
			continue
		}
		if _, dup := seen[uid]; dup {
			continue
		}
		seen[uid] = struct{}{}
		out = append(out, &domain.Notification{
			ID:        uuid.NewSHA1(notificationNamespace, []byte(e.ID+"|"+uid+"|"+string(typ))).String(),
			EventID:   e.ID,
			UID:       uid,
			Type:      typ,
			Payload:   payload,
			CreatedAt: now,
		})
	}
	return out
}

// Dispatch 执行事件的附带状态变更，然后持久化并推送通知，返回新写入的通知数。
// 至少一次语义：先落库再推送，失败时返回错误，重新投递同一事件是安全的。
// 库中的确定性 ID 保证每条通知只写一次；去重存储只记录"已推送"，不会挡住落库。
func (s *FanoutService) Dispatch(ctx context.Context, e *domain.Event) (int, error) {
	ctx, span := s.tracer.Start(ctx, "FanoutService.Dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("event.id", e.ID), attribute.String("event.type", string(e.Type)))

	if err := s.applyEffects(ctx, e); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	planned, err := s.Plan(ctx, e)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	if len(planned) == 0 {
		return 0, nil
	}

	var (
		written   int
		firstErr  error
		persisted = make([]*domain.Notification, 0, len(planned))
	)
	for _, n := range planned {
		err := s.notifications.Create(ctx, n)
		switch {
		case errors.Is(err, domain.ErrDuplicateKey):
			// 之前的投递已落库，但可能还没推送
			metrics.NotificationsTotal.WithLabelValues(string(n.Type), metrics.ResultReplayed).Inc()
			persisted = append(persisted, n)
		case err != nil:
			metrics.NotificationsTotal.WithLabelValues(string(n.Type), metrics.ResultFailed).Inc()
			logger.Ctx(ctx).Error().Err(err).Str("event_id", e.ID).Str("uid", n.UID).Msg("failed to persist notification")
			if firstErr == nil {
				firstErr = err
			}
		default:
			written++
			metrics.NotificationsTotal.WithLabelValues(string(n.Type), metrics.ResultOK).Inc()
			persisted = append(persisted, n)
		}
	}

	s.push(ctx, e.ID, persisted)

	span.SetAttributes(attribute.Int("notifications.written", written))
	if firstErr != nil {
		span.RecordError(firstErr)
		span.SetStatus(codes.Error, firstErr.Error())
		return written, firstErr
	}
	logger.Ctx(ctx).Info().Str("event_id", e.ID).Str("type", string(e.Type)).Int("written", written).Msg("event fanned out")
	return written, nil
}

// push 推送已落库且尚未推送过的通知。推送是尽力而为，记录已落库，客户端下次拉取时仍能看到。
func (s *FanoutService) push(ctx context.Context, eventID string, persisted []*domain.Notification) {
	if s.publisher == nil || len(persisted) == 0 {
		return
	}
	for _, n := range s.claim(ctx, eventID, persisted) {
		err := s.publisher.Publish(ctx, n)
		if err == nil {
			continue
		}
		logger.Ctx(ctx).Warn().Err(err).Str("notification_id", n.ID).Msg("failed to push notification")
		if s.deduper == nil {
			continue
		}
		// ctx 可能已被取消，释放标记不能随之失败，否则重新投递也不会再推送
		if rerr := s.deduper.Release(context.WithoutCancel(ctx), eventID, n.UID); rerr != nil {
			logger.Ctx(ctx).Warn().Err(rerr).Str("event_id", eventID).Str("uid", n.UID).Msg("failed to release push marker")
		}
	}
}

// claim 通过去重存储过滤掉已经推送过的接收人；存储不可用时全部放行
func (s *FanoutService) claim(ctx context.Context, eventID string, planned []*domain.Notification) []*domain.Notification {
	if s.deduper == nil {
		return planned
	}
	uids := make([]string, len(planned))
	for i, n := range planned {
		uids[i] = n.UID
	}
	fresh, err := s.deduper.ClaimRecipients(ctx, eventID, uids)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("event_id", eventID).Msg("dedupe unavailable, pushing to all recipients")
		return planned
	}

	allowed := make(map[string]struct{}, len(fresh))
	for _, uid := range fresh {
		allowed[uid] = struct{}{}
	}
	out := planned[:0:0]
	for _, n := range planned {
		if _, ok := allowed[n.UID]; ok {
			out = append(out, n)
			continue
		}
		metrics.NotificationsTotal.WithLabelValues(string(n.Type), metrics.ResultSkipped).Inc()
	}
	return out
}

// applyEffects 执行事件附带的状态变更：认证授予徽章，举报标记被举报对象
func (s *FanoutService) applyEffects(ctx context.Context, e *domain.Event) error {
	switch e.Type {
	case domain.EventAccountUpdated:
		if e.Account != nil && e.Account.CertificationGranted() {
			return s.accounts.AddBadge(ctx, e.Account.UID, domain.BadgeCertified)
		}
	case domain.EventReportCreated:
		if e.Report == nil || e.Report.TargetID == "" {
			return nil
		}
		var err error
		switch e.Report.TargetType {
		case domain.ReportTargetUser:
			err = s.accounts.SetFlagged(ctx, e.Report.TargetID)
		case domain.ReportTargetBar:
			err = s.bars.SetFlagged(ctx, e.Report.TargetID)
		case domain.ReportTargetLetter:
			err = s.letters.FlagMessage(ctx, e.Report.TargetID)
		}
		if errors.Is(err, domain.ErrNotFound) {
			// 被举报对象已删除，管理员仍需收到举报
			logger.Ctx(ctx).Warn().Str("report_id", e.Report.ReportID).Str("target_id", e.Report.TargetID).Msg("reported target not found, nothing flagged")
			return nil
		}
		return err
	}
	return nil
}

// PublishEvent 让 FanoutService 可以直接作为进程内的 EventPublisher
func (s *FanoutService) PublishEvent(ctx context.Context, e *domain.Event) error {
	_, err := s.Dispatch(ctx, e)
	return err
}

// Inbox 返回用户最近的通知，最新的在前
func (s *FanoutService) Inbox(ctx context.Context, uid string, limit int) ([]*domain.Notification, error) {
	if uid == "" {
		return nil, domain.ErrUnauthenticated
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.notifications.ListByUID(ctx, uid, limit)
}
