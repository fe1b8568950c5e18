package interfaces

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"jeutaime/internal/pkg/logger"
	"jeutaime/internal/service/economy/application"
	"jeutaime/internal/service/economy/domain"
)

// EventConsumerAdapter 消费文档变更事件并驱动通知扇出
type EventConsumerAdapter struct {
	reader   messageReader
	fanout   *application.FanoutService
	failures deadLetterer
}

func NewEventConsumerAdapter(reader messageReader, fanout *application.FanoutService, failures deadLetterer) *EventConsumerAdapter {
	return &EventConsumerAdapter{reader: reader, fanout: fanout, failures: failures}
}

// Run 阻塞直到 ctx 被取消
func (a *EventConsumerAdapter) Run(ctx context.Context) error {
	return consumeLoop(ctx, "Domain Event Consumer", a.reader, a.failures, a.handle)
}

func (a *EventConsumerAdapter) handle(ctx context.Context, msg kafka.Message) error {
	var event domain.Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return errors.Wrap(domain.ErrInvalidArgument, "unmarshal domain event: "+err.Error())
	}
	_, err := a.fanout.Dispatch(ctx, &event)
	if errors.Is(err, domain.ErrNotFound) {
		// 事件引用的文档已不存在，重投也不会成功
		logger.Ctx(ctx).Warn().Err(err).Str("event_id", event.ID).Msg("event references a missing document, dropped")
		return nil
	}
	return err
}

func (a *EventConsumerAdapter) Close() error {
	return a.reader.Close()
}

// SettlementConsumerAdapter 消费支付网关的结算信号
type SettlementConsumerAdapter struct {
	reader   messageReader
	ledger   *application.LedgerService
	failures deadLetterer
}

func NewSettlementConsumerAdapter(reader messageReader, ledger *application.LedgerService, failures deadLetterer) *SettlementConsumerAdapter {
	return &SettlementConsumerAdapter{reader: reader, ledger: ledger, failures: failures}
}

func (a *SettlementConsumerAdapter) Run(ctx context.Context) error {
	return consumeLoop(ctx, "Settlement Consumer", a.reader, a.failures, a.handle)
}

func (a *SettlementConsumerAdapter) handle(ctx context.Context, msg kafka.Message) error {
	var sig application.SettlementSignal
	if err := json.Unmarshal(msg.Value, &sig); err != nil {
		return errors.Wrap(domain.ErrInvalidArgument, "unmarshal settlement signal: "+err.Error())
	}
	if sig.ReceivedAt.IsZero() {
		sig.ReceivedAt = msg.Time
	}
	return a.ledger.ApplySettlement(ctx, &sig)
}

func (a *SettlementConsumerAdapter) Close() error {
	return a.reader.Close()
}
