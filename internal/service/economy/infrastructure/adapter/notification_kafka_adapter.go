package adapter

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"jeutaime/internal/pkg/mq"
	"jeutaime/internal/service/economy/domain"
)

// NotificationKafkaAdapter 实现了 port.NotificationPublisher，按 uid 分区，推送网关消费后转发给在线连接
type NotificationKafkaAdapter struct {
	writer *kafka.Writer
}

func NewNotificationKafkaAdapter(writer *kafka.Writer) *NotificationKafkaAdapter {
	return &NotificationKafkaAdapter{writer: writer}
}

func (a *NotificationKafkaAdapter) Publish(ctx context.Context, n *domain.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "failed to marshal notification")
	}
	return mq.ProduceMessage(ctx, a.writer, []byte(n.UID), payload)
}

func (a *NotificationKafkaAdapter) Close() error {
	return a.writer.Close()
}

// EventKafkaAdapter 实现了 port.EventPublisher，把定时任务产出的领域事件写回事件主题
type EventKafkaAdapter struct {
	writer *kafka.Writer
}

func NewEventKafkaAdapter(writer *kafka.Writer) *EventKafkaAdapter {
	return &EventKafkaAdapter{writer: writer}
}

func (a *EventKafkaAdapter) PublishEvent(ctx context.Context, e *domain.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event")
	}
	return mq.ProduceMessage(ctx, a.writer, []byte(e.ID), payload)
}

func (a *EventKafkaAdapter) Close() error {
	return a.writer.Close()
}
