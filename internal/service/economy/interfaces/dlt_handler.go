package interfaces

import (
	"context"

	"github.com/segmentio/kafka-go"

	"jeutaime/internal/pkg/logger"
	"jeutaime/internal/pkg/metrics"
	"jeutaime/internal/pkg/mq"
)

// DltConsumerAdapter 监听死信队列并记录日志
type DltConsumerAdapter struct {
	reader messageReader
}

func NewDltConsumerAdapter(reader messageReader) *DltConsumerAdapter {
	return &DltConsumerAdapter{reader: reader}
}

// Run 阻塞直到 ctx 被取消。DLT 中的消息记录日志后直接提交，它们不会再被处理。
func (a *DltConsumerAdapter) Run(ctx context.Context) error {
	return consumeLoop(ctx, "DLT Consumer", a.reader, nil, func(ctx context.Context, msg kafka.Message) error {
		logDeadLetter(ctx, msg)
		return nil
	})
}

func (a *DltConsumerAdapter) Close() error {
	return a.reader.Close()
}

// maxLoggedValue 限制写入日志的消息体长度
const maxLoggedValue = 2048

func logDeadLetter(ctx context.Context, msg kafka.Message) {
	var origin, partition, offset, errType, errMsg string
	for _, h := range msg.Headers {
		v := string(h.Value)
		switch h.Key {
		case mq.HeaderOriginalTopic:
			origin = v
		case mq.HeaderOriginalPartition:
			partition = v
		case mq.HeaderOriginalOffset:
			offset = v
		case mq.HeaderExceptionFqcn:
			errType = v
		case mq.HeaderExceptionMessage:
			errMsg = v
		}
	}
	metrics.DeadLettersTotal.WithLabelValues(origin).Inc()

	value := msg.Value
	if len(value) > maxLoggedValue {
		value = value[:maxLoggedValue]
	}
	logger.Ctx(ctx).Error().
		Str("dlt_topic", msg.Topic).
		Str("original_topic", origin).
		Str("original_partition", partition).
		Str("original_offset", offset).
		Str("error_type", errType).
		Str("error", errMsg).
		Bytes("key", msg.Key).
		Bytes("value", value).
		Msg("🚨 dead letter received, manual replay required")
}
