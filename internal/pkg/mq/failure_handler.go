package mq

import (
	"context"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"jeutaime/internal/pkg/logger"
)

// 死信消息头，记录原始位置和失败原因，DLT 消费者据此输出日志
const (
	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
	HeaderExceptionFqcn     = "x-exception-fqcn"
	HeaderExceptionMessage  = "x-exception-message"
)

// DLTSuffix 死信主题 = 原始主题 + 后缀
const DLTSuffix = ".dlt"

// FailureHandler 把处理失败的消息转发到死信主题，消费者随后照常提交 offset。
type FailureHandler struct {
	writer *kafka.Writer
}

// NewFailureHandler 创建指向 "<topic>.dlt" 的失败处理器。
// writer 不指定 Topic，每条消息自行携带目标主题。
func NewFailureHandler(brokers []string) *FailureHandler {
	return &FailureHandler{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
	}
}

// Handle 记录失败原因并投递死信消息。投递本身失败时只记录日志。
func (h *FailureHandler) Handle(ctx context.Context, msg kafka.Message, cause error) {
	log := logger.Ctx(ctx)
	log.Error().Err(cause).
		Str("topic", msg.Topic).
		Int("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Msg("message processing failed, forwarding to DLT")

	if h == nil || h.writer == nil {
		return
	}

	headers := append([]kafka.Header{}, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: HeaderOriginalTopic, Value: []byte(msg.Topic)},
		kafka.Header{Key: HeaderOriginalPartition, Value: []byte(strconv.Itoa(msg.Partition))},
		kafka.Header{Key: HeaderOriginalOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		kafka.Header{Key: HeaderExceptionFqcn, Value: []byte(fmt.Sprintf("%T", cause))},
		kafka.Header{Key: HeaderExceptionMessage, Value: []byte(cause.Error())},
	)

	dlt := kafka.Message{
		Topic:   msg.Topic + DLTSuffix,
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	}
	if err := h.writer.WriteMessages(ctx, dlt); err != nil {
		log.Error().Err(err).Str("topic", dlt.Topic).Msg("CRITICAL: failed to write dead letter")
	}
}

// Close 关闭底层 writer
func (h *FailureHandler) Close() error {
	if h == nil || h.writer == nil {
		return nil
	}
	return h.writer.Close()
}
