package interfaces

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"jeutaime/internal/pkg/logger"
	"jeutaime/internal/pkg/mq"
)

// messageReader 是 *kafka.Reader 中消费循环用到的部分
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Config() kafka.ReaderConfig
	Close() error
}

// deadLetterer 接收处理失败的消息
type deadLetterer interface {
	Handle(ctx context.Context, msg kafka.Message, cause error)
}

// consumeLoop 逐条拉取消息交给 handle，处理完成（或转入死信）后提交 offset。
// ctx 取消时返回 nil。
func consumeLoop(ctx context.Context, name string, reader messageReader, failures deadLetterer, handle func(context.Context, kafka.Message) error) error {
	log := logger.Ctx(ctx)
	log.Info().Str("topic", reader.Config().Topic).Msgf("✅ %s started.", name)
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msgf("🛑 %s shutting down.", name)
				return nil
			}
			log.Error().Err(err).Str("consumer", name).Msg("could not fetch message, retrying")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		msgCtx := mq.ExtractTraceContext(ctx, msg.Headers)
		if err := handle(msgCtx, msg); err != nil {
			failures.Handle(msgCtx, msg, err)
		}

		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Str("consumer", name).Int64("offset", msg.Offset).Msg("failed to commit message")
		}
	}
}
