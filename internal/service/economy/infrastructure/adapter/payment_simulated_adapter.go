package adapter

import (
	"context"

	"github.com/google/uuid"

	"jeutaime/internal/pkg/logger"
	"jeutaime/internal/service/economy/domain"
)

// SimulatedPaymentAdapter 在没有配置支付网关时使用，签发 simu_ 前缀的会话，
// 结算信号由 webhook 手动触发
type SimulatedPaymentAdapter struct{}

func NewSimulatedPaymentAdapter() *SimulatedPaymentAdapter {
	return &SimulatedPaymentAdapter{}
}

func (a *SimulatedPaymentAdapter) OpenSession(ctx context.Context, amount int64, kind domain.PurchaseKind) (string, error) {
	token := "simu_" + uuid.NewString()
	logger.Ctx(ctx).Warn().Str("session_token", token).Int64("amount", amount).Str("kind", string(kind)).Msg("⚠️ simulated payment session opened")
	return token, nil
}
