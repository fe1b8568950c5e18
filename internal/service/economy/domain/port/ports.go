// internal/service/economy/domain/port/ports.go
package port

import (
	"context"

	"jeutaime/internal/service/economy/domain"
)

// PaymentGateway 是外部支付网关。结算结果通过 webhook 或 Kafka 异步送达。
type PaymentGateway interface {
	OpenSession(ctx context.Context, amount int64, kind domain.PurchaseKind) (string, error)
}

// Deduper 记录某个事件的通知已经推送给了哪些用户，只在通知落库之后使用。
// ClaimRecipients 返回本次需要推送的用户，存储不可用时调用方应当全部放行。
type Deduper interface {
	ClaimRecipients(ctx context.Context, eventID string, uids []string) ([]string, error)
	// Release 撤销一次认领，推送失败后重新投递时该用户仍会被推送
	Release(ctx context.Context, eventID, uid string) error
}

// NotificationPublisher 把已持久化的通知推送给在线客户端
type NotificationPublisher interface {
	Publish(ctx context.Context, n *domain.Notification) error
}

// EventPublisher 发布领域事件，供异步的通知扇出消费
type EventPublisher interface {
	PublishEvent(ctx context.Context, e *domain.Event) error
}

// EligibilityPolicy 决定账户是否能领取每日奖励
type EligibilityPolicy interface {
	Eligible(ctx context.Context, account *domain.Account) (bool, error)
}
