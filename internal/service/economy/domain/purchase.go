// internal/service/economy/domain/purchase.go
package domain

import (
	"time"

	"github.com/pkg/errors"
)

// PurchaseKind 购买的商品类型
type PurchaseKind string

const (
	PurchaseKindCoins   PurchaseKind = "coins"
	PurchaseKindPremium PurchaseKind = "premium"
)

// ParsePurchaseKind 校验外部传入的类型
func ParsePurchaseKind(s string) (PurchaseKind, error) {
	switch k := PurchaseKind(s); k {
	case PurchaseKindCoins, PurchaseKindPremium:
		return k, nil
	default:
		return "", errors.Wrapf(ErrInvalidArgument, "unknown purchase kind %q", s)
	}
}

// PurchaseStatus 定义了购买的生命周期状态，流转是单调的：pending -> {completed | failed}
type PurchaseStatus string

const (
	PurchaseStatusPending   PurchaseStatus = "pending"   // 等待支付网关回调
	PurchaseStatusCompleted PurchaseStatus = "completed" // 支付成功
	PurchaseStatusFailed    PurchaseStatus = "failed"    // 支付失败或会话过期
)

// IsTerminal 终态不允许再次流转
func (s PurchaseStatus) IsTerminal() bool {
	return s == PurchaseStatusCompleted || s == PurchaseStatusFailed
}

// ParseOutcome 把结算结果转换成目标状态，只接受终态
func ParseOutcome(s string) (PurchaseStatus, error) {
	switch st := PurchaseStatus(s); st {
	case PurchaseStatusCompleted, PurchaseStatusFailed:
		return st, nil
	default:
		return "", errors.Wrapf(ErrInvalidArgument, "unknown settlement outcome %q", s)
	}
}

// Purchase 是一笔站内购买
type Purchase struct {
	ID           string
	OwnerUID     string
	Kind         PurchaseKind
	Amount       int64
	Status       PurchaseStatus
	SessionToken string
	CreatedAt    time.Time
	SettledAt    time.Time
}

// NewPurchase 创建一笔待支付的购买
func NewPurchase(id, ownerUID string, kind PurchaseKind, amount int64, sessionToken string, now time.Time) (*Purchase, error) {
	if ownerUID == "" {
		return nil, ErrUnauthenticated
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if sessionToken == "" {
		return nil, errors.Wrap(ErrInternal, "empty session token")
	}
	return &Purchase{
		ID:           id,
		OwnerUID:     ownerUID,
		Kind:         kind,
		Amount:       amount,
		Status:       PurchaseStatusPending,
		SessionToken: sessionToken,
		CreatedAt:    now,
	}, nil
}
