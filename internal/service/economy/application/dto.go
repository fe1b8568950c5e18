// internal/service/economy/application/dto.go
package application

import "time"

// OpenPurchaseRequest 是创建购买的请求体
type OpenPurchaseRequest struct {
	Kind   string `json:"kind"`
	Amount int64  `json:"amount"`
}

// OpenPurchaseResult 返回给客户端用于跳转支付
type OpenPurchaseResult struct {
	PurchaseID   string `json:"purchaseId"`
	SessionToken string `json:"sessionToken"`
}

type BalanceResponse struct {
	UID   string `json:"uid"`
	Coins int64  `json:"coins"`
}

type RedeemCodeRequest struct {
	Code string `json:"code"`
}

type RedeemPromoResponse struct {
	Reward int64 `json:"reward"`
}

type CreateReferralRequest struct {
	ReferredEmail string `json:"referredEmail"`
}

type CreateReferralResponse struct {
	Code string `json:"code"`
}

type GroupRequest struct {
	BarID string `json:"barId"`
}

type GroupResponse struct {
	GroupID string `json:"groupId"`
}

type IssuePromoRequest struct {
	Code   string `json:"code"`
	Reward int64  `json:"reward"`
}

// SettlementSignal 是支付网关送达的结算结果，webhook 和 Kafka 共用
type SettlementSignal struct {
	SessionToken string    `json:"sessionToken"`
	Outcome      string    `json:"outcome"`
	ReceivedAt   time.Time `json:"receivedAt,omitempty"`
}
