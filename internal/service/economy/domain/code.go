// internal/service/economy/domain/code.go
package domain

import (
	"fmt"
	"strings"
	"time"
)

// CodeKind 区分一次性兑换码的来源
type CodeKind string

const (
	CodeKindPromo    CodeKind = "promo"
	CodeKindReferral CodeKind = "referral"
)

// RedeemableCode 是一次性兑换码，状态机只有 unused -> used。
// 对推荐码来说 Used 即“奖励已发放”。
type RedeemableCode struct {
	Code          string
	Kind          CodeKind
	OwnerUID      string // 推荐人，促销码为空
	ReferredEmail string
	Reward        int64
	Used          bool
	UsedBy        string
	UsedAt        time.Time
	CreatedAt     time.Time
}

// NormalizeCode 去掉首尾空白，码本身区分大小写
func NormalizeCode(code string) string {
	return strings.TrimSpace(code)
}

// 幂等键。同一笔奖励无论重试多少次都落在同一个键上。
func PromoCreditKey(code string) string {
	return "promo:" + code
}

func ReferralCreditKeys(code string) (referred, referrer string) {
	return fmt.Sprintf("referral:%s:referred", code), fmt.Sprintf("referral:%s:referrer", code)
}

func PurchaseCreditKey(purchaseID string) string {
	return "purchase:" + purchaseID
}

func DailyBonusCreditKey(day time.Time) string {
	return "daily-bonus:" + day.Format(time.DateOnly)
}
