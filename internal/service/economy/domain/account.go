// internal/service/economy/domain/account.go
package domain

import "time"

// BadgeCertified 是认证通过后自动授予的徽章
const BadgeCertified = "certified"

// Account 是用户的经济账户。Coins 只能通过原子自增修改，不允许读后写。
type Account struct {
	UID        string
	Coins      int64
	Certified  bool
	Premium    bool
	Flagged    bool
	Badges     []string
	LastActive time.Time
	CreatedAt  time.Time
}

// HasBadge 判断账户是否持有某个徽章
func (a *Account) HasBadge(badge string) bool {
	for _, b := range a.Badges {
		if b == badge {
			return true
		}
	}
	return false
}

// CreditRecord 是一次入账的幂等记录，以 (UID, IdempotencyKey) 唯一
type CreditRecord struct {
	UID            string
	IdempotencyKey string
	Amount         int64
	BalanceAfter   int64
	CreatedAt      time.Time
}

// Bar 是周期性组队的场所
type Bar struct {
	ID      string
	Name    string
	Active  bool
	Flagged bool
}
