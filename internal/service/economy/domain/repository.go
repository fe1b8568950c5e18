// internal/service/economy/domain/repository.go
package domain

import (
	"context"
	"fmt"
	"time"
)

// ErrDuplicateKey 表示唯一约束冲突，仓储层把各数据库驱动的错误统一成它
var ErrDuplicateKey = fmt.Errorf("%w: duplicate key", ErrConflict)

// TxManager 提供事务边界。fn 收到的 ctx 携带事务，仓储方法用它执行语句；
// 在已有事务中再次调用会直接加入外层事务。
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// 以下仓储接口位于领域层，由基础设施层实现。
// 找不到记录时返回 ErrNotFound，唯一约束冲突返回 ErrDuplicateKey。

type AccountRepository interface {
	FindByID(ctx context.Context, uid string) (*Account, error)
	// IncrementCoins 原子自增余额，delta 可以为负但结果不得小于 0
	IncrementCoins(ctx context.Context, uid string, delta int64) error
	SetPremium(ctx context.Context, uid string) error
	SetFlagged(ctx context.Context, uid string) error
	// AddBadge 是集合添加，重复添加不报错
	AddBadge(ctx context.Context, uid, badge string) error
	ListActiveSince(ctx context.Context, since time.Time) ([]*Account, error)
}

type CreditRecordRepository interface {
	Find(ctx context.Context, uid, key string) (*CreditRecord, error)
	// FindLatest 使用加锁读，能看到并发事务刚提交的记录
	FindLatest(ctx context.Context, uid, key string) (*CreditRecord, error)
	Create(ctx context.Context, rec *CreditRecord) error
	SetBalanceAfter(ctx context.Context, uid, key string, balance int64) error
}

type CodeRepository interface {
	FindByCode(ctx context.Context, code string) (*RedeemableCode, error)
	// FindByCodeForUpdate 在事务中锁定兑换码所在行
	FindByCodeForUpdate(ctx context.Context, code string) (*RedeemableCode, error)
	Create(ctx context.Context, code *RedeemableCode) error
	// MarkUsed 条件更新 used=false -> true，返回是否由本次调用完成翻转
	MarkUsed(ctx context.Context, code, uid string, at time.Time) (bool, error)
}

type PurchaseRepository interface {
	Create(ctx context.Context, p *Purchase) error
	FindByID(ctx context.Context, id string) (*Purchase, error)
	FindBySessionToken(ctx context.Context, token string) (*Purchase, error)
	// TransitionStatus 仅当当前状态为 from 时更新为 to，返回是否更新成功
	TransitionStatus(ctx context.Context, id string, from, to PurchaseStatus, at time.Time) (bool, error)
}

type GroupRepository interface {
	// FindActiveGroup 返回酒吧当前激活且未过期的小组，在事务中加共享锁
	FindActiveGroup(ctx context.Context, barID string, now time.Time) (*Group, error)
	FindByBarAndCycle(ctx context.Context, barID, cycle string) (*Group, error)
	FindByID(ctx context.Context, id string) (*Group, error)
	Create(ctx context.Context, g *Group) error
	AddMember(ctx context.Context, groupID, uid string) error
	RemoveMember(ctx context.Context, groupID, uid string) error
	ListExpired(ctx context.Context, now time.Time) ([]*Group, error)
	// Delete 删除小组及其成员
	Delete(ctx context.Context, groupID string) error
}

type BarRepository interface {
	ListActive(ctx context.Context) ([]*Bar, error)
	SetFlagged(ctx context.Context, barID string) error
}

type AdminRepository interface {
	IsAdmin(ctx context.Context, uid string) (bool, error)
	ListUIDs(ctx context.Context) ([]string, error)
}

type LetterRepository interface {
	ThreadParticipants(ctx context.Context, threadID string) ([]string, error)
	FlagMessage(ctx context.Context, messageID string) error
}

type NotificationRepository interface {
	Create(ctx context.Context, n *Notification) error
	ListByUID(ctx context.Context, uid string, limit int) ([]*Notification, error)
}
