// internal/service/economy/infrastructure/tx.go
package infrastructure

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type txKey struct{}

// GormTxManager 实现 domain.TxManager，事务句柄放在 ctx 中向下传递
type GormTxManager struct {
	db *gorm.DB
}

func NewGormTxManager(db *gorm.DB) *GormTxManager {
	return &GormTxManager{db: db}
}

// WithinTx 开启事务执行 fn；ctx 中已有事务时直接复用
func (m *GormTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return fn(ctx)
	}
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// conn 返回 ctx 中的事务句柄，没有事务时返回普通连接
func conn(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}

// locked 在事务内为查询加行锁，事务外加锁没有意义
func locked(ctx context.Context, db *gorm.DB, strength string) *gorm.DB {
	q := conn(ctx, db)
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		q = q.Clauses(clause.Locking{Strength: strength})
	}
	return q
}
