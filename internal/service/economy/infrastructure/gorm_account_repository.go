// internal/service/economy/infrastructure/gorm_account_repository.go
package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"jeutaime/internal/service/economy/domain"
)

// GormAccountRepository 是 AccountRepository 的 GORM 实现
type GormAccountRepository struct {
	db *gorm.DB
}

func NewGormAccountRepository(db *gorm.DB) *GormAccountRepository {
	return &GormAccountRepository{db: db}
}

func (r *GormAccountRepository) FindByID(ctx context.Context, uid string) (*domain.Account, error) {
	var model AccountModel
	if err := conn(ctx, r.db).Where("uid = ?", uid).First(&model).Error; err != nil {
		return nil, translate(err, "find account %s", uid)
	}
	var badges []string
	err := conn(ctx, r.db).Model(&AccountBadgeModel{}).
		Where("uid = ?", uid).
		Order("badge").
		Pluck("badge", &badges).Error
	if err != nil {
		return nil, errors.Wrapf(err, "load badges of %s", uid)
	}
	return ToDomainAccount(&model, badges), nil
}

// IncrementCoins 使用 SQL 表达式自增，余额不足时不做任何修改
func (r *GormAccountRepository) IncrementCoins(ctx context.Context, uid string, delta int64) error {
	res := conn(ctx, r.db).Model(&AccountModel{}).
		Where("uid = ? AND coins + ? >= 0", uid, delta).
		Update("coins", gorm.Expr("coins + ?", delta))
	if res.Error != nil {
		return errors.Wrapf(res.Error, "increment coins of %s", uid)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	if err := r.mustExist(ctx, uid); err != nil {
		return err
	}
	return errors.Wrapf(domain.ErrInvalidArgument, "insufficient balance for %s", uid)
}

func (r *GormAccountRepository) SetPremium(ctx context.Context, uid string) error {
	return r.setFlag(ctx, uid, "premium")
}

func (r *GormAccountRepository) SetFlagged(ctx context.Context, uid string) error {
	return r.setFlag(ctx, uid, "flagged")
}

// setFlag 账户不存在时返回 ErrNotFound；标记已设置时 MySQL 报告 0 行变更，需要再确认一次
func (r *GormAccountRepository) setFlag(ctx context.Context, uid, column string) error {
	res := conn(ctx, r.db).Model(&AccountModel{}).Where("uid = ?", uid).Update(column, true)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "set %s on %s", column, uid)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	return r.mustExist(ctx, uid)
}

func (r *GormAccountRepository) mustExist(ctx context.Context, uid string) error {
	var n int64
	if err := conn(ctx, r.db).Model(&AccountModel{}).Where("uid = ?", uid).Count(&n).Error; err != nil {
		return errors.Wrapf(err, "check account %s", uid)
	}
	if n == 0 {
		return errors.Wrapf(domain.ErrNotFound, "account %s", uid)
	}
	return nil
}

func (r *GormAccountRepository) AddBadge(ctx context.Context, uid, badge string) error {
	err := conn(ctx, r.db).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&AccountBadgeModel{UID: uid, Badge: badge}).Error
	return errors.Wrapf(err, "add badge %s to %s", badge, uid)
}

func (r *GormAccountRepository) ListActiveSince(ctx context.Context, since time.Time) ([]*domain.Account, error) {
	var models []*AccountModel
	if err := conn(ctx, r.db).Where("last_active >= ?", since).Order("uid").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list active accounts")
	}
	accounts := make([]*domain.Account, len(models))
	for i, m := range models {
		accounts[i] = ToDomainAccount(m, nil)
	}
	return accounts, nil
}

// GormCreditRecordRepository 是 CreditRecordRepository 的 GORM 实现
type GormCreditRecordRepository struct {
	db *gorm.DB
}

func NewGormCreditRecordRepository(db *gorm.DB) *GormCreditRecordRepository {
	return &GormCreditRecordRepository{db: db}
}

func (r *GormCreditRecordRepository) Find(ctx context.Context, uid, key string) (*domain.CreditRecord, error) {
	var model CreditRecordModel
	err := conn(ctx, r.db).Where("uid = ? AND idem_key = ?", uid, key).First(&model).Error
	if err != nil {
		return nil, translate(err, "find credit record %s/%s", uid, key)
	}
	return ToDomainCreditRecord(&model), nil
}

func (r *GormCreditRecordRepository) FindLatest(ctx context.Context, uid, key string) (*domain.CreditRecord, error) {
	var model CreditRecordModel
	err := locked(ctx, r.db, clause.LockingStrengthUpdate).
		Where("uid = ? AND idem_key = ?", uid, key).
		First(&model).Error
	if err != nil {
		return nil, translate(err, "find credit record %s/%s", uid, key)
	}
	return ToDomainCreditRecord(&model), nil
}

func (r *GormCreditRecordRepository) Create(ctx context.Context, rec *domain.CreditRecord) error {
	return translate(conn(ctx, r.db).Create(FromDomainCreditRecord(rec)).Error, "create credit record %s/%s", rec.UID, rec.IdempotencyKey)
}

func (r *GormCreditRecordRepository) SetBalanceAfter(ctx context.Context, uid, key string, balance int64) error {
	err := conn(ctx, r.db).Model(&CreditRecordModel{}).
		Where("uid = ? AND idem_key = ?", uid, key).
		Update("balance_after", balance).Error
	return errors.Wrapf(err, "update credit record %s/%s", uid, key)
}
