// internal/service/economy/infrastructure/gorm_code_repository.go
package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"jeutaime/internal/service/economy/domain"
)

// GormCodeRepository 是 CodeRepository 的 GORM 实现
type GormCodeRepository struct {
	db *gorm.DB
}

func NewGormCodeRepository(db *gorm.DB) *GormCodeRepository {
	return &GormCodeRepository{db: db}
}

func (r *GormCodeRepository) FindByCode(ctx context.Context, code string) (*domain.RedeemableCode, error) {
	var model RedeemableCodeModel
	if err := conn(ctx, r.db).Where("code = ?", code).First(&model).Error; err != nil {
		return nil, translate(err, "find code %s", code)
	}
	return ToDomainCode(&model), nil
}

func (r *GormCodeRepository) FindByCodeForUpdate(ctx context.Context, code string) (*domain.RedeemableCode, error) {
	var model RedeemableCodeModel
	err := locked(ctx, r.db, clause.LockingStrengthUpdate).Where("code = ?", code).First(&model).Error
	if err != nil {
		return nil, translate(err, "find code %s", code)
	}
	return ToDomainCode(&model), nil
}

func (r *GormCodeRepository) Create(ctx context.Context, code *domain.RedeemableCode) error {
	return translate(conn(ctx, r.db).Create(FromDomainCode(code)).Error, "create code %s", code.Code)
}

// MarkUsed 只有 used = false 的行会被更新，影响行数为 1 即本次调用赢得了兑换
func (r *GormCodeRepository) MarkUsed(ctx context.Context, code, uid string, at time.Time) (bool, error) {
	res := conn(ctx, r.db).Model(&RedeemableCodeModel{}).
		Where("code = ? AND used = ?", code, false).
		Updates(map[string]interface{}{"used": true, "used_by": uid, "used_at": at})
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "mark code %s used", code)
	}
	return res.RowsAffected == 1, nil
}
