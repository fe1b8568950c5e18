// internal/service/economy/infrastructure/gorm_purchase_repository.go
package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"jeutaime/internal/service/economy/domain"
)

// GormPurchaseRepository 是 PurchaseRepository 的 GORM 实现
type GormPurchaseRepository struct {
	db *gorm.DB
}

func NewGormPurchaseRepository(db *gorm.DB) *GormPurchaseRepository {
	return &GormPurchaseRepository{db: db}
}

func (r *GormPurchaseRepository) Create(ctx context.Context, p *domain.Purchase) error {
	return translate(conn(ctx, r.db).Create(FromDomainPurchase(p)).Error, "create purchase %s", p.ID)
}

func (r *GormPurchaseRepository) FindByID(ctx context.Context, id string) (*domain.Purchase, error) {
	var model PurchaseModel
	if err := conn(ctx, r.db).Where("id = ?", id).First(&model).Error; err != nil {
		return nil, translate(err, "find purchase %s", id)
	}
	return ToDomainPurchase(&model), nil
}

// FindBySessionToken 在事务中锁定购买记录，同一会话的并发结算会在这里排队
func (r *GormPurchaseRepository) FindBySessionToken(ctx context.Context, token string) (*domain.Purchase, error) {
	var model PurchaseModel
	err := locked(ctx, r.db, clause.LockingStrengthUpdate).Where("session_token = ?", token).First(&model).Error
	if err != nil {
		return nil, translate(err, "find purchase by session %s", token)
	}
	return ToDomainPurchase(&model), nil
}

func (r *GormPurchaseRepository) TransitionStatus(ctx context.Context, id string, from, to domain.PurchaseStatus, at time.Time) (bool, error) {
	res := conn(ctx, r.db).Model(&PurchaseModel{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(map[string]interface{}{"status": string(to), "settled_at": at})
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "transition purchase %s", id)
	}
	return res.RowsAffected == 1, nil
}
