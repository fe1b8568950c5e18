// internal/service/economy/infrastructure/gorm_readmodel_repository.go
package infrastructure

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"jeutaime/internal/service/economy/domain"
)

// 酒吧、管理员和信件由其他服务维护，这里只读取或打标记

type GormBarRepository struct {
	db *gorm.DB
}

func NewGormBarRepository(db *gorm.DB) *GormBarRepository {
	return &GormBarRepository{db: db}
}

func (r *GormBarRepository) ListActive(ctx context.Context) ([]*domain.Bar, error) {
	var models []*BarModel
	if err := conn(ctx, r.db).Where("active = ?", true).Order("id").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list active bars")
	}
	bars := make([]*domain.Bar, len(models))
	for i, m := range models {
		bars[i] = ToDomainBar(m)
	}
	return bars, nil
}

func (r *GormBarRepository) SetFlagged(ctx context.Context, barID string) error {
	err := conn(ctx, r.db).Model(&BarModel{}).Where("id = ?", barID).Update("flagged", true).Error
	return errors.Wrapf(err, "flag bar %s", barID)
}

type GormAdminRepository struct {
	db *gorm.DB
}

func NewGormAdminRepository(db *gorm.DB) *GormAdminRepository {
	return &GormAdminRepository{db: db}
}

func (r *GormAdminRepository) IsAdmin(ctx context.Context, uid string) (bool, error) {
	var n int64
	if err := conn(ctx, r.db).Model(&AdminModel{}).Where("uid = ?", uid).Count(&n).Error; err != nil {
		return false, errors.Wrapf(err, "check admin %s", uid)
	}
	return n > 0, nil
}

func (r *GormAdminRepository) ListUIDs(ctx context.Context) ([]string, error) {
	var uids []string
	if err := conn(ctx, r.db).Model(&AdminModel{}).Order("uid").Pluck("uid", &uids).Error; err != nil {
		return nil, errors.Wrap(err, "list admins")
	}
	return uids, nil
}

type GormLetterRepository struct {
	db *gorm.DB
}

func NewGormLetterRepository(db *gorm.DB) *GormLetterRepository {
	return &GormLetterRepository{db: db}
}

func (r *GormLetterRepository) ThreadParticipants(ctx context.Context, threadID string) ([]string, error) {
	var model LetterThreadModel
	if err := conn(ctx, r.db).Where("id = ?", threadID).First(&model).Error; err != nil {
		return nil, translate(err, "find thread %s", threadID)
	}
	return model.Participants, nil
}

func (r *GormLetterRepository) FlagMessage(ctx context.Context, messageID string) error {
	err := conn(ctx, r.db).Model(&LetterMessageModel{}).Where("id = ?", messageID).Update("flagged", true).Error
	return errors.Wrapf(err, "flag letter %s", messageID)
}

// GormNotificationRepository 是 NotificationRepository 的 GORM 实现
type GormNotificationRepository struct {
	db *gorm.DB
}

func NewGormNotificationRepository(db *gorm.DB) *GormNotificationRepository {
	return &GormNotificationRepository{db: db}
}

func (r *GormNotificationRepository) Create(ctx context.Context, n *domain.Notification) error {
	return translate(conn(ctx, r.db).Create(FromDomainNotification(n)).Error, "create notification for %s", n.UID)
}

func (r *GormNotificationRepository) ListByUID(ctx context.Context, uid string, limit int) ([]*domain.Notification, error) {
	var models []*NotificationModel
	err := conn(ctx, r.db).Where("uid = ?", uid).Order("created_at DESC").Limit(limit).Find(&models).Error
	if err != nil {
		return nil, errors.Wrapf(err, "list notifications of %s", uid)
	}
	out := make([]*domain.Notification, len(models))
	for i, m := range models {
		out[i] = ToDomainNotification(m)
	}
	return out, nil
}
