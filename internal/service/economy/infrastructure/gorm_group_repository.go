// internal/service/economy/infrastructure/gorm_group_repository.go
package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"jeutaime/internal/service/economy/domain"
)

// GormGroupRepository 是 GroupRepository 的 GORM 实现，成员存放在 group_members 集合表中
type GormGroupRepository struct {
	db *gorm.DB
}

func NewGormGroupRepository(db *gorm.DB) *GormGroupRepository {
	return &GormGroupRepository{db: db}
}

// FindActiveGroup 有多个候选时取最晚过期的那个
func (r *GormGroupRepository) FindActiveGroup(ctx context.Context, barID string, now time.Time) (*domain.Group, error) {
	var model GroupModel
	err := locked(ctx, r.db, clause.LockingStrengthShare).
		Where("bar_id = ? AND active = ? AND expires_at > ?", barID, true, now).
		Order("expires_at DESC").
		First(&model).Error
	if err != nil {
		return nil, translate(err, "find active group of bar %s", barID)
	}
	return r.withMembers(ctx, &model)
}

func (r *GormGroupRepository) FindByBarAndCycle(ctx context.Context, barID, cycle string) (*domain.Group, error) {
	var model GroupModel
	if err := conn(ctx, r.db).Where("bar_id = ? AND cycle = ?", barID, cycle).First(&model).Error; err != nil {
		return nil, translate(err, "find group of bar %s in %s", barID, cycle)
	}
	return r.withMembers(ctx, &model)
}

func (r *GormGroupRepository) FindByID(ctx context.Context, id string) (*domain.Group, error) {
	var model GroupModel
	if err := conn(ctx, r.db).Where("id = ?", id).First(&model).Error; err != nil {
		return nil, translate(err, "find group %s", id)
	}
	return r.withMembers(ctx, &model)
}

func (r *GormGroupRepository) Create(ctx context.Context, g *domain.Group) error {
	return translate(conn(ctx, r.db).Create(FromDomainGroup(g)).Error, "create group for bar %s", g.BarID)
}

// AddMember 集合添加：已是成员时什么都不做
func (r *GormGroupRepository) AddMember(ctx context.Context, groupID, uid string) error {
	err := conn(ctx, r.db).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&GroupMemberModel{GroupID: groupID, UID: uid}).Error
	return errors.Wrapf(err, "add %s to group %s", uid, groupID)
}

// RemoveMember 集合删除：不是成员时什么都不做
func (r *GormGroupRepository) RemoveMember(ctx context.Context, groupID, uid string) error {
	err := conn(ctx, r.db).Where("group_id = ? AND uid = ?", groupID, uid).Delete(&GroupMemberModel{}).Error
	return errors.Wrapf(err, "remove %s from group %s", uid, groupID)
}

func (r *GormGroupRepository) ListExpired(ctx context.Context, now time.Time) ([]*domain.Group, error) {
	var models []*GroupModel
	if err := conn(ctx, r.db).Where("expires_at <= ?", now).Order("expires_at").Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "list expired groups")
	}
	groups := make([]*domain.Group, len(models))
	for i, m := range models {
		groups[i] = ToDomainGroup(m, nil)
	}
	return groups, nil
}

// Delete 先删成员再删小组，调用方负责放在同一个事务中
func (r *GormGroupRepository) Delete(ctx context.Context, groupID string) error {
	db := conn(ctx, r.db)
	if err := db.Where("group_id = ?", groupID).Delete(&GroupMemberModel{}).Error; err != nil {
		return errors.Wrapf(err, "delete members of group %s", groupID)
	}
	res := db.Where("id = ?", groupID).Delete(&GroupModel{})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "delete group %s", groupID)
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(domain.ErrNotFound, "group %s", groupID)
	}
	return nil
}

func (r *GormGroupRepository) withMembers(ctx context.Context, model *GroupModel) (*domain.Group, error) {
	var members []string
	err := conn(ctx, r.db).Model(&GroupMemberModel{}).
		Where("group_id = ?", model.ID).
		Order("uid").
		Pluck("uid", &members).Error
	if err != nil {
		return nil, errors.Wrapf(err, "load members of group %s", model.ID)
	}
	return ToDomainGroup(model, members), nil
}
