// internal/service/economy/infrastructure/mapper.go
package infrastructure

import (
	"time"

	"jeutaime/internal/service/economy/domain"
)

// ToDomainAccount 将数据库模型转换为领域模型
func ToDomainAccount(model *AccountModel, badges []string) *domain.Account {
	if model == nil {
		return nil
	}
	return &domain.Account{
		UID:        model.UID,
		Coins:      model.Coins,
		Certified:  model.Certified,
		Premium:    model.Premium,
		Flagged:    model.Flagged,
		Badges:     badges,
		LastActive: model.LastActive,
		CreatedAt:  model.CreatedAt,
	}
}

func ToDomainCreditRecord(model *CreditRecordModel) *domain.CreditRecord {
	if model == nil {
		return nil
	}
	return &domain.CreditRecord{
		UID:            model.UID,
		IdempotencyKey: model.IdemKey,
		Amount:         model.Amount,
		BalanceAfter:   model.BalanceAfter,
		CreatedAt:      model.CreatedAt,
	}
}

func FromDomainCreditRecord(rec *domain.CreditRecord) *CreditRecordModel {
	return &CreditRecordModel{
		UID:          rec.UID,
		IdemKey:      rec.IdempotencyKey,
		Amount:       rec.Amount,
		BalanceAfter: rec.BalanceAfter,
		CreatedAt:    rec.CreatedAt,
	}
}

func ToDomainCode(model *RedeemableCodeModel) *domain.RedeemableCode {
	if model == nil {
		return nil
	}
	return &domain.RedeemableCode{
		Code:          model.Code,
		Kind:          domain.CodeKind(model.Kind),
		OwnerUID:      model.OwnerUID,
		ReferredEmail: model.ReferredEmail,
		Reward:        model.Reward,
		Used:          model.Used,
		UsedBy:        model.UsedBy,
		UsedAt:        derefTime(model.UsedAt),
		CreatedAt:     model.CreatedAt,
	}
}

func FromDomainCode(code *domain.RedeemableCode) *RedeemableCodeModel {
	return &RedeemableCodeModel{
		Code:          code.Code,
		Kind:          string(code.Kind),
		OwnerUID:      code.OwnerUID,
		ReferredEmail: code.ReferredEmail,
		Reward:        code.Reward,
		Used:          code.Used,
		UsedBy:        code.UsedBy,
		UsedAt:        refTime(code.UsedAt),
		CreatedAt:     code.CreatedAt,
	}
}

func ToDomainPurchase(model *PurchaseModel) *domain.Purchase {
	if model == nil {
		return nil
	}
	return &domain.Purchase{
		ID:           model.ID,
		OwnerUID:     model.OwnerUID,
		Kind:         domain.PurchaseKind(model.Kind),
		Amount:       model.Amount,
		Status:       domain.PurchaseStatus(model.Status),
		SessionToken: model.SessionToken,
		CreatedAt:    model.CreatedAt,
		SettledAt:    derefTime(model.SettledAt),
	}
}

func FromDomainPurchase(p *domain.Purchase) *PurchaseModel {
	return &PurchaseModel{
		ID:           p.ID,
		OwnerUID:     p.OwnerUID,
		Kind:         string(p.Kind),
		Amount:       p.Amount,
		Status:       string(p.Status),
		SessionToken: p.SessionToken,
		CreatedAt:    p.CreatedAt,
		SettledAt:    refTime(p.SettledAt),
	}
}

func ToDomainGroup(model *GroupModel, members []string) *domain.Group {
	if model == nil {
		return nil
	}
	return &domain.Group{
		ID:        model.ID,
		BarID:     model.BarID,
		Name:      model.Name,
		Cycle:     model.Cycle,
		Active:    model.Active,
		Members:   members,
		ExpiresAt: model.ExpiresAt,
		CreatedAt: model.CreatedAt,
	}
}

func FromDomainGroup(g *domain.Group) *GroupModel {
	return &GroupModel{
		ID:        g.ID,
		BarID:     g.BarID,
		Cycle:     g.Cycle,
		Name:      g.Name,
		Active:    g.Active,
		ExpiresAt: g.ExpiresAt,
		CreatedAt: g.CreatedAt,
	}
}

func ToDomainBar(model *BarModel) *domain.Bar {
	return &domain.Bar{ID: model.ID, Name: model.Name, Active: model.Active, Flagged: model.Flagged}
}

func ToDomainNotification(model *NotificationModel) *domain.Notification {
	if model == nil {
		return nil
	}
	return &domain.Notification{
		ID:        model.ID,
		EventID:   model.EventID,
		UID:       model.UID,
		Type:      domain.NotificationType(model.Type),
		Payload:   model.Payload,
		Read:      model.Read,
		CreatedAt: model.CreatedAt,
	}
}

func FromDomainNotification(n *domain.Notification) *NotificationModel {
	return &NotificationModel{
		ID:        n.ID,
		EventID:   n.EventID,
		UID:       n.UID,
		Type:      string(n.Type),
		Payload:   n.Payload,
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
	}
}

func refTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
