// internal/service/economy/infrastructure/gorm_model.go
package infrastructure

import "time"

// AccountModel 对应 accounts 表
type AccountModel struct {
	UID        string `gorm:"primaryKey;size:64"`
	Coins      int64  `gorm:"not null;default:0"`
	Certified  bool   `gorm:"not null;default:false"`
	Premium    bool   `gorm:"not null;default:false"`
	Flagged    bool   `gorm:"not null;default:false"`
	LastActive time.Time `gorm:"index"`
	CreatedAt  time.Time
}

func (AccountModel) TableName() string { return "accounts" }

// AccountBadgeModel 是账户徽章集合，复合主键保证集合语义
type AccountBadgeModel struct {
	UID   string `gorm:"primaryKey;size:64"`
	Badge string `gorm:"primaryKey;size:32"`
}

func (AccountBadgeModel) TableName() string { return "account_badges" }

// CreditRecordModel 对应 credit_records 表，(uid, idem_key) 唯一
type CreditRecordModel struct {
	ID           uint   `gorm:"primaryKey"`
	UID          string `gorm:"size:64;not null;uniqueIndex:uk_credit_uid_key"`
	IdemKey      string `gorm:"size:128;not null;uniqueIndex:uk_credit_uid_key"`
	Amount       int64  `gorm:"not null"`
	BalanceAfter int64  `gorm:"not null"`
	CreatedAt    time.Time
}

func (CreditRecordModel) TableName() string { return "credit_records" }

// RedeemableCodeModel 对应 redeemable_codes 表
type RedeemableCodeModel struct {
	Code          string `gorm:"primaryKey;size:32"`
	Kind          string `gorm:"size:16;not null;index"`
	OwnerUID      string `gorm:"size:64;index"`
	ReferredEmail string `gorm:"size:255"`
	Reward        int64  `gorm:"not null"`
	Used          bool   `gorm:"not null;default:false"`
	UsedBy        string `gorm:"size:64"`
	UsedAt        *time.Time
	CreatedAt     time.Time
}

func (RedeemableCodeModel) TableName() string { return "redeemable_codes" }

// PurchaseModel 对应 purchases 表
type PurchaseModel struct {
	ID           string `gorm:"primaryKey;size:36"`
	OwnerUID     string `gorm:"size:64;not null;index"`
	Kind         string `gorm:"size:16;not null"`
	Amount       int64  `gorm:"not null"`
	Status       string `gorm:"size:16;not null;index"`
	SessionToken string `gorm:"size:128;not null;uniqueIndex"`
	CreatedAt    time.Time
	SettledAt    *time.Time
}

func (PurchaseModel) TableName() string { return "purchases" }

// GroupModel 对应 bar_groups 表，(bar_id, cycle) 唯一保证每周期只有一个小组
type GroupModel struct {
	ID        string    `gorm:"primaryKey;size:36"`
	BarID     string    `gorm:"size:64;not null;uniqueIndex:uk_group_bar_cycle"`
	Cycle     string    `gorm:"size:16;not null;uniqueIndex:uk_group_bar_cycle"`
	Name      string    `gorm:"size:255"`
	Active    bool      `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null;index"`
	CreatedAt time.Time
}

func (GroupModel) TableName() string { return "bar_groups" }

// GroupMemberModel 小组成员集合
type GroupMemberModel struct {
	GroupID   string `gorm:"primaryKey;size:36"`
	UID       string `gorm:"primaryKey;size:64"`
	CreatedAt time.Time
}

func (GroupMemberModel) TableName() string { return "group_members" }

// NotificationModel 对应 notifications 表
type NotificationModel struct {
	ID        string `gorm:"primaryKey;size:36"`
	EventID   string `gorm:"size:64;index"`
	UID       string `gorm:"size:64;not null;index"`
	Type      string `gorm:"size:32;not null"`
	Payload   map[string]string `gorm:"serializer:json;type:text"`
	Read      bool `gorm:"not null;default:false"`
	CreatedAt time.Time
}

func (NotificationModel) TableName() string { return "notifications" }

// 以下是只读或只打标记的外部集合

type BarModel struct {
	ID      string `gorm:"primaryKey;size:64"`
	Name    string `gorm:"size:255"`
	Active  bool   `gorm:"not null;index"`
	Flagged bool   `gorm:"not null;default:false"`
}

func (BarModel) TableName() string { return "bars" }

type AdminModel struct {
	UID string `gorm:"primaryKey;size:64"`
}

func (AdminModel) TableName() string { return "admins" }

type LetterThreadModel struct {
	ID           string `gorm:"primaryKey;size:64"`
	Participants []string `gorm:"serializer:json;type:text"`
}

func (LetterThreadModel) TableName() string { return "letter_threads" }

type LetterMessageModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	ThreadID  string `gorm:"size:64;index"`
	AuthorUID string `gorm:"size:64"`
	Flagged   bool   `gorm:"not null;default:false"`
	CreatedAt time.Time
}

func (LetterMessageModel) TableName() string { return "letter_messages" }

// AllModels 用于 AutoMigrate
func AllModels() []interface{} {
	return []interface{}{
		&AccountModel{}, &AccountBadgeModel{}, &CreditRecordModel{},
		&RedeemableCodeModel{}, &PurchaseModel{},
		&GroupModel{}, &GroupMemberModel{},
		&NotificationModel{},
		&BarModel{}, &AdminModel{}, &LetterThreadModel{}, &LetterMessageModel{},
	}
}
