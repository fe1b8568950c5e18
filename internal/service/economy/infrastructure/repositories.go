// internal/service/economy/infrastructure/repositories.go
package infrastructure

import "gorm.io/gorm"

// Repositories 汇总同一个连接上的所有仓储实现，供组装根使用
type Repositories struct {
	Tx            *GormTxManager
	Accounts      *GormAccountRepository
	Credits       *GormCreditRecordRepository
	Codes         *GormCodeRepository
	Purchases     *GormPurchaseRepository
	Groups        *GormGroupRepository
	Bars          *GormBarRepository
	Admins        *GormAdminRepository
	Letters       *GormLetterRepository
	Notifications *GormNotificationRepository
}

func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Tx:            NewGormTxManager(db),
		Accounts:      NewGormAccountRepository(db),
		Credits:       NewGormCreditRecordRepository(db),
		Codes:         NewGormCodeRepository(db),
		Purchases:     NewGormPurchaseRepository(db),
		Groups:        NewGormGroupRepository(db),
		Bars:          NewGormBarRepository(db),
		Admins:        NewGormAdminRepository(db),
		Letters:       NewGormLetterRepository(db),
		Notifications: NewGormNotificationRepository(db),
	}
}
