// internal/service/economy/infrastructure/errors.go
package infrastructure

import (
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"jeutaime/internal/service/economy/domain"
)

const mysqlErrDuplicateEntry = 1062

// isDuplicateKey 识别 MySQL 和 SQLite 的唯一约束冲突
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == mysqlErrDuplicateEntry {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// translate 把 gorm 错误转换为领域错误
func translate(err error, format string, args ...interface{}) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errors.Wrapf(domain.ErrNotFound, format, args...)
	case isDuplicateKey(err):
		return errors.Wrapf(domain.ErrDuplicateKey, format, args...)
	default:
		return errors.Wrapf(err, format, args...)
	}
}
