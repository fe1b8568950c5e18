// Package dbtest 为测试提供隔离的内存数据库
package dbtest

import (
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"jeutaime/internal/service/economy/infrastructure"
)

// Open 返回一个已建表的内存 SQLite。
// 只保留一个连接：SQLite 没有行锁，串行化连接等价于把每个事务当成整库锁，并发测试也不会出现 SQLITE_BUSY。
func Open(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Discard,
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, infrastructure.Migrate(db))
	return db
}

// Seed 逐个插入模型，任何失败都会终止测试
func Seed(t testing.TB, db *gorm.DB, models ...interface{}) {
	t.Helper()
	for _, m := range models {
		require.NoError(t, db.Create(m).Error)
	}
}
