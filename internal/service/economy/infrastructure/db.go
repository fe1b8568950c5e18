// internal/service/economy/infrastructure/db.go
package infrastructure

import (
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"jeutaime/internal/pkg/bootstrap"
	"jeutaime/internal/pkg/logger"
)

// gormWriter 把 gorm 的慢查询和错误日志写入 zerolog
type gormWriter struct{}

func (gormWriter) Printf(format string, args ...interface{}) {
	logger.L().Warn().Str("component", "gorm").Msgf(format, args...)
}

// NewGormLogger 返回只输出告警级别的 gorm 日志器
func NewGormLogger() gormlogger.Interface {
	return gormlogger.New(gormWriter{}, gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// OpenMySQL 按配置建立连接池，必要时执行 AutoMigrate
func OpenMySQL(cfg bootstrap.MySQLConfig) (*gorm.DB, error) {
	dsn, err := mysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "mysql: parse dsn")
	}
	// 时间统一按 UTC 存取
	dsn.ParseTime = true
	dsn.Loc = time.UTC

	db, err := gorm.Open(gormmysql.New(gormmysql.Config{DSN: dsn.FormatDSN(), DSNConfig: dsn}), &gorm.Config{
		Logger:         NewGormLogger(),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, errors.Wrap(err, "mysql: open")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLife)

	if cfg.AutoMigrate {
		if err := Migrate(db); err != nil {
			return nil, err
		}
	}
	logger.L().Info().Str("addr", dsn.Addr).Str("db", dsn.DBName).Msg("✅ Connected to MySQL.")
	return db, nil
}

// Migrate 创建或更新所有表
func Migrate(db *gorm.DB) error {
	return errors.Wrap(db.AutoMigrate(AllModels()...), "auto migrate")
}
