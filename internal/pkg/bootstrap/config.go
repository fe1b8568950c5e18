// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config 是所有进程共享的配置结构。YAML 文件提供基线，环境变量覆盖敏感项和部署相关项。
type Config struct {
	App     AppConfig     `yaml:"app"`
	Infra   InfraConfig   `yaml:"infra"`
	Auth    AuthConfig    `yaml:"auth"`
	Economy EconomyConfig `yaml:"economy"`
	Jobs    JobsConfig    `yaml:"jobs"`
}

type AppConfig struct {
	Env       string `yaml:"env"`
	Port      int    `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

type InfraConfig struct {
	MySQL     MySQLConfig     `yaml:"mysql"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Jaeger    JaegerConfig    `yaml:"jaeger"`
	Nacos     NacosConfig     `yaml:"nacos"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
	Payment   PaymentConfig   `yaml:"payment"`
}

type MySQLConfig struct {
	DSN          string        `yaml:"dsn"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	ConnMaxLife  time.Duration `yaml:"conn_max_life"`
	AutoMigrate  bool          `yaml:"auto_migrate"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	DedupTTL time.Duration `yaml:"dedup_ttl"`
}

type KafkaConfig struct {
	Brokers            []string `yaml:"brokers"`
	ConsumerGroup      string   `yaml:"consumer_group"`
	DomainEventsTopic  string   `yaml:"domain_events_topic"`
	SettlementsTopic   string   `yaml:"settlements_topic"`
	NotificationsTopic string   `yaml:"notifications_topic"`
}

type JaegerConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type NacosConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServerAddrs string `yaml:"server_addrs"`
	Namespace   string `yaml:"namespace"`
	Group       string `yaml:"group"`
}

type ZookeeperConfig struct {
	Servers        []string      `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
}

// PaymentConfig 决定 PaymentGateway 的实现：endpoint 为空时使用模拟网关
type PaymentConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	Issuer    string        `yaml:"issuer"`
	Leeway    time.Duration `yaml:"leeway"`
}

// EconomyConfig 固定奖励金额
type EconomyConfig struct {
	PromoDefaultReward int64         `yaml:"promo_default_reward"`
	ReferralBonus      int64         `yaml:"referral_bonus"`
	DailyBonus         int64         `yaml:"daily_bonus"`
	GroupTTL           time.Duration `yaml:"group_ttl"`
}

type JobsConfig struct {
	WeeklyCompositionCron string        `yaml:"weekly_composition_cron"`
	ExpirySweepCron       string        `yaml:"expiry_sweep_cron"`
	DailyBonusCron        string        `yaml:"daily_bonus_cron"`
	ActiveLookback        time.Duration `yaml:"active_lookback"`
	BonusEligibility      string        `yaml:"bonus_eligibility"`
	Concurrency           int           `yaml:"concurrency"`
	Timezone              string        `yaml:"timezone"`
}

// DefaultConfig 返回可在本地直接运行的默认值
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{Env: "dev", Port: 8090, LogLevel: "info", LogFormat: "json"},
		Infra: InfraConfig{
			MySQL: MySQLConfig{
				DSN:          "root:root@tcp(localhost:3306)/jeutaime?charset=utf8mb4&parseTime=True&loc=UTC",
				MaxOpenConns: 50,
				MaxIdleConns: 10,
				ConnMaxLife:  30 * time.Minute,
			},
			Redis: RedisConfig{Addr: "localhost:6379", DedupTTL: 24 * time.Hour},
			Kafka: KafkaConfig{
				Brokers:            []string{"localhost:9092"},
				ConsumerGroup:      "economy-service",
				DomainEventsTopic:  "economy.domain-events",
				SettlementsTopic:   "payments.settlements",
				NotificationsTopic: "notifications",
			},
			Nacos:     NacosConfig{Group: "DEFAULT_GROUP"},
			Zookeeper: ZookeeperConfig{SessionTimeout: 10 * time.Second},
			Payment:   PaymentConfig{Timeout: 5 * time.Second},
		},
		Auth: AuthConfig{Issuer: "jeutaime", Leeway: 30 * time.Second},
		Economy: EconomyConfig{
			PromoDefaultReward: 20,
			ReferralBonus:      10,
			DailyBonus:         5,
			GroupTTL:           7 * 24 * time.Hour,
		},
		Jobs: JobsConfig{
			WeeklyCompositionCron: "0 1 * * 1",
			ExpirySweepCron:       "0 1 * * *",
			DailyBonusCron:        "0 0 * * *",
			ActiveLookback:        7 * 24 * time.Hour,
			BonusEligibility:      "!flagged",
			Concurrency:           8,
			Timezone:              "UTC",
		},
	}
}

var current atomic.Pointer[Config]

// GetCurrentConfig 返回最近一次加载的配置；尚未加载时返回默认配置
func GetCurrentConfig() *Config {
	if cfg := current.Load(); cfg != nil {
		return cfg
	}
	return DefaultConfig()
}

// LoadConfig 读取 YAML 文件（可选）并应用环境变量覆盖
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, cfg); err != nil {
				return nil, errors.Wrapf(err, "config: parse %s", path)
			}
		case os.IsNotExist(err):
			// 没有配置文件时只使用默认值和环境变量
		default:
			return nil, errors.Wrapf(err, "config: read %s", path)
		}
	}
	applyEnv(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	current.Store(cfg)
	return cfg, nil
}

func (c *Config) validate() error {
	if c.App.Port <= 0 {
		return errors.New("config: app.port must be positive")
	}
	if c.Economy.ReferralBonus <= 0 || c.Economy.DailyBonus <= 0 || c.Economy.PromoDefaultReward <= 0 {
		return errors.New("config: economy rewards must be positive")
	}
	if c.Economy.GroupTTL <= 0 {
		return errors.New("config: economy.group_ttl must be positive")
	}
	if c.Jobs.Concurrency <= 0 {
		c.Jobs.Concurrency = 1
	}
	return nil
}

func applyEnv(c *Config) {
	setString(&c.App.Env, "APP_ENV")
	setInt(&c.App.Port, "APP_PORT")
	setString(&c.App.LogLevel, "LOG_LEVEL")
	setString(&c.Infra.MySQL.DSN, "MYSQL_DSN")
	setString(&c.Infra.Redis.Addr, "REDIS_ADDR")
	setString(&c.Infra.Redis.Password, "REDIS_PASSWORD")
	setList(&c.Infra.Kafka.Brokers, "KAFKA_BROKERS")
	setString(&c.Infra.Jaeger.Endpoint, "JAEGER_ENDPOINT")
	setString(&c.Infra.Nacos.ServerAddrs, "NACOS_SERVER_ADDRS")
	setString(&c.Infra.Nacos.Namespace, "NACOS_NAMESPACE")
	setString(&c.Infra.Nacos.Group, "NACOS_GROUP")
	if c.Infra.Nacos.ServerAddrs != "" && os.Getenv("NACOS_SERVER_ADDRS") != "" {
		c.Infra.Nacos.Enabled = true
	}
	setList(&c.Infra.Zookeeper.Servers, "ZK_SERVERS")
	setString(&c.Infra.Payment.Endpoint, "PAYMENT_ENDPOINT")
	setString(&c.Auth.JWTSecret, "JWT_SECRET")
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func setString(dst *string, key string) {
	*dst = getEnv(key, *dst)
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setList(dst *[]string, key string) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}
