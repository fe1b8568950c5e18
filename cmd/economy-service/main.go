// cmd/economy-service/main.go
package main

import (
	"context"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"jeutaime/internal/pkg/auth"
	"jeutaime/internal/pkg/bootstrap"
	"jeutaime/internal/pkg/httpclient"
	"jeutaime/internal/pkg/logger"
	"jeutaime/internal/pkg/mq"
	"jeutaime/internal/pkg/redis"
	"jeutaime/internal/service/economy/application"
	"jeutaime/internal/service/economy/domain/port"
	"jeutaime/internal/service/economy/infrastructure"
	"jeutaime/internal/service/economy/infrastructure/adapter"
	"jeutaime/internal/service/economy/interfaces"
)

const (
	serviceName = "economy-service"
	// PAYMENT_ENDPOINT 以此前缀开头时通过 Nacos 发现支付网关
	nacosScheme = "nacos://"
)

// main 是组装根：创建并组装所有依赖，然后启动服务
func main() {
	cfg := bootstrap.Init(serviceName)
	log := logger.L()
	tracer := otel.Tracer(serviceName)
	kafkaCfg := cfg.Infra.Kafka

	db, err := infrastructure.OpenMySQL(cfg.Infra.MySQL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to mysql")
	}
	repos := infrastructure.NewRepositories(db)

	// Redis 只用于通知去重，连不上时降级为不去重
	var deduper port.Deduper
	redisClient, err := redis.NewClient(context.Background(), redis.Options{
		Addr:     cfg.Infra.Redis.Addr,
		Password: cfg.Infra.Redis.Password,
		DB:       cfg.Infra.Redis.DB,
	})
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ redis unavailable, notification dedupe disabled")
	} else if d, err := adapter.NewDedupeRedisAdapter(redisClient, cfg.Infra.Redis.DedupTTL); err != nil {
		log.Warn().Err(err).Msg("⚠️ failed to initialize notification dedupe")
	} else {
		deduper = d
	}

	gateway := newPaymentGateway(cfg, tracer)

	notificationWriter := mq.NewKafkaWriter(kafkaCfg.Brokers, kafkaCfg.NotificationsTopic)
	notifications := adapter.NewNotificationKafkaAdapter(notificationWriter)
	failures := mq.NewFailureHandler(kafkaCfg.Brokers)

	ledger := application.NewLedgerService(repos.Tx, repos.Accounts, repos.Credits, repos.Purchases, gateway, tracer)
	redemption := application.NewRedemptionService(repos.Tx, repos.Codes, repos.Admins, ledger, application.RewardConfig{
		PromoDefault: cfg.Economy.PromoDefaultReward,
		Referral:     cfg.Economy.ReferralBonus,
	}, tracer)
	membership := application.NewMembershipService(repos.Tx, repos.Groups, repos.Bars, application.MembershipConfig{
		GroupTTL:    cfg.Economy.GroupTTL,
		Concurrency: cfg.Jobs.Concurrency,
	}, tracer)
	fanout := application.NewFanoutService(repos.Accounts, repos.Admins, repos.Letters, repos.Bars,
		repos.Notifications, deduper, notifications, tracer)

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Leeway)
	hub := interfaces.NewHub()

	// 消费者
	eventConsumer := interfaces.NewEventConsumerAdapter(
		mq.NewKafkaReader(kafkaCfg.Brokers, kafkaCfg.DomainEventsTopic, kafkaCfg.ConsumerGroup), fanout, failures)
	settlementConsumer := interfaces.NewSettlementConsumerAdapter(
		mq.NewKafkaReader(kafkaCfg.Brokers, kafkaCfg.SettlementsTopic, kafkaCfg.ConsumerGroup), ledger, failures)
	eventDLT := interfaces.NewDltConsumerAdapter(
		mq.NewKafkaReader(kafkaCfg.Brokers, kafkaCfg.DomainEventsTopic+mq.DLTSuffix, kafkaCfg.ConsumerGroup+"-dlt"))
	settlementDLT := interfaces.NewDltConsumerAdapter(
		mq.NewKafkaReader(kafkaCfg.Brokers, kafkaCfg.SettlementsTopic+mq.DLTSuffix, kafkaCfg.ConsumerGroup+"-dlt"))
	// 每个节点独立消费全部通知
	pushConsumer := interfaces.NewNotificationPushConsumer(
		mq.NewKafkaReader(kafkaCfg.Brokers, kafkaCfg.NotificationsTopic, kafkaCfg.ConsumerGroup+"-push-"+bootstrap.Hostname()), hub)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			interfaces.NewEconomyHandler(ledger, redemption, membership, fanout).RegisterRoutes(appCtx.Mux)
			interfaces.NewPushHandler(hub, verifier).RegisterRoutes(appCtx.Mux)
		},
		Middleware: func(next http.Handler) http.Handler {
			return interfaces.WithTracePropagation(verifier.Middleware(next))
		},
		Workers: []func(ctx context.Context) error{
			eventConsumer.Run,
			settlementConsumer.Run,
			eventDLT.Run,
			settlementDLT.Run,
			pushConsumer.Run,
		},
		OnShutdown: []func(ctx context.Context){
			func(ctx context.Context) {
				for _, c := range []interface{ Close() error }{eventConsumer, settlementConsumer, eventDLT, settlementDLT, pushConsumer, notifications, failures} {
					if err := c.Close(); err != nil {
						logger.Ctx(ctx).Warn().Err(err).Msg("failed to close kafka client")
					}
				}
			},
			func(ctx context.Context) {
				if redisClient != nil {
					_ = redisClient.Close()
				}
				if sqlDB, err := db.DB(); err == nil {
					_ = sqlDB.Close()
				}
			},
		},
	})
}

// newPaymentGateway 按配置选择支付网关实现：未配置时使用模拟网关
func newPaymentGateway(cfg *bootstrap.Config, tracer trace.Tracer) port.PaymentGateway {
	log := logger.L()
	endpoint := cfg.Infra.Payment.Endpoint
	if endpoint == "" {
		log.Warn().Msg("⚠️ payment endpoint not configured, using simulated gateway")
		return adapter.NewSimulatedPaymentAdapter()
	}

	client := httpclient.NewClient(tracer, cfg.Infra.Payment.Timeout)
	name, viaNacos := strings.CutPrefix(endpoint, nacosScheme)
	if !viaNacos {
		return adapter.NewPaymentHTTPAdapter(client, adapter.StaticEndpoint(endpoint))
	}

	naming, err := bootstrap.NamingClient(cfg.Infra.Nacos)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize nacos client for payment discovery")
	}
	return adapter.NewPaymentHTTPAdapter(client, adapter.NacosEndpoint(naming, name))
}
