// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"jeutaime/internal/pkg/logger"
	"jeutaime/internal/pkg/nacos"
	"jeutaime/internal/pkg/tracing"
)

type AppCtx struct {
	Mux    *http.ServeMux
	Config *Config
}

// AppInfo 包含了启动一个服务所需的所有特定信息。
type AppInfo struct {
	ServiceName string
	// RegisterHandlers 允许每个服务注册自己独特的 HTTP 路由
	RegisterHandlers func(appCtx AppCtx)
	// Middleware 包裹整个 mux（例如认证）
	Middleware func(http.Handler) http.Handler
	// Workers 是与 HTTP 服务并行运行的后台任务（Kafka 消费者、定时任务）。
	// ctx 在收到退出信号时被取消，任务应当尽快返回。
	Workers []func(ctx context.Context) error
	// OnShutdown 在 HTTP 服务和后台任务停止后按顺序执行
	OnShutdown []func(ctx context.Context)
}

// Init 加载配置并初始化日志，必须在 StartService 之前调用。
func Init(serviceName string) *Config {
	cfg, err := LoadConfig(getEnv("CONFIG_PATH", "configs/config.yaml"))
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to load config")
	}
	logger.Init(serviceName, cfg.App.LogLevel, cfg.App.LogFormat)
	return cfg
}

// StartService 封装了所有服务的通用启动和优雅关停逻辑。
func StartService(info AppInfo) {
	cfg := GetCurrentConfig()
	log := logger.L()

	// 1. Tracer
	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint, cfg.Infra.Jaeger.SampleRatio)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracer provider")
	}

	// 2. 可选：注册到 Nacos
	var (
		namingClient *nacos.Client
		instance     nacos.Instance
	)
	if cfg.Infra.Nacos.Enabled {
		namingClient, err = NamingClient(cfg.Infra.Nacos)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize nacos client")
		}
		ip, err := GetOutboundIP()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to get outbound IP address")
		}
		instance = nacos.Instance{
			Service:  info.ServiceName,
			IP:       ip,
			Port:     cfg.App.Port,
			Metadata: map[string]string{"env": cfg.App.Env, "host": Hostname()},
		}
		if err := namingClient.Register(instance); err != nil {
			log.Fatal().Err(err).Msg("failed to register service with nacos")
		}
	}

	// 3. 创建 HTTP Server
	mux := http.NewServeMux()
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux, Config: cfg})
	}
	var handler http.Handler = mux
	if info.Middleware != nil {
		handler = info.Middleware(mux)
	}
	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.App.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// 4. 启动 HTTP 服务和后台任务，任何一个失败都会触发整体退出
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Msgf("%s listening on :%d", info.ServiceName, cfg.App.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrapf(err, "listen on %s", server.Addr)
		}
		return nil
	})
	for _, worker := range info.Workers {
		worker := worker
		g.Go(func() error { return worker(gctx) })
	}
	g.Go(func() error {
		// 阻塞直到接收到退出信号或某个任务失败
		<-gctx.Done()
		log.Info().Msgf("Shutting down service %s...", info.ServiceName)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("service stopped with error")
	}

	// 5. 按顺序执行清理操作
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, fn := range info.OnShutdown {
		fn(shutdownCtx)
	}

	if namingClient != nil {
		if err := namingClient.Deregister(instance); err != nil {
			log.Error().Err(err).Msg("Error deregistering from Nacos")
		}
	}

	// 关闭 Tracer Provider，确保所有缓冲的 trace 都被发送出去
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error shutting down tracer provider")
	}

	log.Info().Msgf("Service %s gracefully shut down.", info.ServiceName)
}

// NamingClient 按配置创建 Nacos 客户端
func NamingClient(c NacosConfig) (*nacos.Client, error) {
	return nacos.NewNacosClient(nacos.Options{ServerAddrs: c.ServerAddrs, Namespace: c.Namespace, Group: c.Group})
}

// GetOutboundIP 获取本机对外通信使用的 IP，用于服务注册
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

// Hostname 返回主机名，失败时返回 "unknown"
func Hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
