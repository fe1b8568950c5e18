// cmd/economy-scheduler/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"

	"jeutaime/internal/pkg/bootstrap"
	"jeutaime/internal/pkg/logger"
	"jeutaime/internal/pkg/mq"
	"jeutaime/internal/pkg/zookeeper"
	"jeutaime/internal/service/economy/application"
	"jeutaime/internal/service/economy/infrastructure"
	"jeutaime/internal/service/economy/infrastructure/adapter"
	"jeutaime/internal/service/economy/infrastructure/rule"
	"jeutaime/internal/service/economy/interfaces"
)

const serviceName = "economy-scheduler"

const (
	jobComposeWeekly = "compose_weekly"
	jobSweepExpired  = "sweep_expired"
	jobDailyBonus    = "daily_bonus"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "economy-scheduler",
		Short: "Runs the periodic group and bonus jobs",
	}
	rootCmd.AddCommand(serveCmd(), runCmd(), migrateCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// scheduler 是任务运行器和它需要关闭的资源
type scheduler struct {
	runner *interfaces.JobRunner
	close  []func() error
}

func serveCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Schedule all jobs by cron and expose /healthz and /metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := bootstrap.Init(serviceName)
			if port > 0 {
				cfg.App.Port = port
			}
			s, err := newScheduler(cfg, true)
			if err != nil {
				return err
			}
			bootstrap.StartService(bootstrap.AppInfo{
				ServiceName: serviceName,
				RegisterHandlers: func(appCtx bootstrap.AppCtx) {
					interfaces.RegisterOpsRoutes(appCtx.Mux)
				},
				Workers:    []func(ctx context.Context) error{s.runner.Run},
				OnShutdown: []func(ctx context.Context){func(context.Context) { s.shutdown() }},
			})
			return nil
		},
	}
	// 与 economy-service 共用配置文件时需要错开端口
	cmd.Flags().IntVar(&port, "port", 0, "override app.port")
	return cmd
}

func runCmd() *cobra.Command {
	var withLock bool
	cmd := &cobra.Command{
		Use:       "run [job]",
		Short:     "Run one job immediately and print its report",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{jobComposeWeekly, jobSweepExpired, jobDailyBonus},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := bootstrap.Init(serviceName)
			s, err := newScheduler(cfg, withLock)
			if err != nil {
				return err
			}
			defer s.shutdown()

			report, err := s.runner.RunOnce(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "processed=%d skipped=%d failed=%d\n", report.Processed, report.Skipped, report.Failed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&withLock, "lock", true, "acquire the zookeeper job lock before running")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := bootstrap.Init(serviceName)
			db, err := infrastructure.OpenMySQL(cfg.Infra.MySQL)
			if err != nil {
				return err
			}
			defer closeDB(db)
			if err := infrastructure.Migrate(db); err != nil {
				return err
			}
			logger.L().Info().Msg("✅ schema migrated")
			return nil
		},
	}
}

func newScheduler(cfg *bootstrap.Config, withLock bool) (*scheduler, error) {
	log := logger.L()
	tracer := otel.Tracer(serviceName)
	s := &scheduler{}

	loc, err := time.LoadLocation(cfg.Jobs.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "load timezone %q", cfg.Jobs.Timezone)
	}

	db, err := infrastructure.OpenMySQL(cfg.Infra.MySQL)
	if err != nil {
		return nil, err
	}
	s.close = append(s.close, func() error { closeDB(db); return nil })
	repos := infrastructure.NewRepositories(db)

	policy, err := rule.NewCELEligibilityPolicy(cfg.Jobs.BonusEligibility)
	if err != nil {
		return nil, err
	}

	// 奖励事件写回事件主题，由 economy-service 的消费者扇出通知
	events := adapter.NewEventKafkaAdapter(mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.DomainEventsTopic))
	s.close = append(s.close, events.Close)

	ledger := application.NewLedgerService(repos.Tx, repos.Accounts, repos.Credits, repos.Purchases, nil, tracer)
	membership := application.NewMembershipService(repos.Tx, repos.Groups, repos.Bars, application.MembershipConfig{
		GroupTTL:    cfg.Economy.GroupTTL,
		Concurrency: cfg.Jobs.Concurrency,
		Location:    loc,
	}, tracer)
	bonus := application.NewBonusService(repos.Accounts, ledger, policy, events, application.BonusConfig{
		Amount:      cfg.Economy.DailyBonus,
		Lookback:    cfg.Jobs.ActiveLookback,
		Concurrency: cfg.Jobs.Concurrency,
		Location:    loc,
	}, tracer)

	var locker interfaces.JobLocker
	if withLock && len(cfg.Infra.Zookeeper.Servers) > 0 {
		conn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, cfg.Infra.Zookeeper.SessionTimeout)
		if err != nil {
			return nil, err
		}
		s.close = append(s.close, func() error { conn.Close(); return nil })
		locker = zookeeper.NewLocker(conn)
	} else {
		log.Warn().Msg("⚠️ zookeeper not configured, jobs run without a distributed lock")
	}

	s.runner = interfaces.NewJobRunner(loc, locker, 5*time.Second, tracer)
	for _, j := range []struct {
		name, spec string
		job        interfaces.Job
	}{
		{jobComposeWeekly, cfg.Jobs.WeeklyCompositionCron, membership.ComposeWeekly},
		{jobSweepExpired, cfg.Jobs.ExpirySweepCron, membership.SweepExpired},
		{jobDailyBonus, cfg.Jobs.DailyBonusCron, bonus.GrantDaily},
	} {
		if err := s.runner.Register(j.name, j.spec, j.job); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *scheduler) shutdown() {
	for i := len(s.close) - 1; i >= 0; i-- {
		if err := s.close[i](); err != nil {
			logger.L().Warn().Err(err).Msg("failed to release resource")
		}
	}
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
