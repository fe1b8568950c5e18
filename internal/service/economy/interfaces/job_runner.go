package interfaces

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"jeutaime/internal/pkg/logger"
	"jeutaime/internal/pkg/zookeeper"
	"jeutaime/internal/service/economy/domain"
)

// Job 是一个可以被定时触发的批处理
type Job func(ctx context.Context) (domain.JobReport, error)

// JobLocker 保证同一时刻只有一个副本执行某个任务
type JobLocker interface {
	Acquire(ctx context.Context, resourceID string) (func(), error)
}

type registeredJob struct {
	name string
	spec string
	run  Job
}

// JobRunner 按 cron 表达式触发任务，每次执行前先获取分布式锁
type JobRunner struct {
	cron     *cron.Cron
	locker   JobLocker
	lockWait time.Duration
	tracer   trace.Tracer

	mu   sync.Mutex
	jobs map[string]*registeredJob
	// base 是任务执行使用的根 ctx，Run 开始时设置
	base context.Context
}

// NewJobRunner locker 为 nil 时不加锁，仅适合单副本部署
func NewJobRunner(loc *time.Location, locker JobLocker, lockWait time.Duration, tracer trace.Tracer) *JobRunner {
	if loc == nil {
		loc = time.UTC
	}
	if lockWait <= 0 {
		lockWait = 5 * time.Second
	}
	return &JobRunner{
		cron:     cron.New(cron.WithLocation(loc)),
		locker:   locker,
		lockWait: lockWait,
		tracer:   tracer,
		jobs:     make(map[string]*registeredJob),
		base:     context.Background(),
	}
}

// Register 注册一个任务，spec 使用标准的 5 段 cron 表达式
func (r *JobRunner) Register(name, spec string, job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.jobs[name]; dup {
		return errors.Errorf("job %s already registered", name)
	}
	j := &registeredJob{name: name, spec: spec, run: job}
	if _, err := r.cron.AddFunc(spec, func() { _, _ = r.execute(r.baseCtx(), j) }); err != nil {
		return errors.Wrapf(err, "invalid cron spec %q for job %s", spec, name)
	}
	r.jobs[name] = j
	return nil
}

func (r *JobRunner) baseCtx() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.base
}

// RunOnce 立即执行一次指定任务，用于运维手动触发
func (r *JobRunner) RunOnce(ctx context.Context, name string) (domain.JobReport, error) {
	r.mu.Lock()
	j, ok := r.jobs[name]
	r.mu.Unlock()
	if !ok {
		return domain.JobReport{}, errors.Wrapf(domain.ErrNotFound, "job %s", name)
	}
	return r.execute(ctx, j)
}

// Run 启动调度并阻塞到 ctx 取消，返回前等待正在执行的任务结束
func (r *JobRunner) Run(ctx context.Context) error {
	r.mu.Lock()
	r.base = ctx
	for name, j := range r.jobs {
		logger.Ctx(ctx).Info().Str("job", name).Str("spec", j.spec).Msg("job scheduled")
	}
	r.mu.Unlock()

	r.cron.Start()
	<-ctx.Done()
	logger.Ctx(ctx).Info().Msg("🛑 Job runner shutting down, waiting for running jobs.")
	<-r.cron.Stop().Done()
	return nil
}

func (r *JobRunner) execute(ctx context.Context, j *registeredJob) (domain.JobReport, error) {
	ctx, span := r.tracer.Start(ctx, "job."+j.name)
	defer span.End()
	runID := uuid.NewString()
	span.SetAttributes(attribute.String("job.name", j.name), attribute.String("job.run_id", runID))
	log := logger.Ctx(ctx).With().Str("job", j.name).Str("run_id", runID).Logger()

	if r.locker != nil {
		lockCtx, cancel := context.WithTimeout(ctx, r.lockWait)
		release, err := r.locker.Acquire(lockCtx, "job-"+j.name)
		cancel()
		if err != nil {
			if errors.Is(err, zookeeper.ErrLockTimeout) || errors.Is(err, context.DeadlineExceeded) {
				log.Info().Msg("job is running on another replica, skipped")
				return domain.JobReport{}, nil
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Error().Err(err).Msg("failed to acquire job lock")
			return domain.JobReport{}, err
		}
		defer release()
	}

	start := time.Now()
	report, err := j.run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("job failed")
		return report, err
	}
	span.SetAttributes(
		attribute.Int("job.processed", report.Processed),
		attribute.Int("job.skipped", report.Skipped),
		attribute.Int("job.failed", report.Failed),
	)
	log.Info().Interface("report", report).Dur("elapsed", time.Since(start)).Msg("job finished")
	return report, nil
}
