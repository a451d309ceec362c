package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// JobFunc 定时任务
type JobFunc func(ctx context.Context) error

// Scheduler 任务调度器
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	log    zerolog.Logger
}

// NewScheduler 创建任务调度器, loc 为 cron 表达式所在时区
func NewScheduler(loc *time.Location, log zerolog.Logger) *Scheduler {
	log = log.With().Str("component", "scheduler").Logger()
	cronLog := cronLogger{log: log}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		ctx:    ctx,
		cancel: cancel,
		log:    log,
	}
}

// Add 注册任务, spec 为标准5段 cron 表达式
func (s *Scheduler) Add(name, spec string, job JobFunc) error {
	if _, err := s.cron.AddFunc(spec, func() { s.run(name, job) }); err != nil {
		return fmt.Errorf("注册任务 %s (%s) 失败: %w", name, spec, err)
	}
	s.log.Info().Str("job", name).Str("spec", spec).Msg("任务已注册")
	return nil
}

func (s *Scheduler) run(name string, job JobFunc) {
	start := time.Now()
	if err := job(s.ctx); err != nil {
		s.log.Error().Err(err).Str("job", name).Dur("elapsed", time.Since(start)).Msg("任务执行失败")
		return
	}
	s.log.Info().Str("job", name).Dur("elapsed", time.Since(start)).Msg("任务执行完成")
}

// Start 启动调度器
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop 停止调度器并等待运行中的任务结束
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

// Entries 已注册任务数量
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// cronLogger 把 cron 内部日志转到 zerolog
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
