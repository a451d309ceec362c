package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"Cornucopia/pkg/api"
	"Cornucopia/pkg/app"
	"Cornucopia/pkg/audit"
	"Cornucopia/pkg/config"
	"Cornucopia/pkg/logging"
	"Cornucopia/pkg/messaging"
	"Cornucopia/pkg/monitor"
	"Cornucopia/pkg/scheduler"
)

func main() {
	cfg, err := config.LoadConfig(config.GetDefaultConfigPath())
	if err != nil {
		log.Fatal().Err(err).Msg("加载配置失败")
	}
	logger := logging.ForService("api", cfg.App.Env, cfg.App.LogLevel)
	logger.Info().Msg("启动API服务...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 消息总线不可用时只写日志和数据库审计
	var pub audit.Publisher
	natsClient, err := messaging.NewNATSClient(cfg.NATS.URL, cfg.NATS.ClientID+"-api", logger)
	if err != nil {
		logger.Warn().Err(err).Msg("NATS不可用, 审计事件不发布到消息总线")
	} else {
		defer natsClient.Close()
		pub = natsClient
	}

	a, err := app.New(ctx, cfg, pub, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化服务失败")
	}
	defer a.Close()

	sched := scheduler.NewScheduler(cfg.Location(), logger)
	if err := sched.Add("refresh_values", cfg.Scheduler.RefreshValues, scheduler.RefreshMarketValues(a.Ledger)); err != nil {
		logger.Fatal().Err(err).Msg("注册任务失败")
	}
	if err := sched.Add("verify_ledger", cfg.Scheduler.VerifyLedger, scheduler.VerifyLedger(a.Ledger)); err != nil {
		logger.Fatal().Err(err).Msg("注册任务失败")
	}
	sched.Start()
	defer sched.Stop()

	mon := monitor.NewMonitor(3*time.Second, logger)
	mon.RegisterComponent("storage", a.Ready)
	mon.RegisterComponent("memory", monitor.MemoryCheck(95))
	if natsClient != nil {
		mon.RegisterComponent("nats", func(context.Context) error {
			if !natsClient.IsConnected() {
				return errors.New("NATS未连接")
			}
			return nil
		})
		mon.RegisterStats("nats", func() interface{} { return natsClient.GetStats() })
	}
	mon.StartChecking(ctx, 30*time.Second)

	ready := func(ctx context.Context) error {
		if !mon.Healthy() {
			return errors.New("依赖组件不健康")
		}
		return nil
	}
	handlers := api.NewHandlers(a.Catalog, a.Market, a.Blotter, a.Ledger, ready).
		WithStatus(func() interface{} { return mon.Snapshot() })
	server := api.NewServer(cfg.API.Port, cfg.API.ReadTimeout, cfg.API.WriteTimeout, logger)
	server.SetupRoutes(handlers)
	if err := server.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("API服务异常退出")
	}
}
