package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"Cornucopia/pkg/app"
	"Cornucopia/pkg/config"
	"Cornucopia/pkg/ingest"
	"Cornucopia/pkg/logging"
	"Cornucopia/pkg/messaging"
)

const consumerName = "quotes-ingest"

func main() {
	cfg, err := config.LoadConfig(config.GetDefaultConfigPath())
	if err != nil {
		log.Fatal().Err(err).Msg("加载配置失败")
	}
	logger := logging.ForService("ingest", cfg.App.Env, cfg.App.LogLevel)
	logger.Info().Msg("启动行情入库服务...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	natsClient, err := messaging.NewNATSClient(cfg.NATS.URL, cfg.NATS.ClientID+"-ingest", logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("连接NATS失败")
	}

	a, err := app.New(ctx, cfg, natsClient, logger)
	if err != nil {
		natsClient.Close()
		logger.Fatal().Err(err).Msg("初始化服务失败")
	}
	defer a.Close()

	worker := ingest.NewWorker(a.Market, logger)
	if err := worker.Start(natsClient, consumerName, cfg.Ingest.Workers); err != nil {
		natsClient.Close()
		logger.Fatal().Err(err).Msg("订阅行情失败")
	}

	<-ctx.Done()
	logger.Info().Msg("正在关闭行情入库服务...")
	// 先停止消费者, 再关闭存储
	natsClient.Close()
	stats := worker.Stats()
	logger.Info().Int64("stored", stats.Stored).Int64("rejected", stats.Rejected).
		Int64("retried", stats.Retried).Int64("dropped", stats.Dropped).Msg("行情入库服务已停止")
}
