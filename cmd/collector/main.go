package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"Cornucopia/pkg/app"
	"Cornucopia/pkg/collector"
	"Cornucopia/pkg/config"
	"Cornucopia/pkg/logging"
	"Cornucopia/pkg/messaging"
	"Cornucopia/pkg/model"
	"Cornucopia/pkg/scheduler"
)

func main() {
	var once bool
	var date string

	rootCmd := &cobra.Command{
		Use:           "collector",
		Short:         "采集证券列表与日线/实时/分时/财务行情并发布到消息总线",
		SilenceErrors: true,
		RunE: func(c *cobra.Command, args []string) error {
			return run(once, date)
		},
	}
	rootCmd.Flags().BoolVar(&once, "once", false, "采集一次后退出")
	rootCmd.Flags().StringVar(&date, "date", "", "采集日期 YYYY-MM-DD, 默认当日, 仅与 --once 一起使用")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run(once bool, date string) error {
	cfg, err := config.LoadConfig(config.GetDefaultConfigPath())
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}
	logger := logging.ForService("collector", cfg.App.Env, cfg.App.LogLevel)
	logger.Info().Msg("启动数据采集服务...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	natsClient, err := messaging.NewNATSClient(cfg.NATS.URL, cfg.NATS.ClientID+"-collector", logger)
	if err != nil {
		return fmt.Errorf("连接NATS失败: %w", err)
	}
	defer natsClient.Close()

	// 证券登记直接写参考目录, 行情经消息总线入库
	a, err := app.New(ctx, cfg, natsClient, logger)
	if err != nil {
		return fmt.Errorf("初始化服务失败: %w", err)
	}
	defer a.Close()

	tushare := collector.NewTushareAdapter(collector.NewTushareClient(
		cfg.DataSources.Tushare.APIKey,
		cfg.DataSources.Tushare.BaseURL,
		cfg.DataSources.Tushare.Timeout,
	))
	c := collector.New(tushare, natsClient, logger)

	if n, err := c.SyncSecurities(ctx, a.Catalog); err != nil {
		logger.Error().Err(err).Msg("同步证券列表失败")
	} else {
		logger.Info().Int("registered", n).Msg("证券列表同步完成")
	}

	if once {
		day := model.DateIn(time.Now(), cfg.Location())
		if date != "" {
			if day, err = model.ParseDate(date); err != nil {
				return fmt.Errorf("无效的采集日期 %s: %w", date, err)
			}
		}
		stats, err := c.CollectDaily(ctx, day)
		if err != nil {
			return fmt.Errorf("采集失败: %w", err)
		}
		logger.Info().Int("published", stats.Published).Int("failed", stats.Failed).Msg("采集完成")
		return nil
	}

	sched := scheduler.NewScheduler(cfg.Location(), logger)
	if err := sched.Add("collect_daily", cfg.Scheduler.CollectDaily, scheduler.CollectDaily(c, cfg.Location(), time.Now)); err != nil {
		return err
	}
	if base := cfg.DataSources.AKShare.BaseURL; base != "" {
		akshare := collector.NewAKShareAdapter(base, cfg.DataSources.AKShare.Timeout, cfg.Location())
		active := func(ctx context.Context) ([]string, error) {
			secs, err := a.Catalog.List(ctx, model.SecurityFilter{ActiveOnly: true})
			if err != nil {
				return nil, err
			}
			ids := make([]string, 0, len(secs))
			for _, sec := range secs {
				ids = append(ids, sec.StockID)
			}
			return ids, nil
		}
		jobs := []struct {
			name string
			spec string
			job  scheduler.JobFunc
		}{
			{"collect_realtime", cfg.Scheduler.CollectRealtime, scheduler.CollectRealtime(c, akshare, active)},
			{"collect_intraday", cfg.Scheduler.CollectIntraday, scheduler.CollectIntraday(c, akshare, active, cfg.Location(), time.Now)},
			{"collect_finance", cfg.Scheduler.CollectFinance, scheduler.CollectFinance(c, akshare, active)},
		}
		for _, j := range jobs {
			if err := sched.Add(j.name, j.spec, j.job); err != nil {
				return err
			}
		}
	}
	sched.Start()

	<-ctx.Done()
	logger.Info().Msg("正在关闭数据采集服务...")
	sched.Stop()
	return nil
}
