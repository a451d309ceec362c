package scheduler

import (
	"context"
	"fmt"
	"time"

	"Cornucopia/pkg/collector"
	"Cornucopia/pkg/ledger"
	"Cornucopia/pkg/model"
)

// RefreshMarketValues 刷新持仓市值缓存
func RefreshMarketValues(led *ledger.Ledger) JobFunc {
	return func(ctx context.Context) error {
		_, err := led.RefreshMarketValues(ctx)
		return err
	}
}

// VerifyLedger 全量重放校验持仓, 发现不一致时返回错误
func VerifyLedger(led *ledger.Ledger) JobFunc {
	return func(ctx context.Context) error {
		report, err := led.VerifyAll(ctx)
		if err != nil {
			return err
		}
		if len(report.Diverged) > 0 {
			return fmt.Errorf("%d 个持仓与流水不一致: %w", len(report.Diverged), model.ErrLedgerDiverged)
		}
		return nil
	}
}

// CollectDaily 采集当日(交易所时区)日线和估值
func CollectDaily(c *collector.Collector, loc *time.Location, now func() time.Time) JobFunc {
	return func(ctx context.Context) error {
		_, err := c.CollectDaily(ctx, model.DateIn(now(), loc))
		return err
	}
}

// StockIDs 返回待采集的证券代码
type StockIDs func(ctx context.Context) ([]string, error)

// CollectRealtime 采集实时行情
func CollectRealtime(c *collector.Collector, src collector.RealtimeSource, ids StockIDs) JobFunc {
	return func(ctx context.Context) error {
		stockIDs, err := ids(ctx)
		if err != nil {
			return err
		}
		_, err = c.CollectRealtime(ctx, src, stockIDs)
		return err
	}
}

// CollectIntraday 收盘后采集当日(交易所时区)分时
func CollectIntraday(c *collector.Collector, src collector.IntradaySource, ids StockIDs, loc *time.Location, now func() time.Time) JobFunc {
	return func(ctx context.Context) error {
		stockIDs, err := ids(ctx)
		if err != nil {
			return err
		}
		_, err = c.CollectIntraday(ctx, src, stockIDs, model.DateIn(now(), loc))
		return err
	}
}

// CollectFinance 采集财务指标
func CollectFinance(c *collector.Collector, src collector.FinanceSource, ids StockIDs) JobFunc {
	return func(ctx context.Context) error {
		stockIDs, err := ids(ctx)
		if err != nil {
			return err
		}
		_, err = c.CollectFinance(ctx, src, stockIDs)
		return err
	}
}
