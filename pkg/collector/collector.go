// Package collector 从外部数据源采集证券主数据和行情, 行情以信封形式发布到消息总线.
package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"Cornucopia/pkg/model"
)

// SubjectPrefix 行情主题前缀, 完整主题为 quotes.<粒度>
const SubjectPrefix = "quotes."

// Subject 记录粒度对应的主题
func Subject(g model.Granularity) string {
	return SubjectPrefix + string(g)
}

// Stats 一次采集的统计
type Stats struct {
	Published int `json:"published"`
	Failed    int `json:"failed"`
}

// Collector 采集器
type Collector struct {
	source Source
	pub    Publisher
	log    zerolog.Logger
}

// New 创建采集器
func New(source Source, pub Publisher, log zerolog.Logger) *Collector {
	return &Collector{
		source: source,
		pub:    pub,
		log:    log.With().Str("component", "collector").Logger(),
	}
}

// SyncSecurities 登记数据源中尚未登记的证券, 返回新登记数量
func (c *Collector) SyncSecurities(ctx context.Context, reg Registrar) (int, error) {
	secs, err := c.source.FetchSecurities(ctx)
	if err != nil {
		return 0, err
	}

	registered := 0
	for _, sec := range secs {
		err := reg.Register(ctx, sec)
		switch {
		case err == nil:
			registered++
		case errors.Is(err, model.ErrDuplicateKey):
		default:
			c.log.Warn().Err(err).Str("stockid", sec.StockID).Msg("登记证券失败")
		}
	}
	c.log.Info().Int("total", len(secs)).Int("registered", registered).Msg("证券列表同步完成")
	return registered, nil
}

// CollectDaily 采集某交易日的日线和估值并发布
func (c *Collector) CollectDaily(ctx context.Context, date time.Time) (Stats, error) {
	var stats Stats

	quotes, err := c.source.FetchDaily(ctx, date)
	if err != nil {
		return stats, err
	}
	for _, q := range quotes {
		c.publish(q, &stats)
	}

	valuations, err := c.source.FetchValuation(ctx, date)
	if err != nil {
		return stats, err
	}
	for _, v := range valuations {
		c.publish(v, &stats)
	}

	c.log.Info().
		Str("date", model.FormatDate(date)).
		Int("published", stats.Published).
		Int("failed", stats.Failed).
		Msg("日线采集完成")
	if stats.Published == 0 && stats.Failed > 0 {
		return stats, fmt.Errorf("%s 的记录全部发布失败", model.FormatDate(date))
	}
	return stats, nil
}

// CollectRealtime 采集一批证券的实时行情并发布
func (c *Collector) CollectRealtime(ctx context.Context, src RealtimeSource, stockIDs []string) (Stats, error) {
	var stats Stats
	if len(stockIDs) == 0 {
		return stats, nil
	}

	quotes, err := src.FetchRealtime(ctx, stockIDs)
	if err != nil {
		return stats, err
	}
	for _, q := range quotes {
		c.publish(q, &stats)
	}

	c.log.Debug().Int("requested", len(stockIDs)).Int("published", stats.Published).
		Int("failed", stats.Failed).Msg("实时行情采集完成")
	if stats.Published == 0 && stats.Failed > 0 {
		return stats, fmt.Errorf("实时行情全部发布失败")
	}
	return stats, nil
}

// CollectIntraday 逐个采集证券某交易日的分时并发布, 单只证券失败不影响其余
func (c *Collector) CollectIntraday(ctx context.Context, src IntradaySource, stockIDs []string, date time.Time) (Stats, error) {
	var stats Stats
	for _, id := range stockIDs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		ticks, err := src.FetchIntraday(ctx, id, date)
		if err != nil {
			stats.Failed++
			c.log.Warn().Err(err).Str("stockid", id).Msg("获取分时失败")
			continue
		}
		for _, t := range ticks {
			c.publish(t, &stats)
		}
	}

	c.log.Info().
		Str("date", model.FormatDate(date)).
		Int("stocks", len(stockIDs)).
		Int("published", stats.Published).
		Int("failed", stats.Failed).
		Msg("分时采集完成")
	if stats.Published == 0 && stats.Failed > 0 {
		return stats, fmt.Errorf("%s 的分时全部采集失败", model.FormatDate(date))
	}
	return stats, nil
}

// CollectFinance 逐个采集证券的财务指标并发布
func (c *Collector) CollectFinance(ctx context.Context, src FinanceSource, stockIDs []string) (Stats, error) {
	var stats Stats
	for _, id := range stockIDs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		snapshots, err := src.FetchFinance(ctx, id)
		if err != nil {
			stats.Failed++
			c.log.Warn().Err(err).Str("stockid", id).Msg("获取财务指标失败")
			continue
		}
		for _, f := range snapshots {
			c.publish(f, &stats)
		}
	}

	c.log.Info().Int("stocks", len(stockIDs)).Int("published", stats.Published).
		Int("failed", stats.Failed).Msg("财务指标采集完成")
	if stats.Published == 0 && stats.Failed > 0 {
		return stats, fmt.Errorf("财务指标全部采集失败")
	}
	return stats, nil
}

func (c *Collector) publish(rec model.Record, stats *Stats) {
	env, err := model.Seal(rec)
	if err == nil {
		err = c.pub.Publish(Subject(env.Granularity), env)
	}
	if err != nil {
		stats.Failed++
		c.log.Warn().Err(err).Str("key", rec.Key().String()).Msg("发布记录失败")
		return
	}
	stats.Published++
}
