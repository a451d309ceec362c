package market

import (
	"context"
	"time"

	"Cornucopia/pkg/model"
)

// Repository 行情时间序列存储. 查询不到数据时返回 model.ErrNoData
type Repository interface {
	// UpsertDaily 按 (stockid, trade_date) 覆盖写
	UpsertDaily(ctx context.Context, q *model.DailyQuote) error
	UpsertValuation(ctx context.Context, v *model.ValuationSnapshot) error
	UpsertFinance(ctx context.Context, f *model.FinanceSnapshot) error
	// AppendRealtime 追加实时行情, 主键完全相同时返回 false
	AppendRealtime(ctx context.Context, q *model.RealtimeQuote) (bool, error)
	AppendIntraday(ctx context.Context, t *model.IntradayTick) (bool, error)

	// PreviousDaily 返回 before 之前最近一个交易日的日线
	PreviousDaily(ctx context.Context, stockID string, before time.Time) (*model.DailyQuote, error)
	LatestDaily(ctx context.Context, stockID string) (*model.DailyQuote, error)
	LatestRealtime(ctx context.Context, stockID string) (*model.RealtimeQuote, error)
	DailyRange(ctx context.Context, stockID string, from, to time.Time) ([]*model.DailyQuote, error)
	IntradayOf(ctx context.Context, stockID string, date time.Time) ([]*model.IntradayTick, error)
	Valuation(ctx context.Context, stockID string, date time.Time) (*model.ValuationSnapshot, error)
	Finance(ctx context.Context, stockID string, date time.Time) (*model.FinanceSnapshot, error)
}

// Catalog 参考目录校验接口, 由 catalog.Catalog 实现
type Catalog interface {
	Require(ctx context.Context, stockID string) (*model.Security, error)
}
