package collector

import (
	"context"
	"time"

	"Cornucopia/pkg/model"
)

// Source 行情数据源
type Source interface {
	FetchSecurities(ctx context.Context) ([]*model.Security, error)
	FetchDaily(ctx context.Context, date time.Time) ([]*model.DailyQuote, error)
	FetchValuation(ctx context.Context, date time.Time) ([]*model.ValuationSnapshot, error)
}

// RealtimeSource 实时行情数据源
type RealtimeSource interface {
	FetchRealtime(ctx context.Context, stockIDs []string) ([]*model.RealtimeQuote, error)
}

// IntradaySource 分时数据源
type IntradaySource interface {
	FetchIntraday(ctx context.Context, stockID string, date time.Time) ([]*model.IntradayTick, error)
}

// FinanceSource 财务指标数据源
type FinanceSource interface {
	FetchFinance(ctx context.Context, stockID string) ([]*model.FinanceSnapshot, error)
}

// Publisher 消息发布接口, 由 messaging.NATSClient 实现
type Publisher interface {
	Publish(subject string, data interface{}) error
}

// Registrar 证券登记接口, 由 catalog.Catalog 实现
type Registrar interface {
	Register(ctx context.Context, sec *model.Security) error
}
