// pkg/model/quote.go
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// DailyQuote 个股日线行情, (stockid, trade_date) 唯一
type DailyQuote struct {
	ID           string          `gorm:"type:uuid;primaryKey" json:"id"`
	StockID      string          `gorm:"column:stockid;type:varchar(20);not null;uniqueIndex:uk_daily_quote,priority:1" json:"stockid"`
	TradeDate    time.Time       `gorm:"type:date;not null;uniqueIndex:uk_daily_quote,priority:2" json:"trade_date"`
	Open         decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"open"`
	Close        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"close"`
	High         decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"high"`
	Low          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"low"`
	Change       decimal.Decimal `gorm:"type:decimal(20,4)" json:"change"`     // 涨跌额
	ChangePct    decimal.Decimal `gorm:"type:decimal(12,4)" json:"change_pct"` // 涨跌幅(%)
	Volume       decimal.Decimal `gorm:"type:decimal(24,4)" json:"volume"`     // 成交量
	Amount       decimal.Decimal `gorm:"type:decimal(24,4)" json:"amount"`     // 成交额
	TurnoverRate decimal.Decimal `gorm:"type:decimal(12,4)" json:"turnover_rate"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (DailyQuote) TableName() string {
	return "daily_quote"
}

func (q *DailyQuote) BeforeCreate(tx *gorm.DB) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	return nil
}

func (q *DailyQuote) Key() SeriesKey {
	return SeriesKey{Granularity: GranularityDaily, StockID: q.StockID, At: DateOf(q.TradeDate)}
}

// Validate 校验 low <= {open, close, high} <= high
func (q *DailyQuote) Validate() error {
	if err := requireStock(q.StockID); err != nil {
		return err
	}
	if q.TradeDate.IsZero() {
		return fmt.Errorf("%s 缺少交易日期: %w", q.StockID, ErrInvalidDate)
	}
	key := q.Key()
	if err := requireNonNegative(key, map[string]decimal.Decimal{
		"open": q.Open, "close": q.Close, "high": q.High, "low": q.Low,
		"volume": q.Volume, "amount": q.Amount,
	}); err != nil {
		return err
	}
	if q.Low.GreaterThan(q.High) {
		return fmt.Errorf("%s 最低价 %s 高于最高价 %s: %w", key, q.Low, q.High, ErrInvalidRange)
	}
	for name, v := range map[string]decimal.Decimal{"open": q.Open, "close": q.Close} {
		if v.LessThan(q.Low) || v.GreaterThan(q.High) {
			return fmt.Errorf("%s %s=%s 不在 [%s, %s] 区间内: %w", key, name, v, q.Low, q.High, ErrInvalidRange)
		}
	}
	return nil
}

// DeriveChange 按前收盘价补齐涨跌额和涨跌幅
func (q *DailyQuote) DeriveChange(prevClose decimal.Decimal) {
	if !prevClose.IsPositive() {
		return
	}
	if q.Change.IsZero() {
		q.Change = q.Close.Sub(prevClose)
	}
	if q.ChangePct.IsZero() {
		q.ChangePct = q.Change.Div(prevClose).Mul(decimal.NewFromInt(100)).Round(4)
	}
}

func (*DailyQuote) record() {}

// RealtimeQuote 实时行情, 追加日志, (stockid, captured_at) 去重
type RealtimeQuote struct {
	ID           int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	StockID      string          `gorm:"column:stockid;type:varchar(20);not null;uniqueIndex:uk_realtime_quote,priority:1" json:"stockid"`
	CapturedAt   time.Time       `gorm:"not null;uniqueIndex:uk_realtime_quote,priority:2" json:"captured_at"`
	Price        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"price"`
	Change       decimal.Decimal `gorm:"type:decimal(20,4)" json:"change"`
	ChangePct    decimal.Decimal `gorm:"type:decimal(12,4)" json:"change_pct"`
	Volume       decimal.Decimal `gorm:"type:decimal(24,4)" json:"volume"`
	Amount       decimal.Decimal `gorm:"type:decimal(24,4)" json:"amount"`
	Amplitude    decimal.Decimal `gorm:"type:decimal(12,4)" json:"amplitude"` // 振幅
	TurnoverRate decimal.Decimal `gorm:"type:decimal(12,4)" json:"turnover_rate"`
	VolumeRatio  decimal.Decimal `gorm:"type:decimal(12,4)" json:"volume_ratio"` // 量比
	CreatedAt    time.Time       `json:"created_at"`
}

func (RealtimeQuote) TableName() string {
	return "realtime_quote"
}

func (q *RealtimeQuote) Key() SeriesKey {
	return SeriesKey{Granularity: GranularityRealtime, StockID: q.StockID, At: q.CapturedAt}
}

func (q *RealtimeQuote) Validate() error {
	if err := requireStock(q.StockID); err != nil {
		return err
	}
	if q.CapturedAt.IsZero() {
		return fmt.Errorf("%s 缺少采集时间: %w", q.StockID, ErrInvalidDate)
	}
	if !q.Price.IsPositive() {
		return fmt.Errorf("%s 实时价格 %s 必须大于0: %w", q.Key(), q.Price, ErrInvalidRange)
	}
	return requireNonNegative(q.Key(), map[string]decimal.Decimal{
		"volume": q.Volume, "amount": q.Amount, "amplitude": q.Amplitude,
	})
}

func (*RealtimeQuote) record() {}

// IntradayTick 分时行情, (stockid, trade_date, bucket) 去重
type IntradayTick struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	StockID   string          `gorm:"column:stockid;type:varchar(20);not null;uniqueIndex:uk_intraday_tick,priority:1" json:"stockid"`
	TradeDate time.Time       `gorm:"type:date;not null;uniqueIndex:uk_intraday_tick,priority:2" json:"trade_date"`
	Bucket    time.Time       `gorm:"not null;uniqueIndex:uk_intraday_tick,priority:3" json:"bucket"` // 分时时间点
	Price     decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"price"`
	AvgPrice  decimal.Decimal `gorm:"type:decimal(20,4)" json:"avg_price"`
	Volume    decimal.Decimal `gorm:"type:decimal(24,4)" json:"volume"`
	Amount    decimal.Decimal `gorm:"type:decimal(24,4)" json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

func (IntradayTick) TableName() string {
	return "intraday_tick"
}

func (t *IntradayTick) Key() SeriesKey {
	return SeriesKey{Granularity: GranularityIntraday, StockID: t.StockID, At: t.Bucket}
}

func (t *IntradayTick) Validate() error {
	if err := requireStock(t.StockID); err != nil {
		return err
	}
	if t.TradeDate.IsZero() || t.Bucket.IsZero() {
		return fmt.Errorf("%s 缺少分时日期或时间点: %w", t.StockID, ErrInvalidDate)
	}
	if !t.Price.IsPositive() {
		return fmt.Errorf("%s 分时价格 %s 必须大于0: %w", t.Key(), t.Price, ErrInvalidRange)
	}
	return requireNonNegative(t.Key(), map[string]decimal.Decimal{
		"avg_price": t.AvgPrice, "volume": t.Volume, "amount": t.Amount,
	})
}

// CheckTradeDate 分时时间点在交易所时区下必须落在 TradeDate 当天
func (t *IntradayTick) CheckTradeDate(loc *time.Location) error {
	if !DateIn(t.Bucket, loc).Equal(DateOf(t.TradeDate)) {
		return fmt.Errorf("%s 不在交易日 %s 内: %w", t.Key(), FormatDate(t.TradeDate), ErrInvalidDate)
	}
	return nil
}

func (*IntradayTick) record() {}

// PriceSource 最新价来源
type PriceSource string

const (
	PriceSourceRealtime PriceSource = "realtime"
	PriceSourceDaily    PriceSource = "daily"
)

// LatestPrice 最新价
type LatestPrice struct {
	StockID string          `json:"stockid"`
	Price   decimal.Decimal `json:"price"`
	At      time.Time       `json:"at"`
	Source  PriceSource     `json:"source"`
}
