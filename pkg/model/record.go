// pkg/model/record.go
package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Granularity 行情记录粒度
type Granularity string

const (
	GranularityDaily     Granularity = "daily"     // 日线
	GranularityRealtime  Granularity = "realtime"  // 实时
	GranularityIntraday  Granularity = "intraday"  // 分时
	GranularityValuation Granularity = "valuation" // 估值快照
	GranularityFinance   Granularity = "finance"   // 财务快照
)

// Granularities 全部粒度
var Granularities = []Granularity{
	GranularityDaily,
	GranularityRealtime,
	GranularityIntraday,
	GranularityValuation,
	GranularityFinance,
}

// Upsert 按日主键的记录覆盖写, 其余只追加
func (g Granularity) Upsert() bool {
	switch g {
	case GranularityDaily, GranularityValuation, GranularityFinance:
		return true
	}
	return false
}

// SeriesKey 行情记录的自然主键
type SeriesKey struct {
	Granularity Granularity
	StockID     string
	At          time.Time
}

func (k SeriesKey) String() string {
	if k.Granularity.Upsert() {
		return fmt.Sprintf("%s/%s/%s", k.Granularity, k.StockID, FormatDate(k.At))
	}
	return fmt.Sprintf("%s/%s/%s", k.Granularity, k.StockID, k.At.UTC().Format(time.RFC3339Nano))
}

// Record 行情/快照记录. 变体集合是封闭的, 只能是本包定义的五种类型
type Record interface {
	Key() SeriesKey
	Validate() error
	record()
}

// NewRecord 按粒度创建空记录, 用于反序列化
func NewRecord(g Granularity) (Record, error) {
	switch g {
	case GranularityDaily:
		return &DailyQuote{}, nil
	case GranularityRealtime:
		return &RealtimeQuote{}, nil
	case GranularityIntraday:
		return &IntradayTick{}, nil
	case GranularityValuation:
		return &ValuationSnapshot{}, nil
	case GranularityFinance:
		return &FinanceSnapshot{}, nil
	}
	return nil, fmt.Errorf("未知的行情粒度: %q", g)
}

// Envelope 消息总线上的行情信封
type Envelope struct {
	Granularity Granularity     `json:"granularity"`
	Record      json.RawMessage `json:"record"`
}

// Seal 将记录封装为信封
func Seal(r Record) (*Envelope, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("序列化行情记录失败: %w", err)
	}
	return &Envelope{Granularity: r.Key().Granularity, Record: data}, nil
}

// Open 从信封解出记录
func (e *Envelope) Open() (Record, error) {
	r, err := NewRecord(e.Granularity)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(e.Record, r); err != nil {
		return nil, fmt.Errorf("解析%s记录失败: %w", e.Granularity, err)
	}
	return r, nil
}

func requireStock(stockID string) error {
	if stockID == "" {
		return fmt.Errorf("记录缺少股票ID: %w", ErrUnknownSecurity)
	}
	return nil
}

func requireNonNegative(key SeriesKey, fields map[string]decimal.Decimal) error {
	for name, v := range fields {
		if v.IsNegative() {
			return fmt.Errorf("%s 字段 %s=%s 为负: %w", key, name, v, ErrInvalidRange)
		}
	}
	return nil
}
