// pkg/model/trade.go
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeOperation 用户交易流水, 只追加, 不修改不删除
type TradeOperation struct {
	ID         int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     string          `gorm:"column:userid;type:varchar(64);not null;index:idx_trade_pair,priority:1" json:"user_id"`
	StockID    string          `gorm:"column:stockid;type:varchar(20);not null;index:idx_trade_pair,priority:2" json:"stockid"`
	Quantity   decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"` // 正数买入, 负数卖出
	Price      decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"price"`
	ExecutedAt time.Time       `gorm:"not null;index:idx_trade_pair,priority:3" json:"executed_at"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (TradeOperation) TableName() string {
	return "trade_operation"
}

// IsBuy 是否买入
func (o *TradeOperation) IsBuy() bool {
	return o.Quantity.IsPositive()
}

// Pair 持仓主键
func (o *TradeOperation) Pair() Pair {
	return Pair{UserID: o.UserID, StockID: o.StockID}
}

// Pair (用户, 证券) 主键
type Pair struct {
	UserID  string `json:"user_id"`
	StockID string `json:"stockid"`
}

func (p Pair) String() string {
	return p.UserID + "/" + p.StockID
}

// Holding 用户当前持仓, 由交易流水重放派生
type Holding struct {
	UserID          string          `gorm:"column:userid;type:varchar(64);primaryKey" json:"user_id"`
	StockID         string          `gorm:"column:stockid;type:varchar(20);primaryKey" json:"stockid"`
	Quantity        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"quantity"`
	CostPrice       decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"cost_price"`   // 加权平均成本
	MarketValue     decimal.Decimal `gorm:"type:decimal(24,4);not null" json:"market_value"` // 市值缓存
	ValuedAt        *time.Time      `json:"valued_at,omitempty"`
	LastOperationID int64           `json:"last_operation_id"`
	LastOperatedAt  time.Time       `json:"last_operated_at"`
	Halted          bool            `gorm:"default:false;index" json:"halted"` // 重放不一致时冻结
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (Holding) TableName() string {
	return "holding"
}

// Pair 持仓主键
func (h *Holding) Pair() Pair {
	return Pair{UserID: h.UserID, StockID: h.StockID}
}

// Closed 数量为0的持仓已平仓
func (h *Holding) Closed() bool {
	return h.Quantity.IsZero()
}

// HistoryQuery 交易流水查询条件
type HistoryQuery struct {
	UserID  string
	StockID string    // 可选
	From    time.Time // 可选, 含
	To      time.Time // 可选, 含
}

// Match 判断流水是否满足条件
func (q HistoryQuery) Match(op *TradeOperation) bool {
	if q.UserID != "" && op.UserID != q.UserID {
		return false
	}
	if q.StockID != "" && op.StockID != q.StockID {
		return false
	}
	if !q.From.IsZero() && op.ExecutedAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && op.ExecutedAt.After(q.To) {
		return false
	}
	return true
}

// Cursor 流水游标位置, 按 (executed_at, id) 升序
type Cursor struct {
	ExecutedAt time.Time `json:"executed_at"`
	ID         int64     `json:"id"`
}

// After 判断流水是否位于游标之后
func (c Cursor) After(op *TradeOperation) bool {
	if c.ID == 0 && c.ExecutedAt.IsZero() {
		return true
	}
	if op.ExecutedAt.Equal(c.ExecutedAt) {
		return op.ID > c.ID
	}
	return op.ExecutedAt.After(c.ExecutedAt)
}
