// pkg/model/snapshot.go
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ValuationSnapshot 个股估值快照, (stockid, as_of) 唯一
type ValuationSnapshot struct {
	ID            string          `gorm:"type:uuid;primaryKey" json:"id"`
	StockID       string          `gorm:"column:stockid;type:varchar(20);not null;uniqueIndex:uk_valuation_snapshot,priority:1" json:"stockid"`
	AsOf          time.Time       `gorm:"type:date;not null;uniqueIndex:uk_valuation_snapshot,priority:2" json:"as_of"`
	PE            decimal.Decimal `gorm:"column:pe;type:decimal(20,4)" json:"pe"`
	PETTM         decimal.Decimal `gorm:"column:pe_ttm;type:decimal(20,4)" json:"pe_ttm"`
	PB            decimal.Decimal `gorm:"column:pb;type:decimal(20,4)" json:"pb"`
	PS            decimal.Decimal `gorm:"column:ps;type:decimal(20,4)" json:"ps"`
	PSTTM         decimal.Decimal `gorm:"column:ps_ttm;type:decimal(20,4)" json:"ps_ttm"`
	TotalMV       decimal.Decimal `gorm:"column:total_mv;type:decimal(24,4)" json:"total_mv"` // 总市值
	CircMV        decimal.Decimal `gorm:"column:circ_mv;type:decimal(24,4)" json:"circ_mv"`   // 流通市值
	DividendRatio decimal.Decimal `gorm:"type:decimal(12,4)" json:"dividend_ratio"`           // 股息率
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (ValuationSnapshot) TableName() string {
	return "valuation_snapshot"
}

func (v *ValuationSnapshot) BeforeCreate(tx *gorm.DB) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	return nil
}

func (v *ValuationSnapshot) Key() SeriesKey {
	return SeriesKey{Granularity: GranularityValuation, StockID: v.StockID, At: DateOf(v.AsOf)}
}

func (v *ValuationSnapshot) Validate() error {
	if err := requireStock(v.StockID); err != nil {
		return err
	}
	if v.AsOf.IsZero() {
		return fmt.Errorf("%s 缺少估值日期: %w", v.StockID, ErrInvalidDate)
	}
	if v.CircMV.GreaterThan(v.TotalMV) && v.TotalMV.IsPositive() {
		return fmt.Errorf("%s 流通市值 %s 大于总市值 %s: %w", v.Key(), v.CircMV, v.TotalMV, ErrInvalidRange)
	}
	return requireNonNegative(v.Key(), map[string]decimal.Decimal{
		"total_mv": v.TotalMV, "circ_mv": v.CircMV, "dividend_ratio": v.DividendRatio,
	})
}

func (*ValuationSnapshot) record() {}

// FinanceSnapshot 个股财务快照, (stockid, as_of) 唯一
type FinanceSnapshot struct {
	ID               string          `gorm:"type:uuid;primaryKey" json:"id"`
	StockID          string          `gorm:"column:stockid;type:varchar(20);not null;uniqueIndex:uk_finance_snapshot,priority:1" json:"stockid"`
	AsOf             time.Time       `gorm:"type:date;not null;uniqueIndex:uk_finance_snapshot,priority:2" json:"as_of"`
	TotalRevenue     decimal.Decimal `gorm:"type:decimal(24,4)" json:"total_revenue"`
	NetProfit        decimal.Decimal `gorm:"type:decimal(24,4)" json:"net_profit"`
	TotalAssets      decimal.Decimal `gorm:"type:decimal(24,4)" json:"total_assets"`
	TotalLiabilities decimal.Decimal `gorm:"type:decimal(24,4)" json:"total_liabilities"`
	NetAssets        decimal.Decimal `gorm:"type:decimal(24,4)" json:"net_assets"`
	ROE              decimal.Decimal `gorm:"column:roe;type:decimal(12,4)" json:"roe"`
	ROA              decimal.Decimal `gorm:"column:roa;type:decimal(12,4)" json:"roa"`
	GrossMargin      decimal.Decimal `gorm:"type:decimal(12,4)" json:"gross_margin"`
	NetMargin        decimal.Decimal `gorm:"type:decimal(12,4)" json:"net_margin"`
	DebtRatio        decimal.Decimal `gorm:"type:decimal(12,4)" json:"debt_ratio"`
	CurrentRatio     decimal.Decimal `gorm:"type:decimal(12,4)" json:"current_ratio"`
	QuickRatio       decimal.Decimal `gorm:"type:decimal(12,4)" json:"quick_ratio"`
	EPS              decimal.Decimal `gorm:"column:eps;type:decimal(12,4)" json:"eps"`
	BPS              decimal.Decimal `gorm:"column:bps;type:decimal(12,4)" json:"bps"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (FinanceSnapshot) TableName() string {
	return "finance_snapshot"
}

func (f *FinanceSnapshot) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	return nil
}

func (f *FinanceSnapshot) Key() SeriesKey {
	return SeriesKey{Granularity: GranularityFinance, StockID: f.StockID, At: DateOf(f.AsOf)}
}

func (f *FinanceSnapshot) Validate() error {
	if err := requireStock(f.StockID); err != nil {
		return err
	}
	if f.AsOf.IsZero() {
		return fmt.Errorf("%s 缺少报告日期: %w", f.StockID, ErrInvalidDate)
	}
	return requireNonNegative(f.Key(), map[string]decimal.Decimal{
		"total_revenue": f.TotalRevenue, "total_assets": f.TotalAssets,
		"total_liabilities": f.TotalLiabilities, "current_ratio": f.CurrentRatio,
		"quick_ratio": f.QuickRatio,
	})
}

func (*FinanceSnapshot) record() {}
