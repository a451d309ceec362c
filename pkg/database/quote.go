// pkg/database/quote.go
package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"Cornucopia/pkg/model"
)

// QuoteDB 行情时间序列
type QuoteDB struct {
	db *gorm.DB
}

func (p *PostgresDB) Quote() *QuoteDB {
	return &QuoteDB{db: p.db}
}

var (
	dailyColumns = []string{"open", "close", "high", "low", "change", "change_pct",
		"volume", "amount", "turnover_rate", "updated_at"}
	valuationColumns = []string{"pe", "pe_ttm", "pb", "ps", "ps_ttm", "total_mv",
		"circ_mv", "dividend_ratio", "updated_at"}
	financeColumns = []string{"total_revenue", "net_profit", "total_assets", "total_liabilities",
		"net_assets", "roe", "roa", "gross_margin", "net_margin", "debt_ratio", "current_ratio",
		"quick_ratio", "eps", "bps", "updated_at"}
)

func upsertOn(columns []string, update []string) clause.OnConflict {
	conflict := clause.OnConflict{DoUpdates: clause.AssignmentColumns(update)}
	for _, c := range columns {
		conflict.Columns = append(conflict.Columns, clause.Column{Name: c})
	}
	return conflict
}

func (q *QuoteDB) UpsertDaily(ctx context.Context, quote *model.DailyQuote) error {
	err := q.db.WithContext(ctx).
		Clauses(upsertOn([]string{"stockid", "trade_date"}, dailyColumns)).
		Create(quote).Error
	return mapError(err, model.ErrNoData)
}

func (q *QuoteDB) UpsertValuation(ctx context.Context, v *model.ValuationSnapshot) error {
	err := q.db.WithContext(ctx).
		Clauses(upsertOn([]string{"stockid", "as_of"}, valuationColumns)).
		Create(v).Error
	return mapError(err, model.ErrNoData)
}

func (q *QuoteDB) UpsertFinance(ctx context.Context, f *model.FinanceSnapshot) error {
	err := q.db.WithContext(ctx).
		Clauses(upsertOn([]string{"stockid", "as_of"}, financeColumns)).
		Create(f).Error
	return mapError(err, model.ErrNoData)
}

func (q *QuoteDB) AppendRealtime(ctx context.Context, quote *model.RealtimeQuote) (bool, error) {
	result := q.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(quote)
	if result.Error != nil {
		return false, mapError(result.Error, model.ErrNoData)
	}
	return result.RowsAffected > 0, nil
}

func (q *QuoteDB) AppendIntraday(ctx context.Context, tick *model.IntradayTick) (bool, error) {
	result := q.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(tick)
	if result.Error != nil {
		return false, mapError(result.Error, model.ErrNoData)
	}
	return result.RowsAffected > 0, nil
}

func (q *QuoteDB) PreviousDaily(ctx context.Context, stockID string, before time.Time) (*model.DailyQuote, error) {
	var quote model.DailyQuote
	err := q.db.WithContext(ctx).
		Where("stockid = ? AND trade_date < ?", stockID, before).
		Order("trade_date DESC").
		First(&quote).Error
	if err != nil {
		return nil, fmt.Errorf("%s 在 %s 之前无日线: %w", stockID, model.FormatDate(before), mapError(err, model.ErrNoData))
	}
	return &quote, nil
}

func (q *QuoteDB) LatestDaily(ctx context.Context, stockID string) (*model.DailyQuote, error) {
	var quote model.DailyQuote
	err := q.db.WithContext(ctx).
		Where("stockid = ?", stockID).
		Order("trade_date DESC").
		First(&quote).Error
	if err != nil {
		return nil, fmt.Errorf("%s 无日线: %w", stockID, mapError(err, model.ErrNoData))
	}
	return &quote, nil
}

func (q *QuoteDB) LatestRealtime(ctx context.Context, stockID string) (*model.RealtimeQuote, error) {
	var quote model.RealtimeQuote
	err := q.db.WithContext(ctx).
		Where("stockid = ?", stockID).
		Order("captured_at DESC").
		First(&quote).Error
	if err != nil {
		return nil, fmt.Errorf("%s 无实时行情: %w", stockID, mapError(err, model.ErrNoData))
	}
	return &quote, nil
}

func (q *QuoteDB) DailyRange(ctx context.Context, stockID string, from, to time.Time) ([]*model.DailyQuote, error) {
	var quotes []*model.DailyQuote
	err := q.db.WithContext(ctx).
		Where("stockid = ? AND trade_date BETWEEN ? AND ?", stockID, from, to).
		Order("trade_date ASC").
		Find(&quotes).Error
	if err != nil {
		return nil, fmt.Errorf("查询历史日线失败: %w", err)
	}
	return quotes, nil
}

func (q *QuoteDB) IntradayOf(ctx context.Context, stockID string, date time.Time) ([]*model.IntradayTick, error) {
	var ticks []*model.IntradayTick
	err := q.db.WithContext(ctx).
		Where("stockid = ? AND trade_date = ?", stockID, date).
		Order("bucket ASC").
		Find(&ticks).Error
	if err != nil {
		return nil, fmt.Errorf("查询分时失败: %w", err)
	}
	return ticks, nil
}

func (q *QuoteDB) Valuation(ctx context.Context, stockID string, date time.Time) (*model.ValuationSnapshot, error) {
	var v model.ValuationSnapshot
	err := q.db.WithContext(ctx).First(&v, "stockid = ? AND as_of = ?", stockID, date).Error
	if err != nil {
		return nil, fmt.Errorf("%s 在 %s 无估值: %w", stockID, model.FormatDate(date), mapError(err, model.ErrNoData))
	}
	return &v, nil
}

func (q *QuoteDB) Finance(ctx context.Context, stockID string, date time.Time) (*model.FinanceSnapshot, error) {
	var f model.FinanceSnapshot
	err := q.db.WithContext(ctx).First(&f, "stockid = ? AND as_of = ?", stockID, date).Error
	if err != nil {
		return nil, fmt.Errorf("%s 在 %s 无财务数据: %w", stockID, model.FormatDate(date), mapError(err, model.ErrNoData))
	}
	return &f, nil
}
