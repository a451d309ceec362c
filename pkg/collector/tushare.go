package collector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"Cornucopia/pkg/model"
)

// TushareAdapter Tushare数据源适配器
type TushareAdapter struct {
	client *TushareClient
}

// NewTushareAdapter 创建Tushare适配器
func NewTushareAdapter(client *TushareClient) *TushareAdapter {
	return &TushareAdapter{client: client}
}

// FetchSecurities 获取全部上市与退市证券
func (t *TushareAdapter) FetchSecurities(ctx context.Context) ([]*model.Security, error) {
	var result []*model.Security
	for _, status := range []string{"L", "D"} {
		resp, err := t.client.GetStockBasic(ctx, map[string]interface{}{"list_status": status})
		if err != nil {
			return nil, fmt.Errorf("获取股票列表失败: %w", err)
		}
		rows, err := newTable(resp, "ts_code", "name", "list_date")
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			listing, err := row.date("list_date")
			if err != nil {
				return nil, err
			}
			sec := &model.Security{
				StockID:     row.str("ts_code"),
				Name:        row.str("name"),
				Location:    row.str("exchange"),
				Symbol:      row.str("symbol"),
				Industry:    row.str("industry"),
				ListingDate: listing,
			}
			if sec.Location == "" {
				sec.Location = exchangeOf(sec.StockID)
			}
			if row.str("delist_date") != "" {
				delisting, err := row.date("delist_date")
				if err != nil {
					return nil, err
				}
				sec.DelistingDate = &delisting
			}
			result = append(result, sec)
		}
	}
	return result, nil
}

// FetchDaily 获取某交易日全市场日线
func (t *TushareAdapter) FetchDaily(ctx context.Context, date time.Time) ([]*model.DailyQuote, error) {
	resp, err := t.client.GetDailyQuotes(ctx, map[string]interface{}{"trade_date": date.Format("20060102")})
	if err != nil {
		return nil, fmt.Errorf("获取日线行情失败: %w", err)
	}
	rows, err := newTable(resp, "ts_code", "trade_date", "open", "high", "low", "close")
	if err != nil {
		return nil, err
	}

	result := make([]*model.DailyQuote, 0, len(rows))
	for _, row := range rows {
		tradeDate, err := row.date("trade_date")
		if err != nil {
			return nil, err
		}
		result = append(result, &model.DailyQuote{
			StockID:   row.str("ts_code"),
			TradeDate: tradeDate,
			Open:      row.dec("open"),
			High:      row.dec("high"),
			Low:       row.dec("low"),
			Close:     row.dec("close"),
			Change:    row.dec("change"),
			ChangePct: row.dec("pct_chg"),
			Volume:    row.dec("vol"),
			Amount:    row.dec("amount"),
		})
	}
	return result, nil
}

// FetchValuation 获取某交易日估值指标
func (t *TushareAdapter) FetchValuation(ctx context.Context, date time.Time) ([]*model.ValuationSnapshot, error) {
	resp, err := t.client.GetDailyBasic(ctx, map[string]interface{}{"trade_date": date.Format("20060102")})
	if err != nil {
		return nil, fmt.Errorf("获取估值指标失败: %w", err)
	}
	rows, err := newTable(resp, "ts_code", "trade_date")
	if err != nil {
		return nil, err
	}

	result := make([]*model.ValuationSnapshot, 0, len(rows))
	for _, row := range rows {
		asOf, err := row.date("trade_date")
		if err != nil {
			return nil, err
		}
		result = append(result, &model.ValuationSnapshot{
			StockID:       row.str("ts_code"),
			AsOf:          asOf,
			PE:            row.dec("pe"),
			PETTM:         row.dec("pe_ttm"),
			PB:            row.dec("pb"),
			PS:            row.dec("ps"),
			PSTTM:         row.dec("ps_ttm"),
			TotalMV:       row.dec("total_mv"),
			CircMV:        row.dec("circ_mv"),
			DividendRatio: row.dec("dv_ratio"),
		})
	}
	return result, nil
}

// row Tushare 表格中的一行
type row struct {
	index map[string]int
	item  []interface{}
}

func newTable(resp *TushareResponse, required ...string) ([]row, error) {
	index := make(map[string]int, len(resp.Data.Fields))
	for i, field := range resp.Data.Fields {
		index[field] = i
	}
	for _, field := range required {
		if _, exists := index[field]; !exists {
			return nil, fmt.Errorf("响应中缺少必要字段: %s", field)
		}
	}
	rows := make([]row, 0, len(resp.Data.Items))
	for _, item := range resp.Data.Items {
		rows = append(rows, row{index: index, item: item})
	}
	return rows, nil
}

func (r row) value(field string) interface{} {
	i, ok := r.index[field]
	if !ok || i >= len(r.item) {
		return nil
	}
	return r.item[i]
}

func (r row) str(field string) string {
	switch v := r.value(field).(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// dec 缺失或无法解析的数值视为0
func (r row) dec(field string) decimal.Decimal {
	s := r.str(field)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (r row) date(field string) (time.Time, error) {
	d, err := model.ParseDate(r.str(field))
	if err != nil {
		return time.Time{}, fmt.Errorf("%s 的 %s 无效: %w", r.str("ts_code"), field, err)
	}
	return d, nil
}

// exchangeOf 由代码后缀推断交易所
func exchangeOf(tsCode string) string {
	if i := strings.LastIndex(tsCode, "."); i >= 0 {
		return tsCode[i+1:]
	}
	return ""
}
