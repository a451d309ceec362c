package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"Cornucopia/pkg/model"
)

// AKShare 公开接口路径
const (
	akshareSpotPath     = "/api/public/stock_zh_a_spot_em"                 // 全市场实时行情
	akshareMinutePath   = "/api/public/stock_zh_a_hist_min_em"             // 分钟级分时
	akshareFinancePath  = "/api/public/stock_financial_analysis_indicator" // 财务指标
	akshareMinuteLayout = "2006-01-02 15:04:05"
)

// AKShareAdapter AKShare实时行情/分时/财务适配器
type AKShareAdapter struct {
	baseURL    string
	httpClient *http.Client
	loc        *time.Location
	now        func() time.Time
}

// NewAKShareAdapter 创建新的AKShare数据适配器, loc 为接口返回时间所在的交易所时区
func NewAKShareAdapter(baseURL string, timeout time.Duration, loc *time.Location) *AKShareAdapter {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if loc == nil {
		loc = time.UTC
	}
	return &AKShareAdapter{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		loc:        loc,
		now:        time.Now,
	}
}

// get 请求接口并解码为行列表, 数值保留为 json.Number
func (a *AKShareAdapter) get(ctx context.Context, path string, params url.Values) ([]map[string]interface{}, error) {
	endpoint := a.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求 %s 失败: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API返回非200状态码: %d", resp.StatusCode)
	}

	var rows []map[string]interface{}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	if err := decoder.Decode(&rows); err != nil {
		return nil, fmt.Errorf("解析 %s 响应失败: %w", path, err)
	}
	return rows, nil
}

// FetchRealtime 获取指定证券的实时行情. 停牌等无最新价的证券被跳过
func (a *AKShareAdapter) FetchRealtime(ctx context.Context, stockIDs []string) ([]*model.RealtimeQuote, error) {
	spots, err := a.get(ctx, akshareSpotPath, nil)
	if err != nil {
		return nil, fmt.Errorf("获取A股实时行情失败: %w", err)
	}

	// 接口代码不带交易所后缀, 数值型代码会丢失前导零
	byCode := make(map[string]map[string]interface{}, len(spots))
	for _, s := range spots {
		byCode[strings.TrimLeft(fmt.Sprint(s["代码"]), "0")] = s
	}

	captured := a.now().UTC()
	result := make([]*model.RealtimeQuote, 0, len(stockIDs))
	for _, id := range stockIDs {
		s, ok := byCode[strings.TrimLeft(codeOf(id), "0")]
		if !ok {
			continue
		}
		price := spotDec(s["最新价"])
		if !price.IsPositive() {
			continue
		}
		result = append(result, &model.RealtimeQuote{
			StockID:      id,
			CapturedAt:   captured,
			Price:        price,
			Change:       spotDec(s["涨跌额"]),
			ChangePct:    spotDec(s["涨跌幅"]),
			Volume:       spotDec(s["成交量"]),
			Amount:       spotDec(s["成交额"]),
			Amplitude:    spotDec(s["振幅"]),
			TurnoverRate: spotDec(s["换手率"]),
			VolumeRatio:  spotDec(s["量比"]),
		})
	}
	return result, nil
}

// FetchIntraday 获取某证券某交易日的1分钟分时, 时间点按交易所时区解析
func (a *AKShareAdapter) FetchIntraday(ctx context.Context, stockID string, date time.Time) ([]*model.IntradayTick, error) {
	day := model.FormatDate(date)
	params := url.Values{}
	params.Set("symbol", codeOf(stockID))
	params.Set("period", "1")
	params.Set("adjust", "")
	params.Set("start_date", day+" 09:30:00")
	params.Set("end_date", day+" 15:00:00")

	rows, err := a.get(ctx, akshareMinutePath, params)
	if err != nil {
		return nil, fmt.Errorf("获取 %s 分时失败: %w", stockID, err)
	}

	tradeDate := model.DateOf(date)
	ticks := make([]*model.IntradayTick, 0, len(rows))
	for _, row := range rows {
		bucket, err := time.ParseInLocation(akshareMinuteLayout, fmt.Sprint(row["时间"]), a.loc)
		if err != nil {
			continue
		}
		if !model.DateIn(bucket, a.loc).Equal(tradeDate) {
			continue
		}
		price := spotDec(row["收盘"])
		if !price.IsPositive() {
			price = spotDec(row["最新价"])
		}
		if !price.IsPositive() {
			continue
		}
		ticks = append(ticks, &model.IntradayTick{
			StockID:   stockID,
			TradeDate: tradeDate,
			Bucket:    bucket.UTC(),
			Price:     price,
			AvgPrice:  spotDec(row["均价"]),
			Volume:    spotDec(row["成交量"]),
			Amount:    spotDec(row["成交额"]),
		})
	}
	return ticks, nil
}

// FetchFinance 获取某证券近两年各报告期的财务指标
func (a *AKShareAdapter) FetchFinance(ctx context.Context, stockID string) ([]*model.FinanceSnapshot, error) {
	params := url.Values{}
	params.Set("symbol", codeOf(stockID))
	params.Set("start_year", strconv.Itoa(a.now().In(a.loc).Year()-1))

	rows, err := a.get(ctx, akshareFinancePath, params)
	if err != nil {
		return nil, fmt.Errorf("获取 %s 财务指标失败: %w", stockID, err)
	}

	hundred := decimal.NewFromInt(100)
	snapshots := make([]*model.FinanceSnapshot, 0, len(rows))
	for _, row := range rows {
		asOf, err := model.ParseDate(fmt.Sprint(row["日期"]))
		if err != nil {
			continue
		}
		f := &model.FinanceSnapshot{
			StockID:      stockID,
			AsOf:         asOf,
			NetProfit:    spotDec(row["扣除非经常性损益后的净利润(元)"]),
			TotalAssets:  spotDec(row["总资产(元)"]),
			ROE:          spotDec(row["净资产收益率(%)"]),
			ROA:          spotDec(row["总资产利润率(%)"]),
			GrossMargin:  spotDec(row["销售毛利率(%)"]),
			NetMargin:    spotDec(row["销售净利率(%)"]),
			DebtRatio:    spotDec(row["资产负债率(%)"]),
			CurrentRatio: spotDec(row["流动比率"]),
			QuickRatio:   spotDec(row["速动比率"]),
			EPS:          spotDec(row["摊薄每股收益(元)"]),
			BPS:          spotDec(row["每股净资产_调整后(元)"]),
		}
		// 接口不直接给出负债, 按资产负债率推算
		if f.TotalAssets.IsPositive() && f.DebtRatio.IsPositive() {
			f.TotalLiabilities = f.TotalAssets.Mul(f.DebtRatio).Div(hundred).Round(4)
			f.NetAssets = f.TotalAssets.Sub(f.TotalLiabilities)
		}
		snapshots = append(snapshots, f)
	}
	return snapshots, nil
}

// codeOf 去掉交易所后缀, 600000.SH -> 600000
func codeOf(stockID string) string {
	if i := strings.IndexByte(stockID, '.'); i >= 0 {
		return stockID[:i]
	}
	return stockID
}

// spotDec 缺失、NaN 或无法解析的数值视为0
func spotDec(v interface{}) decimal.Decimal {
	var s string
	switch value := v.(type) {
	case json.Number:
		s = value.String()
	case string:
		s = strings.TrimSpace(value)
	default:
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
