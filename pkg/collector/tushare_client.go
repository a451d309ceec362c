package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// TushareClient Tushare API客户端
type TushareClient struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
}

// TushareRequest Tushare API请求结构
type TushareRequest struct {
	APIName string      `json:"api_name"`
	Token   string      `json:"token"`
	Params  interface{} `json:"params,omitempty"`
	Fields  string      `json:"fields,omitempty"`
}

// TushareResponse Tushare API响应结构
type TushareResponse struct {
	RequestID string `json:"request_id"`
	Code      int    `json:"code"`
	Msg       string `json:"msg"`
	Data      struct {
		Fields []string        `json:"fields"`
		Items  [][]interface{} `json:"items"`
	} `json:"data"`
}

// NewTushareClient 创建新的Tushare客户端
func NewTushareClient(apiKey, baseURL string, timeout time.Duration) *TushareClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &TushareClient{
		APIKey:  apiKey,
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: timeout},
	}
}

// Execute 执行Tushare API请求. 数值字段保留为 json.Number, 避免浮点误差
func (c *TushareClient) Execute(ctx context.Context, apiName string, params interface{}, fields string) (*TushareResponse, error) {
	req := TushareRequest{
		APIName: apiName,
		Token:   c.APIKey,
		Params:  params,
		Fields:  fields,
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("执行HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API返回非200状态码: %d", resp.StatusCode)
	}

	var tushareResp TushareResponse
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&tushareResp); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}

	if tushareResp.Code != 0 {
		return nil, fmt.Errorf("API %s 返回错误(%d): %s", apiName, tushareResp.Code, tushareResp.Msg)
	}
	return &tushareResp, nil
}

// GetStockBasic 获取股票基本信息
func (c *TushareClient) GetStockBasic(ctx context.Context, params map[string]interface{}) (*TushareResponse, error) {
	fields := "ts_code,symbol,name,area,industry,exchange,list_date,delist_date"
	return c.Execute(ctx, "stock_basic", params, fields)
}

// GetDailyQuotes 获取日线行情
func (c *TushareClient) GetDailyQuotes(ctx context.Context, params map[string]interface{}) (*TushareResponse, error) {
	fields := "ts_code,trade_date,open,high,low,close,pre_close,change,pct_chg,vol,amount"
	return c.Execute(ctx, "daily", params, fields)
}

// GetDailyBasic 获取每日估值指标
func (c *TushareClient) GetDailyBasic(ctx context.Context, params map[string]interface{}) (*TushareResponse, error) {
	fields := "ts_code,trade_date,turnover_rate,pe,pe_ttm,pb,ps,ps_ttm,dv_ratio,total_mv,circ_mv"
	return c.Execute(ctx, "daily_basic", params, fields)
}
