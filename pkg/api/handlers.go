package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"Cornucopia/pkg/blotter"
	"Cornucopia/pkg/ledger"
	"Cornucopia/pkg/model"
)

// Catalog 参考目录
type Catalog interface {
	Lookup(ctx context.Context, stockID string) (*model.Security, error)
	Register(ctx context.Context, sec *model.Security) error
}

// Market 行情查询
type Market interface {
	LatestPrice(ctx context.Context, stockID string) (*model.LatestPrice, error)
	DailyRange(ctx context.Context, stockID string, from, to time.Time) ([]*model.DailyQuote, error)
}

// Blotter 交易流水
type Blotter interface {
	Append(ctx context.Context, op *model.TradeOperation) (*blotter.Receipt, error)
	History(q model.HistoryQuery) *blotter.Iterator
}

// Ledger 持仓查询
type Ledger interface {
	Holding(ctx context.Context, pair model.Pair) (*ledger.Valuation, error)
	Holdings(ctx context.Context, userID string, includeClosed bool) ([]*ledger.Valuation, error)
}

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
	defaultDailyWindow  = 30 * 24 * time.Hour
)

// Handlers API处理程序
type Handlers struct {
	catalog Catalog
	market  Market
	blotter Blotter
	ledger  Ledger
	ready   func(ctx context.Context) error
	status  func() interface{}
}

// NewHandlers 创建新的API处理程序, ready 为空时总是就绪
func NewHandlers(catalog Catalog, market Market, blotter Blotter, ledger Ledger, ready func(ctx context.Context) error) *Handlers {
	return &Handlers{
		catalog: catalog,
		market:  market,
		blotter: blotter,
		ledger:  ledger,
		ready:   ready,
	}
}

// WithStatus 设置组件状态来源, 用于 /status
func (h *Handlers) WithStatus(status func() interface{}) *Handlers {
	h.status = status
	return h
}

// HealthCheck 健康检查处理程序
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ReadinessCheck 就绪检查处理程序
func (h *Handlers) ReadinessCheck(c *gin.Context) {
	if h.ready != nil {
		if err := h.ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// ComponentStatus 依赖组件状态
func (h *Handlers) ComponentStatus(c *gin.Context) {
	if h.status == nil {
		c.JSON(http.StatusOK, gin.H{"data": []interface{}{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": h.status()})
}

// GetSecurity 查询证券主数据
func (h *Handlers) GetSecurity(c *gin.Context) {
	sec, err := h.catalog.Lookup(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sec})
}

// SecurityRequest 登记证券请求
type SecurityRequest struct {
	StockID       string `json:"stockid" binding:"required"`
	Name          string `json:"name" binding:"required"`
	Location      string `json:"location"`
	Symbol        string `json:"symbol"`
	Industry      string `json:"industry"`
	ListingDate   string `json:"listing_date" binding:"required"`
	DelistingDate string `json:"delisting_date"`
}

// RegisterSecurity 登记证券
func (h *Handlers) RegisterSecurity(c *gin.Context) {
	var req SecurityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求参数: "+err.Error())
		return
	}

	listing, err := model.ParseDate(req.ListingDate)
	if err != nil {
		badRequest(c, "无效的上市日期: "+req.ListingDate)
		return
	}
	sec := &model.Security{
		StockID:     strings.TrimSpace(req.StockID),
		Name:        req.Name,
		Location:    req.Location,
		Symbol:      req.Symbol,
		Industry:    req.Industry,
		ListingDate: listing,
	}
	if req.DelistingDate != "" {
		d, err := model.ParseDate(req.DelistingDate)
		if err != nil {
			badRequest(c, "无效的退市日期: "+req.DelistingDate)
			return
		}
		sec.DelistingDate = &d
	}

	if err := h.catalog.Register(c.Request.Context(), sec); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": sec})
}

// GetLatestPrice 查询最新价
func (h *Handlers) GetLatestPrice(c *gin.Context) {
	price, err := h.market.LatestPrice(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": price})
}

// GetDailyRange 查询区间日线, 默认最近30天
func (h *Handlers) GetDailyRange(c *gin.Context) {
	to := time.Now().UTC()
	if s := c.Query("to"); s != "" {
		d, err := model.ParseDate(s)
		if err != nil {
			badRequest(c, "无效的结束日期: "+s)
			return
		}
		to = d
	}
	from := to.Add(-defaultDailyWindow)
	if s := c.Query("from"); s != "" {
		d, err := model.ParseDate(s)
		if err != nil {
			badRequest(c, "无效的开始日期: "+s)
			return
		}
		from = d
	}
	if from.After(to) {
		badRequest(c, "开始日期晚于结束日期")
		return
	}

	quotes, err := h.market.DailyRange(c.Request.Context(), c.Param("id"), from, to)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": quotes})
}

// TradeRequest 记账请求, quantity 为正买入、为负卖出
type TradeRequest struct {
	UserID     string          `json:"user_id" binding:"required"`
	StockID    string          `json:"stockid" binding:"required"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	ExecutedAt time.Time       `json:"executed_at"`
}

// AppendTrade 追加交易
func (h *Handlers) AppendTrade(c *gin.Context) {
	var req TradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "无效的请求参数: "+err.Error())
		return
	}

	receipt, err := h.blotter.Append(c.Request.Context(), &model.TradeOperation{
		UserID:     req.UserID,
		StockID:    req.StockID,
		Quantity:   req.Quantity,
		Price:      req.Price,
		ExecutedAt: req.ExecutedAt,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": receipt})
}

// GetTradeHistory 分页查询交易流水, 通过 after_time/after_id 继续翻页
func (h *Handlers) GetTradeHistory(c *gin.Context) {
	q := model.HistoryQuery{UserID: c.Param("uid"), StockID: c.Query("stockid")}
	var err error
	if q.From, err = queryTime(c, "from"); err != nil {
		badRequest(c, err.Error())
		return
	}
	if q.To, err = queryTime(c, "to"); err != nil {
		badRequest(c, err.Error())
		return
	}

	var cursor model.Cursor
	if cursor.ExecutedAt, err = queryTime(c, "after_time"); err != nil {
		badRequest(c, err.Error())
		return
	}
	if s := c.Query("after_id"); s != "" {
		if cursor.ID, err = strconv.ParseInt(s, 10, 64); err != nil {
			badRequest(c, "无效的 after_id: "+s)
			return
		}
	}

	limit := defaultHistoryLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			badRequest(c, "无效的 limit: "+s)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	ctx := c.Request.Context()
	it := h.blotter.History(q).From(cursor)
	ops := make([]*model.TradeOperation, 0, limit)
	for len(ops) < limit && it.Next(ctx) {
		ops = append(ops, it.Operation())
	}
	if err := it.Err(); err != nil {
		abortWithError(c, err)
		return
	}

	resp := gin.H{"data": ops}
	if len(ops) == limit {
		resp["next"] = it.Cursor()
	}
	c.JSON(http.StatusOK, resp)
}

// GetHoldings 查询用户持仓, closed=true 时包含已平仓
func (h *Handlers) GetHoldings(c *gin.Context) {
	includeClosed, _ := strconv.ParseBool(c.Query("closed"))
	holdings, err := h.ledger.Holdings(c.Request.Context(), c.Param("uid"), includeClosed)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": holdings})
}

// GetHolding 查询单只证券持仓
func (h *Handlers) GetHolding(c *gin.Context) {
	v, err := h.ledger.Holding(c.Request.Context(), model.Pair{UserID: c.Param("uid"), StockID: c.Param("id")})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": v})
}

// queryTime 解析 RFC3339 时间或日期参数, 缺省返回零值
func queryTime(c *gin.Context, key string) (time.Time, error) {
	s := c.Query(key)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := model.ParseDate(s)
	if err != nil {
		return time.Time{}, &paramError{key: key, value: s}
	}
	return t, nil
}

type paramError struct {
	key, value string
}

func (e *paramError) Error() string {
	return "无效的参数 " + e.key + ": " + e.value
}
