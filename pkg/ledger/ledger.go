// Package ledger 由交易流水派生当前持仓: 加权平均成本、重放重建、一致性校验与市值刷新.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"Cornucopia/pkg/audit"
	"Cornucopia/pkg/model"
)

// PriceSource 最新价来源, 由 market.Store 实现
type PriceSource interface {
	LatestPrice(ctx context.Context, stockID string) (*model.LatestPrice, error)
}

// Config 持仓账本配置
type Config struct {
	Policy    Policy
	Staleness time.Duration // 市值缓存允许的最大陈旧时间
}

// Ledger 持仓账本
type Ledger struct {
	repo   Repository
	prices PriceSource
	audit  audit.Sink
	cfg    Config
	now    func() time.Time
	log    zerolog.Logger
}

// New 创建持仓账本
func New(repo Repository, prices PriceSource, sink audit.Sink, cfg Config, log zerolog.Logger) *Ledger {
	if sink == nil {
		sink = audit.Nop{}
	}
	return &Ledger{
		repo:   repo,
		prices: prices,
		audit:  sink,
		cfg:    cfg,
		now:    time.Now,
		log:    log.With().Str("component", "ledger").Logger(),
	}
}

// Policy 当前持仓策略
func (l *Ledger) Policy() Policy {
	return l.cfg.Policy
}

// Post 在事务内把一笔交易记入持仓: 冻结检查、时间顺序检查、成本计算.
// 调用方负责追加流水后再保存持仓
func (l *Ledger) Post(h *model.Holding, op *model.TradeOperation) (Step, error) {
	if h.Halted {
		return Step{}, fmt.Errorf("持仓 %s: %w", h.Pair(), model.ErrLedgerHalted)
	}
	if !h.LastOperatedAt.IsZero() && op.ExecutedAt.Before(h.LastOperatedAt) {
		return Step{}, fmt.Errorf("交易时间 %s 早于最近一笔 %s: %w",
			op.ExecutedAt.Format(time.RFC3339), h.LastOperatedAt.Format(time.RFC3339), model.ErrInvalidDate)
	}
	step, err := Apply(PositionOf(h), op.Quantity, op.Price, l.cfg.Policy)
	if err != nil {
		return Step{}, err
	}
	return step, nil
}

// Settle 将计算结果写回持仓记录
func Settle(h *model.Holding, step Step, op *model.TradeOperation) {
	h.Quantity = step.Position.Quantity
	h.CostPrice = step.Position.Cost
	h.LastOperationID = op.ID
	h.LastOperatedAt = op.ExecutedAt
	if h.Closed() {
		h.MarketValue = decimal.Zero
	}
}

// Valuation 持仓及其实时估值
type Valuation struct {
	Holding       *model.Holding     `json:"holding"`
	Price         *model.LatestPrice `json:"price,omitempty"`
	MarketValue   decimal.Decimal    `json:"market_value"`
	UnrealizedPnL decimal.Decimal    `json:"unrealized_pnl"`
	Stale         bool               `json:"stale"` // 无最新价, 使用缓存市值
}

// Holding 读取持仓并按最新价计算市值, 缓存超过陈旧上限时回写
func (l *Ledger) Holding(ctx context.Context, pair model.Pair) (*Valuation, error) {
	h, err := l.repo.GetHolding(ctx, pair)
	if err != nil {
		return nil, fmt.Errorf("查询持仓 %s 失败: %w", pair, err)
	}
	return l.value(ctx, h), nil
}

// Holdings 读取用户全部持仓, includeClosed 为 false 时跳过已平仓
func (l *Ledger) Holdings(ctx context.Context, userID string, includeClosed bool) ([]*Valuation, error) {
	holdings, err := l.repo.ListHoldings(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("查询用户 %s 持仓失败: %w", userID, err)
	}
	result := make([]*Valuation, 0, len(holdings))
	for _, h := range holdings {
		if h.Closed() && !includeClosed {
			continue
		}
		result = append(result, l.value(ctx, h))
	}
	return result, nil
}

func (l *Ledger) value(ctx context.Context, h *model.Holding) *Valuation {
	v := &Valuation{Holding: h, MarketValue: h.MarketValue, UnrealizedPnL: decimal.Zero}
	if h.Closed() {
		v.MarketValue = decimal.Zero
		return v
	}

	price, err := l.prices.LatestPrice(ctx, h.StockID)
	if err != nil {
		if !errors.Is(err, model.ErrNoData) {
			l.log.Warn().Err(err).Str("pair", h.Pair().String()).Msg("获取最新价失败, 使用缓存市值")
		}
		v.Stale = true
		return v
	}

	v.Price = price
	v.MarketValue = h.Quantity.Mul(price.Price).Round(ValueScale)
	v.UnrealizedPnL = v.MarketValue.Sub(h.Quantity.Mul(h.CostPrice))

	now := l.now()
	if !h.Halted && (h.ValuedAt == nil || now.Sub(*h.ValuedAt) >= l.cfg.Staleness || !h.MarketValue.Equal(v.MarketValue)) {
		if err := l.repo.UpdateMarketValue(ctx, h.Pair(), v.MarketValue, now); err != nil {
			l.log.Warn().Err(err).Str("pair", h.Pair().String()).Msg("回写市值缓存失败")
		} else {
			h.MarketValue = v.MarketValue
			h.ValuedAt = &now
		}
	}
	return v
}

// RefreshMarketValues 刷新所有未平仓、未冻结持仓的市值缓存, 返回刷新数量
func (l *Ledger) RefreshMarketValues(ctx context.Context) (int, error) {
	holdings, err := l.repo.ListHoldings(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("查询持仓失败: %w", err)
	}
	refreshed := 0
	for _, h := range holdings {
		if ctx.Err() != nil {
			return refreshed, ctx.Err()
		}
		if h.Closed() || h.Halted {
			continue
		}
		price, err := l.prices.LatestPrice(ctx, h.StockID)
		if err != nil {
			l.log.Debug().Err(err).Str("pair", h.Pair().String()).Msg("跳过无最新价的持仓")
			continue
		}
		if err := l.repo.UpdateMarketValue(ctx, h.Pair(), h.Quantity.Mul(price.Price).Round(ValueScale), l.now()); err != nil {
			l.log.Warn().Err(err).Str("pair", h.Pair().String()).Msg("刷新市值失败")
			continue
		}
		refreshed++
	}
	l.log.Info().Int("refreshed", refreshed).Int("total", len(holdings)).Msg("市值缓存刷新完成")
	return refreshed, nil
}

// Statement 重放得到的持仓与累计已实现盈亏
type Statement struct {
	Pair       model.Pair      `json:"pair"`
	Position   Position        `json:"position"`
	Realized   decimal.Decimal `json:"realized"`
	Operations int             `json:"operations"`
}

// replayPage 只读重放时每次读取的流水条数
const replayPage = 500

// Replay 只读重放: 按游标分页读取流水, 不持有持仓锁, 不修改持仓
func (l *Ledger) Replay(ctx context.Context, pair model.Pair) (*Statement, error) {
	q := model.HistoryQuery{UserID: pair.UserID, StockID: pair.StockID}
	var ops []*model.TradeOperation
	var cursor model.Cursor
	for {
		page, err := l.repo.ListOperations(ctx, q, cursor, replayPage)
		if err != nil {
			return nil, fmt.Errorf("读取 %s 流水失败: %w", pair, err)
		}
		ops = append(ops, page...)
		if len(page) < replayPage {
			break
		}
		last := page[len(page)-1]
		cursor = model.Cursor{ExecutedAt: last.ExecutedAt, ID: last.ID}
	}
	if len(ops) == 0 {
		return nil, fmt.Errorf("持仓 %s 没有流水: %w", pair, model.ErrNotFound)
	}

	pos, realized, err := Replay(ops)
	if err != nil {
		return nil, err
	}
	return &Statement{Pair: pair, Position: pos, Realized: realized, Operations: len(ops)}, nil
}

// Rebuild 从空持仓重放全部流水并覆盖持仓, 冻结的持仓需先对账
func (l *Ledger) Rebuild(ctx context.Context, pair model.Pair) (st *Statement, err error) {
	defer func() { l.emit(ctx, model.AuditRebuild, pair, err) }()

	err = l.repo.RunInTx(ctx, pair, func(tx Tx) error {
		h, err := tx.Holding(ctx)
		if err != nil {
			return err
		}
		if h.Halted {
			return fmt.Errorf("持仓 %s: %w", pair, model.ErrLedgerHalted)
		}
		st, err = l.overwrite(ctx, tx, h, pair)
		return err
	})
	return st, err
}

// Verify 重放比对持仓; 不一致时冻结该持仓并返回 ErrLedgerDiverged
func (l *Ledger) Verify(ctx context.Context, pair model.Pair) error {
	var diverged bool
	var want Position
	var got Position
	err := l.repo.RunInTx(ctx, pair, func(tx Tx) error {
		st, err := replayTx(ctx, tx, pair)
		if err != nil {
			return err
		}
		h, err := tx.Holding(ctx)
		if err != nil {
			return err
		}
		want, got = st.Position, PositionOf(h)
		if want.Equal(got) || h.Halted {
			diverged = h.Halted
			return nil
		}
		diverged = true
		h.Halted = true
		return tx.SaveHolding(ctx, h)
	})
	if err != nil {
		return fmt.Errorf("校验持仓 %s 失败: %w", pair, err)
	}
	if !diverged {
		return nil
	}

	err = fmt.Errorf("持仓 %s 为 %s, 重放结果为 %s: %w", pair, got, want, model.ErrLedgerDiverged)
	l.log.Error().Str("pair", pair.String()).Str("holding", got.String()).Str("replay", want.String()).Msg("持仓与流水不一致, 已冻结")
	l.emit(ctx, model.AuditDivergence, pair, err)
	return err
}

// VerifyReport 全量校验结果
type VerifyReport struct {
	Checked  int          `json:"checked"`
	Diverged []model.Pair `json:"diverged"`
	Failed   []model.Pair `json:"failed"`
}

// VerifyAll 校验所有有流水的持仓
func (l *Ledger) VerifyAll(ctx context.Context) (*VerifyReport, error) {
	pairs, err := l.repo.ListPairs(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询持仓列表失败: %w", err)
	}
	report := &VerifyReport{}
	for _, pair := range pairs {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++
		err := l.Verify(ctx, pair)
		switch {
		case err == nil:
		case errors.Is(err, model.ErrLedgerDiverged):
			report.Diverged = append(report.Diverged, pair)
		default:
			report.Failed = append(report.Failed, pair)
			l.log.Warn().Err(err).Str("pair", pair.String()).Msg("校验持仓失败")
		}
	}
	l.log.Info().Int("checked", report.Checked).Int("diverged", len(report.Diverged)).Msg("持仓校验完成")
	return report, nil
}

// Reconcile 人工对账: 按流水重建持仓并解除冻结
func (l *Ledger) Reconcile(ctx context.Context, pair model.Pair) (st *Statement, err error) {
	defer func() { l.emit(ctx, model.AuditReconcile, pair, err) }()

	err = l.repo.RunInTx(ctx, pair, func(tx Tx) error {
		h, err := tx.Holding(ctx)
		if err != nil {
			return err
		}
		h.Halted = false
		st, err = l.overwrite(ctx, tx, h, pair)
		return err
	})
	if err == nil {
		l.log.Warn().Str("pair", pair.String()).Msg("持仓已对账并解除冻结")
	}
	return st, err
}

func (l *Ledger) overwrite(ctx context.Context, tx Tx, h *model.Holding, pair model.Pair) (*Statement, error) {
	ops, err := tx.Operations(ctx)
	if err != nil {
		return nil, err
	}
	pos, realized, err := Replay(ops)
	if err != nil {
		return nil, err
	}
	h.Quantity, h.CostPrice = pos.Quantity, pos.Cost
	h.LastOperationID, h.LastOperatedAt = 0, time.Time{}
	if n := len(ops); n > 0 {
		h.LastOperationID, h.LastOperatedAt = ops[n-1].ID, ops[n-1].ExecutedAt
	}
	if h.Closed() {
		h.MarketValue = decimal.Zero
	}
	if err := tx.SaveHolding(ctx, h); err != nil {
		return nil, err
	}
	return &Statement{Pair: pair, Position: pos, Realized: realized, Operations: len(ops)}, nil
}

func replayTx(ctx context.Context, tx Tx, pair model.Pair) (*Statement, error) {
	ops, err := tx.Operations(ctx)
	if err != nil {
		return nil, err
	}
	pos, realized, err := Replay(ops)
	if err != nil {
		return nil, err
	}
	return &Statement{Pair: pair, Position: pos, Realized: realized, Operations: len(ops)}, nil
}

func (l *Ledger) emit(ctx context.Context, action model.AuditAction, pair model.Pair, err error) {
	l.audit.Emit(ctx, model.NewAuditEvent(action, pair.String(), pair.UserID, err))
}
