// Package blotter 用户交易流水: 只追加, 每笔交易与持仓更新在同一事务内提交.
package blotter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"Cornucopia/pkg/audit"
	"Cornucopia/pkg/ledger"
	"Cornucopia/pkg/model"
)

// Catalog 参考目录校验接口
type Catalog interface {
	Require(ctx context.Context, stockID string) (*model.Security, error)
}

// Blotter 交易流水
type Blotter struct {
	repo     ledger.Repository
	catalog  Catalog
	ledger   *ledger.Ledger
	audit    audit.Sink
	pageSize int
	loc      *time.Location
	log      zerolog.Logger
}

// Option 可选配置
type Option func(*Blotter)

// WithLocation 设置判断退市日期所用的交易所时区
func WithLocation(loc *time.Location) Option {
	return func(b *Blotter) { b.loc = loc }
}

// New 创建交易流水服务
func New(repo ledger.Repository, catalog Catalog, led *ledger.Ledger, sink audit.Sink, pageSize int, log zerolog.Logger, opts ...Option) *Blotter {
	if sink == nil {
		sink = audit.Nop{}
	}
	if pageSize <= 0 {
		pageSize = 500
	}
	b := &Blotter{
		repo:     repo,
		catalog:  catalog,
		ledger:   led,
		audit:    sink,
		pageSize: pageSize,
		loc:      time.UTC,
		log:      log.With().Str("component", "blotter").Logger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Receipt 记账回执
type Receipt struct {
	Operation *model.TradeOperation `json:"operation"`
	Holding   *model.Holding        `json:"holding"`
	Realized  decimal.Decimal       `json:"realized"`
}

// Append 追加一笔交易并同步更新持仓
func (b *Blotter) Append(ctx context.Context, op *model.TradeOperation) (receipt *Receipt, err error) {
	pair := op.Pair()
	defer func() {
		b.audit.Emit(ctx, model.NewAuditEvent(model.AuditTradeAppend, pair.String(), op.UserID, err))
		if err == nil {
			b.audit.Emit(ctx, model.NewAuditEvent(model.AuditPositionUpdate, pair.String(), op.UserID, nil))
		}
	}()

	if strings.TrimSpace(op.UserID) == "" {
		return nil, fmt.Errorf("交易缺少用户ID: %w", model.ErrNotFound)
	}
	if op.ExecutedAt.IsZero() {
		return nil, fmt.Errorf("交易缺少成交时间: %w", model.ErrInvalidDate)
	}
	if err := ledger.ValidateTrade(op.Quantity, op.Price); err != nil {
		return nil, err
	}
	// 数据库时间戳精度为微秒
	op.ExecutedAt = op.ExecutedAt.UTC().Truncate(time.Microsecond)
	sec, err := b.catalog.Require(ctx, op.StockID)
	if err != nil {
		return nil, err
	}
	// 退市日当天仍可成交
	if sec.DelistingDate != nil && model.DateIn(op.ExecutedAt, b.loc).After(*sec.DelistingDate) {
		return nil, fmt.Errorf("%s 成交时间晚于退市日期 %s: %w", pair, model.FormatDate(*sec.DelistingDate), model.ErrInvalidDate)
	}

	err = b.repo.RunInTx(ctx, pair, func(tx ledger.Tx) error {
		h, err := tx.Holding(ctx)
		if err != nil {
			return err
		}
		step, err := b.ledger.Post(h, op)
		if err != nil {
			return err
		}
		if err := tx.AppendOperation(ctx, op); err != nil {
			return fmt.Errorf("追加交易流水失败: %w", err)
		}
		ledger.Settle(h, step, op)
		if err := tx.SaveHolding(ctx, h); err != nil {
			return fmt.Errorf("更新持仓失败: %w", err)
		}
		receipt = &Receipt{Operation: op, Holding: h, Realized: step.Realized}
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.log.Info().
		Str("pair", pair.String()).
		Int64("id", op.ID).
		Str("quantity", op.Quantity.String()).
		Str("price", op.Price.String()).
		Str("holding", receipt.Holding.Quantity.String()).
		Str("realized", receipt.Realized.String()).
		Msg("交易已记账")
	return receipt, nil
}

// History 返回按 (成交时间, ID) 升序的惰性流水迭代器
func (b *Blotter) History(q model.HistoryQuery) *Iterator {
	return &Iterator{repo: b.repo, query: q, pageSize: b.pageSize}
}
