package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"Cornucopia/pkg/model"
)

// Repository 交易流水与持仓存储
type Repository interface {
	// RunInTx 在持有 pair 锁的事务中执行 fn, fn 返回错误时全部回滚
	RunInTx(ctx context.Context, pair model.Pair, fn func(tx Tx) error) error
	// ListOperations 按 (executed_at, id) 升序返回游标之后最多 limit 条流水
	ListOperations(ctx context.Context, q model.HistoryQuery, after model.Cursor, limit int) ([]*model.TradeOperation, error)
	GetHolding(ctx context.Context, pair model.Pair) (*model.Holding, error)
	// ListHoldings userID 为空时返回全部持仓
	ListHoldings(ctx context.Context, userID string) ([]*model.Holding, error)
	// ListPairs 返回所有有流水的 (用户, 证券)
	ListPairs(ctx context.Context) ([]model.Pair, error)
	// UpdateMarketValue 只刷新市值缓存, 不触碰数量和成本
	UpdateMarketValue(ctx context.Context, pair model.Pair, value decimal.Decimal, at time.Time) error
}

// Tx 单个 (用户, 证券) 的事务视图
type Tx interface {
	// Holding 返回加锁的持仓, 不存在时返回零持仓
	Holding(ctx context.Context) (*model.Holding, error)
	// Operations 返回该持仓的全部流水, 按 (executed_at, id) 升序
	Operations(ctx context.Context) ([]*model.TradeOperation, error)
	// AppendOperation 追加流水并回填ID
	AppendOperation(ctx context.Context, op *model.TradeOperation) error
	SaveHolding(ctx context.Context, h *model.Holding) error
}
