// pkg/database/trade.go
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"Cornucopia/pkg/ledger"
	"Cornucopia/pkg/model"
)

// TradeDB 交易流水与持仓
type TradeDB struct {
	db       *gorm.DB
	lockWait time.Duration
}

// Trade lockWait 为持仓行锁的等待上限, 超时返回 ErrConcurrencyConflict
func (p *PostgresDB) Trade(lockWait time.Duration) *TradeDB {
	return &TradeDB{db: p.db, lockWait: lockWait}
}

func (t *TradeDB) RunInTx(ctx context.Context, pair model.Pair, fn func(tx ledger.Tx) error) error {
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if t.lockWait > 0 {
			if err := tx.Exec(lockTimeoutSQL(t.lockWait)).Error; err != nil {
				return err
			}
		}
		return fn(&gormTx{db: tx, pair: pair})
	})
	return mapError(err, model.ErrNotFound)
}

// lockTimeoutSQL 向上取整到毫秒; lock_timeout 为 0 表示无限等待
func lockTimeoutSQL(wait time.Duration) string {
	ms := (wait + time.Millisecond - 1) / time.Millisecond
	if ms < 1 {
		ms = 1
	}
	return fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", int64(ms))
}

func (t *TradeDB) ListOperations(ctx context.Context, q model.HistoryQuery, after model.Cursor, limit int) ([]*model.TradeOperation, error) {
	query := t.db.WithContext(ctx).Model(&model.TradeOperation{})
	if q.UserID != "" {
		query = query.Where("userid = ?", q.UserID)
	}
	if q.StockID != "" {
		query = query.Where("stockid = ?", q.StockID)
	}
	if !q.From.IsZero() {
		query = query.Where("executed_at >= ?", q.From)
	}
	if !q.To.IsZero() {
		query = query.Where("executed_at <= ?", q.To)
	}
	if after.ID != 0 || !after.ExecutedAt.IsZero() {
		query = query.Where("(executed_at > ? OR (executed_at = ? AND id > ?))", after.ExecutedAt, after.ExecutedAt, after.ID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var ops []*model.TradeOperation
	if err := query.Order("executed_at ASC, id ASC").Find(&ops).Error; err != nil {
		return nil, fmt.Errorf("查询交易流水失败: %w", err)
	}
	return ops, nil
}

func (t *TradeDB) GetHolding(ctx context.Context, pair model.Pair) (*model.Holding, error) {
	var h model.Holding
	err := t.db.WithContext(ctx).First(&h, "userid = ? AND stockid = ?", pair.UserID, pair.StockID).Error
	if err != nil {
		return nil, fmt.Errorf("持仓 %s: %w", pair, mapError(err, model.ErrNotFound))
	}
	return &h, nil
}

func (t *TradeDB) ListHoldings(ctx context.Context, userID string) ([]*model.Holding, error) {
	query := t.db.WithContext(ctx).Model(&model.Holding{})
	if userID != "" {
		query = query.Where("userid = ?", userID)
	}
	var holdings []*model.Holding
	if err := query.Order("userid ASC, stockid ASC").Find(&holdings).Error; err != nil {
		return nil, fmt.Errorf("查询持仓失败: %w", err)
	}
	return holdings, nil
}

func (t *TradeDB) ListPairs(ctx context.Context) ([]model.Pair, error) {
	var pairs []model.Pair
	err := t.db.WithContext(ctx).Model(&model.TradeOperation{}).
		Select("DISTINCT userid AS user_id, stockid AS stock_id").
		Order("user_id ASC, stock_id ASC").
		Scan(&pairs).Error
	if err != nil {
		return nil, fmt.Errorf("查询持仓列表失败: %w", err)
	}
	return pairs, nil
}

func (t *TradeDB) UpdateMarketValue(ctx context.Context, pair model.Pair, value decimal.Decimal, at time.Time) error {
	result := t.db.WithContext(ctx).Model(&model.Holding{}).
		Where("userid = ? AND stockid = ?", pair.UserID, pair.StockID).
		UpdateColumns(map[string]interface{}{"market_value": value, "valued_at": at})
	if result.Error != nil {
		return fmt.Errorf("更新持仓 %s 市值失败: %w", pair, mapError(result.Error, model.ErrNotFound))
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("持仓 %s: %w", pair, model.ErrNotFound)
	}
	return nil
}

// gormTx 单个持仓的数据库事务
type gormTx struct {
	db   *gorm.DB
	pair model.Pair
}

// Holding 先插入空持仓占位, 再以 SELECT ... FOR UPDATE 锁定该行
func (t *gormTx) Holding(ctx context.Context) (*model.Holding, error) {
	placeholder := model.Holding{
		UserID:      t.pair.UserID,
		StockID:     t.pair.StockID,
		Quantity:    decimal.Zero,
		CostPrice:   decimal.Zero,
		MarketValue: decimal.Zero,
	}
	if err := t.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&placeholder).Error; err != nil {
		return nil, fmt.Errorf("初始化持仓 %s 失败: %w", t.pair, err)
	}

	var h model.Holding
	err := t.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&h, "userid = ? AND stockid = ?", t.pair.UserID, t.pair.StockID).Error
	if err != nil {
		return nil, fmt.Errorf("锁定持仓 %s 失败: %w", t.pair, err)
	}
	return &h, nil
}

func (t *gormTx) Operations(ctx context.Context) ([]*model.TradeOperation, error) {
	var ops []*model.TradeOperation
	err := t.db.WithContext(ctx).
		Where("userid = ? AND stockid = ?", t.pair.UserID, t.pair.StockID).
		Order("executed_at ASC, id ASC").
		Find(&ops).Error
	if err != nil {
		return nil, fmt.Errorf("查询 %s 交易流水失败: %w", t.pair, err)
	}
	return ops, nil
}

func (t *gormTx) AppendOperation(ctx context.Context, op *model.TradeOperation) error {
	return t.db.WithContext(ctx).Create(op).Error
}

func (t *gormTx) SaveHolding(ctx context.Context, h *model.Holding) error {
	return t.db.WithContext(ctx).Save(h).Error
}
