// Package repository 内存数据仓库, 实现参考目录、行情和持仓三类存储接口.
// 用于测试以及 storage.driver=memory 的单机运行.
package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"Cornucopia/pkg/keylock"
	"Cornucopia/pkg/ledger"
	"Cornucopia/pkg/model"
)

type dayKey struct {
	stockID string
	day     string
}

func dayKeyOf(stockID string, t time.Time) dayKey {
	return dayKey{stockID: stockID, day: model.FormatDate(t)}
}

// Repository 内存数据仓库
type Repository struct {
	securities map[string]*model.Security
	daily      map[dayKey]*model.DailyQuote
	valuations map[dayKey]*model.ValuationSnapshot
	finances   map[dayKey]*model.FinanceSnapshot
	realtime   map[string][]*model.RealtimeQuote // 按 captured_at 升序
	intraday   map[string][]*model.IntradayTick  // 按 bucket 升序
	operations map[model.Pair][]*model.TradeOperation
	holdings   map[model.Pair]*model.Holding

	nextRealtimeID  int64
	nextIntradayID  int64
	nextOperationID int64

	pairLocks *keylock.Locker
	now       func() time.Time
	mutex     sync.RWMutex
}

// NewRepository 创建新的数据仓库, lockWait 为单个持仓事务等待锁的上限
func NewRepository(lockWait time.Duration) *Repository {
	return &Repository{
		securities: make(map[string]*model.Security),
		daily:      make(map[dayKey]*model.DailyQuote),
		valuations: make(map[dayKey]*model.ValuationSnapshot),
		finances:   make(map[dayKey]*model.FinanceSnapshot),
		realtime:   make(map[string][]*model.RealtimeQuote),
		intraday:   make(map[string][]*model.IntradayTick),
		operations: make(map[model.Pair][]*model.TradeOperation),
		holdings:   make(map[model.Pair]*model.Holding),
		pairLocks:  keylock.New(lockWait),
		now:        time.Now,
	}
}

// ---- 参考目录 ----

func (r *Repository) GetSecurity(_ context.Context, stockID string) (*model.Security, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	sec, ok := r.securities[stockID]
	if !ok {
		return nil, fmt.Errorf("证券 %s: %w", stockID, model.ErrNotFound)
	}
	return cloneSecurity(sec), nil
}

func (r *Repository) CreateSecurity(_ context.Context, sec *model.Security) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.securities[sec.StockID]; ok {
		return fmt.Errorf("证券 %s 已存在: %w", sec.StockID, model.ErrDuplicateKey)
	}
	now := r.now()
	sec.CreatedAt, sec.UpdatedAt = now, now
	r.securities[sec.StockID] = cloneSecurity(sec)
	return nil
}

func (r *Repository) UpdateSecurity(_ context.Context, sec *model.Security) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.securities[sec.StockID]; !ok {
		return fmt.Errorf("证券 %s: %w", sec.StockID, model.ErrNotFound)
	}
	sec.UpdatedAt = r.now()
	r.securities[sec.StockID] = cloneSecurity(sec)
	return nil
}

func (r *Repository) ListSecurities(_ context.Context, filter model.SecurityFilter) ([]*model.Security, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var result []*model.Security
	for _, sec := range r.securities {
		if filter.Match(sec) {
			result = append(result, cloneSecurity(sec))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StockID < result[j].StockID })
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// ---- 行情 ----

func (r *Repository) UpsertDaily(_ context.Context, q *model.DailyQuote) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	key := dayKeyOf(q.StockID, q.TradeDate)
	now := r.now()
	if existing, ok := r.daily[key]; ok {
		q.ID, q.CreatedAt = existing.ID, existing.CreatedAt
	} else {
		if q.ID == "" {
			q.ID = uuid.New().String()
		}
		q.CreatedAt = now
	}
	q.UpdatedAt = now
	c := *q
	r.daily[key] = &c
	return nil
}

func (r *Repository) UpsertValuation(_ context.Context, v *model.ValuationSnapshot) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	key := dayKeyOf(v.StockID, v.AsOf)
	now := r.now()
	if existing, ok := r.valuations[key]; ok {
		v.ID, v.CreatedAt = existing.ID, existing.CreatedAt
	} else {
		if v.ID == "" {
			v.ID = uuid.New().String()
		}
		v.CreatedAt = now
	}
	v.UpdatedAt = now
	c := *v
	r.valuations[key] = &c
	return nil
}

func (r *Repository) UpsertFinance(_ context.Context, f *model.FinanceSnapshot) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	key := dayKeyOf(f.StockID, f.AsOf)
	now := r.now()
	if existing, ok := r.finances[key]; ok {
		f.ID, f.CreatedAt = existing.ID, existing.CreatedAt
	} else {
		if f.ID == "" {
			f.ID = uuid.New().String()
		}
		f.CreatedAt = now
	}
	f.UpdatedAt = now
	c := *f
	r.finances[key] = &c
	return nil
}

func (r *Repository) AppendRealtime(_ context.Context, q *model.RealtimeQuote) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	list := r.realtime[q.StockID]
	i := sort.Search(len(list), func(i int) bool { return !list[i].CapturedAt.Before(q.CapturedAt) })
	if i < len(list) && list[i].CapturedAt.Equal(q.CapturedAt) {
		return false, nil
	}
	r.nextRealtimeID++
	q.ID = r.nextRealtimeID
	q.CreatedAt = r.now()
	c := *q
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = &c
	r.realtime[q.StockID] = list
	return true, nil
}

func (r *Repository) AppendIntraday(_ context.Context, t *model.IntradayTick) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	list := r.intraday[t.StockID]
	i := sort.Search(len(list), func(i int) bool { return !list[i].Bucket.Before(t.Bucket) })
	for j := i; j < len(list) && list[j].Bucket.Equal(t.Bucket); j++ {
		if list[j].TradeDate.Equal(t.TradeDate) {
			return false, nil
		}
	}
	r.nextIntradayID++
	t.ID = r.nextIntradayID
	t.CreatedAt = r.now()
	c := *t
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = &c
	r.intraday[t.StockID] = list
	return true, nil
}

func (r *Repository) PreviousDaily(_ context.Context, stockID string, before time.Time) (*model.DailyQuote, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var best *model.DailyQuote
	for key, q := range r.daily {
		if key.stockID != stockID || !q.TradeDate.Before(before) {
			continue
		}
		if best == nil || q.TradeDate.After(best.TradeDate) {
			best = q
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%s 在 %s 之前无日线: %w", stockID, model.FormatDate(before), model.ErrNoData)
	}
	c := *best
	return &c, nil
}

func (r *Repository) LatestDaily(ctx context.Context, stockID string) (*model.DailyQuote, error) {
	return r.PreviousDaily(ctx, stockID, time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC))
}

func (r *Repository) LatestRealtime(_ context.Context, stockID string) (*model.RealtimeQuote, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	list := r.realtime[stockID]
	if len(list) == 0 {
		return nil, fmt.Errorf("%s 无实时行情: %w", stockID, model.ErrNoData)
	}
	c := *list[len(list)-1]
	return &c, nil
}

func (r *Repository) DailyRange(_ context.Context, stockID string, from, to time.Time) ([]*model.DailyQuote, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var result []*model.DailyQuote
	for key, q := range r.daily {
		if key.stockID != stockID || q.TradeDate.Before(from) || q.TradeDate.After(to) {
			continue
		}
		c := *q
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TradeDate.Before(result[j].TradeDate) })
	return result, nil
}

func (r *Repository) IntradayOf(_ context.Context, stockID string, date time.Time) ([]*model.IntradayTick, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var result []*model.IntradayTick
	for _, t := range r.intraday[stockID] {
		if t.TradeDate.Equal(date) {
			c := *t
			result = append(result, &c)
		}
	}
	return result, nil
}

func (r *Repository) Valuation(_ context.Context, stockID string, date time.Time) (*model.ValuationSnapshot, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	v, ok := r.valuations[dayKeyOf(stockID, date)]
	if !ok {
		return nil, fmt.Errorf("%s 在 %s 无估值: %w", stockID, model.FormatDate(date), model.ErrNoData)
	}
	c := *v
	return &c, nil
}

func (r *Repository) Finance(_ context.Context, stockID string, date time.Time) (*model.FinanceSnapshot, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	f, ok := r.finances[dayKeyOf(stockID, date)]
	if !ok {
		return nil, fmt.Errorf("%s 在 %s 无财务数据: %w", stockID, model.FormatDate(date), model.ErrNoData)
	}
	c := *f
	return &c, nil
}

// ---- 交易流水与持仓 ----

// RunInTx 持有持仓锁执行 fn, 成功后一次性提交流水与持仓
func (r *Repository) RunInTx(ctx context.Context, pair model.Pair, fn func(tx ledger.Tx) error) error {
	release, err := r.pairLocks.Acquire(ctx, pair.String())
	if err != nil {
		return err
	}
	defer release()

	tx := &memTx{repo: r, pair: pair}
	if err := fn(tx); err != nil {
		return err
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.operations[pair] = append(r.operations[pair], tx.staged...)
	if tx.holding != nil && tx.dirty {
		c := *tx.holding
		r.holdings[pair] = &c
	}
	return nil
}

func (r *Repository) ListOperations(_ context.Context, q model.HistoryQuery, after model.Cursor, limit int) ([]*model.TradeOperation, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var result []*model.TradeOperation
	for pair, ops := range r.operations {
		if q.UserID != "" && pair.UserID != q.UserID {
			continue
		}
		for _, op := range ops {
			if q.Match(op) && after.After(op) {
				c := *op
				result = append(result, &c)
			}
		}
	}
	sortOperations(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *Repository) GetHolding(_ context.Context, pair model.Pair) (*model.Holding, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	h, ok := r.holdings[pair]
	if !ok {
		return nil, fmt.Errorf("持仓 %s: %w", pair, model.ErrNotFound)
	}
	c := *h
	return &c, nil
}

func (r *Repository) ListHoldings(_ context.Context, userID string) ([]*model.Holding, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var result []*model.Holding
	for pair, h := range r.holdings {
		if userID != "" && pair.UserID != userID {
			continue
		}
		c := *h
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Pair().String() < result[j].Pair().String() })
	return result, nil
}

func (r *Repository) ListPairs(_ context.Context) ([]model.Pair, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	pairs := make([]model.Pair, 0, len(r.operations))
	for pair := range r.operations {
		pairs = append(pairs, pair)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].String() < pairs[j].String() })
	return pairs, nil
}

func (r *Repository) UpdateMarketValue(_ context.Context, pair model.Pair, value decimal.Decimal, at time.Time) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	h, ok := r.holdings[pair]
	if !ok {
		return fmt.Errorf("持仓 %s: %w", pair, model.ErrNotFound)
	}
	h.MarketValue = value
	h.ValuedAt = &at
	return nil
}

// memTx 内存事务, 写入先暂存, 提交时落入仓库
type memTx struct {
	repo    *Repository
	pair    model.Pair
	staged  []*model.TradeOperation
	holding *model.Holding
	dirty   bool
}

func (t *memTx) Holding(ctx context.Context) (*model.Holding, error) {
	if t.holding != nil {
		c := *t.holding
		return &c, nil
	}
	h, err := t.repo.GetHolding(ctx, t.pair)
	if err != nil {
		h = &model.Holding{
			UserID:      t.pair.UserID,
			StockID:     t.pair.StockID,
			Quantity:    decimal.Zero,
			CostPrice:   decimal.Zero,
			MarketValue: decimal.Zero,
		}
	}
	t.holding = h
	c := *h
	return &c, nil
}

func (t *memTx) Operations(_ context.Context) ([]*model.TradeOperation, error) {
	t.repo.mutex.RLock()
	committed := t.repo.operations[t.pair]
	result := make([]*model.TradeOperation, 0, len(committed)+len(t.staged))
	for _, op := range committed {
		c := *op
		result = append(result, &c)
	}
	t.repo.mutex.RUnlock()

	for _, op := range t.staged {
		c := *op
		result = append(result, &c)
	}
	sortOperations(result)
	return result, nil
}

func (t *memTx) AppendOperation(_ context.Context, op *model.TradeOperation) error {
	t.repo.mutex.Lock()
	t.repo.nextOperationID++
	op.ID = t.repo.nextOperationID
	op.CreatedAt = t.repo.now()
	t.repo.mutex.Unlock()

	c := *op
	t.staged = append(t.staged, &c)
	return nil
}

func (t *memTx) SaveHolding(_ context.Context, h *model.Holding) error {
	h.UpdatedAt = t.repo.now()
	c := *h
	t.holding = &c
	t.dirty = true
	return nil
}

func sortOperations(ops []*model.TradeOperation) {
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].ExecutedAt.Equal(ops[j].ExecutedAt) {
			return ops[i].ID < ops[j].ID
		}
		return ops[i].ExecutedAt.Before(ops[j].ExecutedAt)
	})
}

func cloneSecurity(sec *model.Security) *model.Security {
	c := *sec
	if sec.DelistingDate != nil {
		d := *sec.DelistingDate
		c.DelistingDate = &d
	}
	return &c
}
