package blotter

import (
	"context"

	"Cornucopia/pkg/ledger"
	"Cornucopia/pkg/model"
)

// Iterator 分页读取交易流水. 通过 Cursor/From 可在中断后从原位置继续
type Iterator struct {
	repo     ledger.Repository
	query    model.HistoryQuery
	pageSize int

	cursor model.Cursor
	page   []*model.TradeOperation
	pos    int
	cur    *model.TradeOperation
	done   bool
	err    error
}

// From 从游标之后开始读取
func (it *Iterator) From(c model.Cursor) *Iterator {
	it.cursor = c
	it.page, it.pos, it.cur, it.done, it.err = nil, 0, nil, false, nil
	return it
}

// Next 前进到下一条流水, 无更多数据或出错时返回 false
func (it *Iterator) Next(ctx context.Context) bool {
	if it.err != nil || it.done && it.pos >= len(it.page) {
		return false
	}
	if it.pos >= len(it.page) {
		page, err := it.repo.ListOperations(ctx, it.query, it.cursor, it.pageSize)
		if err != nil {
			it.err = err
			return false
		}
		it.page, it.pos = page, 0
		if len(page) < it.pageSize {
			it.done = true
		}
		if len(page) == 0 {
			return false
		}
	}
	it.cur = it.page[it.pos]
	it.pos++
	it.cursor = model.Cursor{ExecutedAt: it.cur.ExecutedAt, ID: it.cur.ID}
	return true
}

// Operation 当前流水
func (it *Iterator) Operation() *model.TradeOperation {
	return it.cur
}

// Cursor 最近一条已读流水的位置
func (it *Iterator) Cursor() model.Cursor {
	return it.cursor
}

// Err 迭代过程中的错误
func (it *Iterator) Err() error {
	return it.err
}

// Collect 读取剩余全部流水
func (it *Iterator) Collect(ctx context.Context) ([]*model.TradeOperation, error) {
	var ops []*model.TradeOperation
	for it.Next(ctx) {
		ops = append(ops, it.Operation())
	}
	return ops, it.Err()
}
