// pkg/model/errors.go
package model

import "errors"

// 错误类型
var (
	ErrUnknownSecurity      = errors.New("证券不存在于参考目录")
	ErrDuplicateKey         = errors.New("主键重复")
	ErrInvalidRange         = errors.New("价格区间非法")
	ErrInvalidDate          = errors.New("日期非法")
	ErrNotFound             = errors.New("记录不存在")
	ErrNoData               = errors.New("无行情数据")
	ErrInsufficientPosition = errors.New("持仓不足")
	ErrConcurrencyConflict  = errors.New("并发冲突")
	ErrAlreadyDelisted      = errors.New("证券已退市")
	ErrLedgerDiverged       = errors.New("持仓与交易流水重放结果不一致")
	ErrLedgerHalted         = errors.New("持仓已冻结, 等待人工对账")
)

// ErrorKind 错误分类名称, 用于审计事件和API响应
type ErrorKind string

const (
	KindOK                   ErrorKind = "ok"
	KindUnknownSecurity      ErrorKind = "UnknownSecurity"
	KindDuplicateKey         ErrorKind = "DuplicateKey"
	KindInvalidRange         ErrorKind = "InvalidRange"
	KindInvalidDate          ErrorKind = "InvalidDate"
	KindNotFound             ErrorKind = "NotFound"
	KindNoData               ErrorKind = "NoData"
	KindInsufficientPosition ErrorKind = "InsufficientPosition"
	KindConcurrencyConflict  ErrorKind = "ConcurrencyConflict"
	KindAlreadyDelisted      ErrorKind = "AlreadyDelisted"
	KindLedgerDiverged       ErrorKind = "LedgerDiverged"
	KindLedgerHalted         ErrorKind = "LedgerHalted"
	KindInternal             ErrorKind = "Internal"
)

var kinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrUnknownSecurity, KindUnknownSecurity},
	{ErrDuplicateKey, KindDuplicateKey},
	{ErrInvalidRange, KindInvalidRange},
	{ErrInvalidDate, KindInvalidDate},
	{ErrNotFound, KindNotFound},
	{ErrNoData, KindNoData},
	{ErrInsufficientPosition, KindInsufficientPosition},
	{ErrConcurrencyConflict, KindConcurrencyConflict},
	{ErrAlreadyDelisted, KindAlreadyDelisted},
	{ErrLedgerDiverged, KindLedgerDiverged},
	{ErrLedgerHalted, KindLedgerHalted},
}

// KindOf 返回错误的分类, nil 对应 KindOK
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindOK
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// Retryable 只有并发冲突允许调用方重试
func Retryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}
