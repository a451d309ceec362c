// pkg/ledger/position.go
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"Cornucopia/pkg/model"
)

// CostScale 成本价保留的小数位, 与 holding.cost_price 列精度一致
const CostScale = 8

// QuantityScale 数量与价格允许的最大小数位
const QuantityScale = 4

// ValueScale 市值保留的小数位, 与 holding.market_value 列精度一致
const ValueScale = 4

// Policy 持仓策略
type Policy struct {
	AllowShort bool // 是否允许做空
}

// Position 持仓数量与加权平均成本
type Position struct {
	Quantity decimal.Decimal `json:"quantity"`
	Cost     decimal.Decimal `json:"cost"`
}

// Equal 比较两个持仓
func (p Position) Equal(o Position) bool {
	return p.Quantity.Equal(o.Quantity) && p.Cost.Equal(o.Cost)
}

func (p Position) String() string {
	return fmt.Sprintf("%s@%s", p.Quantity, p.Cost)
}

// Step 单笔交易的计算结果
type Step struct {
	Position Position        // 交易后持仓
	Realized decimal.Decimal // 本笔已实现盈亏
}

// ValidateTrade 校验交易数量和价格
func ValidateTrade(qty, price decimal.Decimal) error {
	if qty.IsZero() {
		return fmt.Errorf("交易数量不能为0: %w", model.ErrInvalidRange)
	}
	if !price.IsPositive() {
		return fmt.Errorf("交易价格 %s 必须大于0: %w", price, model.ErrInvalidRange)
	}
	if !qty.Equal(qty.Round(QuantityScale)) || !price.Equal(price.Round(QuantityScale)) {
		return fmt.Errorf("交易数量 %s 或价格 %s 超过 %d 位小数: %w", qty, price, QuantityScale, model.ErrInvalidRange)
	}
	return nil
}

// Apply 按加权平均成本法计算一笔交易后的持仓.
// 同向加仓重新加权; 反向减仓成本不变并实现盈亏; 归零时成本清零;
// 穿越零点只有允许做空时才拆成平仓加反向开仓.
func Apply(pos Position, qty, price decimal.Decimal, policy Policy) (Step, error) {
	if err := ValidateTrade(qty, price); err != nil {
		return Step{}, err
	}

	held := pos.Quantity
	next := held.Add(qty)

	// 开仓或同向加仓
	if held.IsZero() || held.Sign() == qty.Sign() {
		if next.IsNegative() && !policy.AllowShort {
			return Step{}, fmt.Errorf("持仓 %s 不足以卖出 %s: %w", held, qty.Abs(), model.ErrInsufficientPosition)
		}
		cost := held.Abs().Mul(pos.Cost).Add(qty.Abs().Mul(price)).Div(next.Abs()).Round(CostScale)
		return Step{Position: Position{Quantity: next, Cost: cost}}, nil
	}

	// 反向减仓, 未穿越零点
	if next.IsZero() || next.Sign() == held.Sign() {
		realized := realize(held, qty.Abs(), pos.Cost, price)
		if next.IsZero() {
			return Step{Position: Position{Quantity: decimal.Zero, Cost: decimal.Zero}, Realized: realized}, nil
		}
		return Step{Position: Position{Quantity: next, Cost: pos.Cost}, Realized: realized}, nil
	}

	// 穿越零点
	if !policy.AllowShort {
		return Step{}, fmt.Errorf("持仓 %s 不足以完成 %s 的交易: %w", held, qty, model.ErrInsufficientPosition)
	}
	realized := realize(held, held.Abs(), pos.Cost, price)
	return Step{Position: Position{Quantity: next, Cost: price.Round(CostScale)}, Realized: realized}, nil
}

// realize 平掉 closed 数量的已实现盈亏; 多头为 (p-C), 空头为 (C-p)
func realize(held, closed, cost, price decimal.Decimal) decimal.Decimal {
	if held.IsPositive() {
		return closed.Mul(price.Sub(cost))
	}
	return closed.Mul(cost.Sub(price))
}

// Replay 从空持仓按顺序重放交易流水. 已入账的流水在宽松策略下必然可重放
func Replay(ops []*model.TradeOperation) (Position, decimal.Decimal, error) {
	pos := Position{Quantity: decimal.Zero, Cost: decimal.Zero}
	realized := decimal.Zero
	for _, op := range ops {
		step, err := Apply(pos, op.Quantity, op.Price, Policy{AllowShort: true})
		if err != nil {
			return Position{}, decimal.Zero, fmt.Errorf("重放流水 #%d 失败: %w", op.ID, err)
		}
		pos = step.Position
		realized = realized.Add(step.Realized)
	}
	return pos, realized, nil
}

// PositionOf 取持仓记录中的数量与成本
func PositionOf(h *model.Holding) Position {
	return Position{Quantity: h.Quantity, Cost: h.CostPrice}
}
