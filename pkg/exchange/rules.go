package exchange

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// SymbolRule 交易对的下单约束，来自交易所的合约元数据
type SymbolRule struct {
	Symbol      string
	QtyStep     decimal.Decimal
	PriceStep   decimal.Decimal
	MinQty      decimal.Decimal
	MinNotional decimal.Decimal
}

// AdjustQuantity 数量向下取整到步进，取整后为零或低于最小值则拒绝
func (r SymbolRule) AdjustQuantity(qty decimal.Decimal) (decimal.Decimal, error) {
	adjusted := RoundToStep(qty, r.QtyStep)
	if adjusted.IsZero() {
		return decimal.Zero, fmt.Errorf("%w: %s rounds to zero with step %s",
			ErrInvalidQuantity, qty.String(), r.QtyStep.String())
	}
	if !r.MinQty.IsZero() && adjusted.LessThan(r.MinQty) {
		return decimal.Zero, fmt.Errorf("%w: %s below minimum %s",
			ErrInvalidQuantity, adjusted.String(), r.MinQty.String())
	}
	return adjusted, nil
}

// AdjustPrice 价格向下取整到步进
func (r SymbolRule) AdjustPrice(price decimal.Decimal) decimal.Decimal {
	return RoundToStep(price, r.PriceStep)
}

// RoundToStep 向下取整到step的整数倍，step为零时原样返回
func RoundToStep(v, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}

const ruleTTL = 5 * time.Minute

type cachedRule struct {
	rule      SymbolRule
	fetchedAt time.Time
}

// ruleCache 交易对规则缓存，适配器按请求创建，缓存放在包级共享
type ruleCache struct {
	mu    sync.RWMutex
	rules map[string]cachedRule
}

func newRuleCache() *ruleCache {
	return &ruleCache{rules: make(map[string]cachedRule)}
}

func (c *ruleCache) get(symbol string) (SymbolRule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.rules[symbol]
	if !ok || time.Since(entry.fetchedAt) > ruleTTL {
		return SymbolRule{}, false
	}
	return entry.rule, true
}

func (c *ruleCache) put(rule SymbolRule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules[rule.Symbol] = cachedRule{rule: rule, fetchedAt: time.Now()}
}
