package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// Exchange 交易所适配器的统一能力面
// 凭证随适配器创建时注入，单个实例只服务一个账户
type Exchange interface {
	Name() Type
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*OrderResult, error)
	CancelOrder(ctx context.Context, symbol string, query OrderQuery) error
	FetchOrder(ctx context.Context, symbol string, query OrderQuery) (*OrderResult, error)
	FetchPositions(ctx context.Context, symbol string) ([]*Position, error)
	ClosePosition(ctx context.Context, symbol string, side PositionSide, size decimal.Decimal) (*OrderResult, error)
	FetchKlines(ctx context.Context, symbol, interval string, limit int) ([]*Kline, error)
	FetchTicker(ctx context.Context, symbol string) (*Ticker, error)
}

// Options 适配器选项
type Options struct {
	ProxyURL string
	Timeout  time.Duration
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return 10 * time.Second
	}
	return o.Timeout
}

// New 按交易所类型创建适配器
func New(t Type, creds Credentials, sandbox bool, opts Options) (Exchange, error) {
	switch t {
	case TypeBinance:
		return newBinance(creds, sandbox, opts), nil
	case TypeOKX:
		return newOKX(creds, sandbox, opts), nil
	case TypeGateIO:
		return newGateIO(creds, sandbox, opts), nil
	default:
		return nil, fmt.Errorf("unknown exchange type: %s", t)
	}
}

// NewClientOrderID 生成本地订单号
func NewClientOrderID() string {
	return ulid.Make().String()
}

const (
	closeFillAttempts = 5
	closeFillInterval = 500 * time.Millisecond
)

// closeByOffset 用反向只减仓市价单平仓，等待其成交后返回
// 各交易所的平仓路径一致，差异都收敛在PlaceOrder/FetchPositions里
func closeByOffset(ctx context.Context, ex Exchange, symbol string, side PositionSide, size decimal.Decimal) (*OrderResult, error) {
	positions, err := ex.FetchPositions(ctx, symbol)
	if err != nil {
		return nil, err
	}
	var target *Position
	for _, p := range positions {
		if p.Symbol == symbol && p.Side == side && p.Size.IsPositive() {
			target = p
			break
		}
	}
	if target == nil {
		return nil, newError(ex.Name(), ErrPositionNotFound, "",
			fmt.Sprintf("no open %s position on %s", side, symbol))
	}

	closeSize := target.Size
	if size.IsPositive() && size.LessThan(target.Size) {
		closeSize = size
	}

	result, err := ex.PlaceOrder(ctx, PlaceOrderRequest{
		Symbol:        symbol,
		Side:          side.Opposite(),
		Type:          OrderTypeMarket,
		Amount:        closeSize,
		ReduceOnly:    true,
		ClientOrderID: NewClientOrderID(),
	})
	if err != nil {
		return nil, err
	}

	// 市价单通常立即成交，轮询few次确认终态
	query := OrderQuery{ExchangeOrderID: result.ExchangeOrderID, ClientOrderID: result.ClientOrderID}
	for i := 0; i < closeFillAttempts; i++ {
		if result.Status == OrderStatusFilled || result.Status == OrderStatusCanceled || result.Status == OrderStatusRejected {
			return result, nil
		}
		select {
		case <-time.After(closeFillInterval):
		case <-ctx.Done():
			return result, nil
		}
		latest, err := ex.FetchOrder(ctx, symbol, query)
		if err != nil {
			continue
		}
		result = latest
	}
	return result, nil
}
