package exchange

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// 规则缓存按交易所共享，适配器实例随请求创建销毁
var binanceRules = newRuleCache()

// Binance 币安USDT本位合约适配器
type Binance struct {
	client  *futures.Client
	limiter *rate.Limiter
}

func newBinance(creds Credentials, sandbox bool, opts Options) *Binance {
	var client *futures.Client
	if opts.ProxyURL != "" {
		client = futures.NewProxiedClient(creds.APIKey, creds.Secret, opts.ProxyURL)
	} else {
		client = futures.NewClient(creds.APIKey, creds.Secret)
	}
	if sandbox {
		// 测试网URL
		futures.UseTestnet = true
	}
	client.HTTPClient.Timeout = opts.timeout()

	return &Binance{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(10), 20),
	}
}

func (b *Binance) Name() Type {
	return TypeBinance
}

// PlaceOrder 下单，数量先按交易对步进取整
func (b *Binance) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*OrderResult, error) {
	rule, err := b.symbolRule(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	quantity, err := rule.AdjustQuantity(req.Amount)
	if err != nil {
		return nil, newError(TypeBinance, ErrInvalidQuantity, "", err.Error())
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	service := b.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(binanceSide(req.Side)).
		Quantity(quantity.String())
	if req.ClientOrderID != "" {
		service.NewClientOrderID(req.ClientOrderID)
	}
	if req.ReduceOnly {
		service.ReduceOnly(true)
	}

	switch req.Type {
	case OrderTypeMarket:
		service.Type(futures.OrderTypeMarket)
	case OrderTypeLimit:
		service.Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTC).
			Price(rule.AdjustPrice(req.Price).String())
	case OrderTypeStop:
		service.Type(futures.OrderTypeStopMarket).
			StopPrice(rule.AdjustPrice(req.StopPrice).String())
	case OrderTypeStopLimit:
		service.Type(futures.OrderTypeStop).
			TimeInForce(futures.TimeInForceTypeGTC).
			Price(rule.AdjustPrice(req.Price).String()).
			StopPrice(rule.AdjustPrice(req.StopPrice).String())
	default:
		return nil, newError(TypeBinance, ErrUnsupported, "", "order type "+string(req.Type))
	}

	order, err := service.Do(ctx)
	if err != nil {
		return nil, mapBinanceError(err)
	}

	return &OrderResult{
		ExchangeOrderID: strconv.FormatInt(order.OrderID, 10),
		ClientOrderID:   order.ClientOrderID,
		Symbol:          order.Symbol,
		Side:            req.Side,
		Type:            req.Type,
		Status:          binanceStatus(order.Status),
		Amount:          mustDecimal(order.OrigQuantity),
		Filled:          mustDecimal(order.ExecutedQuantity),
		AvgPrice:        mustDecimal(order.AvgPrice),
	}, nil
}

// CancelOrder 取消订单，优先使用交易所订单号
func (b *Binance) CancelOrder(ctx context.Context, symbol string, query OrderQuery) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	service := b.client.NewCancelOrderService().Symbol(symbol)
	if query.ExchangeOrderID != "" {
		orderID, err := strconv.ParseInt(query.ExchangeOrderID, 10, 64)
		if err != nil {
			return newError(TypeBinance, ErrOrderNotFound, "", "bad order id "+query.ExchangeOrderID)
		}
		service.OrderID(orderID)
	} else {
		service.OrigClientOrderID(query.ClientOrderID)
	}
	if _, err := service.Do(ctx); err != nil {
		return mapBinanceError(err)
	}
	return nil
}

// FetchOrder 查询订单
func (b *Binance) FetchOrder(ctx context.Context, symbol string, query OrderQuery) (*OrderResult, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	service := b.client.NewGetOrderService().Symbol(symbol)
	if query.ExchangeOrderID != "" {
		orderID, err := strconv.ParseInt(query.ExchangeOrderID, 10, 64)
		if err != nil {
			return nil, newError(TypeBinance, ErrOrderNotFound, "", "bad order id "+query.ExchangeOrderID)
		}
		service.OrderID(orderID)
	} else {
		service.OrigClientOrderID(query.ClientOrderID)
	}

	order, err := service.Do(ctx)
	if err != nil {
		return nil, mapBinanceError(err)
	}

	side := OrderSideBuy
	if order.Side == futures.SideTypeSell {
		side = OrderSideSell
	}
	return &OrderResult{
		ExchangeOrderID: strconv.FormatInt(order.OrderID, 10),
		ClientOrderID:   order.ClientOrderID,
		Symbol:          order.Symbol,
		Side:            side,
		Status:          binanceStatus(order.Status),
		Amount:          mustDecimal(order.OrigQuantity),
		Filled:          mustDecimal(order.ExecutedQuantity),
		AvgPrice:        mustDecimal(order.AvgPrice),
	}, nil
}

// FetchPositions 查询持仓，空仓过滤
func (b *Binance) FetchPositions(ctx context.Context, symbol string) ([]*Position, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	service := b.client.NewGetPositionRiskService()
	if symbol != "" {
		service.Symbol(symbol)
	}
	positions, err := service.Do(ctx)
	if err != nil {
		return nil, mapBinanceError(err)
	}

	result := make([]*Position, 0, len(positions))
	for _, p := range positions {
		amount := mustDecimal(p.PositionAmt)
		if amount.IsZero() {
			continue
		}
		side := PositionSideLong
		if amount.IsNegative() {
			side = PositionSideShort
			amount = amount.Neg()
		}
		leverage, _ := strconv.Atoi(p.Leverage)
		result = append(result, &Position{
			Symbol:        p.Symbol,
			Side:          side,
			Size:          amount,
			EntryPrice:    mustDecimal(p.EntryPrice),
			MarkPrice:     mustDecimal(p.MarkPrice),
			UnrealizedPnl: mustDecimal(p.UnRealizedProfit),
			Leverage:      leverage,
		})
	}
	return result, nil
}

// ClosePosition 反向只减仓市价单平仓
func (b *Binance) ClosePosition(ctx context.Context, symbol string, side PositionSide, size decimal.Decimal) (*OrderResult, error) {
	return closeByOffset(ctx, b, symbol, side, size)
}

// FetchKlines 获取K线
func (b *Binance) FetchKlines(ctx context.Context, symbol, interval string, limit int) ([]*Kline, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	klines, err := b.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, mapBinanceError(err)
	}

	result := make([]*Kline, 0, len(klines))
	for _, k := range klines {
		result = append(result, &Kline{
			OpenTime:  time.Unix(k.OpenTime/1000, 0),
			CloseTime: time.Unix(k.CloseTime/1000, 0),
			Open:      mustDecimal(k.Open),
			High:      mustDecimal(k.High),
			Low:       mustDecimal(k.Low),
			Close:     mustDecimal(k.Close),
			Volume:    mustDecimal(k.Volume),
		})
	}
	return result, nil
}

// FetchTicker 获取最新价
func (b *Binance) FetchTicker(ctx context.Context, symbol string) (*Ticker, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, mapBinanceError(err)
	}
	if len(prices) == 0 {
		return nil, newError(TypeBinance, ErrInvalidSymbol, "", "no price data for "+symbol)
	}
	return &Ticker{
		Symbol:    symbol,
		Last:      mustDecimal(prices[0].Price),
		Timestamp: time.Now(),
	}, nil
}

// symbolRule 从合约元数据解析下单约束
func (b *Binance) symbolRule(ctx context.Context, symbol string) (SymbolRule, error) {
	if rule, ok := binanceRules.get(symbol); ok {
		return rule, nil
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return SymbolRule{}, err
	}
	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return SymbolRule{}, mapBinanceError(err)
	}

	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		rule := SymbolRule{Symbol: symbol}
		for _, filter := range s.Filters {
			switch filter["filterType"] {
			case "LOT_SIZE":
				if v, ok := filter["stepSize"].(string); ok {
					rule.QtyStep = mustDecimal(v)
				}
				if v, ok := filter["minQty"].(string); ok {
					rule.MinQty = mustDecimal(v)
				}
			case "PRICE_FILTER":
				if v, ok := filter["tickSize"].(string); ok {
					rule.PriceStep = mustDecimal(v)
				}
			case "MIN_NOTIONAL":
				if v, ok := filter["notional"].(string); ok {
					rule.MinNotional = mustDecimal(v)
				}
			}
		}
		binanceRules.put(rule)
		return rule, nil
	}
	return SymbolRule{}, newError(TypeBinance, ErrInvalidSymbol, "", "symbol "+symbol+" not found")
}

func binanceSide(side OrderSide) futures.SideType {
	if side == OrderSideSell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func binanceStatus(status futures.OrderStatusType) OrderStatus {
	switch status {
	case futures.OrderStatusTypeNew:
		return OrderStatusSubmitted
	case futures.OrderStatusTypePartiallyFilled:
		return OrderStatusPartial
	case futures.OrderStatusTypeFilled:
		return OrderStatusFilled
	case futures.OrderStatusTypeCanceled, futures.OrderStatusTypeExpired:
		return OrderStatusCanceled
	default:
		return OrderStatusRejected
	}
}

// mapBinanceError 把币安错误码映射为统一错误类别
func mapBinanceError(err error) error {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		// 网络层错误，无法确认请求是否到达交易所
		return newError(TypeBinance, ErrTransient, "", err.Error())
	}

	code := strconv.FormatInt(apiErr.Code, 10)
	switch apiErr.Code {
	case -1003, -1015:
		return newError(TypeBinance, ErrRateLimited, code, apiErr.Message)
	case -1022, -2014, -2015:
		return newError(TypeBinance, ErrAuth, code, apiErr.Message)
	case -2019:
		return newError(TypeBinance, ErrInsufficientBalance, code, apiErr.Message)
	case -1121:
		return newError(TypeBinance, ErrInvalidSymbol, code, apiErr.Message)
	case -1013, -4003:
		return newError(TypeBinance, ErrInvalidQuantity, code, apiErr.Message)
	case -2013:
		return newError(TypeBinance, ErrOrderNotFound, code, apiErr.Message)
	default:
		if apiErr.Code <= -1000 && apiErr.Code > -1100 {
			return newError(TypeBinance, ErrTransient, code, apiErr.Message)
		}
		return newError(TypeBinance, ErrRejected, code, apiErr.Message)
	}
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
