package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const okxBaseURL = "https://www.okx.com"

var okxRules = newRuleCache()

// OKX 永续合约适配器，直接走v5 REST接口
type OKX struct {
	creds   Credentials
	sandbox bool
	http    *http.Client
	limiter *rate.Limiter
}

func newOKX(creds Credentials, sandbox bool, opts Options) *OKX {
	transport := http.DefaultTransport
	if opts.ProxyURL != "" {
		if proxyURL, err := url.Parse(opts.ProxyURL); err == nil {
			transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}
	return &OKX{
		creds:   creds,
		sandbox: sandbox,
		http: &http.Client{
			Timeout:   opts.timeout(),
			Transport: transport,
		},
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}
}

func (o *OKX) Name() Type {
	return TypeOKX
}

// okxInstID BTCUSDT -> BTC-USDT-SWAP
func okxInstID(symbol string) string {
	if strings.Contains(symbol, "-") {
		return symbol
	}
	for _, quote := range []string{"USDT", "USDC", "USD"} {
		if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
			return symbol[:len(symbol)-len(quote)] + "-" + quote + "-SWAP"
		}
	}
	return symbol
}

type okxEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// request 签名并发送请求，签名串为 时间戳+方法+路径+请求体
func (o *OKX) request(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	if err := o.limiter.Wait(ctx); err != nil {
		return err
	}

	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("okx: marshal request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, okxBaseURL+requestPath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("okx: build request: %w", err)
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	mac := hmac.New(sha256.New, []byte(o.creds.Secret))
	mac.Write([]byte(timestamp + method + requestPath))
	mac.Write(payload)

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OK-ACCESS-KEY", o.creds.APIKey)
	req.Header.Set("OK-ACCESS-SIGN", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	req.Header.Set("OK-ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("OK-ACCESS-PASSPHRASE", o.creds.Passphrase)
	if o.sandbox {
		// 模拟盘
		req.Header.Set("x-simulated-trading", "1")
	}

	resp, err := o.http.Do(req)
	if err != nil {
		return newError(TypeOKX, ErrTransient, "", err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return newError(TypeOKX, ErrTransient, "", err.Error())
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return newError(TypeOKX, ErrRateLimited, "429", string(raw))
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return newError(TypeOKX, ErrAuth, "401", string(raw))
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return newError(TypeOKX, ErrTransient, fmt.Sprintf("%d", resp.StatusCode), string(raw))
	}

	var envelope okxEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return newError(TypeOKX, ErrTransient, "", "bad response: "+err.Error())
	}
	if envelope.Code != "0" {
		return mapOKXError(envelope.Code, envelope.Msg)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return newError(TypeOKX, ErrTransient, "", "bad payload: "+err.Error())
		}
	}
	return nil
}

type okxOrder struct {
	InstID      string `json:"instId"`
	OrdID       string `json:"ordId"`
	ClOrdID     string `json:"clOrdId"`
	Side        string `json:"side"`
	OrdType     string `json:"ordType"`
	Sz          string `json:"sz"`
	AccFillSz   string `json:"accFillSz"`
	AvgPx       string `json:"avgPx"`
	State       string `json:"state"`
	Fee         string `json:"fee"`
	FeeCcy      string `json:"feeCcy"`
	SCode       string `json:"sCode"`
	SMsg        string `json:"sMsg"`
}

// PlaceOrder 下单，触发类订单属于策略委托接口，这里不支持
func (o *OKX) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*OrderResult, error) {
	if req.Type == OrderTypeStop || req.Type == OrderTypeStopLimit {
		return nil, newError(TypeOKX, ErrUnsupported, "", "trigger orders not supported, use limit or market")
	}

	instID := okxInstID(req.Symbol)
	rule, err := o.symbolRule(ctx, instID)
	if err != nil {
		return nil, err
	}
	quantity, err := rule.AdjustQuantity(req.Amount)
	if err != nil {
		return nil, newError(TypeOKX, ErrInvalidQuantity, "", err.Error())
	}

	body := map[string]any{
		"instId":  instID,
		"tdMode":  "cross",
		"side":    string(req.Side),
		"ordType": string(req.Type),
		"sz":      quantity.String(),
	}
	if req.Type == OrderTypeLimit {
		body["px"] = rule.AdjustPrice(req.Price).String()
	}
	if req.ClientOrderID != "" {
		body["clOrdId"] = req.ClientOrderID
	}
	if req.ReduceOnly {
		body["reduceOnly"] = true
	}

	var placed []okxOrder
	if err := o.request(ctx, http.MethodPost, "/api/v5/trade/order", nil, body, &placed); err != nil {
		return nil, err
	}
	if len(placed) == 0 {
		return nil, newError(TypeOKX, ErrTransient, "", "empty order response")
	}
	if placed[0].SCode != "" && placed[0].SCode != "0" {
		return nil, mapOKXError(placed[0].SCode, placed[0].SMsg)
	}

	// 下单接口不回传成交信息，回查一次拿到最新状态
	result, err := o.FetchOrder(ctx, req.Symbol, OrderQuery{ExchangeOrderID: placed[0].OrdID})
	if err != nil {
		return &OrderResult{
			ExchangeOrderID: placed[0].OrdID,
			ClientOrderID:   req.ClientOrderID,
			Symbol:          req.Symbol,
			Side:            req.Side,
			Type:            req.Type,
			Status:          OrderStatusSubmitted,
			Amount:          quantity,
		}, nil
	}
	result.Side = req.Side
	result.Type = req.Type
	return result, nil
}

// CancelOrder 取消订单
func (o *OKX) CancelOrder(ctx context.Context, symbol string, query OrderQuery) error {
	body := map[string]any{"instId": okxInstID(symbol)}
	if query.ExchangeOrderID != "" {
		body["ordId"] = query.ExchangeOrderID
	} else {
		body["clOrdId"] = query.ClientOrderID
	}
	var canceled []okxOrder
	if err := o.request(ctx, http.MethodPost, "/api/v5/trade/cancel-order", nil, body, &canceled); err != nil {
		return err
	}
	if len(canceled) > 0 && canceled[0].SCode != "" && canceled[0].SCode != "0" {
		return mapOKXError(canceled[0].SCode, canceled[0].SMsg)
	}
	return nil
}

// FetchOrder 查询订单
func (o *OKX) FetchOrder(ctx context.Context, symbol string, query OrderQuery) (*OrderResult, error) {
	values := url.Values{}
	values.Set("instId", okxInstID(symbol))
	if query.ExchangeOrderID != "" {
		values.Set("ordId", query.ExchangeOrderID)
	} else {
		values.Set("clOrdId", query.ClientOrderID)
	}

	var orders []okxOrder
	if err := o.request(ctx, http.MethodGet, "/api/v5/trade/order", values, nil, &orders); err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, newError(TypeOKX, ErrOrderNotFound, "", "order not found")
	}

	order := orders[0]
	side := OrderSideBuy
	if order.Side == "sell" {
		side = OrderSideSell
	}
	// OKX的fee为负数表示支出
	fee := mustDecimal(order.Fee).Neg()
	return &OrderResult{
		ExchangeOrderID: order.OrdID,
		ClientOrderID:   order.ClOrdID,
		Symbol:          symbol,
		Side:            side,
		Status:          okxStatus(order.State),
		Amount:          mustDecimal(order.Sz),
		Filled:          mustDecimal(order.AccFillSz),
		AvgPrice:        mustDecimal(order.AvgPx),
		Fee:             fee,
		FeeCurrency:     order.FeeCcy,
	}, nil
}

type okxPosition struct {
	InstID  string `json:"instId"`
	PosSide string `json:"posSide"`
	Pos     string `json:"pos"`
	AvgPx   string `json:"avgPx"`
	MarkPx  string `json:"markPx"`
	Upl     string `json:"upl"`
	Lever   string `json:"lever"`
}

// FetchPositions 查询持仓
func (o *OKX) FetchPositions(ctx context.Context, symbol string) ([]*Position, error) {
	values := url.Values{}
	values.Set("instType", "SWAP")
	if symbol != "" {
		values.Set("instId", okxInstID(symbol))
	}

	var positions []okxPosition
	if err := o.request(ctx, http.MethodGet, "/api/v5/account/positions", values, nil, &positions); err != nil {
		return nil, err
	}

	result := make([]*Position, 0, len(positions))
	for _, p := range positions {
		size := mustDecimal(p.Pos)
		if size.IsZero() {
			continue
		}
		// 单向持仓模式下pos为带符号数量
		side := PositionSideLong
		if size.IsNegative() {
			side = PositionSideShort
			size = size.Neg()
		} else if p.PosSide == "short" {
			side = PositionSideShort
		}
		leverage := int(mustDecimal(p.Lever).IntPart())
		result = append(result, &Position{
			Symbol:        NormalizeSymbol(strings.TrimSuffix(p.InstID, "-SWAP")),
			Side:          side,
			Size:          size,
			EntryPrice:    mustDecimal(p.AvgPx),
			MarkPrice:     mustDecimal(p.MarkPx),
			UnrealizedPnl: mustDecimal(p.Upl),
			Leverage:      leverage,
		})
	}
	return result, nil
}

// ClosePosition 反向只减仓市价单平仓
func (o *OKX) ClosePosition(ctx context.Context, symbol string, side PositionSide, size decimal.Decimal) (*OrderResult, error) {
	return closeByOffset(ctx, o, symbol, side, size)
}

// FetchKlines 获取K线，时间从新到旧返回，这里翻转为从旧到新
func (o *OKX) FetchKlines(ctx context.Context, symbol, interval string, limit int) ([]*Kline, error) {
	values := url.Values{}
	values.Set("instId", okxInstID(symbol))
	values.Set("bar", okxBar(interval))
	values.Set("limit", fmt.Sprintf("%d", limit))

	var rows [][]string
	if err := o.request(ctx, http.MethodGet, "/api/v5/market/candles", values, nil, &rows); err != nil {
		return nil, err
	}

	result := make([]*Kline, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if len(row) < 6 {
			continue
		}
		openTime := time.UnixMilli(mustDecimal(row[0]).IntPart())
		result = append(result, &Kline{
			OpenTime:  openTime,
			CloseTime: openTime,
			Open:      mustDecimal(row[1]),
			High:      mustDecimal(row[2]),
			Low:       mustDecimal(row[3]),
			Close:     mustDecimal(row[4]),
			Volume:    mustDecimal(row[5]),
		})
	}
	return result, nil
}

type okxTicker struct {
	InstID string `json:"instId"`
	Last   string `json:"last"`
	BidPx  string `json:"bidPx"`
	AskPx  string `json:"askPx"`
	Ts     string `json:"ts"`
}

// FetchTicker 获取最新行情
func (o *OKX) FetchTicker(ctx context.Context, symbol string) (*Ticker, error) {
	values := url.Values{}
	values.Set("instId", okxInstID(symbol))

	var tickers []okxTicker
	if err := o.request(ctx, http.MethodGet, "/api/v5/market/ticker", values, nil, &tickers); err != nil {
		return nil, err
	}
	if len(tickers) == 0 {
		return nil, newError(TypeOKX, ErrInvalidSymbol, "", "no ticker for "+symbol)
	}

	t := tickers[0]
	return &Ticker{
		Symbol:    symbol,
		Last:      mustDecimal(t.Last),
		Bid:       mustDecimal(t.BidPx),
		Ask:       mustDecimal(t.AskPx),
		Timestamp: time.UnixMilli(mustDecimal(t.Ts).IntPart()),
	}, nil
}

type okxInstrument struct {
	InstID string `json:"instId"`
	LotSz  string `json:"lotSz"`
	MinSz  string `json:"minSz"`
	TickSz string `json:"tickSz"`
}

func (o *OKX) symbolRule(ctx context.Context, instID string) (SymbolRule, error) {
	if rule, ok := okxRules.get(instID); ok {
		return rule, nil
	}

	values := url.Values{}
	values.Set("instType", "SWAP")
	values.Set("instId", instID)

	var instruments []okxInstrument
	if err := o.request(ctx, http.MethodGet, "/api/v5/public/instruments", values, nil, &instruments); err != nil {
		return SymbolRule{}, err
	}
	if len(instruments) == 0 {
		return SymbolRule{}, newError(TypeOKX, ErrInvalidSymbol, "", "instrument "+instID+" not found")
	}

	rule := SymbolRule{
		Symbol:    instID,
		QtyStep:   mustDecimal(instruments[0].LotSz),
		MinQty:    mustDecimal(instruments[0].MinSz),
		PriceStep: mustDecimal(instruments[0].TickSz),
	}
	okxRules.put(rule)
	return rule, nil
}

// okxBar 1h -> 1H，分钟粒度保持小写
func okxBar(interval string) string {
	if strings.HasSuffix(interval, "m") {
		return interval
	}
	return strings.ToUpper(interval)
}

func okxStatus(state string) OrderStatus {
	switch state {
	case "live":
		return OrderStatusSubmitted
	case "partially_filled":
		return OrderStatusPartial
	case "filled":
		return OrderStatusFilled
	case "canceled", "mmp_canceled":
		return OrderStatusCanceled
	default:
		return OrderStatusRejected
	}
}

// mapOKXError 业务错误码映射
func mapOKXError(code, msg string) error {
	switch code {
	case "50011", "50013", "50026":
		return newError(TypeOKX, ErrRateLimited, code, msg)
	case "50100", "50101", "50103", "50111", "50113", "50114", "50119":
		return newError(TypeOKX, ErrAuth, code, msg)
	case "51008", "59200":
		return newError(TypeOKX, ErrInsufficientBalance, code, msg)
	case "51000", "51001", "51014":
		return newError(TypeOKX, ErrInvalidSymbol, code, msg)
	case "51120", "51121":
		return newError(TypeOKX, ErrInvalidQuantity, code, msg)
	case "51603":
		return newError(TypeOKX, ErrOrderNotFound, code, msg)
	default:
		return newError(TypeOKX, ErrRejected, code, msg)
	}
}
