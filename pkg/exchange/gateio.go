package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	gateBaseURL    = "https://api.gateio.ws"
	gateTestURL    = "https://fx-api-testnet.gateio.ws"
	gatePathPrefix = "/api/v4"
	gateSettle     = "usdt"
)

// GateIO USDT本位永续合约适配器，v4 REST接口
// 合约数量以张为单位，规则步进固定为1
type GateIO struct {
	creds   Credentials
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

func newGateIO(creds Credentials, sandbox bool, opts Options) *GateIO {
	baseURL := gateBaseURL
	if sandbox {
		baseURL = gateTestURL
	}
	transport := http.DefaultTransport
	if opts.ProxyURL != "" {
		if proxyURL, err := url.Parse(opts.ProxyURL); err == nil {
			transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}
	return &GateIO{
		creds:   creds,
		baseURL: baseURL,
		http: &http.Client{
			Timeout:   opts.timeout(),
			Transport: transport,
		},
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}
}

func (g *GateIO) Name() Type {
	return TypeGateIO
}

// gateContract BTCUSDT -> BTC_USDT
func gateContract(symbol string) string {
	if strings.Contains(symbol, "_") {
		return symbol
	}
	for _, quote := range []string{"USDT", "USD"} {
		if strings.HasSuffix(symbol, quote) && len(symbol) > len(quote) {
			return symbol[:len(symbol)-len(quote)] + "_" + quote
		}
	}
	return symbol
}

type gateError struct {
	Label   string `json:"label"`
	Message string `json:"message"`
}

// request 签名并发送请求
// 签名串: 方法\n路径\n查询串\nSHA512(请求体)\n时间戳，HMAC-SHA512十六进制
func (g *GateIO) request(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("gateio: marshal request: %w", err)
		}
	}

	fullPath := gatePathPrefix + path
	queryString := query.Encode()
	requestURL := g.baseURL + fullPath
	if queryString != "" {
		requestURL += "?" + queryString
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("gateio: build request: %w", err)
	}

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	bodyHash := sha512.Sum512(payload)
	signPayload := strings.Join([]string{
		method,
		fullPath,
		queryString,
		hex.EncodeToString(bodyHash[:]),
		timestamp,
	}, "\n")
	mac := hmac.New(sha512.New, []byte(g.creds.Secret))
	mac.Write([]byte(signPayload))

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("KEY", g.creds.APIKey)
	req.Header.Set("Timestamp", timestamp)
	req.Header.Set("SIGN", hex.EncodeToString(mac.Sum(nil)))

	resp, err := g.http.Do(req)
	if err != nil {
		return newError(TypeGateIO, ErrTransient, "", err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return newError(TypeGateIO, ErrTransient, "", err.Error())
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var gerr gateError
		if json.Unmarshal(raw, &gerr) == nil && gerr.Label != "" {
			return mapGateError(resp.StatusCode, gerr)
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return newError(TypeGateIO, ErrRateLimited, "429", string(raw))
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return newError(TypeGateIO, ErrTransient, strconv.Itoa(resp.StatusCode), string(raw))
		}
		return newError(TypeGateIO, ErrRejected, strconv.Itoa(resp.StatusCode), string(raw))
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return newError(TypeGateIO, ErrTransient, "", "bad payload: "+err.Error())
		}
	}
	return nil
}

type gateOrder struct {
	ID         int64           `json:"id"`
	Contract   string          `json:"contract"`
	Size       int64           `json:"size"`
	Left       int64           `json:"left"`
	FillPrice  decimal.Decimal `json:"fill_price"`
	Status     string          `json:"status"`
	FinishAs   string          `json:"finish_as"`
	Text       string          `json:"text"`
}

// PlaceOrder 下单，size为带符号张数，卖出为负
func (g *GateIO) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*OrderResult, error) {
	if req.Type == OrderTypeStop || req.Type == OrderTypeStopLimit {
		return nil, newError(TypeGateIO, ErrUnsupported, "", "trigger orders not supported, use limit or market")
	}

	size := req.Amount.IntPart()
	if size <= 0 {
		return nil, newError(TypeGateIO, ErrInvalidQuantity, "",
			fmt.Sprintf("%s rounds to zero contracts", req.Amount.String()))
	}
	if req.Side == OrderSideSell {
		size = -size
	}

	body := map[string]any{
		"contract": gateContract(req.Symbol),
		"size":     size,
	}
	if req.Type == OrderTypeMarket {
		body["price"] = "0"
		body["tif"] = "ioc"
	} else {
		body["price"] = req.Price.String()
		body["tif"] = "gtc"
	}
	if req.ReduceOnly {
		body["reduce_only"] = true
	}
	if req.ClientOrderID != "" {
		// 自定义订单号需要t-前缀
		body["text"] = "t-" + req.ClientOrderID
	}

	var order gateOrder
	path := fmt.Sprintf("/futures/%s/orders", gateSettle)
	if err := g.request(ctx, http.MethodPost, path, nil, body, &order); err != nil {
		return nil, err
	}
	return g.toOrderResult(&order, req.Type), nil
}

// CancelOrder 取消订单，只支持交易所订单号
func (g *GateIO) CancelOrder(ctx context.Context, symbol string, query OrderQuery) error {
	orderID := query.ExchangeOrderID
	if orderID == "" {
		return newError(TypeGateIO, ErrOrderNotFound, "", "missing exchange order id")
	}
	path := fmt.Sprintf("/futures/%s/orders/%s", gateSettle, orderID)
	return g.request(ctx, http.MethodDelete, path, nil, nil, nil)
}

// FetchOrder 查询订单，按本地订单号查询时走已提交列表
func (g *GateIO) FetchOrder(ctx context.Context, symbol string, query OrderQuery) (*OrderResult, error) {
	if query.ExchangeOrderID != "" {
		var order gateOrder
		path := fmt.Sprintf("/futures/%s/orders/%s", gateSettle, query.ExchangeOrderID)
		if err := g.request(ctx, http.MethodGet, path, nil, nil, &order); err != nil {
			return nil, err
		}
		return g.toOrderResult(&order, ""), nil
	}
	if query.ClientOrderID == "" {
		return nil, newError(TypeGateIO, ErrOrderNotFound, "", "missing order id")
	}

	// 按自定义订单号在未完成单里查找
	values := url.Values{}
	values.Set("contract", gateContract(symbol))
	values.Set("status", "open")
	var orders []gateOrder
	path := fmt.Sprintf("/futures/%s/orders", gateSettle)
	if err := g.request(ctx, http.MethodGet, path, values, nil, &orders); err != nil {
		return nil, err
	}
	for i := range orders {
		if orders[i].Text == "t-"+query.ClientOrderID {
			return g.toOrderResult(&orders[i], ""), nil
		}
	}
	return nil, newError(TypeGateIO, ErrOrderNotFound, "", "order not found by client id")
}

type gatePosition struct {
	Contract      string          `json:"contract"`
	Size          int64           `json:"size"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	MarkPrice     decimal.Decimal `json:"mark_price"`
	UnrealisedPnl decimal.Decimal `json:"unrealised_pnl"`
	Leverage      decimal.Decimal `json:"leverage"`
}

// FetchPositions 查询持仓
func (g *GateIO) FetchPositions(ctx context.Context, symbol string) ([]*Position, error) {
	var positions []gatePosition
	path := fmt.Sprintf("/futures/%s/positions", gateSettle)
	if err := g.request(ctx, http.MethodGet, path, nil, nil, &positions); err != nil {
		return nil, err
	}

	contract := ""
	if symbol != "" {
		contract = gateContract(symbol)
	}

	result := make([]*Position, 0, len(positions))
	for _, p := range positions {
		if p.Size == 0 {
			continue
		}
		if contract != "" && p.Contract != contract {
			continue
		}
		side := PositionSideLong
		size := p.Size
		if size < 0 {
			side = PositionSideShort
			size = -size
		}
		result = append(result, &Position{
			Symbol:        NormalizeSymbol(p.Contract),
			Side:          side,
			Size:          decimal.NewFromInt(size),
			EntryPrice:    p.EntryPrice,
			MarkPrice:     p.MarkPrice,
			UnrealizedPnl: p.UnrealisedPnl,
			Leverage:      int(p.Leverage.IntPart()),
		})
	}
	return result, nil
}

// ClosePosition 反向只减仓市价单平仓
func (g *GateIO) ClosePosition(ctx context.Context, symbol string, side PositionSide, size decimal.Decimal) (*OrderResult, error) {
	return closeByOffset(ctx, g, symbol, side, size)
}

type gateCandle struct {
	T int64           `json:"t"`
	V int64           `json:"v"`
	C decimal.Decimal `json:"c"`
	H decimal.Decimal `json:"h"`
	L decimal.Decimal `json:"l"`
	O decimal.Decimal `json:"o"`
}

// FetchKlines 获取K线
func (g *GateIO) FetchKlines(ctx context.Context, symbol, interval string, limit int) ([]*Kline, error) {
	values := url.Values{}
	values.Set("contract", gateContract(symbol))
	values.Set("interval", interval)
	values.Set("limit", strconv.Itoa(limit))

	var candles []gateCandle
	path := fmt.Sprintf("/futures/%s/candlesticks", gateSettle)
	if err := g.request(ctx, http.MethodGet, path, values, nil, &candles); err != nil {
		return nil, err
	}

	result := make([]*Kline, 0, len(candles))
	for _, c := range candles {
		openTime := time.Unix(c.T, 0)
		result = append(result, &Kline{
			OpenTime:  openTime,
			CloseTime: openTime,
			Open:      c.O,
			High:      c.H,
			Low:       c.L,
			Close:     c.C,
			Volume:    decimal.NewFromInt(c.V),
		})
	}
	return result, nil
}

type gateTicker struct {
	Contract string          `json:"contract"`
	Last     decimal.Decimal `json:"last"`
	Bid      decimal.Decimal `json:"highest_bid"`
	Ask      decimal.Decimal `json:"lowest_ask"`
}

// FetchTicker 获取最新行情
func (g *GateIO) FetchTicker(ctx context.Context, symbol string) (*Ticker, error) {
	values := url.Values{}
	values.Set("contract", gateContract(symbol))

	var tickers []gateTicker
	path := fmt.Sprintf("/futures/%s/tickers", gateSettle)
	if err := g.request(ctx, http.MethodGet, path, values, nil, &tickers); err != nil {
		return nil, err
	}
	if len(tickers) == 0 {
		return nil, newError(TypeGateIO, ErrInvalidSymbol, "", "no ticker for "+symbol)
	}

	t := tickers[0]
	return &Ticker{
		Symbol:    symbol,
		Last:      t.Last,
		Bid:       t.Bid,
		Ask:       t.Ask,
		Timestamp: time.Now(),
	}, nil
}

func (g *GateIO) toOrderResult(order *gateOrder, orderType OrderType) *OrderResult {
	side := OrderSideBuy
	size := order.Size
	if size < 0 {
		side = OrderSideSell
		size = -size
	}
	filled := size - order.Left
	if filled < 0 {
		filled = 0
	}

	clientOrderID := strings.TrimPrefix(order.Text, "t-")
	return &OrderResult{
		ExchangeOrderID: strconv.FormatInt(order.ID, 10),
		ClientOrderID:   clientOrderID,
		Symbol:          NormalizeSymbol(order.Contract),
		Side:            side,
		Type:            orderType,
		Status:          gateStatus(order.Status, order.FinishAs, order.Left, size),
		Amount:          decimal.NewFromInt(size),
		Filled:          decimal.NewFromInt(filled),
		AvgPrice:        order.FillPrice,
	}
}

func gateStatus(status, finishAs string, left, size int64) OrderStatus {
	if status == "open" {
		if left > 0 && left < size {
			return OrderStatusPartial
		}
		return OrderStatusSubmitted
	}
	switch finishAs {
	case "filled":
		return OrderStatusFilled
	case "cancelled", "ioc", "stp":
		if left == 0 {
			return OrderStatusFilled
		}
		// 部分成交后剩余被取消
		return OrderStatusCanceled
	default:
		return OrderStatusRejected
	}
}

// mapGateError 业务错误标签映射
func mapGateError(statusCode int, gerr gateError) error {
	switch gerr.Label {
	case "TOO_MANY_REQUESTS", "RATE_LIMIT":
		return newError(TypeGateIO, ErrRateLimited, gerr.Label, gerr.Message)
	case "INVALID_KEY", "INVALID_SIGNATURE", "FORBIDDEN", "MISSING_REQUIRED_HEADER", "INVALID_CREDENTIALS":
		return newError(TypeGateIO, ErrAuth, gerr.Label, gerr.Message)
	case "BALANCE_NOT_ENOUGH", "INSUFFICIENT_AVAILABLE", "MARGIN_BALANCE_NOT_ENOUGH":
		return newError(TypeGateIO, ErrInsufficientBalance, gerr.Label, gerr.Message)
	case "CONTRACT_NOT_FOUND", "INVALID_CURRENCY_PAIR":
		return newError(TypeGateIO, ErrInvalidSymbol, gerr.Label, gerr.Message)
	case "INVALID_PARAM_VALUE", "SIZE_TOO_SMALL":
		return newError(TypeGateIO, ErrInvalidQuantity, gerr.Label, gerr.Message)
	case "ORDER_NOT_FOUND", "AUTO_ORDER_NOT_FOUND":
		return newError(TypeGateIO, ErrOrderNotFound, gerr.Label, gerr.Message)
	case "SERVER_ERROR", "INTERNAL":
		return newError(TypeGateIO, ErrTransient, gerr.Label, gerr.Message)
	default:
		if statusCode >= http.StatusInternalServerError {
			return newError(TypeGateIO, ErrTransient, gerr.Label, gerr.Message)
		}
		return newError(TypeGateIO, ErrRejected, gerr.Label, gerr.Message)
	}
}
