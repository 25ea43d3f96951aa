package handler

import (
	"net/http"

	"github.com/dushixiang/relay/internal/models"
	"github.com/dushixiang/relay/internal/service"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

// TradingHandler 订单、持仓和行情HTTP处理器
type TradingHandler struct {
	orderService    *service.OrderService
	positionService *service.PositionService
	marketService   *service.MarketService
	logger          *zap.Logger
}

// NewTradingHandler 创建交易处理器
func NewTradingHandler(orderService *service.OrderService, positionService *service.PositionService,
	marketService *service.MarketService, logger *zap.Logger) *TradingHandler {
	return &TradingHandler{
		orderService:    orderService,
		positionService: positionService,
		marketService:   marketService,
		logger:          logger,
	}
}

// RegisterRoutes 注册路由
func (h *TradingHandler) RegisterRoutes(g *echo.Group) {
	orders := g.Group("/orders")
	orders.POST("", h.CreateOrder)
	orders.GET("", h.ListOrders)
	orders.GET("/:id", h.GetOrder)
	orders.POST("/:id/cancel", h.CancelOrder)
	orders.POST("/:id/reconcile", h.ReconcileOrder)

	positions := g.Group("/positions")
	positions.GET("", h.ListPositions)
	positions.POST("/close", h.ClosePosition)

	market := g.Group("/market")
	market.GET("/ticker", h.Ticker)
	market.GET("/klines", h.Klines)
}

type createOrderRequest struct {
	AccountID int64  `json:"account_id" validate:"required,gt=0"`
	Symbol    string `json:"symbol" validate:"required"`
	Side      string `json:"side" validate:"required,oneof=buy sell"`
	Type      string `json:"type" validate:"omitempty,oneof=market limit stop stop_limit"`
	Amount    string `json:"amount" validate:"required"`
	Price     string `json:"price"`
	StopPrice string `json:"stop_price"`
}

// CreateOrder 创建订单，幂等键从Idempotency-Key头读取
// POST /api/orders
func (h *TradingHandler) CreateOrder(c echo.Context) error {
	var req createOrderRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	spec := service.OrderSpec{
		Symbol: req.Symbol,
		Side:   models.OrderSide(req.Side),
		Type:   models.OrderTypeMarket,
	}
	if req.Type != "" {
		spec.Type = models.OrderType(req.Type)
	}

	var err error
	if spec.Amount, err = decimal.NewFromString(req.Amount); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "amount不是合法数字")
	}
	if req.Price != "" {
		price, err := decimal.NewFromString(req.Price)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "price不是合法数字")
		}
		spec.Price = decimal.NewNullDecimal(price)
	}
	if req.StopPrice != "" {
		stopPrice, err := decimal.NewFromString(req.StopPrice)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "stop_price不是合法数字")
		}
		spec.StopPrice = decimal.NewNullDecimal(stopPrice)
	}

	idemKey := c.Request().Header.Get("Idempotency-Key")
	order, err := h.orderService.Create(c.Request().Context(), req.AccountID, spec, idemKey)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, order)
}

// ListOrders 订单列表
// GET /api/orders?account_id=&status=&limit=
func (h *TradingHandler) ListOrders(c echo.Context) error {
	accountID := cast.ToInt64(c.QueryParam("account_id"))
	if accountID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "account_id必填")
	}
	status := models.OrderStatus(c.QueryParam("status"))
	limit := cast.ToInt(c.QueryParam("limit"))

	orders, err := h.orderService.FindByAccount(c.Request().Context(), accountID, status, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, orders)
}

// GetOrder 订单详情
// GET /api/orders/:id
func (h *TradingHandler) GetOrder(c echo.Context) error {
	order, err := h.orderService.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, order)
}

// CancelOrder 取消订单
// POST /api/orders/:id/cancel
func (h *TradingHandler) CancelOrder(c echo.Context) error {
	order, err := h.orderService.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, order)
}

// ReconcileOrder 手动触发单笔对账
// POST /api/orders/:id/reconcile
func (h *TradingHandler) ReconcileOrder(c echo.Context) error {
	ctx := c.Request().Context()
	order, err := h.orderService.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	if err := h.orderService.Reconcile(ctx, &order); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, order)
}

// ListPositions 持仓列表
// GET /api/positions?account_id=&open_only=
func (h *TradingHandler) ListPositions(c echo.Context) error {
	accountID := cast.ToInt64(c.QueryParam("account_id"))
	if accountID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "account_id必填")
	}
	openOnly := c.QueryParam("open_only") != "false"

	positions, err := h.positionService.FindByAccount(c.Request().Context(), accountID, openOnly)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, positions)
}

type closePositionRequest struct {
	AccountID int64  `json:"account_id" validate:"required,gt=0"`
	Symbol    string `json:"symbol" validate:"required"`
	Side      string `json:"side" validate:"required,oneof=long short"`
}

// ClosePosition 全量平仓
// POST /api/positions/close
func (h *TradingHandler) ClosePosition(c echo.Context) error {
	var req closePositionRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	order, err := h.positionService.Close(c.Request().Context(),
		req.AccountID, req.Symbol, models.PositionSide(req.Side))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, order)
}

// Ticker 最新行情
// GET /api/market/ticker?account_id=&symbol=
func (h *TradingHandler) Ticker(c echo.Context) error {
	accountID := cast.ToInt64(c.QueryParam("account_id"))
	symbol := c.QueryParam("symbol")
	if accountID <= 0 || symbol == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "account_id和symbol必填")
	}

	ticker, err := h.marketService.Ticker(c.Request().Context(), accountID, symbol)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ticker)
}

// Klines K线
// GET /api/market/klines?account_id=&symbol=&interval=&limit=
func (h *TradingHandler) Klines(c echo.Context) error {
	accountID := cast.ToInt64(c.QueryParam("account_id"))
	symbol := c.QueryParam("symbol")
	if accountID <= 0 || symbol == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "account_id和symbol必填")
	}

	klines, err := h.marketService.Klines(c.Request().Context(), accountID, symbol,
		c.QueryParam("interval"), cast.ToInt(c.QueryParam("limit")))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, klines)
}
