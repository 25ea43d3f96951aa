package handler

import (
	"io"
	"net/http"

	"github.com/dushixiang/relay/internal/models"
	"github.com/dushixiang/relay/internal/service"
	"github.com/go-orz/orz"
	"github.com/labstack/echo/v4"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

const signatureHeader = "X-Signature"

// WebhookHandler 交易信号入口
type WebhookHandler struct {
	webhookService *service.WebhookService
	logger         *zap.Logger
}

// NewWebhookHandler 创建Webhook处理器
func NewWebhookHandler(webhookService *service.WebhookService, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		webhookService: webhookService,
		logger:         logger,
	}
}

// RegisterRoutes 注册路由
func (h *WebhookHandler) RegisterRoutes(g *echo.Group) {
	webhooks := g.Group("/webhooks")

	webhooks.POST("/open-position", h.OpenPosition)
	webhooks.POST("/close-position", h.ClosePosition)
	webhooks.POST("/trade", h.Trade)
	webhooks.GET("/signals", h.Signals)
	webhooks.GET("/test", h.Test)
}

// OpenPosition 开仓信号
// POST /api/webhooks/open-position
func (h *WebhookHandler) OpenPosition(c echo.Context) error {
	return h.handle(c, models.SignalActionOpen)
}

// ClosePosition 平仓信号
// POST /api/webhooks/close-position
func (h *WebhookHandler) ClosePosition(c echo.Context) error {
	return h.handle(c, models.SignalActionClose)
}

// Trade 通用信号，动作由载荷的action字段决定
// POST /api/webhooks/trade
func (h *WebhookHandler) Trade(c echo.Context) error {
	return h.handle(c, "")
}

// handle 签名基于原始请求体计算，必须在任何解析之前读取
func (h *WebhookHandler) handle(c echo.Context, restrict models.SignalAction) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return err
	}

	signature := c.Request().Header.Get(signatureHeader)
	signal, duplicate, err := h.webhookService.Process(c.Request().Context(), body, signature, restrict)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, orz.Map{
		"signal_id": signal.ID,
		"result":    signal.Result,
		"duplicate": duplicate,
		"order_id":  signal.OrderID,
		"reason":    signal.Reason,
	})
}

// Signals 信号处理历史
// GET /api/webhooks/signals?limit=
func (h *WebhookHandler) Signals(c echo.Context) error {
	signals, err := h.webhookService.FindRecent(c.Request().Context(), cast.ToInt(c.QueryParam("limit")))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, signals)
}

// Test 连通性探测，返回一个示例载荷
// GET /api/webhooks/test
func (h *WebhookHandler) Test(c echo.Context) error {
	return c.JSON(http.StatusOK, orz.Map{
		"status": "ok",
		"example": orz.Map{
			"action":          "open",
			"account_id":      1,
			"symbol":          "BTCUSDT",
			"side":            "buy",
			"amount":          "0.01",
			"order_type":      "market",
			"idempotency_key": "sig-20260831-0001",
		},
		"signature_header": signatureHeader,
		"signature_format": "sha256=<hex hmac of raw body>",
	})
}
