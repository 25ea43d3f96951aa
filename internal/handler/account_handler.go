package handler

import (
	"net/http"

	"github.com/dushixiang/relay/internal/models"
	"github.com/dushixiang/relay/internal/service"
	"github.com/labstack/echo/v4"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

// AccountHandler 账户管理HTTP处理器
type AccountHandler struct {
	accountService *service.AccountService
	logger         *zap.Logger
}

// NewAccountHandler 创建账户处理器
func NewAccountHandler(accountService *service.AccountService, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
		logger:         logger,
	}
}

// RegisterRoutes 注册路由
func (h *AccountHandler) RegisterRoutes(g *echo.Group) {
	accounts := g.Group("/accounts")

	accounts.POST("", h.Register)
	accounts.GET("", h.List)
	accounts.GET("/:id", h.Get)
	accounts.PUT("/:id", h.Update)
	accounts.PUT("/:id/credentials", h.RotateCredentials)
	accounts.DELETE("/:id", h.Delete)
}

type registerAccountRequest struct {
	Name       string `json:"name" validate:"required,max=100"`
	Exchange   string `json:"exchange" validate:"required,oneof=binance okx gateio"`
	APIKey     string `json:"api_key" validate:"required"`
	SecretKey  string `json:"secret_key" validate:"required"`
	Passphrase string `json:"passphrase"`
	Sandbox    *bool  `json:"sandbox"`
}

// Register 注册账户
// POST /api/accounts
func (h *AccountHandler) Register(c echo.Context) error {
	var req registerAccountRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	account, err := h.accountService.Register(c.Request().Context(), service.RegisterAccountParams{
		Name:       req.Name,
		Exchange:   models.ExchangeType(req.Exchange),
		APIKey:     req.APIKey,
		SecretKey:  req.SecretKey,
		Passphrase: req.Passphrase,
		Sandbox:    req.Sandbox,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, account)
}

// List 账户列表
// GET /api/accounts
func (h *AccountHandler) List(c echo.Context) error {
	accounts, err := h.accountService.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, accounts)
}

// Get 账户详情
// GET /api/accounts/:id
func (h *AccountHandler) Get(c echo.Context) error {
	account, err := h.accountService.Get(c.Request().Context(), cast.ToInt64(c.Param("id")))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, account)
}

type updateAccountRequest struct {
	Name    *string `json:"name" validate:"omitempty,max=100"`
	Sandbox *bool   `json:"sandbox"`
}

// Update 更新账户名称或沙盒开关
// PUT /api/accounts/:id
func (h *AccountHandler) Update(c echo.Context) error {
	var req updateAccountRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	account, err := h.accountService.Update(c.Request().Context(), cast.ToInt64(c.Param("id")), req.Name, req.Sandbox)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, account)
}

type rotateCredentialsRequest struct {
	APIKey     string `json:"api_key" validate:"required"`
	SecretKey  string `json:"secret_key" validate:"required"`
	Passphrase string `json:"passphrase"`
}

// RotateCredentials 轮换凭证
// PUT /api/accounts/:id/credentials
func (h *AccountHandler) RotateCredentials(c echo.Context) error {
	var req rotateCredentialsRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	err := h.accountService.RotateCredentials(c.Request().Context(),
		cast.ToInt64(c.Param("id")), req.APIKey, req.SecretKey, req.Passphrase)
	if err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Delete 删除账户，仍有活跃订单或持仓时拒绝
// DELETE /api/accounts/:id
func (h *AccountHandler) Delete(c echo.Context) error {
	if err := h.accountService.Delete(c.Request().Context(), cast.ToInt64(c.Param("id"))); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
