package internal

import (
	"fmt"
	"net/http"

	"github.com/dushixiang/relay/internal/config"
	"github.com/dushixiang/relay/internal/handler"
	"github.com/dushixiang/relay/internal/models"
	"github.com/dushixiang/relay/internal/service"
	"github.com/dushixiang/relay/internal/telegram"
	"github.com/dushixiang/relay/pkg/nostd"
	"github.com/go-orz/orz"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func Run(configPath string) error {
	app := NewRelayApp()

	framework, err := orz.NewFramework(
		orz.WithConfig(configPath),
		orz.WithLoggerFromConfig(),
		orz.WithDatabase(),
		orz.WithHTTP(),
		orz.WithApplication(app),
	)
	if err != nil {
		return err
	}

	return framework.Run()
}

func NewRelayApp() orz.Application {
	return &RelayApp{}
}

var _ orz.Application = (*RelayApp)(nil)

type AppComponents struct {
	AccountHandler *handler.AccountHandler
	TradingHandler *handler.TradingHandler
	WebhookHandler *handler.WebhookHandler

	AccountService  *service.AccountService
	OrderService    *service.OrderService
	PositionService *service.PositionService
	WebhookService  *service.WebhookService
	MarketService   *service.MarketService
	Reconciler      *service.Reconciler

	Telegram *telegram.Telegram
}

type RelayApp struct {
	components *AppComponents
	conf       *config.Config
}

// GetComponents 获取应用组件
func (r *RelayApp) GetComponents() *AppComponents {
	return r.components
}

func (r *RelayApp) Configure(app *orz.App) error {
	logger := app.Logger()
	e := app.GetEcho()
	db := app.GetDatabase()

	var conf config.Config
	err := app.GetConfig().App.Unmarshal(&conf)
	if err != nil {
		return fmt.Errorf("failed to unmarshal config: %v", err)
	}

	components, err := InitializeApp(logger, db, &conf)
	if err != nil {
		return fmt.Errorf("failed to initialize app: %v", err)
	}
	r.components = components
	r.conf = &conf

	if err := db.AutoMigrate(
		models.Account{}, models.Order{}, models.Position{}, models.WebhookSignal{},
	); err != nil {
		logger.Fatal("database auto migrate failed", zap.Error(err))
	}

	if err := r.Init(logger); err != nil {
		logger.Fatal("app init failed", zap.Error(err))
	}

	e.HidePort = true
	e.HideBanner = true

	e.Use(middleware.Gzip())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		Skipper:      middleware.DefaultSkipper,
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodHead, http.MethodPut, http.MethodPatch, http.MethodPost, http.MethodDelete},
	}))
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			sugar := logger.Sugar()
			sugar.Error(fmt.Sprintf("[PANIC RECOVER] %v %s\n", err, stack))
			return err
		},
	}))
	e.Use(WithErrorHandler(logger))
	customValidator := nostd.CustomValidator{Validator: validator.New()}
	if err := customValidator.TransInit(); err != nil {
		logger.Sugar().Fatal("failed to init custom validator", zap.Error(err))
	}
	e.Validator = &customValidator

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	{
		r.components.AccountHandler.RegisterRoutes(api)
		r.components.TradingHandler.RegisterRoutes(api)
		r.components.WebhookHandler.RegisterRoutes(api)
	}

	return nil
}

func (r *RelayApp) Init(logger *zap.Logger) error {
	logger.Info("=================================================")
	logger.Info("Relay Trading Gateway Starting...")
	logger.Info("=================================================")

	components := r.GetComponents()
	if components == nil {
		return fmt.Errorf("components not initialized")
	}

	if components.Telegram != nil {
		components.Telegram.Start()
	}

	if err := components.Reconciler.Start(); err != nil {
		return fmt.Errorf("failed to start reconciler: %w", err)
	}
	return nil
}
