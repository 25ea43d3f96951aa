//go:build wireinject
// +build wireinject

package internal

import (
	"github.com/google/wire"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/dushixiang/relay/internal/config"
	"github.com/dushixiang/relay/internal/handler"
	"github.com/dushixiang/relay/internal/service"
)

var (
	handlerSet = wire.NewSet(
		handler.NewAccountHandler,
		handler.NewTradingHandler,
		handler.NewWebhookHandler,
	)

	serviceSet = wire.NewSet(
		provideVault,
		provideTelegram,
		service.NewAdapterFactory,
		service.NewAccountService,
		service.NewPositionService,
		service.NewOrderService,
		service.NewWebhookService,
		service.NewMarketService,
		service.NewReconciler,
	)
)

// InitializeApp 初始化应用
func InitializeApp(logger *zap.Logger, db *gorm.DB, conf *config.Config) (*AppComponents, error) {
	wire.Build(
		handlerSet,
		serviceSet,
		wire.Struct(new(AppComponents), "*"),
	)
	return nil, nil
}
