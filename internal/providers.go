package internal

import (
	"github.com/dushixiang/relay/internal/config"
	"github.com/dushixiang/relay/internal/telegram"
	"github.com/dushixiang/relay/pkg/vault"
	"go.uber.org/zap"
)

// provideVault 凭证保险箱，密钥未配置时启动失败
func provideVault(conf *config.Config) (*vault.Vault, error) {
	return vault.New(conf.Security.SecretKey)
}

// provideTelegram 通知机器人，初始化失败不阻断启动
func provideTelegram(logger *zap.Logger, conf *config.Config) *telegram.Telegram {
	tg, err := telegram.NewTelegram(logger, conf.Telegram)
	if err != nil {
		logger.Error("failed to init telegram", zap.Error(err))
		return nil
	}
	return tg
}
