package telegram

import (
	"time"

	"github.com/dushixiang/relay/internal/config"
	"github.com/spf13/cast"
	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
	"gopkg.in/telebot.v3/middleware"
)

// Telegram 通知机器人，未启用时为空操作
type Telegram struct {
	logger *zap.Logger
	conf   config.TelegramConf
	client *tele.Bot
}

func NewTelegram(logger *zap.Logger, conf config.TelegramConf) (*Telegram, error) {
	bot := &Telegram{
		logger: logger,
		conf:   conf,
	}
	if !conf.Enabled {
		return bot, nil
	}

	poller := &tele.LongPoller{Timeout: 10 * time.Second}
	client, err := tele.NewBot(tele.Settings{
		ParseMode: tele.ModeMarkdown,
		Token:     conf.Token,
		Poller:    poller,
	})
	if err != nil {
		return nil, err
	}

	client.Use(middleware.AutoRespond())

	err = client.SetCommands([]tele.Command{
		{Text: "/start", Description: "启动机器人"},
		{Text: "/help", Description: "获取帮助信息"},
	})
	if err != nil {
		return nil, err
	}

	bot.client = client
	return bot, nil
}

func (r *Telegram) Start() {
	if r.client == nil {
		return
	}
	go r.client.Start()
}

// Notify 向配置的会话发送通知，失败只记日志
func (r *Telegram) Notify(msg string) {
	if r.client == nil {
		return
	}
	chatID := cast.ToInt64(r.conf.ChatID)
	_, err := r.client.Send(tele.ChatID(chatID), msg, &tele.SendOptions{ParseMode: tele.ModeMarkdown})
	if err != nil {
		r.logger.Warn("telegram notify failed", zap.Error(err))
	}
}
