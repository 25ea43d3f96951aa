package config

type Config struct {
	Security  SecurityConf  `json:"security"`
	Exchange  ExchangeConf  `json:"exchange"`
	Reconcile ReconcileConf `json:"reconcile"`
	Telegram  TelegramConf  `json:"telegram"`
}

type SecurityConf struct {
	SecretKey     string `json:"secret_key"`     // 凭证加密密钥，启动时必填
	WebhookSecret string `json:"webhook_secret"` // Webhook签名密钥，为空时跳过签名校验
}

type ExchangeConf struct {
	ProxyURL       string `json:"proxy_url"`       // 代理地址，例如: http://127.0.0.1:7890
	TimeoutSeconds int    `json:"timeout_seconds"` // 单次请求超时（秒），默认10
	RetryAttempts  int    `json:"retry_attempts"`  // 限频重试次数，默认3
}

type ReconcileConf struct {
	IntervalSeconds   int `json:"interval_seconds"`    // 对账周期（秒），默认30
	StaleAfterSeconds int `json:"stale_after_seconds"` // 交易所查不到的订单多久后判定为丢失（秒），默认120
}

type TelegramConf struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	ChatID  string `json:"chat_id"`
}

// Timeout 请求超时秒数，带默认值
func (c ExchangeConf) Timeout() int {
	if c.TimeoutSeconds <= 0 {
		return 10
	}
	return c.TimeoutSeconds
}

// Attempts 重试次数，带默认值
func (c ExchangeConf) Attempts() int {
	if c.RetryAttempts <= 0 {
		return 3
	}
	return c.RetryAttempts
}

// Interval 对账周期秒数，带默认值
func (c ReconcileConf) Interval() int {
	if c.IntervalSeconds <= 0 {
		return 30
	}
	return c.IntervalSeconds
}

// StaleAfter 丢单判定窗口秒数，带默认值
func (c ReconcileConf) StaleAfter() int {
	if c.StaleAfterSeconds <= 0 {
		return 120
	}
	return c.StaleAfterSeconds
}
