package xe

import "github.com/go-orz/orz"

var (
	ErrInvalidParams    = orz.NewError(10400, "参数无效")
	ErrSignatureInvalid = orz.NewError(10401, "Webhook签名校验失败")
	ErrAccountNotFound  = orz.NewError(10404, "交易账户不存在")
	ErrPositionNotFound = orz.NewError(10405, "持仓不存在或已平仓")
	ErrOrderNotFound    = orz.NewError(10406, "订单不存在")
	ErrInvalidState     = orz.NewError(10407, "订单状态不允许此操作")
	ErrInvalidQuantity  = orz.NewError(10408, "下单数量经精度处理后为零")
	ErrAccountInUse     = orz.NewError(10409, "账户仍有未完成订单或持仓，无法删除")
	ErrPassphraseNeeded = orz.NewError(10410, "OKX账户必须提供Passphrase")

	ErrExchangeRateLimit = orz.NewError(10501, "交易所限流，请稍后重试")
	ErrExchangeAuth      = orz.NewError(10502, "交易所拒绝了账户凭证")
	ErrExchangeTransient = orz.NewError(10503, "交易所暂时不可用")
	ErrIntegrity         = orz.NewError(10500, "凭证密文完整性校验失败")
)
