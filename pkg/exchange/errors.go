package exchange

import (
	"errors"
	"fmt"
)

// 交易所错误归一化：各适配器把原始错误码映射到下面的哨兵错误，
// 上层用errors.Is判断类别，不感知具体交易所

var (
	ErrRateLimited         = errors.New("exchange: rate limited")
	ErrAuth                = errors.New("exchange: authentication failed")
	ErrInsufficientBalance = errors.New("exchange: insufficient balance")
	ErrInvalidSymbol       = errors.New("exchange: invalid symbol")
	ErrInvalidQuantity     = errors.New("exchange: invalid quantity")
	ErrUnsupported         = errors.New("exchange: unsupported operation")
	ErrOrderNotFound       = errors.New("exchange: order not found")
	ErrPositionNotFound    = errors.New("exchange: position not found")
	ErrRejected            = errors.New("exchange: order rejected")
	ErrTransient           = errors.New("exchange: transient failure")
)

// Error 携带交易所上下文的错误，Unwrap到哨兵错误
type Error struct {
	Exchange Type
	Kind     error
	Code     string
	Message  string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code=%s): %s", e.Exchange, e.Kind.Error(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Exchange, e.Kind.Error(), e.Message)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(exchange Type, kind error, code, message string) *Error {
	return &Error{Exchange: exchange, Kind: kind, Code: code, Message: message}
}

// Retryable 是否可以安全重试
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransient)
}

// KindLabel 错误类别标签，用于订单记录与指标
func KindLabel(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrInvalidSymbol):
		return "invalid_symbol"
	case errors.Is(err, ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, ErrUnsupported):
		return "unsupported"
	case errors.Is(err, ErrOrderNotFound):
		return "not_found"
	case errors.Is(err, ErrPositionNotFound):
		return "position_not_found"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "rejected"
	}
}
