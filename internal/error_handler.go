package internal

import (
	"errors"
	"net/http"

	"github.com/dushixiang/relay/internal/xe"
	"github.com/go-orz/orz"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func WithErrorHandler(logger *zap.Logger) func(next echo.HandlerFunc) echo.HandlerFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := next(c); err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					return c.JSON(he.Code, orz.Map{
						"code":    he.Code,
						"message": err.Error(),
					})
				}

				var oe *orz.Error
				if errors.As(err, &oe) {
					var code = http.StatusBadRequest
					switch {
					case errors.Is(err, xe.ErrSignatureInvalid):
						code = http.StatusUnauthorized
					case errors.Is(err, xe.ErrAccountNotFound),
						errors.Is(err, xe.ErrOrderNotFound),
						errors.Is(err, xe.ErrPositionNotFound):
						code = http.StatusNotFound
					case errors.Is(err, xe.ErrAccountInUse):
						code = http.StatusConflict
					case errors.Is(err, xe.ErrExchangeRateLimit):
						code = http.StatusTooManyRequests
					case errors.Is(err, xe.ErrExchangeTransient):
						code = http.StatusServiceUnavailable
					case errors.Is(err, xe.ErrIntegrity):
						code = http.StatusInternalServerError
					}
					return c.JSON(code, orz.Map{
						"code":    oe.Code,
						"message": err.Error(),
					})
				}

				logger.Sugar().Error("api", zap.Error(err))

				return c.JSON(http.StatusInternalServerError, orz.Map{
					"code":    http.StatusInternalServerError,
					"message": err.Error(),
				})
			}
			return nil
		}
	}
}
