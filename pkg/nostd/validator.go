package nostd

import (
	"net/http"

	"github.com/go-playground/locales/zh"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	zhtranslations "github.com/go-playground/validator/v10/translations/zh"
	"github.com/labstack/echo/v4"
)

// CustomValidator echo参数校验器，错误信息翻译为中文
type CustomValidator struct {
	Validator *validator.Validate
	trans     ut.Translator
}

// TransInit 初始化中文翻译器
func (cv *CustomValidator) TransInit() error {
	zhLocale := zh.New()
	uni := ut.New(zhLocale, zhLocale)
	trans, _ := uni.GetTranslator("zh")
	cv.trans = trans
	return zhtranslations.RegisterDefaultTranslations(cv.Validator, trans)
}

// Validate 校验结构体，第一条错误直接返回400
func (cv *CustomValidator) Validate(i interface{}) error {
	if err := cv.Validator.Struct(i); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && cv.trans != nil {
			for _, fieldErr := range errs {
				return echo.NewHTTPError(http.StatusBadRequest, fieldErr.Translate(cv.trans))
			}
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}
