package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"jobport/internal/apperr"
)

// Envelope 是所有响应共用的信封结构。
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data"`
	Message string `json:"message"`
}

// Success 以统一信封返回成功数据。
func Success(c *gin.Context, status int, data any, message string) {
	c.JSON(status, Envelope{Success: true, Data: data, Message: message})
}

// Fail 以统一信封返回失败消息。
func Fail(c *gin.Context, status int, message string) {
	c.JSON(status, Envelope{Success: false, Data: nil, Message: message})
}

// FailValidation 返回字段级校验错误：data 为字段路径到消息的映射。
func FailValidation(c *gin.Context, fields map[string]string) {
	c.JSON(http.StatusBadRequest, Envelope{
		Success: false,
		Data:    fields,
		Message: "Validation failed",
	})
}

// FromError 将业务错误翻译为 HTTP 响应。
// 冲突类错误沿用旧系统的 400 状态码。
func FromError(c *gin.Context, err error) {
	appErr := apperr.From(err)
	if appErr == nil {
		Fail(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	switch appErr.Kind {
	case apperr.KindNotFound:
		Fail(c, http.StatusNotFound, appErr.Message)
	case apperr.KindConflict:
		Fail(c, http.StatusBadRequest, appErr.Message)
	case apperr.KindValidation:
		if len(appErr.Fields) > 0 {
			FailValidation(c, appErr.Fields)
			return
		}
		Fail(c, http.StatusBadRequest, appErr.Message)
	case apperr.KindUnauthorized:
		Fail(c, http.StatusUnauthorized, appErr.Message)
	case apperr.KindForbidden:
		Fail(c, http.StatusForbidden, appErr.Message)
	default:
		Fail(c, http.StatusInternalServerError, "Internal server error")
	}
}

// bindJSON 绑定并校验请求体，失败时直接写出字段级错误响应。
func bindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		writeBindingError(c, err)
		return false
	}
	return true
}

func writeBindingError(c *gin.Context, err error) {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		fields := make(map[string]string, len(validationErrs))
		for _, fieldErr := range validationErrs {
			fields[strings.ToLower(fieldErr.Field())] = fieldMessage(fieldErr)
		}
		FailValidation(c, fields)
		return
	}
	Fail(c, http.StatusBadRequest, err.Error())
}

func fieldMessage(fieldErr validator.FieldError) string {
	field := strings.ToLower(fieldErr.Field())
	switch fieldErr.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email address"
	case "min":
		return field + " must be at least " + fieldErr.Param() + " characters"
	case "max":
		return field + " must be at most " + fieldErr.Param() + " characters"
	case "oneof":
		return field + " must be one of: " + fieldErr.Param()
	default:
		return field + " is invalid"
	}
}
