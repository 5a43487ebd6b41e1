package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	appErrors "sudooom.im.ripple/pkg/errors"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    appErrors.CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// ErrorWithMsg 自定义错误消息
func ErrorWithMsg(c *gin.Context, code int, message string) {
	c.JSON(statusFor(code), Response{
		Code:    code,
		Message: message,
	})
}

// Error 从 AppError 生成错误响应，非 AppError 统一为服务器内部错误
func Error(c *gin.Context, err error) {
	code := appErrors.GetCode(err)
	c.JSON(statusFor(code), Response{
		Code:    code,
		Message: appErrors.GetMessage(err),
	})
}

// Unauthorized 未认证
func Unauthorized(c *gin.Context, err error) {
	code := appErrors.GetCode(err)
	if code == appErrors.CodeServerError {
		code = appErrors.CodeTokenInvalid
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
		Code:    code,
		Message: appErrors.GetMessage(err),
	})
}

// statusFor 错误码到 HTTP 状态码的映射
func statusFor(code int) int {
	switch {
	case code == appErrors.CodeSuccess:
		return http.StatusOK
	case code == appErrors.CodeNotAuthenticated,
		code == appErrors.CodeTokenInvalid,
		code == appErrors.CodeTokenExpired,
		code == appErrors.CodeInvalidCredentials:
		return http.StatusUnauthorized
	case code == appErrors.CodeForbidden,
		code == appErrors.CodeNotParticipant,
		code == appErrors.CodeConversationForbidden:
		return http.StatusForbidden
	case code == appErrors.CodeEmailExists,
		code == appErrors.CodeUploadInFlight:
		return http.StatusConflict
	case code == appErrors.CodeInvalidParams,
		code == appErrors.CodeWeakSecret:
		return http.StatusBadRequest
	case code == appErrors.CodeStorageUnavailable:
		return http.StatusServiceUnavailable
	case code >= 50000:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}
