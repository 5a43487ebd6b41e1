package errors

import (
	"errors"
	"fmt"
)

// AppError 应用错误类型
// 核心组件对外暴露的错误统一使用 AppError，包含错误码和用户可见消息
type AppError struct {
	Code    int    // 错误码
	Message string // 用户可见的错误消息
	Err     error  // 原始错误（可选，用于调试）
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 支持 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewError 创建新错误
func NewError(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包装原始错误
func (e *AppError) Wrap(err error) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     err,
	}
}

// Is 判断是否为指定错误
func Is(err error, target *AppError) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

// GetCode 获取错误码，如果不是 AppError 返回默认错误码
func GetCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeServerError
}

// GetMessage 获取错误消息
func GetMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal error"
}

// IsAuthentication 判断是否为认证类错误 (10000-10999)
func IsAuthentication(err error) bool {
	code := GetCode(err)
	return code >= 10000 && code < 11000
}

// ============== 错误码定义 ==============

const (
	CodeSuccess = 0

	// 认证相关 10000-10999
	CodeInvalidCredentials = 10001
	CodeEmailExists        = 10002
	CodeNotAuthenticated   = 10003
	CodeTokenInvalid       = 10004
	CodeTokenExpired       = 10005
	CodeWeakSecret         = 10006

	// 会话相关 20000-20999
	CodeSubscription          = 20001
	CodeSendFailed            = 20002
	CodeNotParticipant        = 20003
	CodeConversationForbidden = 20005

	// 上传相关 30000-30999
	CodeUploadCancelled    = 30001
	CodeUploadInFlight     = 30002
	CodeUploadFailed       = 30003
	CodeStorageUnavailable = 30004
	CodeImageProcessing    = 30005

	// 辅助功能 40000-41999
	CodeAdvisory       = 40001
	CodePartialListing = 41001
	CodeListing        = 41002

	// 系统错误 50000-50999
	CodeServerError   = 50001
	CodeDBError       = 50002
	CodeInvalidParams = 50003
	CodeForbidden     = 50004
)

// ============== 预定义错误 ==============

// 认证相关
var (
	ErrInvalidCredentials = NewError(CodeInvalidCredentials, "invalid email or password")
	ErrEmailExists        = NewError(CodeEmailExists, "email already in use")
	ErrNotAuthenticated   = NewError(CodeNotAuthenticated, "not signed in")
	ErrTokenInvalid       = NewError(CodeTokenInvalid, "token is invalid")
	ErrTokenExpired       = NewError(CodeTokenExpired, "token has expired")
	ErrWeakSecret         = NewError(CodeWeakSecret, "password is too weak")
)

// 会话相关
var (
	ErrSubscription          = NewError(CodeSubscription, "could not load messages")
	ErrSendFailed            = NewError(CodeSendFailed, "message could not be sent")
	ErrNotParticipant        = NewError(CodeNotParticipant, "not a participant of this conversation")
	ErrConversationForbidden = NewError(CodeConversationForbidden, "conversation is not open")
)

// 上传相关
var (
	ErrUploadCancelled    = NewError(CodeUploadCancelled, "upload cancelled")
	ErrUploadInFlight     = NewError(CodeUploadInFlight, "another upload is in progress")
	ErrUploadFailed       = NewError(CodeUploadFailed, "your file could not be uploaded")
	ErrStorageUnavailable = NewError(CodeStorageUnavailable, "storage is not configured")
	ErrImageProcessing    = NewError(CodeImageProcessing, "there was an error processing your file")
)

// 辅助功能
var (
	ErrAdvisory       = NewError(CodeAdvisory, "smart replies unavailable")
	ErrPartialListing = NewError(CodePartialListing, "file metadata unavailable")
	ErrListing        = NewError(CodeListing, "could not fetch files")
)

// 系统相关
var (
	ErrServerError   = NewError(CodeServerError, "internal error")
	ErrDBError       = NewError(CodeDBError, "database error")
	ErrInvalidParams = NewError(CodeInvalidParams, "invalid parameters")
	ErrForbidden     = NewError(CodeForbidden, "access denied")
)
