package xerr

import "fmt"

// CodeError 自定义错误结构，Cause 不会序列化给调用方
type CodeError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

// Error 实现 error 接口
func (e *CodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("Code: %d, Message: %s, Cause: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("Code: %d, Message: %s", e.Code, e.Message)
}

func (e *CodeError) Unwrap() error { return e.Cause }

// New 创建新的 CodeError
func New(code int, msg string) *CodeError {
	return &CodeError{Code: code, Message: msg}
}

// Wrap 携带底层错误，便于日志排查
func Wrap(code int, msg string, cause error) *CodeError {
	return &CodeError{Code: code, Message: msg, Cause: cause}
}

// 常用通用错误码
const (
	OK                  = 200
	BadRequest          = 400
	Unauthorized        = 401
	Forbidden           = 403
	NotFound            = 404
	Conflict            = 409
	TooManyRequests     = 429
	InternalServerError = 500
	ServiceUnavailable  = 503
)

// 常用预定义错误
var (
	ErrSuccess     = New(OK, "Success")
	ErrServerError = New(InternalServerError, "系统错误，请联系工作人员")
	ErrParam       = New(BadRequest, "参数错误")
	ErrNotFound    = New(NotFound, "资源不存在")
	ErrUnavailable = New(ServiceUnavailable, "服务暂不可用")
)
