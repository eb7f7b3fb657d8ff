package xerr

import (
	"errors"

	"github.com/gin-gonic/gin"
)

// CodeError 给底层错误附上业务码，供服务层向处理器传递
type CodeError struct {
	Code int
	Err  error
}

func (e *CodeError) Error() string {
	return e.Err.Error()
}

// Unwrap 暴露被包裹的错误，errors.Is 链可以穿透业务码
func (e *CodeError) Unwrap() error {
	return e.Err
}

// NewCodeError 把一个错误和业务码打包成 CodeError
func NewCodeError(code int, err error) *CodeError {
	return &CodeError{Code: code, Err: err}
}

// Is 对 errors.Is 的转发，调用方不必同时引入两个包
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Response 是所有接口共用的 JSON 响应外壳
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// JSONResponse 按统一外壳写出响应，业务码与 HTTP 状态码分开给
func JSONResponse(c *gin.Context, httpStatus int, code int, message string, data any) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// Success 写出成功响应，业务码固定为 SuccessCode
func Success(c *gin.Context, httpStatus int, message string, data any) {
	JSONResponse(c, httpStatus, SuccessCode, message, data)
}

// Error 写出错误响应，data 恒为空
func Error(c *gin.Context, httpStatus int, code int, message string) {
	JSONResponse(c, httpStatus, code, message, nil)
}

// AbortWithError 写出错误响应并截断后续处理器，中间件用
func AbortWithError(c *gin.Context, httpStatus int, code int, message string) {
	Error(c, httpStatus, code, message)
	c.Abort()
}
