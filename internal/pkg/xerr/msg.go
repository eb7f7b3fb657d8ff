package xerr

import "errors"

var (
	// 通用错误
	ErrInternalServer = errors.New("服务器内部错误")

	// 客户端请求错误
	ErrInvalidParams    = errors.New("无效的请求参数")
	ErrValidationFailed = errors.New("参数验证失败")
	ErrKeepCountInvalid = errors.New("保留版本数必须大于等于1")
	ErrVersionProtected = errors.New("当前版本或最后一个版本不允许删除")

	// 认证与授权错误
	ErrUnauthorized          = errors.New("用户未授权")
	ErrTokenInvalid          = errors.New("认证 Token 无效或已过期")
	ErrSharePasswordRequired = errors.New("分享链接需要密码")
	ErrSharePasswordInvalid  = errors.New("分享链接密码不正确")

	// 权限错误
	ErrForbidden        = errors.New("禁止访问")
	ErrPermissionDenied = errors.New("您没有操作此资源的权限")

	// 资源未找到错误
	ErrFileNotFound    = errors.New("文件不存在")
	ErrShareNotFound   = errors.New("分享链接不存在")
	ErrVersionNotFound = errors.New("文件版本不存在")

	// 资源已失效
	ErrShareExpired      = errors.New("分享链接已过期")
	ErrShareRevoked      = errors.New("分享链接已被撤销")
	ErrShareLimitReached = errors.New("分享下载次数已用尽")

	// 业务逻辑冲突
	ErrConflict = errors.New("资源冲突，重试次数已耗尽")

	// 数据库与外部服务错误
	ErrDatabaseError = errors.New("数据库操作失败")
	ErrStorageError  = errors.New("存储服务操作失败")
)
