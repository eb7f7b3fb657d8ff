package xerr

// 定义了统一的业务错误码
const (
	SuccessCode = 20000 // 通用成功码

	// --- 客户端请求错误系列 (400xx) ---
	InvalidParamsCode    = 40000 // 无效的请求参数
	ValidationFailedCode = 40001 // 参数验证失败
	KeepCountInvalidCode = 40002 // 保留版本数必须大于等于1
	VersionProtectedCode = 40003 // 版本受保护（当前版本或最后一个版本），禁止删除

	// --- 认证与授权错误系列 (401xx) ---
	UnauthorizedCode          = 40100 // 通用未授权
	TokenInvalidCode          = 40101 // Token 无效或过期
	SharePasswordRequiredCode = 40102 // 分享需要密码
	SharePasswordInvalidCode  = 40103 // 分享密码不正确

	// --- 权限错误系列 (403xx) ---
	ForbiddenCode        = 40300 // 通用无权限
	PermissionDeniedCode = 40301 // 权限不足

	// --- 资源未找到错误系列 (404xx) ---
	NotFoundCode        = 40400 // 通用资源未找到
	FileNotFoundCode    = 40401 // 文件不存在
	ShareNotFoundCode   = 40402 // 分享链接不存在
	VersionNotFoundCode = 40403 // 文件版本不存在

	// --- 业务逻辑冲突系列 (409xx) ---
	ConflictCode = 40900 // 令牌/版本号冲突且重试耗尽

	// --- 资源已失效系列 (410xx) ---
	ShareExpiredCode      = 41000 // 分享链接已过期
	ShareRevokedCode      = 41001 // 分享链接已被撤销
	ShareLimitReachedCode = 41002 // 分享下载次数已用尽

	// --- 服务器内部错误系列 (500xx) ---
	InternalServerErrorCode = 50000 // 服务器内部通用错误
	DatabaseErrorCode       = 50001 // 数据库操作失败
	StorageErrorCode        = 50002 // 存储服务操作失败（如MinIO）
)
