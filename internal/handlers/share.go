package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/3Eeeecho/go-filevault/internal/config"
	"github.com/3Eeeecho/go-filevault/internal/models"
	"github.com/3Eeeecho/go-filevault/internal/pkg/logger"
	"github.com/3Eeeecho/go-filevault/internal/pkg/utils"
	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
	"github.com/3Eeeecho/go-filevault/internal/services/files"
	"github.com/3Eeeecho/go-filevault/internal/services/share"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ShareHandler struct {
	shareService share.ShareService
	fileService  files.FileService
	cfg          *config.Config
}

func NewShareHandler(shareService share.ShareService, fileService files.FileService, cfg *config.Config) *ShareHandler {
	return &ShareHandler{
		shareService: shareService,
		fileService:  fileService,
		cfg:          cfg,
	}
}

type CreateShareRequest struct {
	FileID           uint64  `json:"file_id" binding:"required"`
	Password         *string `json:"password"`
	ExpiresInMinutes *int    `json:"expires_in_minutes"` // 以分钟为单位
	MaxDownloads     *uint32 `json:"max_downloads"`
}

type UpdateShareRequest struct {
	ExpiresInMinutes  *int    `json:"expires_in_minutes"`
	ClearExpiresAt    bool    `json:"clear_expires_at"`
	MaxDownloads      *uint32 `json:"max_downloads"`
	ClearMaxDownloads bool    `json:"clear_max_downloads"`
	IsActive          *bool   `json:"is_active"`
}

type SharePasswordRequest struct {
	Password string `json:"password" binding:"required"`
}

// shareView 是分享记录的对外视图，只暴露是否设置了密码，从不暴露哈希
type shareView struct {
	ID             uint64     `json:"id"`
	FileID         uint64     `json:"file_id"`
	ShareToken     string     `json:"share_token"`
	ExpiresAt      *time.Time `json:"expires_at"`
	MaxDownloads   *uint32    `json:"max_downloads"`
	DownloadCount  uint32     `json:"download_count"`
	HasPassword    bool       `json:"has_password"`
	IsActive       bool       `json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
	LastAccessedAt *time.Time `json:"last_accessed_at"`
}

func newShareView(s *models.FileShare) shareView {
	return shareView{
		ID:             s.ID,
		FileID:         s.FileID,
		ShareToken:     s.ShareToken,
		ExpiresAt:      s.ExpiresAt,
		MaxDownloads:   s.MaxDownloads,
		DownloadCount:  s.DownloadCount,
		HasPassword:    s.HasPassword(),
		IsActive:       s.IsActive,
		CreatedAt:      s.CreatedAt,
		LastAccessedAt: s.LastAccessedAt,
	}
}

func newShareViews(shares []models.FileShare) []shareView {
	views := make([]shareView, 0, len(shares))
	for i := range shares {
		views = append(views, newShareView(&shares[i]))
	}
	return views
}

func (h *ShareHandler) shareURL(token string) string {
	return fmt.Sprintf("%s/share/%s", h.cfg.Server.BaseURL, token)
}

// CreateShare handles creation of a new share link.
// @Summary 创建分享链接
// @Description 为指定文件创建分享链接，可设置密码、有效期和最大下载次数
// @Tags 分享
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateShareRequest true "分享链接信息"
// @Success 200 {object} xerr.Response "分享链接创建成功"
// @Failure 400 {object} xerr.Response "请求参数无效"
// @Failure 403 {object} xerr.Response "无权操作"
// @Failure 404 {object} xerr.Response "文件未找到"
// @Failure 409 {object} xerr.Response "令牌冲突且重试耗尽"
// @Router /api/v1/shares [post]
func (h *ShareHandler) CreateShare(c *gin.Context) {
	var req CreateShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "请求参数解析失败: "+err.Error())
		return
	}

	userID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		return
	}

	opts := share.CreateShareOptions{
		Password:     req.Password,
		MaxDownloads: req.MaxDownloads,
	}
	if req.ExpiresInMinutes != nil {
		expiresAt := time.Now().Add(time.Duration(*req.ExpiresInMinutes) * time.Minute)
		opts.ExpiresAt = &expiresAt
	}

	created, err := h.shareService.CreateShare(c.Request.Context(), req.FileID, userID, opts)
	if err != nil {
		if errors.Is(err, xerr.ErrFileNotFound) {
			xerr.Error(c, http.StatusNotFound, xerr.FileNotFoundCode, err.Error())
		} else if errors.Is(err, xerr.ErrPermissionDenied) {
			xerr.Error(c, http.StatusForbidden, xerr.PermissionDeniedCode, err.Error())
		} else if errors.Is(err, xerr.ErrValidationFailed) {
			xerr.Error(c, http.StatusBadRequest, xerr.ValidationFailedCode, err.Error())
		} else if errors.Is(err, xerr.ErrConflict) {
			xerr.Error(c, http.StatusConflict, xerr.ConflictCode, err.Error())
		} else {
			logger.Error("CreateShare: 创建分享链接失败", zap.Error(err))
			xerr.Error(c, http.StatusInternalServerError, xerr.InternalServerErrorCode, "创建分享链接失败")
		}
		return
	}

	xerr.Success(c, http.StatusOK, "分享链接创建成功", gin.H{
		"share":     newShareView(created),
		"share_url": h.shareURL(created.ShareToken),
	})
}

// GetShareDetails handles retrieving details of a share link.
// @Summary 获取分享链接详情
// @Description 根据分享令牌获取分享详情，用于展示给下载者，不触碰下载计数
// @Tags 分享
// @Produce json
// @Param token path string true "分享令牌"
// @Param password query string false "分享密码（如果需要）"
// @Success 200 {object} xerr.Response "分享链接详情"
// @Failure 401 {object} xerr.Response "需要密码或密码不正确"
// @Failure 404 {object} xerr.Response "分享链接不存在"
// @Failure 410 {object} xerr.Response "分享链接已失效"
// @Router /share/{token}/details [get]
func (h *ShareHandler) GetShareDetails(c *gin.Context) {
	token := c.Param("token")
	var password *string
	if p := c.Query("password"); p != "" {
		password = &p
	}

	access, err := h.shareService.ValidateShare(c.Request.Context(), token, password)
	if err != nil {
		h.respondValidateError(c, token, err)
		return
	}

	file, err := h.fileService.GetSharedFile(c.Request.Context(), access.FileID)
	if err != nil {
		if errors.Is(err, xerr.ErrFileNotFound) {
			xerr.Error(c, http.StatusNotFound, xerr.FileNotFoundCode, err.Error())
		} else {
			logger.Error("GetShareDetails: 查询分享文件失败", zap.String("token", token), zap.Error(err))
			xerr.Error(c, http.StatusInternalServerError, xerr.InternalServerErrorCode, "获取分享详情失败")
		}
		return
	}

	xerr.Success(c, http.StatusOK, "获取分享详情成功", gin.H{
		"share": newShareView(access.Share),
		"file": gin.H{
			"file_name": file.FileName,
			"size":      file.Size,
			"mime_type": file.MimeType,
		},
	})
}

// VerifySharePassword handles password verification for a share link.
// @Summary 验证分享链接密码
// @Description 验证分享链接的访问密码
// @Tags 分享
// @Accept json
// @Produce json
// @Param token path string true "分享令牌"
// @Param request body SharePasswordRequest true "密码"
// @Success 200 {object} xerr.Response "密码验证成功"
// @Failure 401 {object} xerr.Response "密码不正确"
// @Failure 404 {object} xerr.Response "分享链接不存在"
// @Failure 410 {object} xerr.Response "分享链接已失效"
// @Router /share/{token}/verify [post]
func (h *ShareHandler) VerifySharePassword(c *gin.Context) {
	token := c.Param("token")

	var req SharePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "请求参数解析失败: "+err.Error())
		return
	}

	_, err := h.shareService.ValidateShare(c.Request.Context(), token, &req.Password)
	if err != nil {
		h.respondValidateError(c, token, err)
		return
	}
	xerr.Success(c, http.StatusOK, "密码验证成功", nil)
}

// DownloadSharedFile handles downloading the content of a shared file.
// @Summary 下载分享文件
// @Description 校验分享后重定向到预签名下载地址，成功后记录一次下载
// @Tags 分享
// @Param token path string true "分享令牌"
// @Param password query string false "分享密码（如果需要）"
// @Success 302 "重定向到下载地址"
// @Failure 401 {object} xerr.Response "需要密码或密码不正确"
// @Failure 404 {object} xerr.Response "分享链接不存在"
// @Failure 410 {object} xerr.Response "分享链接已失效或下载次数已用尽"
// @Router /share/{token}/download [get]
func (h *ShareHandler) DownloadSharedFile(c *gin.Context) {
	token := c.Param("token")
	var password *string
	if p := c.Query("password"); p != "" {
		password = &p
	}

	access, err := h.shareService.ValidateShare(c.Request.Context(), token, password)
	if err != nil {
		h.respondValidateError(c, token, err)
		return
	}

	file, err := h.fileService.GetSharedFile(c.Request.Context(), access.FileID)
	if err != nil {
		if errors.Is(err, xerr.ErrFileNotFound) {
			xerr.Error(c, http.StatusNotFound, xerr.FileNotFoundCode, err.Error())
		} else {
			logger.Error("DownloadSharedFile: 查询分享文件失败", zap.String("token", token), zap.Error(err))
			xerr.Error(c, http.StatusInternalServerError, xerr.InternalServerErrorCode, "下载分享文件失败")
		}
		return
	}

	// 先抢配额再发地址，抢不到的请求不会拿到下载地址
	if err := h.shareService.RecordDownload(c.Request.Context(), token); err != nil {
		if errors.Is(err, xerr.ErrShareLimitReached) {
			xerr.Error(c, http.StatusGone, xerr.ShareLimitReachedCode, err.Error())
		} else if errors.Is(err, xerr.ErrShareRevoked) {
			xerr.Error(c, http.StatusGone, xerr.ShareRevokedCode, err.Error())
		} else if errors.Is(err, xerr.ErrShareNotFound) {
			xerr.Error(c, http.StatusNotFound, xerr.ShareNotFoundCode, err.Error())
		} else {
			logger.Error("DownloadSharedFile: 记录下载失败", zap.String("token", token), zap.Error(err))
			xerr.Error(c, http.StatusInternalServerError, xerr.InternalServerErrorCode, "下载分享文件失败")
		}
		return
	}

	presignedURL, err := h.fileService.PresignDownloadURL(c.Request.Context(), file)
	if err != nil {
		logger.Error("DownloadSharedFile: 生成预签名地址失败", zap.String("token", token), zap.Error(err))
		xerr.Error(c, http.StatusInternalServerError, xerr.StorageErrorCode, "获取文件下载链接失败")
		return
	}

	c.Redirect(http.StatusFound, presignedURL)
}

// respondValidateError 把 ValidateShare 的错误映射到 HTTP 状态码
func (h *ShareHandler) respondValidateError(c *gin.Context, token string, err error) {
	if errors.Is(err, xerr.ErrShareNotFound) {
		xerr.Error(c, http.StatusNotFound, xerr.ShareNotFoundCode, err.Error())
	} else if errors.Is(err, xerr.ErrShareRevoked) {
		xerr.Error(c, http.StatusGone, xerr.ShareRevokedCode, err.Error())
	} else if errors.Is(err, xerr.ErrShareExpired) {
		xerr.Error(c, http.StatusGone, xerr.ShareExpiredCode, err.Error())
	} else if errors.Is(err, xerr.ErrShareLimitReached) {
		xerr.Error(c, http.StatusGone, xerr.ShareLimitReachedCode, err.Error())
	} else if errors.Is(err, xerr.ErrSharePasswordRequired) {
		xerr.Error(c, http.StatusUnauthorized, xerr.SharePasswordRequiredCode, err.Error())
	} else if errors.Is(err, xerr.ErrSharePasswordInvalid) {
		xerr.Error(c, http.StatusUnauthorized, xerr.SharePasswordInvalidCode, err.Error())
	} else {
		logger.Error("ValidateShare: 校验分享链接失败", zap.String("token", token), zap.Error(err))
		xerr.Error(c, http.StatusInternalServerError, xerr.InternalServerErrorCode, "校验分享链接失败")
	}
}

// ListFileShares handles listing share links of a file.
// @Summary 列出文件的分享链接
// @Description 列出指定文件的所有分享链接
// @Tags 分享
// @Produce json
// @Security BearerAuth
// @Param file_id path int true "文件 ID"
// @Param page query int false "页码，默认为1" default(1)
// @Param pageSize query int false "每页数量，默认为10" default(10)
// @Success 200 {object} xerr.Response "分享链接列表"
// @Failure 404 {object} xerr.Response "文件不存在"
// @Router /api/v1/files/{file_id}/shares [get]
func (h *ShareHandler) ListFileShares(c *gin.Context) {
	fileID, err := strconv.ParseUint(c.Param("file_id"), 10, 64)
	if err != nil {
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "文件ID格式无效")
		return
	}

	userID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		return
	}

	// 先确认文件归属，避免枚举他人文件的分享
	if _, err := h.fileService.GetFile(c.Request.Context(), fileID, userID); err != nil {
		if errors.Is(err, xerr.ErrFileNotFound) {
			xerr.Error(c, http.StatusNotFound, xerr.FileNotFoundCode, err.Error())
		} else {
			logger.Error("ListFileShares: 查询文件失败", zap.Uint64("fileID", fileID), zap.Error(err))
			xerr.Error(c, http.StatusInternalServerError, xerr.InternalServerErrorCode, "获取分享列表失败")
		}
		return
	}

	page, pageSize := parsePagination(c)
	shares, total, err := h.shareService.ListSharesForFile(c.Request.Context(), fileID, page, pageSize)
	if err != nil {
		logger.Error("ListFileShares: 获取分享列表失败", zap.Uint64("fileID", fileID), zap.Error(err))
		xerr.Error(c, http.StatusInternalServerError, xerr.InternalServerErrorCode, "获取分享列表失败")
		return
	}

	xerr.Success(c, http.StatusOK, "获取分享列表成功", gin.H{
		"shares": newShareViews(shares),
		"total":  total,
	})
}

// ListUserShares handles listing all share links created by the authenticated user.
// @Summary 列出用户创建的分享链接
// @Description 列出当前用户创建的分享链接，默认只含激活状态的
// @Tags 分享
// @Produce json
// @Security BearerAuth
// @Param include_inactive query bool false "是否包含已失效的分享" default(false)
// @Param page query int false "页码，默认为1" default(1)
// @Param pageSize query int false "每页数量，默认为10" default(10)
// @Success 200 {object} xerr.Response "分享链接列表"
// @Router /api/v1/shares/my [get]
func (h *ShareHandler) ListUserShares(c *gin.Context) {
	userID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		return
	}

	includeInactive := c.Query("include_inactive") == "true"
	page, pageSize := parsePagination(c)

	shares, total, err := h.shareService.ListSharesByUser(c.Request.Context(), userID, includeInactive, page, pageSize)
	if err != nil {
		logger.Error("ListUserShares: 获取用户分享列表失败", zap.Uint64("userID", userID), zap.Error(err))
		xerr.Error(c, http.StatusInternalServerError, xerr.InternalServerErrorCode, "获取分享列表失败")
		return
	}

	xerr.Success(c, http.StatusOK, "获取分享列表成功", gin.H{
		"shares": newShareViews(shares),
		"total":  total,
	})
}

// UpdateShare handles partial update of a share link.
// @Summary 更新分享链接
// @Description 部分更新分享的有效期、下载上限或激活状态，仅限所有者
// @Tags 分享
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param share_id path int true "分享链接 ID"
// @Param request body UpdateShareRequest true "更新内容"
// @Success 200 {object} xerr.Response "更新成功"
// @Failure 400 {object} xerr.Response "请求参数无效"
// @Failure 404 {object} xerr.Response "分享链接不存在"
// @Router /api/v1/shares/{share_id} [patch]
func (h *ShareHandler) UpdateShare(c *gin.Context) {
	shareID, err := strconv.ParseUint(c.Param("share_id"), 10, 64)
	if err != nil {
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "分享ID格式无效")
		return
	}

	var req UpdateShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "请求参数解析失败: "+err.Error())
		return
	}

	userID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		return
	}

	params := share.UpdateShareParams{
		ClearExpiresAt:    req.ClearExpiresAt,
		MaxDownloads:      req.MaxDownloads,
		ClearMaxDownloads: req.ClearMaxDownloads,
		IsActive:          req.IsActive,
	}
	if req.ExpiresInMinutes != nil {
		expiresAt := time.Now().Add(time.Duration(*req.ExpiresInMinutes) * time.Minute)
		params.ExpiresAt = &expiresAt
	}

	updated, err := h.shareService.UpdateShare(c.Request.Context(), shareID, userID, params)
	if err != nil {
		if errors.Is(err, xerr.ErrValidationFailed) {
			xerr.Error(c, http.StatusBadRequest, xerr.ValidationFailedCode, err.Error())
		} else {
			logger.Error("UpdateShare: 更新分享链接失败", zap.Uint64("shareID", shareID), zap.Error(err))
			xerr.Error(c, http.StatusInternalServerError, xerr.InternalServerErrorCode, "更新分享链接失败")
		}
		return
	}
	if updated == nil {
		xerr.Error(c, http.StatusNotFound, xerr.ShareNotFoundCode, xerr.ErrShareNotFound.Error())
		return
	}

	xerr.Success(c, http.StatusOK, "分享链接更新成功", gin.H{"share": newShareView(updated)})
}

// RevokeShare handles revoking a share link.
// @Summary 撤销分享链接
// @Description 把分享置为失效但保留记录，仅限所有者
// @Tags 分享
// @Security BearerAuth
// @Param share_id path int true "分享链接 ID"
// @Success 204 "分享链接撤销成功"
// @Failure 404 {object} xerr.Response "分享链接不存在"
// @Router /api/v1/shares/{share_id}/revoke [post]
func (h *ShareHandler) RevokeShare(c *gin.Context) {
	shareID, err := strconv.ParseUint(c.Param("share_id"), 10, 64)
	if err != nil {
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "分享ID格式无效")
		return
	}

	userID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		return
	}

	revoked, err := h.shareService.RevokeShare(c.Request.Context(), shareID, userID)
	if err != nil {
		logger.Error("RevokeShare: 撤销分享链接失败", zap.Uint64("shareID", shareID), zap.Error(err))
		xerr.Error(c, http.StatusInternalServerError, xerr.InternalServerErrorCode, "撤销分享链接失败")
		return
	}
	if !revoked {
		xerr.Error(c, http.StatusNotFound, xerr.ShareNotFoundCode, xerr.ErrShareNotFound.Error())
		return
	}

	c.Status(http.StatusNoContent)
}

// DeleteShare handles hard deletion of a share link.
// @Summary 删除分享链接
// @Description 物理删除分享记录，仅限所有者
// @Tags 分享
// @Security BearerAuth
// @Param share_id path int true "分享链接 ID"
// @Success 204 "分享链接删除成功"
// @Failure 404 {object} xerr.Response "分享链接不存在"
// @Router /api/v1/shares/{share_id} [delete]
func (h *ShareHandler) DeleteShare(c *gin.Context) {
	shareID, err := strconv.ParseUint(c.Param("share_id"), 10, 64)
	if err != nil {
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "分享ID格式无效")
		return
	}

	userID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		return
	}

	deleted, err := h.shareService.DeleteShare(c.Request.Context(), shareID, userID)
	if err != nil {
		logger.Error("DeleteShare: 删除分享链接失败", zap.Uint64("shareID", shareID), zap.Error(err))
		xerr.Error(c, http.StatusInternalServerError, xerr.InternalServerErrorCode, "删除分享链接失败")
		return
	}
	if !deleted {
		xerr.Error(c, http.StatusNotFound, xerr.ShareNotFoundCode, xerr.ErrShareNotFound.Error())
		return
	}

	c.Status(http.StatusNoContent)
}

// parsePagination 解析分页参数，非法值回退到默认值
func parsePagination(c *gin.Context) (int, int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("pageSize", "10"))
	if err != nil || pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}
	return page, pageSize
}
