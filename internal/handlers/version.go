package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/3Eeeecho/go-filevault/internal/config"
	"github.com/3Eeeecho/go-filevault/internal/pkg/logger"
	"github.com/3Eeeecho/go-filevault/internal/pkg/utils"
	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
	"github.com/3Eeeecho/go-filevault/internal/services/version"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type VersionHandler struct {
	versionService version.VersionService
	cfg            *config.Config
}

func NewVersionHandler(versionService version.VersionService, cfg *config.Config) *VersionHandler {
	return &VersionHandler{
		versionService: versionService,
		cfg:            cfg,
	}
}

type RestoreVersionRequest struct {
	VersionID uint64 `json:"version_id" binding:"required"`
}

type CleanupVersionsRequest struct {
	KeepCount *int `json:"keep_count"` // 不传时使用服务端默认值
}

// CreateVersion handles snapshotting the current content of a file.
// @Summary 创建版本快照
// @Description 把文件的当前内容快照为一个新版本
// @Tags 版本
// @Produce json
// @Security BearerAuth
// @Param file_id path int true "文件 ID"
// @Success 200 {object} xerr.Response "版本创建成功"
// @Failure 404 {object} xerr.Response "文件不存在"
// @Failure 409 {object} xerr.Response "版本号冲突且重试耗尽"
// @Router /api/v1/files/{file_id}/versions [post]
func (h *VersionHandler) CreateVersion(c *gin.Context) {
	fileID, err := strconv.ParseUint(c.Param("file_id"), 10, 64)
	if err != nil {
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "文件ID格式无效")
		return
	}

	userID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		return
	}

	created, err := h.versionService.CreateVersion(c.Request.Context(), fileID, userID)
	if err != nil {
		if errors.Is(err, xerr.ErrFileNotFound) {
			xerr.Error(c, http.StatusNotFound, xerr.FileNotFoundCode, err.Error())
		} else if errors.Is(err, xerr.ErrConflict) {
			xerr.Error(c, http.StatusConflict, xerr.ConflictCode, err.Error())
		} else {
			logger.Error("CreateVersion: 创建版本失败", zap.Uint64("fileID", fileID), zap.Error(err))
			xerr.Error(c, http.StatusInternalServerError, xerr.InternalServerErrorCode, "创建版本失败")
		}
		return
	}

	xerr.Success(c, http.StatusOK, "版本创建成功", gin.H{"version": created})
}

// ListVersions handles listing version history of a file.
// @Summary 列出文件版本历史
// @Description 按版本号降序列出文件的版本历史
// @Tags 版本
// @Produce json
// @Security BearerAuth
// @Param file_id path int true "文件 ID"
// @Param page query int false "页码，默认为1" default(1)
// @Param pageSize query int false "每页数量，默认为10" default(10)
// @Success 200 {object} xerr.Response "版本列表"
// @Failure 404 {object} xerr.Response "文件不存在"
// @Router /api/v1/files/{file_id}/versions [get]
func (h *VersionHandler) ListVersions(c *gin.Context) {
	fileID, err := strconv.ParseUint(c.Param("file_id"), 10, 64)
	if err != nil {
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "文件ID格式无效")
		return
	}

	if _, ok := utils.GetUserIDFromContext(c); !ok {
		return
	}

	page, pageSize := parsePagination(c)
	versions, total, err := h.versionService.ListVersions(c.Request.Context(), fileID, page, pageSize)
	if err != nil {
		logger.Error("ListVersions: 获取版本列表失败", zap.Uint64("fileID", fileID), zap.Error(err))
		xerr.Error(c, http.StatusInternalServerError, xerr.InternalServerErrorCode, "获取版本列表失败")
		return
	}

	xerr.Success(c, http.StatusOK, "获取版本列表成功", gin.H{
		"versions": versions,
		"total":    total,
	})
}

// RestoreVersion handles restoring a historical version.
// @Summary 恢复历史版本
// @Description 把指定历史版本恢复为当前内容，恢复前自动备份当前内容为新版本
// @Tags 版本
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param file_id path int true "文件 ID"
// @Param request body RestoreVersionRequest true "要恢复的版本"
// @Success 200 {object} xerr.Response "版本恢复成功"
// @Failure 404 {object} xerr.Response "文件或版本不存在"
// @Failure 409 {object} xerr.Response "版本号冲突且重试耗尽"
// @Router /api/v1/files/{file_id}/versions/restore [post]
func (h *VersionHandler) RestoreVersion(c *gin.Context) {
	fileID, err := strconv.ParseUint(c.Param("file_id"), 10, 64)
	if err != nil {
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "文件ID格式无效")
		return
	}

	var req RestoreVersionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "请求参数解析失败: "+err.Error())
		return
	}

	userID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		return
	}

	result, err := h.versionService.RestoreVersion(c.Request.Context(), req.VersionID, fileID, userID)
	if err != nil {
		if errors.Is(err, xerr.ErrFileNotFound) {
			xerr.Error(c, http.StatusNotFound, xerr.FileNotFoundCode, err.Error())
		} else if errors.Is(err, xerr.ErrVersionNotFound) {
			xerr.Error(c, http.StatusNotFound, xerr.VersionNotFoundCode, err.Error())
		} else if errors.Is(err, xerr.ErrConflict) {
			xerr.Error(c, http.StatusConflict, xerr.ConflictCode, err.Error())
		} else {
			logger.Error("RestoreVersion: 恢复版本失败", zap.Uint64("fileID", fileID), zap.Error(err))
			xerr.Error(c, http.StatusInternalServerError, xerr.InternalServerErrorCode, "恢复版本失败")
		}
		return
	}

	xerr.Success(c, http.StatusOK, "版本恢复成功", gin.H{
		"restored_version": result.RestoredVersion,
		"backup_version":   result.BackupVersion,
	})
}

// DeleteVersion handles deleting a historical version.
// @Summary 删除历史版本
// @Description 删除一条历史版本，当前版本和最后一个版本不允许删除
// @Tags 版本
// @Security BearerAuth
// @Param file_id path int true "文件 ID"
// @Param version_id path int true "版本 ID"
// @Success 204 "版本删除成功"
// @Failure 400 {object} xerr.Response "版本受保护"
// @Failure 404 {object} xerr.Response "文件或版本不存在"
// @Router /api/v1/files/{file_id}/versions/{version_id} [delete]
func (h *VersionHandler) DeleteVersion(c *gin.Context) {
	fileID, err := strconv.ParseUint(c.Param("file_id"), 10, 64)
	if err != nil {
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "文件ID格式无效")
		return
	}
	versionID, err := strconv.ParseUint(c.Param("version_id"), 10, 64)
	if err != nil {
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "版本ID格式无效")
		return
	}

	userID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		return
	}

	err = h.versionService.DeleteVersion(c.Request.Context(), versionID, fileID, userID)
	if err != nil {
		if errors.Is(err, xerr.ErrFileNotFound) {
			xerr.Error(c, http.StatusNotFound, xerr.FileNotFoundCode, err.Error())
		} else if errors.Is(err, xerr.ErrVersionNotFound) {
			xerr.Error(c, http.StatusNotFound, xerr.VersionNotFoundCode, err.Error())
		} else if errors.Is(err, xerr.ErrVersionProtected) {
			xerr.Error(c, http.StatusBadRequest, xerr.VersionProtectedCode, err.Error())
		} else {
			logger.Error("DeleteVersion: 删除版本失败", zap.Uint64("versionID", versionID), zap.Error(err))
			xerr.Error(c, http.StatusInternalServerError, xerr.InternalServerErrorCode, "删除版本失败")
		}
		return
	}

	c.Status(http.StatusNoContent)
}

// CleanupVersions handles pruning old versions of a file.
// @Summary 清理旧版本
// @Description 按保留数量清理旧版本，当前版本永远保留
// @Tags 版本
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param file_id path int true "文件 ID"
// @Param request body CleanupVersionsRequest true "保留数量"
// @Success 200 {object} xerr.Response "清理完成"
// @Failure 400 {object} xerr.Response "保留数量无效"
// @Failure 404 {object} xerr.Response "文件不存在"
// @Router /api/v1/files/{file_id}/versions/cleanup [post]
func (h *VersionHandler) CleanupVersions(c *gin.Context) {
	fileID, err := strconv.ParseUint(c.Param("file_id"), 10, 64)
	if err != nil {
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "文件ID格式无效")
		return
	}

	var req CleanupVersionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "请求参数解析失败: "+err.Error())
		return
	}

	userID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		return
	}

	keepCount := h.cfg.Version.DefaultKeepCount
	if req.KeepCount != nil {
		keepCount = *req.KeepCount
	}

	deleted, err := h.versionService.CleanupOldVersions(c.Request.Context(), fileID, userID, keepCount)
	if err != nil {
		if errors.Is(err, xerr.ErrKeepCountInvalid) {
			xerr.Error(c, http.StatusBadRequest, xerr.KeepCountInvalidCode, err.Error())
		} else if errors.Is(err, xerr.ErrFileNotFound) {
			xerr.Error(c, http.StatusNotFound, xerr.FileNotFoundCode, err.Error())
		} else {
			logger.Error("CleanupVersions: 清理旧版本失败", zap.Uint64("fileID", fileID), zap.Error(err))
			xerr.Error(c, http.StatusInternalServerError, xerr.InternalServerErrorCode, "清理旧版本失败")
		}
		return
	}

	xerr.Success(c, http.StatusOK, "旧版本清理完成", gin.H{"deleted": deleted})
}
