package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/3Eeeecho/go-filevault/internal/config"
	"github.com/3Eeeecho/go-filevault/internal/pkg/logger"
	"github.com/3Eeeecho/go-filevault/internal/pkg/utils"
	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
	"github.com/3Eeeecho/go-filevault/internal/services/files"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type FileHandler struct {
	fileService files.FileService
	cfg         *config.Config
}

func NewFileHandler(fileService files.FileService, cfg *config.Config) *FileHandler {
	return &FileHandler{
		fileService: fileService,
		cfg:         cfg,
	}
}

// UploadFile handles uploading a new file.
// @Summary 上传文件
// @Description 上传新文件，同时登记版本 1
// @Tags 文件
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file formData file true "文件内容"
// @Success 200 {object} xerr.Response "上传成功"
// @Failure 400 {object} xerr.Response "请求参数无效"
// @Router /api/v1/files [post]
func (h *FileHandler) UploadFile(c *gin.Context) {
	userID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "缺少文件内容: "+err.Error())
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		logger.Error("UploadFile: 打开上传文件失败", zap.Error(err))
		xerr.Error(c, http.StatusInternalServerError, xerr.InternalServerErrorCode, "读取上传文件失败")
		return
	}
	defer src.Close()

	contentType := fileHeader.Header.Get("Content-Type")
	file, err := h.fileService.Upload(c.Request.Context(), userID, fileHeader.Filename, src, fileHeader.Size, contentType)
	if err != nil {
		if errors.Is(err, xerr.ErrValidationFailed) {
			xerr.Error(c, http.StatusBadRequest, xerr.ValidationFailedCode, err.Error())
		} else if errors.Is(err, xerr.ErrStorageError) {
			xerr.Error(c, http.StatusInternalServerError, xerr.StorageErrorCode, err.Error())
		} else {
			logger.Error("UploadFile: 上传文件失败", zap.Uint64("userID", userID), zap.Error(err))
			xerr.Error(c, http.StatusInternalServerError, xerr.InternalServerErrorCode, "上传文件失败")
		}
		return
	}

	xerr.Success(c, http.StatusOK, "文件上传成功", gin.H{"file": file})
}

// UpdateFileContent handles replacing the content of an existing file.
// @Summary 更新文件内容
// @Description 用新内容覆盖文件，新内容同时落为一条新版本
// @Tags 文件
// @Accept multipart/form-data
// @Produce json
// @Security BearerAuth
// @Param file_id path int true "文件 ID"
// @Param file formData file true "新的文件内容"
// @Success 200 {object} xerr.Response "更新成功"
// @Failure 404 {object} xerr.Response "文件不存在"
// @Router /api/v1/files/{file_id}/content [put]
func (h *FileHandler) UpdateFileContent(c *gin.Context) {
	fileID, err := strconv.ParseUint(c.Param("file_id"), 10, 64)
	if err != nil {
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "文件ID格式无效")
		return
	}

	userID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "缺少文件内容: "+err.Error())
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		logger.Error("UpdateFileContent: 打开上传文件失败", zap.Error(err))
		xerr.Error(c, http.StatusInternalServerError, xerr.InternalServerErrorCode, "读取上传文件失败")
		return
	}
	defer src.Close()

	contentType := fileHeader.Header.Get("Content-Type")
	file, err := h.fileService.UpdateContent(c.Request.Context(), fileID, userID, src, fileHeader.Size, contentType)
	if err != nil {
		if errors.Is(err, xerr.ErrFileNotFound) {
			xerr.Error(c, http.StatusNotFound, xerr.FileNotFoundCode, err.Error())
		} else if errors.Is(err, xerr.ErrValidationFailed) {
			xerr.Error(c, http.StatusBadRequest, xerr.ValidationFailedCode, err.Error())
		} else if errors.Is(err, xerr.ErrConflict) {
			xerr.Error(c, http.StatusConflict, xerr.ConflictCode, err.Error())
		} else if errors.Is(err, xerr.ErrStorageError) {
			xerr.Error(c, http.StatusInternalServerError, xerr.StorageErrorCode, err.Error())
		} else {
			logger.Error("UpdateFileContent: 更新文件内容失败", zap.Uint64("fileID", fileID), zap.Error(err))
			xerr.Error(c, http.StatusInternalServerError, xerr.InternalServerErrorCode, "更新文件内容失败")
		}
		return
	}

	xerr.Success(c, http.StatusOK, "文件内容更新成功", gin.H{"file": file})
}

// GetFile handles retrieving file metadata.
// @Summary 获取文件信息
// @Description 获取文件的元信息，仅限所有者
// @Tags 文件
// @Produce json
// @Security BearerAuth
// @Param file_id path int true "文件 ID"
// @Success 200 {object} xerr.Response "文件信息"
// @Failure 404 {object} xerr.Response "文件不存在"
// @Router /api/v1/files/{file_id} [get]
func (h *FileHandler) GetFile(c *gin.Context) {
	fileID, err := strconv.ParseUint(c.Param("file_id"), 10, 64)
	if err != nil {
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "文件ID格式无效")
		return
	}

	userID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		return
	}

	file, err := h.fileService.GetFile(c.Request.Context(), fileID, userID)
	if err != nil {
		if errors.Is(err, xerr.ErrFileNotFound) {
			xerr.Error(c, http.StatusNotFound, xerr.FileNotFoundCode, err.Error())
		} else {
			logger.Error("GetFile: 查询文件失败", zap.Uint64("fileID", fileID), zap.Error(err))
			xerr.Error(c, http.StatusInternalServerError, xerr.InternalServerErrorCode, "查询文件失败")
		}
		return
	}

	xerr.Success(c, http.StatusOK, "获取文件信息成功", gin.H{"file": file})
}

// ListFiles handles listing files of the authenticated user.
// @Summary 列出文件
// @Description 列出当前用户的文件（分页）
// @Tags 文件
// @Produce json
// @Security BearerAuth
// @Param page query int false "页码，默认为1" default(1)
// @Param pageSize query int false "每页数量，默认为10" default(10)
// @Success 200 {object} xerr.Response "文件列表"
// @Router /api/v1/files [get]
func (h *FileHandler) ListFiles(c *gin.Context) {
	userID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		return
	}

	page, pageSize := parsePagination(c)
	fileList, total, err := h.fileService.ListFiles(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		logger.Error("ListFiles: 查询文件列表失败", zap.Uint64("userID", userID), zap.Error(err))
		xerr.Error(c, http.StatusInternalServerError, xerr.InternalServerErrorCode, "查询文件列表失败")
		return
	}

	xerr.Success(c, http.StatusOK, "获取文件列表成功", gin.H{
		"files": fileList,
		"total": total,
	})
}

// DownloadFile handles streaming the content of a file to its owner.
// @Summary 下载文件
// @Description 流式下载文件的当前内容，仅限所有者
// @Tags 文件
// @Produce octet-stream
// @Security BearerAuth
// @Param file_id path int true "文件 ID"
// @Success 200 {file} file "文件下载成功"
// @Failure 404 {object} xerr.Response "文件不存在"
// @Router /api/v1/files/{file_id}/download [get]
func (h *FileHandler) DownloadFile(c *gin.Context) {
	fileID, err := strconv.ParseUint(c.Param("file_id"), 10, 64)
	if err != nil {
		xerr.Error(c, http.StatusBadRequest, xerr.InvalidParamsCode, "文件ID格式无效")
		return
	}

	userID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		return
	}

	file, err := h.fileService.GetFile(c.Request.Context(), fileID, userID)
	if err != nil {
		if errors.Is(err, xerr.ErrFileNotFound) {
			xerr.Error(c, http.StatusNotFound, xerr.FileNotFoundCode, err.Error())
		} else {
			logger.Error("DownloadFile: 查询文件失败", zap.Uint64("fileID", fileID), zap.Error(err))
			xerr.Error(c, http.StatusInternalServerError, xerr.InternalServerErrorCode, "下载文件失败")
		}
		return
	}

	object, err := h.fileService.Download(c.Request.Context(), file)
	if err != nil {
		logger.Error("DownloadFile: 读取文件内容失败", zap.Uint64("fileID", fileID), zap.Error(err))
		xerr.Error(c, http.StatusInternalServerError, xerr.StorageErrorCode, "下载文件失败")
		return
	}
	defer object.Reader.Close()

	encodedFileName := url.PathEscape(file.FileName)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`, encodedFileName, encodedFileName))

	contentType := object.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, object.Size, contentType, object.Reader, nil)
}
