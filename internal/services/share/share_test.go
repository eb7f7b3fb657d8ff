package share

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/3Eeeecho/go-filevault/internal/models"
	"github.com/3Eeeecho/go-filevault/internal/pkg/xerr"
	"github.com/3Eeeecho/go-filevault/internal/repositories"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("打开测试数据库失败: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("获取底层连接失败: %v", err)
	}
	// 内存库绑定单连接，避免每个连接各见一个空库
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&models.File{}, &models.FileShare{}, &models.FileVersion{}); err != nil {
		t.Fatalf("迁移表结构失败: %v", err)
	}
	return db
}

func newTestService(t *testing.T) (ShareService, *gorm.DB) {
	t.Helper()
	db := setupTestDB(t)
	shareRepo := repositories.NewDBShareRepository(db)
	fileRepo := repositories.NewFileRepository(db)
	return NewShareService(shareRepo, fileRepo), db
}

func createTestFile(t *testing.T, db *gorm.DB, userID uint64) *models.File {
	t.Helper()
	file := &models.File{
		UUID:        fmt.Sprintf("uuid-%d-%d", userID, time.Now().UnixNano()),
		UserID:      userID,
		FileName:    "report.pdf",
		StoragePath: fmt.Sprintf("files/%d/report.pdf", userID),
		Size:        1024,
		Status:      models.StatusNormal,
	}
	if err := db.Create(file).Error; err != nil {
		t.Fatalf("创建测试文件失败: %v", err)
	}
	return file
}

func TestCreateShareAndValidate(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	file := createTestFile(t, db, 1)

	created, err := svc.CreateShare(ctx, file.ID, 1, CreateShareOptions{})
	if err != nil {
		t.Fatalf("创建分享失败: %v", err)
	}
	if len(created.ShareToken) != 43 {
		t.Errorf("令牌长度 = %d, 期望 43", len(created.ShareToken))
	}
	if !created.IsActive {
		t.Error("新建分享应处于激活状态")
	}

	access, err := svc.ValidateShare(ctx, created.ShareToken, nil)
	if err != nil {
		t.Fatalf("校验分享失败: %v", err)
	}
	if !access.Valid || access.FileID != file.ID {
		t.Errorf("校验结果 = %+v, 期望 Valid 且指向文件 %d", access, file.ID)
	}

	if _, err := svc.ValidateShare(ctx, "no-such-token", nil); !errors.Is(err, xerr.ErrShareNotFound) {
		t.Errorf("未知令牌错误 = %v, 期望 ErrShareNotFound", err)
	}
}

func TestCreateShareValidation(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	file := createTestFile(t, db, 1)

	zero := uint32(0)
	if _, err := svc.CreateShare(ctx, file.ID, 1, CreateShareOptions{MaxDownloads: &zero}); !errors.Is(err, xerr.ErrValidationFailed) {
		t.Errorf("零下载上限错误 = %v, 期望 ErrValidationFailed", err)
	}

	past := time.Now().Add(-time.Hour)
	if _, err := svc.CreateShare(ctx, file.ID, 1, CreateShareOptions{ExpiresAt: &past}); !errors.Is(err, xerr.ErrValidationFailed) {
		t.Errorf("过去的过期时间错误 = %v, 期望 ErrValidationFailed", err)
	}

	// 为他人的文件创建分享
	if _, err := svc.CreateShare(ctx, file.ID, 2, CreateShareOptions{}); !errors.Is(err, xerr.ErrPermissionDenied) {
		t.Errorf("越权创建错误 = %v, 期望 ErrPermissionDenied", err)
	}

	if _, err := svc.CreateShare(ctx, 9999, 1, CreateShareOptions{}); !errors.Is(err, xerr.ErrFileNotFound) {
		t.Errorf("不存在文件错误 = %v, 期望 ErrFileNotFound", err)
	}
}

func TestSharePasswordFlow(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	file := createTestFile(t, db, 1)

	password := "s3cret"
	created, err := svc.CreateShare(ctx, file.ID, 1, CreateShareOptions{Password: &password})
	if err != nil {
		t.Fatalf("创建带密码分享失败: %v", err)
	}
	if !created.HasPassword() {
		t.Fatal("分享应带有密码")
	}
	if created.PasswordHash != nil && *created.PasswordHash == password {
		t.Error("密码不应明文存储")
	}

	access, err := svc.ValidateShare(ctx, created.ShareToken, nil)
	if !errors.Is(err, xerr.ErrSharePasswordRequired) {
		t.Errorf("缺密码错误 = %v, 期望 ErrSharePasswordRequired", err)
	}
	if !access.RequiresPassword {
		t.Error("缺密码时 RequiresPassword 应为 true")
	}

	wrong := "wrong"
	if _, err := svc.ValidateShare(ctx, created.ShareToken, &wrong); !errors.Is(err, xerr.ErrSharePasswordInvalid) {
		t.Errorf("错密码错误 = %v, 期望 ErrSharePasswordInvalid", err)
	}

	access, err = svc.ValidateShare(ctx, created.ShareToken, &password)
	if err != nil || !access.Valid {
		t.Errorf("正确密码校验 = (%+v, %v), 期望通过", access, err)
	}
}

func TestShareExpiryAndCleanup(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	file := createTestFile(t, db, 1)

	created, err := svc.CreateShare(ctx, file.ID, 1, CreateShareOptions{})
	if err != nil {
		t.Fatalf("创建分享失败: %v", err)
	}

	// 把过期时间改到过去，模拟分享随时间过期
	past := time.Now().Add(-time.Minute)
	if err := db.Model(&models.FileShare{}).Where("id = ?", created.ID).Update("expires_at", past).Error; err != nil {
		t.Fatalf("更新过期时间失败: %v", err)
	}

	if _, err := svc.ValidateShare(ctx, created.ShareToken, nil); !errors.Is(err, xerr.ErrShareExpired) {
		t.Errorf("过期分享错误 = %v, 期望 ErrShareExpired", err)
	}

	// 校验是只读的，is_active 不应被翻转
	var check models.FileShare
	if err := db.First(&check, created.ID).Error; err != nil {
		t.Fatalf("查询分享失败: %v", err)
	}
	if !check.IsActive {
		t.Error("校验不应修改 is_active")
	}

	count, err := svc.CleanupExpiredShares(ctx)
	if err != nil {
		t.Fatalf("清扫过期分享失败: %v", err)
	}
	if count != 1 {
		t.Errorf("清扫条数 = %d, 期望 1", count)
	}

	// 清扫只翻转状态，不删除行
	if err := db.First(&check, created.ID).Error; err != nil {
		t.Fatalf("清扫后行应仍然存在: %v", err)
	}
	if check.IsActive {
		t.Error("清扫后 is_active 应为 false")
	}

	// 清扫是幂等的
	count, err = svc.CleanupExpiredShares(ctx)
	if err != nil || count != 0 {
		t.Errorf("第二次清扫 = (%d, %v), 期望 (0, nil)", count, err)
	}
}

func TestRecordDownloadQuota(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	file := createTestFile(t, db, 1)

	limit := uint32(2)
	created, err := svc.CreateShare(ctx, file.ID, 1, CreateShareOptions{MaxDownloads: &limit})
	if err != nil {
		t.Fatalf("创建分享失败: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := svc.RecordDownload(ctx, created.ShareToken); err != nil {
			t.Fatalf("第 %d 次下载记账失败: %v", i+1, err)
		}
	}
	if err := svc.RecordDownload(ctx, created.ShareToken); !errors.Is(err, xerr.ErrShareLimitReached) {
		t.Errorf("超额下载错误 = %v, 期望 ErrShareLimitReached", err)
	}

	var check models.FileShare
	if err := db.First(&check, created.ID).Error; err != nil {
		t.Fatalf("查询分享失败: %v", err)
	}
	if check.DownloadCount != 2 {
		t.Errorf("下载计数 = %d, 期望恰好 2", check.DownloadCount)
	}
	if check.LastAccessedAt == nil {
		t.Error("成功下载后应记录最后访问时间")
	}

	// 配额用尽后校验也应拒绝
	if _, err := svc.ValidateShare(ctx, created.ShareToken, nil); !errors.Is(err, xerr.ErrShareLimitReached) {
		t.Errorf("配额用尽校验错误 = %v, 期望 ErrShareLimitReached", err)
	}
}

func TestRecordDownloadConcurrentQuota(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	file := createTestFile(t, db, 1)

	limit := uint32(3)
	created, err := svc.CreateShare(ctx, file.ID, 1, CreateShareOptions{MaxDownloads: &limit})
	if err != nil {
		t.Fatalf("创建分享失败: %v", err)
	}

	// 超过配额的请求同时记账，配额判断在同一条 UPDATE 里完成，
	// 放行的必须恰好是配额数
	const workers = 8
	results := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- svc.RecordDownload(ctx, created.ShareToken)
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, limited int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, xerr.ErrShareLimitReached):
			limited++
		default:
			t.Errorf("并发记账意外错误: %v", err)
		}
	}
	if succeeded != 3 || limited != 5 {
		t.Errorf("并发记账结果 = (成功 %d, 超额 %d), 期望 (3, 5)", succeeded, limited)
	}

	var check models.FileShare
	if err := db.First(&check, created.ID).Error; err != nil {
		t.Fatalf("查询分享失败: %v", err)
	}
	if check.DownloadCount != 3 {
		t.Errorf("下载计数 = %d, 期望恰好等于配额 3", check.DownloadCount)
	}
}

func TestRecordDownloadUnlimited(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	file := createTestFile(t, db, 1)

	created, err := svc.CreateShare(ctx, file.ID, 1, CreateShareOptions{})
	if err != nil {
		t.Fatalf("创建分享失败: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := svc.RecordDownload(ctx, created.ShareToken); err != nil {
			t.Fatalf("无上限分享第 %d 次记账失败: %v", i+1, err)
		}
	}
}

func TestRevokeShare(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	file := createTestFile(t, db, 1)

	created, err := svc.CreateShare(ctx, file.ID, 1, CreateShareOptions{})
	if err != nil {
		t.Fatalf("创建分享失败: %v", err)
	}

	// 非所有者撤销不生效，也不报错
	ok, err := svc.RevokeShare(ctx, created.ID, 2)
	if err != nil || ok {
		t.Errorf("越权撤销 = (%v, %v), 期望 (false, nil)", ok, err)
	}

	ok, err = svc.RevokeShare(ctx, created.ID, 1)
	if err != nil || !ok {
		t.Fatalf("所有者撤销 = (%v, %v), 期望 (true, nil)", ok, err)
	}

	if _, err := svc.ValidateShare(ctx, created.ShareToken, nil); !errors.Is(err, xerr.ErrShareRevoked) {
		t.Errorf("撤销后校验错误 = %v, 期望 ErrShareRevoked", err)
	}

	// 撤销后记账也应失败
	if err := svc.RecordDownload(ctx, created.ShareToken); !errors.Is(err, xerr.ErrShareRevoked) {
		t.Errorf("撤销后记账错误 = %v, 期望 ErrShareRevoked", err)
	}
}

func TestUpdateShare(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	file := createTestFile(t, db, 1)

	created, err := svc.CreateShare(ctx, file.ID, 1, CreateShareOptions{})
	if err != nil {
		t.Fatalf("创建分享失败: %v", err)
	}

	// 空补丁不触发写入
	updated, err := svc.UpdateShare(ctx, created.ID, 1, UpdateShareParams{})
	if err != nil || updated != nil {
		t.Errorf("空补丁 = (%v, %v), 期望 (nil, nil)", updated, err)
	}

	limit := uint32(5)
	updated, err = svc.UpdateShare(ctx, created.ID, 1, UpdateShareParams{MaxDownloads: &limit})
	if err != nil {
		t.Fatalf("更新分享失败: %v", err)
	}
	if updated == nil || updated.MaxDownloads == nil || *updated.MaxDownloads != 5 {
		t.Errorf("更新后 MaxDownloads = %+v, 期望 5", updated)
	}

	// 显式清空下载上限
	updated, err = svc.UpdateShare(ctx, created.ID, 1, UpdateShareParams{ClearMaxDownloads: true})
	if err != nil {
		t.Fatalf("清空下载上限失败: %v", err)
	}
	if updated.MaxDownloads != nil {
		t.Errorf("清空后 MaxDownloads = %v, 期望 nil", *updated.MaxDownloads)
	}

	// 非所有者更新表现为"未找到"
	updated, err = svc.UpdateShare(ctx, created.ID, 2, UpdateShareParams{MaxDownloads: &limit})
	if err != nil || updated != nil {
		t.Errorf("越权更新 = (%v, %v), 期望 (nil, nil)", updated, err)
	}
}

func TestDeleteShare(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	file := createTestFile(t, db, 1)

	created, err := svc.CreateShare(ctx, file.ID, 1, CreateShareOptions{})
	if err != nil {
		t.Fatalf("创建分享失败: %v", err)
	}

	ok, err := svc.DeleteShare(ctx, created.ID, 2)
	if err != nil || ok {
		t.Errorf("越权删除 = (%v, %v), 期望 (false, nil)", ok, err)
	}

	ok, err = svc.DeleteShare(ctx, created.ID, 1)
	if err != nil || !ok {
		t.Fatalf("所有者删除 = (%v, %v), 期望 (true, nil)", ok, err)
	}

	var count int64
	db.Model(&models.FileShare{}).Where("id = ?", created.ID).Count(&count)
	if count != 0 {
		t.Error("删除后行不应存在")
	}
}

func TestListShares(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	file := createTestFile(t, db, 1)

	var first *models.FileShare
	for i := 0; i < 3; i++ {
		s, err := svc.CreateShare(ctx, file.ID, 1, CreateShareOptions{})
		if err != nil {
			t.Fatalf("创建分享失败: %v", err)
		}
		if first == nil {
			first = s
		}
	}
	if _, err := svc.RevokeShare(ctx, first.ID, 1); err != nil {
		t.Fatalf("撤销分享失败: %v", err)
	}

	shares, total, err := svc.ListSharesForFile(ctx, file.ID, 1, 10)
	if err != nil {
		t.Fatalf("列出文件分享失败: %v", err)
	}
	if total != 3 || len(shares) != 3 {
		t.Errorf("文件分享数 = (%d, %d), 期望 3", total, len(shares))
	}

	// 默认不含已失效的分享
	shares, total, err = svc.ListSharesByUser(ctx, 1, false, 1, 10)
	if err != nil {
		t.Fatalf("列出用户分享失败: %v", err)
	}
	if total != 2 {
		t.Errorf("激活分享数 = %d, 期望 2", total)
	}

	_, total, err = svc.ListSharesByUser(ctx, 1, true, 1, 10)
	if err != nil {
		t.Fatalf("列出用户全部分享失败: %v", err)
	}
	if total != 3 {
		t.Errorf("全部分享数 = %d, 期望 3", total)
	}
}
