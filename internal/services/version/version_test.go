package version

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
	gormlogger "gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
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

func newTestService(t *testing.T) (VersionService, *gorm.DB) {
	t.Helper()
	db := setupTestDB(t)
	versionRepo := repositories.NewFileVersionRepository(db)
	fileRepo := repositories.NewFileRepository(db)
	txManager := repositories.NewTransactionManager(db)
	return NewVersionService(versionRepo, fileRepo, txManager), db
}

func createTestFile(t *testing.T, db *gorm.DB, userID uint64, storagePath string) *models.File {
	t.Helper()
	file := &models.File{
		UUID:        fmt.Sprintf("uuid-%d-%d", userID, time.Now().UnixNano()),
		UserID:      userID,
		FileName:    "notes.txt",
		StoragePath: storagePath,
		Size:        256,
		Status:      models.StatusNormal,
	}
	if err := db.Create(file).Error; err != nil {
		t.Fatalf("创建测试文件失败: %v", err)
	}
	return file
}

func TestCreateVersionSequence(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	file := createTestFile(t, db, 1, "files/1/notes-a")

	v1, err := svc.CreateVersion(ctx, file.ID, 1)
	if err != nil {
		t.Fatalf("创建版本失败: %v", err)
	}
	if v1.VersionNumber != 1 {
		t.Errorf("首个版本号 = %d, 期望 1", v1.VersionNumber)
	}
	if v1.StoragePath != file.StoragePath || v1.FileSize != file.Size {
		t.Errorf("版本快照 = %+v, 应复制文件当前内容", v1)
	}

	v2, err := svc.CreateVersion(ctx, file.ID, 1)
	if err != nil {
		t.Fatalf("创建第二个版本失败: %v", err)
	}
	if v2.VersionNumber != 2 {
		t.Errorf("第二个版本号 = %d, 期望 2", v2.VersionNumber)
	}
}

func TestCreateVersionConcurrent(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	file := createTestFile(t, db, 1, "files/1/notes-a")

	// 多个请求同时给同一文件建版本，
	// 版本号必须连号且不重复，谁也不能丢
	const workers = 5
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateVersion(ctx, file.ID, 1)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("并发创建版本失败: %v", err)
		}
	}

	versions, err := repositories.NewFileVersionRepository(db).FindAllByFileID(ctx, file.ID)
	if err != nil {
		t.Fatalf("查询版本失败: %v", err)
	}
	if len(versions) != workers {
		t.Fatalf("版本总数 = %d, 期望 %d", len(versions), workers)
	}
	// FindAllByFileID 按版本号降序返回
	for i, v := range versions {
		want := uint(workers - i)
		if v.VersionNumber != want {
			t.Errorf("第 %d 条版本号 = %d, 期望 %d", i, v.VersionNumber, want)
		}
	}
}

func TestCreateVersionOwnership(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	file := createTestFile(t, db, 1, "files/1/notes-a")

	// 他人的文件统一回答"文件不存在"
	if _, err := svc.CreateVersion(ctx, file.ID, 2); !errors.Is(err, xerr.ErrFileNotFound) {
		t.Errorf("越权创建版本错误 = %v, 期望 ErrFileNotFound", err)
	}
	if _, err := svc.CreateVersion(ctx, 9999, 1); !errors.Is(err, xerr.ErrFileNotFound) {
		t.Errorf("不存在文件错误 = %v, 期望 ErrFileNotFound", err)
	}
}

func TestRestoreVersionKeepsAllData(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	file := createTestFile(t, db, 1, "files/1/content-v1")

	v1, err := svc.CreateVersion(ctx, file.ID, 1)
	if err != nil {
		t.Fatalf("创建版本失败: %v", err)
	}

	// 模拟内容更新：文件行指向新内容，并落第二个版本
	if err := db.Model(&models.File{}).Where("id = ?", file.ID).
		Updates(map[string]any{"storage_path": "files/1/content-v2", "size": 512}).Error; err != nil {
		t.Fatalf("更新文件内容失败: %v", err)
	}
	if _, err := svc.CreateVersion(ctx, file.ID, 1); err != nil {
		t.Fatalf("创建第二个版本失败: %v", err)
	}

	result, err := svc.RestoreVersion(ctx, v1.ID, file.ID, 1)
	if err != nil {
		t.Fatalf("恢复版本失败: %v", err)
	}
	if result.RestoredVersion.ID != v1.ID {
		t.Errorf("恢复目标 = %d, 期望 %d", result.RestoredVersion.ID, v1.ID)
	}
	// 备份版本必须保存恢复前的当前内容
	if result.BackupVersion.StoragePath != "files/1/content-v2" {
		t.Errorf("备份内容 = %s, 期望恢复前的当前内容", result.BackupVersion.StoragePath)
	}
	if result.BackupVersion.VersionNumber != 3 {
		t.Errorf("备份版本号 = %d, 期望 3", result.BackupVersion.VersionNumber)
	}

	// 文件行现在指向被恢复版本的内容
	var check models.File
	if err := db.First(&check, file.ID).Error; err != nil {
		t.Fatalf("查询文件失败: %v", err)
	}
	if check.StoragePath != "files/1/content-v1" || check.Size != 256 {
		t.Errorf("恢复后文件 = (%s, %d), 期望指向 v1 内容", check.StoragePath, check.Size)
	}

	// 恢复从不减少版本数
	var count int64
	db.Model(&models.FileVersion{}).Where("file_id = ?", file.ID).Count(&count)
	if count != 3 {
		t.Errorf("版本总数 = %d, 期望 3", count)
	}
}

func TestRestoreVersionWrongFile(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	fileA := createTestFile(t, db, 1, "files/1/a")
	fileB := createTestFile(t, db, 1, "files/1/b")

	vA, err := svc.CreateVersion(ctx, fileA.ID, 1)
	if err != nil {
		t.Fatalf("创建版本失败: %v", err)
	}

	// 版本属于文件 A，却拿文件 B 来恢复
	if _, err := svc.RestoreVersion(ctx, vA.ID, fileB.ID, 1); !errors.Is(err, xerr.ErrVersionNotFound) {
		t.Errorf("跨文件恢复错误 = %v, 期望 ErrVersionNotFound", err)
	}
}

func TestDeleteVersionGuards(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	file := createTestFile(t, db, 1, "files/1/current")

	v1, err := svc.CreateVersion(ctx, file.ID, 1)
	if err != nil {
		t.Fatalf("创建版本失败: %v", err)
	}

	// 唯一的版本不允许删除
	if err := svc.DeleteVersion(ctx, v1.ID, file.ID, 1); !errors.Is(err, xerr.ErrVersionProtected) {
		t.Errorf("删除最后版本错误 = %v, 期望 ErrVersionProtected", err)
	}

	// 内容更新后，旧版本可以删除，当前版本仍受保护
	if err := db.Model(&models.File{}).Where("id = ?", file.ID).
		Update("storage_path", "files/1/newer").Error; err != nil {
		t.Fatalf("更新文件内容失败: %v", err)
	}
	v2, err := svc.CreateVersion(ctx, file.ID, 1)
	if err != nil {
		t.Fatalf("创建第二个版本失败: %v", err)
	}

	if err := svc.DeleteVersion(ctx, v2.ID, file.ID, 1); !errors.Is(err, xerr.ErrVersionProtected) {
		t.Errorf("删除当前版本错误 = %v, 期望 ErrVersionProtected", err)
	}
	if err := svc.DeleteVersion(ctx, v1.ID, file.ID, 1); err != nil {
		t.Errorf("删除旧版本失败: %v", err)
	}

	if err := svc.DeleteVersion(ctx, 9999, file.ID, 1); !errors.Is(err, xerr.ErrVersionNotFound) {
		t.Errorf("删除不存在版本错误 = %v, 期望 ErrVersionNotFound", err)
	}
}

func TestDeleteVersionConcurrentKeepsOne(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	file := createTestFile(t, db, 1, "files/1/current")

	// 两个历史版本都不是当前内容，各自单看都满足删除条件
	var ids []uint64
	for i := 0; i < 2; i++ {
		v := &models.FileVersion{
			FileID:        file.ID,
			VersionNumber: uint(i + 1),
			StoragePath:   fmt.Sprintf("files/1/old-%d", i),
			FileSize:      128,
			CreatedBy:     1,
		}
		if err := db.Create(v).Error; err != nil {
			t.Fatalf("插入版本失败: %v", err)
		}
		ids = append(ids, v.ID)
	}

	// 同时删除两条：检查和删除在同一事务并持有文件行锁，
	// 只能有一个通过"最后一个版本"的检查
	var wg sync.WaitGroup
	errs := make(chan error, len(ids))
	for _, id := range ids {
		wg.Add(1)
		go func(versionID uint64) {
			defer wg.Done()
			errs <- svc.DeleteVersion(ctx, versionID, file.ID, 1)
		}(id)
	}
	wg.Wait()
	close(errs)

	var succeeded, protected int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, xerr.ErrVersionProtected):
			protected++
		default:
			t.Errorf("并发删除意外错误: %v", err)
		}
	}
	if succeeded != 1 || protected != 1 {
		t.Errorf("并发删除结果 = (成功 %d, 拒绝 %d), 期望 (1, 1)", succeeded, protected)
	}

	var count int64
	db.Model(&models.FileVersion{}).Where("file_id = ?", file.ID).Count(&count)
	if count != 1 {
		t.Errorf("剩余版本数 = %d, 文件必须至少保留一个版本", count)
	}
}

func TestCleanupOldVersions(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	file := createTestFile(t, db, 1, "files/1/step-0")

	// 连续五次内容更新，留下五个版本，当前内容是 step-4
	for i := 0; i < 5; i++ {
		if err := db.Model(&models.File{}).Where("id = ?", file.ID).
			Update("storage_path", fmt.Sprintf("files/1/step-%d", i)).Error; err != nil {
			t.Fatalf("更新文件内容失败: %v", err)
		}
		if _, err := svc.CreateVersion(ctx, file.ID, 1); err != nil {
			t.Fatalf("创建版本失败: %v", err)
		}
	}

	if _, err := svc.CleanupOldVersions(ctx, file.ID, 1, 0); !errors.Is(err, xerr.ErrKeepCountInvalid) {
		t.Errorf("非法保留数错误 = %v, 期望 ErrKeepCountInvalid", err)
	}

	deleted, err := svc.CleanupOldVersions(ctx, file.ID, 1, 2)
	if err != nil {
		t.Fatalf("清理旧版本失败: %v", err)
	}
	if deleted != 3 {
		t.Errorf("删除条数 = %d, 期望 3", deleted)
	}

	versions, err := repositories.NewFileVersionRepository(db).FindAllByFileID(ctx, file.ID)
	if err != nil {
		t.Fatalf("查询版本失败: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("剩余版本数 = %d, 期望 2", len(versions))
	}
	if versions[0].VersionNumber != 5 || versions[1].VersionNumber != 4 {
		t.Errorf("剩余版本号 = (%d, %d), 期望保留最新的 5 和 4", versions[0].VersionNumber, versions[1].VersionNumber)
	}

	// 窗口内不足保留数时什么都不删
	deleted, err = svc.CleanupOldVersions(ctx, file.ID, 1, 10)
	if err != nil || deleted != 0 {
		t.Errorf("宽松保留数清理 = (%d, %v), 期望 (0, nil)", deleted, err)
	}
}

func TestCleanupKeepsCurrentVersion(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	file := createTestFile(t, db, 1, "files/1/old")

	// v1 指向当前内容
	v1, err := svc.CreateVersion(ctx, file.ID, 1)
	if err != nil {
		t.Fatalf("创建版本失败: %v", err)
	}

	// 之后的版本都指向别的内容，但文件行仍指向 v1 的内容
	for i := 0; i < 3; i++ {
		if err := db.Create(&models.FileVersion{
			FileID:        file.ID,
			VersionNumber: uint(i + 2),
			StoragePath:   fmt.Sprintf("files/1/other-%d", i),
			FileSize:      128,
			CreatedBy:     1,
		}).Error; err != nil {
			t.Fatalf("插入版本失败: %v", err)
		}
	}

	// 保留 1 条：窗口里只有版本 4，但 v1 是当前版本，必须幸存
	deleted, err := svc.CleanupOldVersions(ctx, file.ID, 1, 1)
	if err != nil {
		t.Fatalf("清理旧版本失败: %v", err)
	}
	if deleted != 2 {
		t.Errorf("删除条数 = %d, 期望 2", deleted)
	}

	var check models.FileVersion
	if err := db.First(&check, v1.ID).Error; err != nil {
		t.Errorf("当前版本不应被清理: %v", err)
	}
}
