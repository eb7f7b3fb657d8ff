package worker

import (
	"context"
	"time"

	"github.com/3Eeeecho/go-filevault/internal/pkg/logger"
	"github.com/3Eeeecho/go-filevault/internal/services/share"
	"go.uber.org/zap"
)

// CleanupWorker 周期性地把过期分享置为不激活
// 访问路径对过期分享本来就拒绝服务，清扫只是把状态落到数据库里，
// 所以清扫周期可以放得比较宽
type CleanupWorker struct {
	shareService share.ShareService
	interval     time.Duration
}

func NewCleanupWorker(shareService share.ShareService, interval time.Duration) *CleanupWorker {
	return &CleanupWorker{
		shareService: shareService,
		interval:     interval,
	}
}

// Start 启动清扫循环，ctx 取消后退出
func (w *CleanupWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

func (w *CleanupWorker) run(ctx context.Context) {
	logger.Info("CleanupWorker: 过期分享清扫已启动", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("CleanupWorker: 过期分享清扫已停止")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *CleanupWorker) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	count, err := w.shareService.CleanupExpiredShares(sweepCtx)
	if err != nil {
		// 清扫失败不影响正常请求，下个周期重试
		logger.Error("CleanupWorker: 清扫过期分享失败", zap.Error(err))
		return
	}
	if count > 0 {
		logger.Info("CleanupWorker: 本轮清扫完成", zap.Int64("deactivated", count))
	}
}
