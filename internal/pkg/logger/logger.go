package logger

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	log  *zap.Logger
	once sync.Once
)

// InitLogger 构建全局 zap 日志器，进程内只生效一次
// outputPath 和 errorPath 是普通日志与错误日志的落盘路径，
// 同时总会附带输出到 stdout/stderr
// level 接受 zap 的级别文本（debug/info/warn/error 等），解析失败时退回 info
func InitLogger(outputPath, errorPath string, level string) {
	once.Do(func() {
		var l zapcore.Level
		var err error
		if err = l.UnmarshalText([]byte(level)); err != nil {
			l = zap.InfoLevel
			fmt.Fprintf(os.Stderr, "无法解析日志级别 %q，回退到 info: %v\n", level, err)
		}

		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(l)
		cfg.OutputPaths = []string{outputPath, "stdout"}
		cfg.ErrorOutputPaths = []string{errorPath, "stderr"}
		cfg.Encoding = "json"
		cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

		log, err = cfg.Build()
		if err != nil {
			panic(fmt.Sprintf("构建 zap 日志器失败: %v", err))
		}
		zap.ReplaceGlobals(log)
	})
}

// GetLogger 返回全局日志器
// 尚未初始化时兜底成一个 info 级的标准输出日志器，测试代码因此无需显式初始化
func GetLogger() *zap.Logger {
	if log == nil {
		InitLogger("stdout", "stderr", "info")
	}
	return log
}

// Sugar 返回 printf 风格的 SugaredLogger
func Sugar() *zap.SugaredLogger {
	return GetLogger().Sugar()
}

// Sync 把缓冲中的日志刷到输出，退出前调用
func Sync() {
	if log != nil {
		if err := log.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "刷新日志缓冲失败: %v\n", err)
		}
	}
}

// 包级快捷方法，省去各处手动 GetLogger

func Debug(msg string, fields ...zap.Field) {
	GetLogger().Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	GetLogger().Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	GetLogger().Error(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	GetLogger().Fatal(msg, fields...)
}
