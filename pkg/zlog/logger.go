package zlog

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options 日志初始化参数
type Options struct {
	LogPath    string
	Level      string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Console    bool
}

var current atomic.Pointer[zap.Logger]

func init() {
	l, err := zap.NewDevelopment()
	if err != nil {
		l = zap.NewNop()
	}
	current.Store(l)
}

// Init 按配置替换全局 logger，写入滚动文件，可选同时输出到控制台
func Init(opts Options) error {
	level := zapcore.InfoLevel
	if s := strings.TrimSpace(opts.Level); s != "" {
		if err := level.Set(strings.ToLower(s)); err != nil {
			return err
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var cores []zapcore.Core
	if p := strings.TrimSpace(opts.LogPath); p != "" {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
		w := &lumberjack.Logger{
			Filename:   p,
			MaxSize:    orDefault(opts.MaxSizeMB, 100),
			MaxBackups: orDefault(opts.MaxBackups, 7),
			MaxAge:     orDefault(opts.MaxAgeDays, 30),
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(w), level))
	}
	if opts.Console || len(cores) == 0 {
		consoleCfg := encCfg
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stdout), level))
	}

	current.Store(zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1)))
	return nil
}

// L 返回当前 logger，供需要 *zap.Logger 的组件使用
func L() *zap.Logger { return current.Load() }

// Replace 替换全局 logger，测试里常用 zap.NewNop 或 zaptest/observer
func Replace(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	current.Store(l)
}

func Sync() { _ = current.Load().Sync() }

func Debug(msg string, fields ...zap.Field) { current.Load().Debug(msg, fields...) }

func Info(msg string, fields ...zap.Field) { current.Load().Info(msg, fields...) }

func Warn(msg string, fields ...zap.Field) { current.Load().Warn(msg, fields...) }

func Error(msg string, fields ...zap.Field) { current.Load().Error(msg, fields...) }

func Fatal(msg string, fields ...zap.Field) { current.Load().Fatal(msg, fields...) }

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
