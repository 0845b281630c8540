// Package logging provides config-driven categorized file-based logging for livenote.
// Logs are written to .livenote/logs/ with separate rotated files per category.
// Logging is controlled by logging.debug_mode in .livenote/config.yaml - when false, no logs are written.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"livenote/internal/config"
)

// Category represents a log category/system
type Category string

const (
	// Core system categories
	CategoryBoot   Category = "boot"   // Boot/initialization
	CategoryServer Category = "server" // HTTP + websocket preview server

	// Pipeline categories
	CategoryRewrite   Category = "rewrite"   // Source rewriting, include expansion
	CategoryTranspile Category = "transpile" // esbuild transforms
	CategoryScope     Category = "scope"     // Capability scope construction + hooks
	CategorySandbox   Category = "sandbox"   // Evaluator / executor
	CategoryRender    Category = "render"    // Render host lifecycle
	CategorySnippet   Category = "snippet"   // console.* from user code

	// Storage categories
	CategoryDocument Category = "document" // Vault reads/writes, frontmatter
	CategoryStorage  Category = "storage"  // Persisted key-value hook
	CategoryWatcher  Category = "watcher"  // fsnotify

	// Market add-on categories
	CategoryMarket Category = "market" // Provider calls
	CategoryCache  Category = "cache"  // Cache coverage decisions
)

// AllCategories lists every category, used for config scaffolding and tests.
var AllCategories = []Category{
	CategoryBoot, CategoryServer,
	CategoryRewrite, CategoryTranspile, CategoryScope, CategorySandbox, CategoryRender, CategorySnippet,
	CategoryDocument, CategoryStorage, CategoryWatcher,
	CategoryMarket, CategoryCache,
}

// Logger wraps a zap sugared logger bound to one category.
// A Logger with a nil sugar is a no-op.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
	sink     *lumberjack.Logger
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	cfg       config.LoggingConfig
	cfgMu     sync.RWMutex
	level     = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	stderrTee *zap.Logger
)

// Initialize sets up the logging directory from the vault path and config.
// Should be called once at startup.
func Initialize(vault string, lc config.LoggingConfig) error {
	if vault == "" {
		return fmt.Errorf("vault path required")
	}

	CloseAll()

	cfgMu.Lock()
	cfg = lc
	logsDir = filepath.Join(vault, config.WorkspaceDir, "logs")
	cfgMu.Unlock()

	if err := level.UnmarshalText([]byte(strings.ToLower(lc.Level))); err != nil {
		level.SetLevel(zapcore.InfoLevel)
	}

	// Only create logs directory if debug mode is enabled
	if !lc.DebugMode {
		return nil // Silent no-op in production mode
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== livenote logging initialized ===")
	boot.Info("Vault: %s", vault)
	boot.Info("Logs directory: %s", logsDir)
	boot.Info("Log level: %s", level.Level())

	return nil
}

// SetStderr mirrors warnings and errors of every category to the given zap
// logger (the CLI's console logger). Pass nil to disable.
func SetStderr(l *zap.Logger) {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	stderrTee = l
	for k, existing := range loggers {
		if existing.sink != nil {
			_ = existing.sink.Close()
		}
		delete(loggers, k)
	}
}

// IsDebugMode returns whether debug logging is enabled
func IsDebugMode() bool {
	cfgMu.RLock()
	defer cfgMu.RUnlock()
	return cfg.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	cfgMu.RLock()
	defer cfgMu.RUnlock()
	return cfg.IsCategoryEnabled(string(category))
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode is disabled or category is disabled,
// unless a stderr mirror is installed.
func Get(category Category) *Logger {
	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	// Double-check after acquiring write lock
	if l, ok := loggers[category]; ok {
		return l
	}

	var cores []zapcore.Core
	var sink *lumberjack.Logger

	cfgMu.RLock()
	dir := logsDir
	enabled := cfg.IsCategoryEnabled(string(category))
	jsonFormat := cfg.Format == "json"
	maxSize, maxBackups := cfg.Rotation()
	cfgMu.RUnlock()

	if enabled && dir != "" {
		sink = &lumberjack.Logger{
			Filename:   filepath.Join(dir, fmt.Sprintf("%s.log", category)),
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			MaxAge:     14,
		}
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.TimeKey = "ts"
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		var enc zapcore.Encoder
		if jsonFormat {
			enc = zapcore.NewJSONEncoder(encCfg)
		} else {
			enc = zapcore.NewConsoleEncoder(encCfg)
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(sink), level))
	}

	if stderrTee != nil {
		tee := stderrTee.Core()
		cores = append(cores, warnOnly{tee})
	}

	l := &Logger{category: category, sink: sink}
	if len(cores) > 0 {
		l.sugar = zap.New(zapcore.NewTee(cores...)).Named(string(category)).Sugar()
	}
	loggers[category] = l
	return l
}

// warnOnly filters a core down to warn and above.
type warnOnly struct{ zapcore.Core }

func (w warnOnly) Enabled(l zapcore.Level) bool {
	return l >= zapcore.WarnLevel && w.Core.Enabled(l)
}

func (w warnOnly) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !w.Enabled(e.Level) {
		return ce
	}
	return w.Core.Check(e, ce)
}

func (w warnOnly) With(fields []zapcore.Field) zapcore.Core {
	return warnOnly{w.Core.With(fields)}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Debugf(format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Errorf(format, args...)
}

// With returns a context logger carrying key-value fields on every entry.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	if l.sugar == nil {
		return l
	}
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

// CloseAll flushes and closes all open log files (call at shutdown)
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for cat, l := range loggers {
		if l.sugar != nil {
			_ = l.sugar.Sync()
		}
		if l.sink != nil {
			_ = l.sink.Close()
		}
		delete(loggers, cat)
	}
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if the category is disabled
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) { Get(CategoryBoot).Info(format, args...) }

// Rewrite logs to the rewrite category
func Rewrite(format string, args ...interface{}) { Get(CategoryRewrite).Info(format, args...) }

// RewriteWarn logs a warning to the rewrite category
func RewriteWarn(format string, args ...interface{}) { Get(CategoryRewrite).Warn(format, args...) }

// Transpile logs debug output to the transpile category
func Transpile(format string, args ...interface{}) { Get(CategoryTranspile).Debug(format, args...) }

// Scope logs to the scope category
func Scope(format string, args ...interface{}) { Get(CategoryScope).Info(format, args...) }

// ScopeWarn logs a warning to the scope category
func ScopeWarn(format string, args ...interface{}) { Get(CategoryScope).Warn(format, args...) }

// Sandbox logs to the sandbox category
func Sandbox(format string, args ...interface{}) { Get(CategorySandbox).Info(format, args...) }

// SandboxError logs an error to the sandbox category
func SandboxError(format string, args ...interface{}) { Get(CategorySandbox).Error(format, args...) }

// Render logs to the render category
func Render(format string, args ...interface{}) { Get(CategoryRender).Info(format, args...) }

// RenderDebug logs debug to the render category
func RenderDebug(format string, args ...interface{}) { Get(CategoryRender).Debug(format, args...) }

// RenderError logs an error to the render category
func RenderError(format string, args ...interface{}) { Get(CategoryRender).Error(format, args...) }

// Storage logs to the storage category
func Storage(format string, args ...interface{}) { Get(CategoryStorage).Info(format, args...) }

// StorageError logs an error to the storage category
func StorageError(format string, args ...interface{}) { Get(CategoryStorage).Error(format, args...) }

// Document logs to the document category
func Document(format string, args ...interface{}) { Get(CategoryDocument).Info(format, args...) }

// Market logs to the market category
func Market(format string, args ...interface{}) { Get(CategoryMarket).Info(format, args...) }

// MarketError logs an error to the market category
func MarketError(format string, args ...interface{}) { Get(CategoryMarket).Error(format, args...) }

// Cache logs debug to the cache category
func Cache(format string, args ...interface{}) { Get(CategoryCache).Debug(format, args...) }

// Server logs to the server category
func Server(format string, args ...interface{}) { Get(CategoryServer).Info(format, args...) }

// ServerError logs an error to the server category
func ServerError(format string, args ...interface{}) { Get(CategoryServer).Error(format, args...) }

// Watcher logs to the watcher category
func Watcher(format string, args ...interface{}) { Get(CategoryWatcher).Info(format, args...) }

// =============================================================================
// TIMERS
// =============================================================================

// Timer measures an operation and logs its duration on Stop.
type Timer struct {
	category  Category
	operation string
	start     time.Time
}

// StartTimer starts timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, operation: operation, start: time.Now()}
}

// Stop logs the elapsed time at debug level and returns it.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.operation, elapsed)
	return elapsed
}

// StopWithThreshold logs at warn level when the operation exceeded threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("SLOW: %s took %v (threshold: %v)", t.operation, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.operation, elapsed)
	}
	return elapsed
}
