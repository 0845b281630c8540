package logging

import (
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// =============================================================================
// AUDIT EVENT TYPES
// =============================================================================

// AuditEventType names one structured pipeline event.
type AuditEventType string

const (
	// Snippet lifecycle
	AuditSnippetMount    AuditEventType = "snippet_mount"
	AuditSnippetRendered AuditEventType = "snippet_rendered"
	AuditSnippetFailed   AuditEventType = "snippet_failed"
	AuditSnippetDispose  AuditEventType = "snippet_dispose"
	AuditSnippetRetry    AuditEventType = "snippet_retry"

	// Document writes
	AuditStorageWrite     AuditEventType = "storage_write"
	AuditFrontmatterWrite AuditEventType = "frontmatter_write"

	// Market cache
	AuditCacheHit     AuditEventType = "cache_hit"
	AuditCacheDerive  AuditEventType = "cache_derive"
	AuditMarketFetch  AuditEventType = "market_fetch"
	AuditMarketError  AuditEventType = "market_error"
	AuditCacheCleanup AuditEventType = "cache_cleanup"

	// Performance
	AuditPerfSlow AuditEventType = "perf_slow"
)

// AuditEvent is one JSON line in .livenote/logs/audit.log.
type AuditEvent struct {
	EventType  AuditEventType
	Document   string // vault-relative path
	Block      int    // snippet index within the document, -1 when not applicable
	Target     string // key, symbol, etc.
	Success    bool
	DurationMs int64
	Error      string
	Message    string
	Fields     map[string]interface{}
}

// =============================================================================
// AUDIT LOGGER
// =============================================================================

var (
	auditMu   sync.Mutex
	auditSink *lumberjack.Logger
	auditZap  *zap.Logger
)

// AuditLogger writes audit events tagged with a document.
type AuditLogger struct {
	document string
}

// InitAudit opens the audit log. It is a no-op unless debug mode is on.
func InitAudit() error {
	if !IsDebugMode() {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditZap != nil {
		return nil
	}

	cfgMu.RLock()
	dir := logsDir
	cfgMu.RUnlock()
	if dir == "" {
		return nil
	}

	auditSink = &lumberjack.Logger{
		Filename:   filepath.Join(dir, "audit.log"),
		MaxSize:    20,
		MaxBackups: 2,
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.EpochMillisTimeEncoder
	encCfg.MessageKey = "msg"
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(auditSink), zapcore.DebugLevel)
	auditZap = zap.New(core)
	return nil
}

// CloseAudit flushes and closes the audit log.
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditZap != nil {
		_ = auditZap.Sync()
		auditZap = nil
	}
	if auditSink != nil {
		_ = auditSink.Close()
		auditSink = nil
	}
}

// Audit returns an audit logger not tied to a document.
func Audit() *AuditLogger {
	return &AuditLogger{}
}

// AuditFor returns an audit logger tagged with a document path.
func AuditFor(document string) *AuditLogger {
	return &AuditLogger{document: document}
}

// Log writes one event. Safe to call when auditing is off.
func (a *AuditLogger) Log(event AuditEvent) {
	auditMu.Lock()
	z := auditZap
	auditMu.Unlock()
	if z == nil {
		return
	}

	if event.Document == "" {
		event.Document = a.document
	}

	fields := []zap.Field{
		zap.String("event", string(event.EventType)),
		zap.String("doc", event.Document),
		zap.Bool("success", event.Success),
	}
	if event.Block >= 0 {
		fields = append(fields, zap.Int("block", event.Block))
	}
	if event.Target != "" {
		fields = append(fields, zap.String("target", event.Target))
	}
	if event.DurationMs > 0 {
		fields = append(fields, zap.Int64("dur_ms", event.DurationMs))
	}
	if event.Error != "" {
		fields = append(fields, zap.String("error", event.Error))
	}
	if len(event.Fields) > 0 {
		fields = append(fields, zap.Any("fields", event.Fields))
	}
	z.Info(event.Message, fields...)
}

// =============================================================================
// CONVENIENCE METHODS
// =============================================================================

// SnippetMount records the start of a mounting pass.
func (a *AuditLogger) SnippetMount(block int, generation uint64) {
	a.Log(AuditEvent{
		EventType: AuditSnippetMount,
		Block:     block,
		Success:   true,
		Fields:    map[string]interface{}{"generation": generation},
	})
}

// SnippetOutcome records the end of a mounting pass.
func (a *AuditLogger) SnippetOutcome(block int, d time.Duration, kind, errMsg string) {
	ev := AuditEvent{
		EventType:  AuditSnippetRendered,
		Block:      block,
		Success:    errMsg == "",
		DurationMs: d.Milliseconds(),
		Error:      errMsg,
	}
	if errMsg != "" {
		ev.EventType = AuditSnippetFailed
		ev.Target = kind
	}
	a.Log(ev)
}

// SnippetRetry records a user-triggered retry.
func (a *AuditLogger) SnippetRetry(block int) {
	a.Log(AuditEvent{EventType: AuditSnippetRetry, Block: block, Success: true})
}

// SnippetDispose records host disposal.
func (a *AuditLogger) SnippetDispose(block int) {
	a.Log(AuditEvent{EventType: AuditSnippetDispose, Block: block, Success: true})
}

// StorageWrite records a persisted useStorage value.
func (a *AuditLogger) StorageWrite(key string, success bool, errMsg string) {
	a.Log(AuditEvent{EventType: AuditStorageWrite, Block: -1, Target: key, Success: success, Error: errMsg})
}

// FrontmatterWrite records an updateFrontmatter call.
func (a *AuditLogger) FrontmatterWrite(keys []string, success bool, errMsg string) {
	a.Log(AuditEvent{
		EventType: AuditFrontmatterWrite,
		Block:     -1,
		Success:   success,
		Error:     errMsg,
		Fields:    map[string]interface{}{"keys": keys},
	})
}

// MarketEvent records a cache or provider decision for a symbol/interval.
func (a *AuditLogger) MarketEvent(eventType AuditEventType, symbol, interval string, candles int, d time.Duration, err error) {
	ev := AuditEvent{
		EventType:  eventType,
		Block:      -1,
		Target:     symbol,
		Success:    err == nil,
		DurationMs: d.Milliseconds(),
		Fields:     map[string]interface{}{"interval": interval, "candles": candles},
	}
	if err != nil {
		ev.Error = err.Error()
	}
	a.Log(ev)
}

// PerfSlow records an operation that exceeded its threshold.
func (a *AuditLogger) PerfSlow(operation string, d, threshold time.Duration) {
	a.Log(AuditEvent{
		EventType:  AuditPerfSlow,
		Block:      -1,
		Target:     operation,
		Success:    true,
		DurationMs: d.Milliseconds(),
		Fields:     map[string]interface{}{"threshold_ms": threshold.Milliseconds()},
	})
}
