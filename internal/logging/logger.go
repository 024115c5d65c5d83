// Package logging provides config-driven categorized logging for courtside.
// Every subsystem logs through a category so noisy areas (client, generation)
// can be switched off without touching the rest. Output goes through zap.
package logging

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/subsystem
type Category string

const (
	CategoryBoot       Category = "boot"       // Startup, config, wiring
	CategoryServer     Category = "server"     // HTTP handler and wire protocol
	CategoryContext    Category = "context"    // Context assembly, team hints
	CategoryLive       Category = "live"       // Live snapshot reads and freshness gate
	CategoryInjuries   Category = "injuries"   // Auxiliary injury/status fetches
	CategoryGeneration Category = "generation" // Model streaming and retry ladder
	CategoryPicks      Category = "picks"      // Pick extraction
	CategoryStore      Category = "store"      // SQLite store operations
	CategoryPersist    Category = "persist"    // Persistence sink
	CategoryClient     Category = "client"     // Client fetch, parser, message store
)

// Config mirrors config.LoggingConfig to avoid an import cycle.
type Config struct {
	Level      string          `yaml:"level"`  // debug, info, warn, error
	Format     string          `yaml:"format"` // json, console
	Categories map[string]bool `yaml:"categories"`
}

// Logger is a category-scoped sugared logger. A Logger with a nil sugar is a no-op.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu         sync.RWMutex
	base       = zap.NewNop()
	level      = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	categories map[string]bool
	loggers    = make(map[Category]*Logger)
)

// Initialize builds the process logger from cfg.
// Should be called once at startup; later calls replace the logger.
func Initialize(cfg Config) error {
	zcfg := zap.NewProductionConfig()
	if strings.EqualFold(cfg.Format, "console") {
		zcfg = zap.NewDevelopmentConfig()
	}
	lvl, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}
	level.SetLevel(lvl)
	zcfg.Level = level

	l, err := zcfg.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	install(l, cfg.Categories)

	Get(CategoryBoot).Debug("logging initialized level=%s format=%s", lvl, cfg.Format)
	return nil
}

// SetBase installs an already-built zap logger. Used by tests and by callers
// that own their zap configuration.
func SetBase(l *zap.Logger, cats map[string]bool) {
	install(l, cats)
}

func install(l *zap.Logger, cats map[string]bool) {
	mu.Lock()
	defer mu.Unlock()
	base = l
	categories = cats
	loggers = make(map[Category]*Logger)
}

// SetLevel changes the minimum level at runtime.
func SetLevel(s string) error {
	lvl, err := parseLevel(s)
	if err != nil {
		return err
	}
	level.SetLevel(lvl)
	return nil
}

func parseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// IsCategoryEnabled returns whether a specific category is enabled.
// Categories missing from the config map are enabled.
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	if categories == nil {
		return true
	}
	enabled, ok := categories[string(category)]
	if !ok {
		return true
	}
	return enabled
}

// Get returns (or creates) the logger for a category.
// Returns a no-op logger if the category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}

	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	l := &Logger{
		category: category,
		sugar:    base.With(zap.String("category", string(category))).Sugar(),
	}
	loggers[category] = l
	return l
}

// With returns a child logger carrying structured key/value fields.
func (l *Logger) With(keysAndValues ...any) *Logger {
	if l.sugar == nil {
		return l
	}
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...any) {
	if l.sugar != nil {
		l.sugar.Debugf(format, args...)
	}
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...any) {
	if l.sugar != nil {
		l.sugar.Infof(format, args...)
	}
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...any) {
	if l.sugar != nil {
		l.sugar.Warnf(format, args...)
	}
}

// Error logs an error message
func (l *Logger) Error(format string, args ...any) {
	if l.sugar != nil {
		l.sugar.Errorf(format, args...)
	}
}

// Sync flushes buffered output (call at shutdown)
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = base.Sync()
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if the category is disabled
// =============================================================================

func Boot(format string, args ...any)      { Get(CategoryBoot).Info(format, args...) }
func BootError(format string, args ...any) { Get(CategoryBoot).Error(format, args...) }

func Server(format string, args ...any)      { Get(CategoryServer).Info(format, args...) }
func ServerDebug(format string, args ...any) { Get(CategoryServer).Debug(format, args...) }
func ServerWarn(format string, args ...any)  { Get(CategoryServer).Warn(format, args...) }
func ServerError(format string, args ...any) { Get(CategoryServer).Error(format, args...) }

func Context(format string, args ...any)      { Get(CategoryContext).Info(format, args...) }
func ContextDebug(format string, args ...any) { Get(CategoryContext).Debug(format, args...) }

func Live(format string, args ...any)      { Get(CategoryLive).Info(format, args...) }
func LiveDebug(format string, args ...any) { Get(CategoryLive).Debug(format, args...) }
func LiveWarn(format string, args ...any)  { Get(CategoryLive).Warn(format, args...) }

func Injuries(format string, args ...any)      { Get(CategoryInjuries).Info(format, args...) }
func InjuriesDebug(format string, args ...any) { Get(CategoryInjuries).Debug(format, args...) }
func InjuriesWarn(format string, args ...any)  { Get(CategoryInjuries).Warn(format, args...) }

func Generation(format string, args ...any)      { Get(CategoryGeneration).Info(format, args...) }
func GenerationDebug(format string, args ...any) { Get(CategoryGeneration).Debug(format, args...) }
func GenerationWarn(format string, args ...any)  { Get(CategoryGeneration).Warn(format, args...) }
func GenerationError(format string, args ...any) { Get(CategoryGeneration).Error(format, args...) }

func Picks(format string, args ...any)      { Get(CategoryPicks).Info(format, args...) }
func PicksDebug(format string, args ...any) { Get(CategoryPicks).Debug(format, args...) }

func Store(format string, args ...any)      { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...any) { Get(CategoryStore).Debug(format, args...) }
func StoreError(format string, args ...any) { Get(CategoryStore).Error(format, args...) }

func Persist(format string, args ...any)      { Get(CategoryPersist).Info(format, args...) }
func PersistError(format string, args ...any) { Get(CategoryPersist).Error(format, args...) }

func Client(format string, args ...any)      { Get(CategoryClient).Info(format, args...) }
func ClientDebug(format string, args ...any) { Get(CategoryClient).Debug(format, args...) }
func ClientWarn(format string, args ...any)  { Get(CategoryClient).Warn(format, args...) }

// =============================================================================
// TIMERS
// =============================================================================

// Timer measures an operation and logs its duration on Stop.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning if the duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s slow: %v (threshold %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
