// Package logx provides component-scoped structured logging with domain-filtered debug output.
//
// The printf-style API is backed by zap. Debug output is controlled through environment
// variables or SetDebugConfig:
//
//	DEBUG=1                         # Enable debug for all domains
//	DEBUG=1 DEBUG_DOMAINS=engine    # Enable debug only for the engine domain
//	DEBUG=1 DEBUG_DOMAINS=exec,llm  # Enable debug for multiple domains
package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is a log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// componentKey carries the component name used by the package-level Debug.
type componentKey struct{}

// WithComponent returns a context whose package-level debug output is attributed to component.
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey{}, component)
}

// DebugConfig controls debug logging behavior.
type DebugConfig struct {
	Enabled bool
	Domains map[string]bool // nil = all domains
}

//nolint:gochecknoglobals // Process-wide logging backend, mirrors zap's global logger pattern
var (
	debugConfig = &DebugConfig{}
	debugMutex  sync.RWMutex

	backendMu sync.RWMutex
	backend   *zap.Logger
	logFile   *os.File

	recent = newRingBuffer(500)
)

func init() { //nolint:gochecknoinits // Required for env var initialization
	backend = zap.New(newConsoleCore(zapcore.Lock(os.Stderr)))
	initDebugFromEnv()
}

func initDebugFromEnv() {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	if debug := os.Getenv("DEBUG"); debug == "1" || strings.EqualFold(debug, "true") {
		debugConfig.Enabled = true
	}
	if domains := os.Getenv("DEBUG_DOMAINS"); domains != "" {
		debugConfig.Domains = parseDomains(strings.Split(domains, ","))
	}
}

func parseDomains(domains []string) map[string]bool {
	if len(domains) == 0 {
		return nil
	}
	out := make(map[string]bool, len(domains))
	for _, d := range domains {
		if d = strings.TrimSpace(d); d != "" {
			out[d] = true
		}
	}
	return out
}

func encoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format("2006-01-02T15:04:05.000Z"))
	}
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.NameKey = "component"
	cfg.CallerKey = ""
	return cfg
}

func newConsoleCore(w zapcore.WriteSyncer) zapcore.Core {
	return zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig()), w, zapcore.DebugLevel)
}

func newJSONCore(w zapcore.WriteSyncer) zapcore.Core {
	return zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), w, zapcore.DebugLevel)
}

func current() *zap.Logger {
	backendMu.RLock()
	defer backendMu.RUnlock()
	return backend
}

// SetOutput redirects console logging to w. Passing nil restores stderr.
func SetOutput(w io.Writer) {
	ws := zapcore.Lock(os.Stderr)
	if w != nil {
		ws = zapcore.AddSync(w)
	}
	backendMu.Lock()
	defer backendMu.Unlock()
	backend = zap.New(newConsoleCore(ws))
}

// InitializeLogFile routes logs to a JSON-lines file in dir. When tee is set, console output
// on stderr is kept as well.
func InitializeLogFile(dir string, tee bool) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	name := fmt.Sprintf("%s/taskpilot-%s.log", dir, time.Now().UTC().Format("20060102-150405"))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	core := newJSONCore(zapcore.AddSync(f))
	if tee {
		core = zapcore.NewTee(core, newConsoleCore(zapcore.Lock(os.Stderr)))
	}

	backendMu.Lock()
	defer backendMu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = f
	backend = zap.New(core)
	return nil
}

// CloseLogFile flushes and closes the log file opened by InitializeLogFile.
func CloseLogFile() error {
	backendMu.Lock()
	defer backendMu.Unlock()
	_ = backend.Sync()
	if logFile == nil {
		return nil
	}
	err := logFile.Close()
	logFile = nil
	backend = zap.New(newConsoleCore(zapcore.Lock(os.Stderr)))
	if err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	return nil
}

// SetDebugConfig enables or disables debug output globally.
func SetDebugConfig(enabled bool) {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	debugConfig.Enabled = enabled
}

// SetDebugDomains restricts debug output to the given domains. Empty means all.
func SetDebugDomains(domains []string) {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	debugConfig.Domains = parseDomains(domains)
}

// IsDebugEnabled returns whether debug logging is enabled.
func IsDebugEnabled() bool {
	debugMutex.RLock()
	defer debugMutex.RUnlock()
	return debugConfig.Enabled
}

// IsDebugEnabledForDomain returns whether debug logging is enabled for a specific domain.
func IsDebugEnabledForDomain(domain string) bool {
	debugMutex.RLock()
	defer debugMutex.RUnlock()

	if !debugConfig.Enabled {
		return false
	}
	if debugConfig.Domains == nil {
		return true
	}
	return debugConfig.Domains[domain]
}

// Logger writes messages attributed to one component.
type Logger struct {
	component string
}

// NewLogger creates a logger for component.
func NewLogger(component string) *Logger {
	return &Logger{component: component}
}

func (l *Logger) log(level Level, format string, args ...any) {
	message := fmt.Sprintf(format, args...)
	z := current().Named(l.component)
	switch level {
	case LevelDebug:
		z.Debug(message)
	case LevelInfo:
		z.Info(message)
	case LevelWarn:
		z.Warn(message)
	case LevelError:
		z.Error(message)
	}
	recent.add(Entry{
		Timestamp: time.Now().UTC(),
		Component: l.component,
		Level:     level,
		Message:   message,
	})
}

// Debug logs when debug output is enabled.
func (l *Logger) Debug(format string, args ...any) {
	if !IsDebugEnabled() {
		return
	}
	l.log(LevelDebug, format, args...)
}

func (l *Logger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

// Component returns the component name.
func (l *Logger) Component() string {
	return l.component
}

// WithComponent returns a logger for a sub-component sharing the same backend.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{component: component}
}

// Debug logs a debug message with context and domain filtering.
//
//	logx.Debug(ctx, "engine", "step %d started", n)
func Debug(ctx context.Context, domain, format string, args ...any) {
	if !IsDebugEnabledForDomain(domain) {
		return
	}
	component := "unknown"
	if ctx != nil {
		if c, ok := ctx.Value(componentKey{}).(string); ok && c != "" {
			component = c
		}
	}
	NewLogger(component).log(LevelDebug, "[%s] %s", domain, fmt.Sprintf(format, args...))
}

// DebugState logs state transition information with context and domain.
func DebugState(ctx context.Context, domain, action, state string, extra ...string) {
	extraInfo := ""
	if len(extra) > 0 {
		extraInfo = " - " + extra[0]
	}
	Debug(ctx, domain, "State %s: %s%s", action, state, extraInfo)
}

//nolint:gochecknoglobals // Convenience logger for package-level helpers
var defaultLogger = NewLogger("system")

func Infof(format string, args ...any) {
	defaultLogger.Info(format, args...)
}

func Warnf(format string, args ...any) {
	defaultLogger.Warn(format, args...)
}

// Errorf logs and returns the formatted error.
//
//	err := logx.Errorf("setup failed: %w", err)
func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	defaultLogger.Error("%s", err.Error())
	return err
}

// Wrap logs msg + ": " + err.Error() and returns fmt.Errorf("%s: %w", msg, err).
//
//	if err != nil { return logx.Wrap(err, "open history db") }
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrappedErr := fmt.Errorf("%s: %w", msg, err)
	defaultLogger.Error("%s", wrappedErr.Error())
	return wrappedErr
}
