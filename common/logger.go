package common

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity level of a log message.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel converts a configuration value ("debug", "info", ...) into
// a LogLevel. Unknown values map to LevelInfo and ok=false.
func ParseLogLevel(s string) (level LogLevel, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, true
	case "info", "":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	default:
		return LevelInfo, false
	}
}

// AppLogger is the process-wide diagnostic logger. Lines go to the console
// and, once EnableFileLogging succeeds, to a size-rotated file.
type AppLogger struct {
	mu      sync.Mutex
	level   LogLevel
	console io.Writer
	file    *rotatingFile
	logger  *log.Logger

	maxFileSize int64
	maxBackups  int
}

// LogConfig holds configuration options for the logger.
type LogConfig struct {
	Level       LogLevel
	EnableFile  bool
	Dir         string // defaults to LogDir()
	MaxFileSize int64  // in bytes, default 5MB
	MaxBackups  int    // number of rotated files to keep, default 5
	Quiet       bool   // no console output, file only
}

var (
	defaultLogger *AppLogger
	loggerOnce    sync.Once
)

const (
	defaultMaxFileSize = 5 * 1024 * 1024 // 5MB
	defaultMaxBackups  = 5

	// frames between the original caller and AppLogger.log
	methodDepth = 2
)

func newAppLogger(level LogLevel, console io.Writer) *AppLogger {
	l := &AppLogger{
		level:       level,
		console:     console,
		maxFileSize: defaultMaxFileSize,
		maxBackups:  defaultMaxBackups,
	}
	l.rebuildLocked()
	return l
}

// GetLogger returns the singleton logger instance.
func GetLogger() *AppLogger {
	loggerOnce.Do(func() {
		defaultLogger = newAppLogger(LevelInfo, os.Stdout)
	})
	return defaultLogger
}

// InitLogger configures the default logger. Call it once during startup.
func InitLogger(config LogConfig) error {
	logger := GetLogger()
	logger.SetLevel(config.Level)

	logger.mu.Lock()
	if config.MaxFileSize > 0 {
		logger.maxFileSize = config.MaxFileSize
	}
	if config.MaxBackups > 0 {
		logger.maxBackups = config.MaxBackups
	}
	logger.mu.Unlock()

	if config.Quiet {
		logger.SetOutput(nil)
	}

	if !config.EnableFile {
		return nil
	}
	dir := config.Dir
	if dir == "" {
		d, err := LogDir()
		if err != nil {
			return err
		}
		dir = d
	}
	return logger.EnableFileLogging(dir)
}

// SetLevel sets the minimum log level.
func (l *AppLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// SetOutput replaces the console destination. nil silences the console
// while keeping file output.
func (l *AppLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.console = w
	l.rebuildLocked()
}

// EnableFileLogging adds a rotated log file in logDir.
func (l *AppLogger) EnableFileLogging(logDir string) error {
	if logDir == "" {
		return errors.New("log directory is empty")
	}
	if isSymlink(logDir) {
		return fmt.Errorf("%w: log directory is a symlink", ErrPermissionDenied)
	}
	if err := EnsureDir(logDir); err != nil {
		return err
	}

	logPath := filepath.Join(logDir, LogFileName)
	if isSymlink(logPath) {
		return fmt.Errorf("%w: log file is a symlink", ErrPermissionDenied)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := openRotatingFile(logPath, l.maxFileSize, l.maxBackups)
	if err != nil {
		return err
	}
	if l.file != nil {
		l.file.Close()
	}
	l.file = file
	l.rebuildLocked()
	return nil
}

// FilePath returns the active log file, or "" when file logging is off.
func (l *AppLogger) FilePath() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return ""
	}
	return l.file.path
}

func (l *AppLogger) rebuildLocked() {
	var writers []io.Writer
	if l.console != nil {
		writers = append(writers, l.console)
	}
	if l.file != nil {
		writers = append(writers, l.file)
	}
	switch len(writers) {
	case 0:
		l.logger = log.New(io.Discard, "", 0)
	case 1:
		l.logger = log.New(writers[0], "", 0)
	default:
		l.logger = log.New(io.MultiWriter(writers...), "", 0)
	}
}

// LogDir returns the default log directory.
func LogDir() (string, error) {
	dir, err := GetDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs"), nil
}

func isSymlink(path string) bool {
	info, err := os.Lstat(path)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeSymlink != 0
}

func (l *AppLogger) log(depth int, level LogLevel, msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}

	caller := "???"
	if _, file, line, ok := runtime.Caller(depth); ok {
		caller = fmt.Sprintf("%s:%d", filepath.Base(file), line)
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	l.logger.Printf("%s [%s] %s: %s", time.Now().Format("2006/01/02 15:04:05"), level, caller, msg)
}

// Debug logs a debug message.
func (l *AppLogger) Debug(msg string, args ...interface{}) {
	l.log(methodDepth, LevelDebug, msg, args...)
}

// Info logs an informational message.
func (l *AppLogger) Info(msg string, args ...interface{}) {
	l.log(methodDepth, LevelInfo, msg, args...)
}

// Warn logs a warning message.
func (l *AppLogger) Warn(msg string, args ...interface{}) {
	l.log(methodDepth, LevelWarn, msg, args...)
}

// Error logs an error message.
func (l *AppLogger) Error(msg string, args ...interface{}) {
	l.log(methodDepth, LevelError, msg, args...)
}

// Logf logs at an arbitrary level.
func (l *AppLogger) Logf(level LogLevel, msg string, args ...interface{}) {
	l.log(methodDepth, level, msg, args...)
}

// Tagged logs a feedback value under its tag. Components use it when no
// feedback log is configured.
func (l *AppLogger) Tagged(level LogLevel, tag string, value any) {
	l.log(methodDepth, level, "[%s] %v", tag, value)
}

// LogDebug logs a debug message to the default logger.
func LogDebug(msg string, args ...interface{}) {
	GetLogger().log(methodDepth, LevelDebug, msg, args...)
}

// LogInfo logs an info message to the default logger.
func LogInfo(msg string, args ...interface{}) {
	GetLogger().log(methodDepth, LevelInfo, msg, args...)
}

// LogWarn logs a warning message to the default logger.
func LogWarn(msg string, args ...interface{}) {
	GetLogger().log(methodDepth, LevelWarn, msg, args...)
}

// LogError logs an error message to the default logger.
func LogError(msg string, args ...interface{}) {
	GetLogger().log(methodDepth, LevelError, msg, args...)
}

// Close closes the log file. Console output continues.
func (l *AppLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.rebuildLocked()
	return err
}

// CloseLogger closes the default logger.
func CloseLogger() error {
	return GetLogger().Close()
}
