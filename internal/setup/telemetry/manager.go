package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robalyx/arbiter/internal/setup/config"
	"github.com/robalyx/arbiter/internal/setup/telemetry/logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceType represents the type of service being initialized.
type ServiceType int

const (
	// ServiceWorker runs the appeal engine.
	ServiceWorker ServiceType = iota
	// ServiceCLI covers the one-shot admin commands.
	ServiceCLI
)

// String returns the component name used for log files.
func (s ServiceType) String() string {
	switch s {
	case ServiceWorker:
		return "worker"
	case ServiceCLI:
		return "cli"
	}
	return "unknown"
}

const sessionDirFormat = "2006-01-02_15-04-05"

// Manager handles the creation and management of log files and directories.
// Every run gets its own timestamped session directory.
type Manager struct {
	instanceID    string
	componentName string
	logDir        string
	level         string
	maxLogsToKeep int
	maxLogLines   int
	tracing       bool

	mu                sync.Mutex
	currentSessionDir string
	writers           []*logger.LogRotator
}

// NewManager creates a new Manager instance. Error logs are also forwarded
// to OpenTelemetry when tracing is enabled.
func NewManager(serviceType ServiceType, logDir string, debugCfg *config.Debug, tracing bool) *Manager {
	return &Manager{
		instanceID:    uuid.New().String(),
		componentName: serviceType.String(),
		logDir:        logDir,
		level:         debugCfg.LogLevel,
		maxLogsToKeep: debugCfg.MaxLogsToKeep,
		maxLogLines:   debugCfg.MaxLogLines,
		tracing:       tracing,
	}
}

// GetLoggers initializes the main and database loggers.
func (lm *Manager) GetLoggers() (*zap.Logger, *zap.Logger, error) {
	if err := lm.setupLogDirectories(); err != nil {
		return nil, nil, err
	}

	mainLogger, err := lm.initLogger(filepath.Join(lm.currentSessionDir, lm.componentName+".log"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize main logger: %w", err)
	}

	dbLogger, err := lm.initLogger(filepath.Join(lm.currentSessionDir, "database.log"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database logger: %w", err)
	}

	mainLogger = mainLogger.With(zap.String("instanceID", lm.instanceID))

	return mainLogger, dbLogger, nil
}

// GetWorkerLogger creates a logger with its own file in the session directory.
func (lm *Manager) GetWorkerLogger(name string) *zap.Logger {
	l, err := lm.initLogger(filepath.Join(lm.GetCurrentSessionDir(), name+".log"))
	if err != nil {
		return zap.NewNop()
	}
	return l.Named(name)
}

// GetCurrentSessionDir returns the current session directory.
func (lm *Manager) GetCurrentSessionDir() string {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.currentSessionDir != "" {
		return lm.currentSessionDir
	}

	sessionDir := filepath.Join(lm.logDir, time.Now().Format(sessionDirFormat))
	if err := os.MkdirAll(sessionDir, os.ModePerm); err != nil {
		return lm.logDir
	}
	lm.currentSessionDir = sessionDir

	return sessionDir
}

// GetInstanceID returns the unique identifier of this run.
func (lm *Manager) GetInstanceID() string {
	return lm.instanceID
}

// Close closes every log file opened by the manager.
func (lm *Manager) Close() {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	for _, w := range lm.writers {
		_ = w.Sync()
		_ = w.Close()
	}
	lm.writers = nil
}

// setupLogDirectories rotates old sessions and creates a new session directory.
func (lm *Manager) setupLogDirectories() error {
	if err := os.MkdirAll(lm.logDir, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	if err := lm.rotateLogSessions(); err != nil {
		return fmt.Errorf("failed to rotate log sessions: %w", err)
	}

	sessionDir := filepath.Join(lm.logDir, time.Now().Format(sessionDirFormat))
	if err := os.MkdirAll(sessionDir, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	lm.mu.Lock()
	lm.currentSessionDir = sessionDir
	lm.mu.Unlock()

	return nil
}

// initLogger creates a zap logger writing to a line-capped file.
func (lm *Manager) initLogger(path string) (*zap.Logger, error) {
	zapLevel, err := zapcore.ParseLevel(lm.level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	writer, err := logger.NewLogRotator(path, lm.maxLogLines)
	if err != nil {
		return nil, err
	}

	lm.mu.Lock()
	lm.writers = append(lm.writers, writer)
	lm.mu.Unlock()

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(writer), zapLevel),
	}
	if lm.tracing {
		cores = append(cores, NewCore(zapcore.ErrorLevel))
	}

	return zap.New(
		zapcore.NewTee(cores...),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	), nil
}

// rotateLogSessions removes the oldest sessions beyond maxLogsToKeep.
func (lm *Manager) rotateLogSessions() error {
	sessions, err := filepath.Glob(filepath.Join(lm.logDir, "*"))
	if err != nil {
		return err
	}

	if lm.maxLogsToKeep <= 0 || len(sessions) < lm.maxLogsToKeep {
		return nil
	}

	// Session names are timestamps so lexical order is chronological
	slices.Sort(sessions)

	// Leave room for the session about to be created
	toDelete := len(sessions) - lm.maxLogsToKeep + 1
	for _, session := range sessions[:toDelete] {
		if err := os.RemoveAll(session); err != nil {
			return err
		}
	}

	return nil
}
