package observability

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EventType defines the category of a transcript entry.
type EventType string

const (
	EventTypeCommentary EventType = "commentary"
	EventTypeReport     EventType = "report"
)

// Event is one line of the reasoning-service transcript.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Exchange describes one call to the reasoning service.
type Exchange struct {
	Provider   string        `json:"provider"`
	Model      string        `json:"model"`
	System     string        `json:"system"`
	Prompt     string        `json:"prompt"`
	Images     int           `json:"images"`
	Response   string        `json:"response"`
	StopReason string        `json:"stop_reason,omitempty"`
	Truncated  bool          `json:"truncated"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// Logger is a zap logger that also keeps a JSONL transcript of reasoning
// calls on disk.
type Logger struct {
	*zap.Logger

	mu             sync.Mutex
	transcriptPath string
	maxSize        int64
}

// NewLogger builds a production zap logger at level and, when
// transcriptPath is not empty, a transcript writer.
func NewLogger(level, transcriptPath string) (*Logger, error) {
	cfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	z, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return &Logger{
		Logger:         z,
		transcriptPath: transcriptPath,
		maxSize:        10 * 1024 * 1024, // 10MB
	}, nil
}

// NewNopLogger discards everything.
func NewNopLogger() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// Zap returns the underlying logger, tolerating a nil receiver.
func (l *Logger) Zap() *zap.Logger {
	if l == nil || l.Logger == nil {
		return zap.NewNop()
	}
	return l.Logger
}

// LogExchange records a reasoning call in the transcript and at debug level.
func (l *Logger) LogExchange(kind EventType, sessionID string, ex Exchange) {
	if l == nil {
		return
	}
	l.Zap().Debug("reasoning exchange",
		zap.String("kind", string(kind)),
		zap.String("session", sessionID),
		zap.String("provider", ex.Provider),
		zap.String("model", ex.Model),
		zap.Int("images", ex.Images),
		zap.Int("response_chars", len(ex.Response)),
		zap.String("stop_reason", ex.StopReason),
		zap.Duration("took", ex.Duration))

	if l.transcriptPath == "" {
		return
	}
	data, err := json.Marshal(Event{
		Type:      kind,
		SessionID: sessionID,
		Data:      ex,
		Timestamp: time.Now(),
	})
	if err != nil {
		l.Zap().Warn("failed to marshal transcript event", zap.Error(err))
		return
	}
	l.writeToFile(data)
}

func (l *Logger) writeToFile(data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.transcriptPath), 0755); err != nil {
		l.Zap().Warn("failed to create transcript directory", zap.Error(err))
		return
	}

	// Check size before writing
	info, err := os.Stat(l.transcriptPath)
	if err == nil && info.Size() > l.maxSize {
		l.rotate()
	}

	f, err := os.OpenFile(l.transcriptPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		l.Zap().Warn("failed to open transcript file", zap.Error(err))
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		l.Zap().Warn("failed to write transcript", zap.Error(err))
	}
}

func (l *Logger) rotate() {
	// Simple rotation: keep one .old file
	oldPath := l.transcriptPath + ".old"
	_ = os.Remove(oldPath)
	_ = os.Rename(l.transcriptPath, oldPath)
}
