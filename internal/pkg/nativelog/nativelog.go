// Package nativelog builds the service logger: stdout plus a daily log file.
package nativelog

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	defaultLogFilePerm = 0o644
	defaultLogDirPerm  = 0o755
)

// Options configures NewZapLogger.
type Options struct {
	// Dir receives one file per day. Empty disables file output.
	Dir string
	// Production switches to JSON output at info level.
	Production bool
	// Stdout overrides the console sink, mainly for tests.
	Stdout zapcore.WriteSyncer
}

// Filename returns the daily log filename for now.
func Filename(now time.Time) string {
	return "courier_" + now.Format("2006-01-02") + ".log"
}

// Writer appends to the daily log file in dir, rolling over at midnight.
type Writer struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
}

func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, defaultLogDirPerm); err != nil {
		return nil, err
	}
	return &Writer{dir: dir, now: time.Now}, nil
}

func (w *Writer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	path := filepath.Join(w.dir, Filename(w.now()))
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, defaultLogFilePerm)
	if err != nil {
		return 0, err
	}
	n, writeErr := file.Write(p)
	closeErr := file.Close()
	if writeErr != nil {
		return n, writeErr
	}
	return n, closeErr
}

func (w *Writer) Sync() error { return nil }

// NewZapLogger creates the process logger.
func NewZapLogger(opts Options) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(zap.DebugLevel)
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	if opts.Production {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
		encoderConfig = zap.NewProductionEncoderConfig()
	}
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")

	var encoder zapcore.Encoder
	if opts.Production {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	stdout := opts.Stdout
	if stdout == nil {
		stdout = zapcore.Lock(os.Stdout)
	}
	cores := []zapcore.Core{zapcore.NewCore(encoder, stdout, level)}
	if opts.Dir != "" {
		writer, err := NewWriter(opts.Dir)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(writer), level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	_ = zap.RedirectStdLog(logger)
	return logger, nil
}
