package logger

import (
	"context"
	"os"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a zap sugared logger tagged with the service that owns it.
type Logger struct {
	*zap.SugaredLogger
	serviceName string
}

// NewLogger creates a logger for the named service. APP_ENV=production
// switches to JSON output at info level.
func NewLogger(serviceName string) *Logger {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	if env == "production" {
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	logLevel := zap.InfoLevel
	if env == "development" {
		logLevel = zap.DebugLevel
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), zap.NewAtomicLevelAt(logLevel))
	zapLogger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))

	return &Logger{
		SugaredLogger: zapLogger.Sugar().With("service", serviceName),
		serviceName:   serviceName,
	}
}

// Nop returns a logger that discards everything. Used by tests.
func Nop() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar(), serviceName: "nop"}
}

// WithContext adds the chi request id when present.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if requestID := middleware.GetReqID(ctx); requestID != "" {
		return &Logger{
			SugaredLogger: l.With("request_id", requestID),
			serviceName:   l.serviceName,
		}
	}
	return l
}

func (l *Logger) WithUser(userID string) *Logger {
	return &Logger{
		SugaredLogger: l.With("user_id", userID),
		serviceName:   l.serviceName,
	}
}

// Named returns a child logger for another service sharing the same core.
func (l *Logger) Named(serviceName string) *Logger {
	return &Logger{
		SugaredLogger: l.Desugar().Sugar().With("component", serviceName),
		serviceName:   serviceName,
	}
}

func (l *Logger) Fatal(msg string, keysAndValues ...interface{}) {
	l.Fatalw(msg, keysAndValues...)
}

func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.Errorw(msg, keysAndValues...)
}

func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.Warnw(msg, keysAndValues...)
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.Infow(msg, keysAndValues...)
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.Debugw(msg, keysAndValues...)
}

func (l *Logger) Sync() error {
	return l.SugaredLogger.Sync()
}
