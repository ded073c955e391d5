package logger

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// ZerologLogger writes one JSON record per message through rs/zerolog.
type ZerologLogger struct {
	zl zerolog.Logger
}

// NewZerologLogger creates a JSON logger writing to w.
func NewZerologLogger(w io.Writer, level Level) *ZerologLogger {
	zl := zerolog.New(w).With().Timestamp().Str("service", "edupoll").Logger()
	return &ZerologLogger{zl: zl.Level(zerologLevel(level))}
}

func zerologLevel(level Level) zerolog.Level {
	switch level {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarning:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (z *ZerologLogger) Debug(format string, args ...interface{}) {
	z.zl.Debug().Msg(fmt.Sprintf(format, args...))
}

func (z *ZerologLogger) Info(format string, args ...interface{}) {
	z.zl.Info().Msg(fmt.Sprintf(format, args...))
}

func (z *ZerologLogger) Warning(format string, args ...interface{}) {
	z.zl.Warn().Msg(fmt.Sprintf(format, args...))
}

func (z *ZerologLogger) Error(format string, args ...interface{}) {
	z.zl.Error().Msg(fmt.Sprintf(format, args...))
}

// Close is a no-op; the underlying writer is owned by the caller.
func (z *ZerologLogger) Close() error {
	return nil
}

var _ Logger = (*ZerologLogger)(nil)
