// internal/logger/styled.go
package logger

import (
	"log/slog"

	"github.com/thushan/sidecarproxy/internal/core/domain"
	"github.com/thushan/sidecarproxy/theme"
)

// StyledLogger wraps a base slog.Logger with theme-aware helpers used
// throughout the data plane to highlight destination keys, authorities and
// endpoint health the same way a plain logger highlights nothing at all.
// PrettyStyledLogger and PlainStyledLogger are its two implementations,
// selected by Config.PrettyLogs.
type StyledLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	ResetLine()

	InfoWithStatus(msg string, status string, args ...any)
	InfoWithCount(msg string, count int, args ...any)
	InfoWithEndpoint(msg string, endpoint string, args ...any)
	InfoWithHealthCheck(msg string, endpoint string, args ...any)
	InfoWithNumbers(msg string, numbers ...int64)
	WarnWithEndpoint(msg string, endpoint string, args ...any)
	ErrorWithEndpoint(msg string, endpoint string, args ...any)
	InfoHealthy(msg string, endpoint string, args ...any)
	InfoHealthStatus(msg string, name string, status domain.EndpointStatus, args ...any)
	InfoConfigChange(oldName, newName string)

	InfoWithContext(msg string, endpoint string, ctx LogContext)
	WarnWithContext(msg string, endpoint string, ctx LogContext)
	ErrorWithContext(msg string, endpoint string, ctx LogContext)

	GetUnderlying() *slog.Logger
	WithRequestID(requestID string) StyledLogger
	WithAttrs(attrs ...slog.Attr) StyledLogger
	With(args ...any) StyledLogger
}

// LogContext carries the split between what goes to the console (UserArgs)
// and what additionally goes to the rotating file sink (DetailedArgs), so a
// single call site can log tersely on a TTY and verbosely to disk.
type LogContext struct {
	UserArgs     []any
	DetailedArgs []any
}

// toInterfaceSlice converts a string slice to an interface slice, shared by
// both StyledLogger implementations' InfoWithNumbers.
func toInterfaceSlice(strs []string) []interface{} {
	result := make([]interface{}, len(strs))
	for i, s := range strs {
		result[i] = s
	}
	return result
}

// NewWithTheme creates both a regular logger and a styled logger, picking
// the pretty (pterm-backed) or plain implementation per Config.PrettyLogs.
func NewWithTheme(cfg *Config) (*slog.Logger, StyledLogger, func(), error) {
	baseLogger, cleanup, err := New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	appTheme := theme.GetTheme(cfg.Theme)

	var styledLogger StyledLogger
	if cfg.PrettyLogs {
		styledLogger = NewPrettyStyledLogger(baseLogger, appTheme)
	} else {
		styledLogger = NewPlainStyledLogger(baseLogger)
	}

	return baseLogger, styledLogger, cleanup, nil
}
