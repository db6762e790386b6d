package paymentprovider

import (
	"fmt"
	"log/slog"
)

// LeveledLogger передаёт логи SDK провайдера в slog.
type LeveledLogger struct {
	log *slog.Logger
}

// NewLeveledLogger создаёт адаптер логгера для SDK.
func NewLeveledLogger(log *slog.Logger) *LeveledLogger {
	return &LeveledLogger{log: log.With(slog.String("component", "stripe"))}
}

// Debugf пишет отладочное сообщение.
func (l *LeveledLogger) Debugf(format string, v ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, v...))
}

// Infof пишет информационное сообщение.
func (l *LeveledLogger) Infof(format string, v ...interface{}) {
	l.log.Info(fmt.Sprintf(format, v...))
}

// Warnf пишет предупреждение.
func (l *LeveledLogger) Warnf(format string, v ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, v...))
}

// Errorf пишет ошибку.
func (l *LeveledLogger) Errorf(format string, v ...interface{}) {
	l.log.Error(fmt.Sprintf(format, v...))
}
