// Package walog adapts slog loggers to the whatsmeow logging interface.
package walog

import (
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"
)

type adapter struct {
	log *slog.Logger
}

// Wrap returns a waLog.Logger backed by the given slog logger.
func Wrap(logger *slog.Logger) waLog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &adapter{log: logger}
}

func (a *adapter) Debugf(msg string, args ...interface{}) {
	a.log.Debug(fmt.Sprintf(msg, args...))
}

func (a *adapter) Infof(msg string, args ...interface{}) {
	a.log.Info(fmt.Sprintf(msg, args...))
}

func (a *adapter) Warnf(msg string, args ...interface{}) {
	a.log.Warn(fmt.Sprintf(msg, args...))
}

func (a *adapter) Errorf(msg string, args ...interface{}) {
	a.log.Error(fmt.Sprintf(msg, args...))
}

func (a *adapter) Sub(module string) waLog.Logger {
	return &adapter{log: a.log.With("module", module)}
}

var _ waLog.Logger = (*adapter)(nil)
