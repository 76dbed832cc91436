package util

import (
	"fmt"

	"github.com/pion/logging"
)

// PionLoggerFactory routes the RTC engine's internal logs through the pterm
// logger. Engine debug and trace output only shows with EnableTrace, since
// pion is chatty at those levels.
type PionLoggerFactory struct{}

var _ logging.LoggerFactory = PionLoggerFactory{}

// NewLogger returns a leveled logger tagged with the pion scope.
func (PionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return pionLogger{scope: scope}
}

type pionLogger struct {
	scope string
}

func (l pionLogger) tag(msg string) string {
	return fmt.Sprintf("[pion/%s] %s", l.scope, msg)
}

func (l pionLogger) Trace(msg string) { LogTrace("%s", l.tag(msg)) }
func (l pionLogger) Tracef(format string, args ...interface{}) {
	LogTrace("%s", l.tag(fmt.Sprintf(format, args...)))
}

func (l pionLogger) Debug(msg string) { LogTrace("%s", l.tag(msg)) }
func (l pionLogger) Debugf(format string, args ...interface{}) {
	LogTrace("%s", l.tag(fmt.Sprintf(format, args...)))
}

func (l pionLogger) Info(msg string) { LogDebug("%s", l.tag(msg)) }
func (l pionLogger) Infof(format string, args ...interface{}) {
	LogDebug("%s", l.tag(fmt.Sprintf(format, args...)))
}

func (l pionLogger) Warn(msg string) { LogWarning("%s", l.tag(msg)) }
func (l pionLogger) Warnf(format string, args ...interface{}) {
	LogWarning("%s", l.tag(fmt.Sprintf(format, args...)))
}

func (l pionLogger) Error(msg string) { LogError("%s", l.tag(msg)) }
func (l pionLogger) Errorf(format string, args ...interface{}) {
	LogError("%s", l.tag(fmt.Sprintf(format, args...)))
}
