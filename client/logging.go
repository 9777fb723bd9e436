package client

import (
	"github.com/pion/logging"
	"github.com/sirupsen/logrus"
)

// LoggerFactory routes pion's internal logging through logrus.
type LoggerFactory struct {
	Logger *logrus.Logger
}

func NewLoggerFactory(l *logrus.Logger) *LoggerFactory {
	if l == nil {
		l = logrus.StandardLogger()
	}

	return &LoggerFactory{
		Logger: l,
	}
}

func (f *LoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &scopedLogger{
		entry: f.Logger.WithField("scope", scope),
	}
}

type scopedLogger struct {
	entry *logrus.Entry
}

func (l *scopedLogger) Trace(msg string)                          { l.entry.Trace(msg) }
func (l *scopedLogger) Tracef(format string, args ...interface{}) { l.entry.Tracef(format, args...) }
func (l *scopedLogger) Debug(msg string)                          { l.entry.Debug(msg) }
func (l *scopedLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *scopedLogger) Info(msg string)                           { l.entry.Info(msg) }
func (l *scopedLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *scopedLogger) Warn(msg string)                           { l.entry.Warn(msg) }
func (l *scopedLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *scopedLogger) Error(msg string)                          { l.entry.Error(msg) }
func (l *scopedLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
