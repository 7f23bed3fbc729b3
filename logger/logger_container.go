package logger

import (
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// ILoggerContainer caches one named logger per component, so every call
// site asking for the same name (e.g. "sync", "archive") gets back the
// same configured instance instead of constructing its own.
type ILoggerContainer interface {
	GetLogger(s string) (hclog.Logger, error)
}

// LoggerContainerImpl builds each component's logger from a shared
// LoggerConfig, with sinks (the Discord alerting sink, spec §7
// EXPANSION) registered against every one of them.
type LoggerContainerImpl struct {
	lock sync.Mutex

	loggers map[string]hclog.Logger
	config  LoggerConfig
	sinks   []hclog.SinkAdapter
}

// NewLoggerContainer builds a LoggerContainerImpl. sinks, if any, are
// registered against every logger it constructs.
func NewLoggerContainer(config LoggerConfig, sinks ...hclog.SinkAdapter) *LoggerContainerImpl {
	return &LoggerContainerImpl{
		loggers: map[string]hclog.Logger{},
		config:  config,
		sinks:   sinks,
	}
}

func (l *LoggerContainerImpl) GetLogger(s string) (hclog.Logger, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	logger, exists := l.loggers[s]
	if exists {
		return logger, nil
	}

	nc := l.config
	nc.Name = s

	if nc.LogFilePath != "" {
		nc.LogFilePath = filepath.Join(nc.LogFilePath, s+".log")
	}

	var (
		newLogger hclog.Logger
		err       error
	)

	if len(l.sinks) > 0 {
		newLogger, err = NewLoggerWithSinks(nc, l.sinks...)
	} else {
		newLogger, err = NewLogger(nc)
	}

	if err != nil {
		return nil, err
	}

	l.loggers[s] = newLogger

	return newLogger, nil
}

type NullLoggerContainer struct{}

func NewNullLoggerContainer() *NullLoggerContainer {
	return &NullLoggerContainer{}
}

func (l *NullLoggerContainer) GetLogger(s string) (hclog.Logger, error) {
	return hclog.NewNullLogger(), nil
}
