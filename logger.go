package uas

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
)

// Logger is the structured logger used across the package.
type Logger = glog.Logger

// LoggerProvider hands out named loggers.
type LoggerProvider interface {
	GetLogger(name string) Logger
}

func defaultLogger() *glog.BaseLogger {
	return glog.NewLogger(
		glog.WithName("uas"),
		glog.WithLoggerTypePretty(),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
	)
}

// ResolveLogger returns the provider and logger a component should use.
// A provider that yields a logger for name wins, then the explicit logger,
// then the package default.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) (LoggerProvider, Logger) {
	if provider != nil {
		if resolved := provider.GetLogger(name); resolved != nil {
			return provider, resolved
		}
	}

	if logger != nil {
		return fixedLoggerProvider{logger: logger}, logger
	}

	base := defaultLogger()
	return glog.ProviderFromLogger(base), base.GetLogger(name)
}

type fixedLoggerProvider struct {
	logger Logger
}

func (p fixedLoggerProvider) GetLogger(string) Logger {
	return p.logger
}

type noopLogger struct{}

func (noopLogger) Trace(string, ...any)                 {}
func (noopLogger) Debug(string, ...any)                 {}
func (noopLogger) Info(string, ...any)                  {}
func (noopLogger) Warn(string, ...any)                  {}
func (noopLogger) Error(string, ...any)                 {}
func (noopLogger) Fatal(string, ...any)                 {}
func (n noopLogger) WithContext(context.Context) Logger { return n }

// NoopLogger discards every entry. Handy in tests.
func NoopLogger() Logger {
	return noopLogger{}
}
