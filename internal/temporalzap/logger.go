// Package temporalzap adapts a zap logger to the Temporal SDK's logger
// interface so worker and workflow logs share one structured output.
package temporalzap

import (
	"fmt"
	"reflect"

	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

type adapter struct {
	logger *zap.Logger
}

// New wraps a zap logger for the Temporal SDK.
func New(logger *zap.Logger) log.Logger {
	return &adapter{logger: logger}
}

func (a *adapter) Debug(msg string, keyvals ...interface{}) {
	a.logger.Debug(msg, fields(keyvals)...)
}

func (a *adapter) Info(msg string, keyvals ...interface{}) {
	a.logger.Info(msg, fields(keyvals)...)
}

func (a *adapter) Warn(msg string, keyvals ...interface{}) {
	a.logger.Warn(msg, fields(keyvals)...)
}

func (a *adapter) Error(msg string, keyvals ...interface{}) {
	a.logger.Error(msg, fields(keyvals)...)
}

// With satisfies log.WithLogger so SDK-added context survives.
func (a *adapter) With(keyvals ...interface{}) log.Logger {
	return &adapter{logger: a.logger.With(fields(keyvals)...)}
}

func fields(keyvals []interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		out = append(out, safeField(key, keyvals[i+1]))
	}
	return out
}

// safeField guards against values zap.Any cannot serialize; the SDK passes
// arbitrary payloads through key-value pairs.
func safeField(key string, val interface{}) (field zap.Field) {
	defer func() {
		if r := recover(); r != nil {
			field = zap.String(key, fmt.Sprintf("<unserializable: %v>", r))
		}
	}()

	if val == nil {
		return zap.String(key, "<nil>")
	}
	switch reflect.ValueOf(val).Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Invalid:
		return zap.String(key, fmt.Sprintf("<%s>", reflect.ValueOf(val).Kind()))
	default:
		return zap.Any(key, val)
	}
}
