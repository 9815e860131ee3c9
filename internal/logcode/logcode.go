// Package logcode defines the stable message codes pilethost reports
// notable events under, and the single call sites log them with.
package logcode

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Code is a stable message identifier. Wording of the accompanying message
// may change; the code does not.
type Code string

// Message codes.
const (
	GeneralDebug          Code = "generalDebug_0003"
	ResolverStrategyFail  Code = "resolverStrategyFailed_0104"
	PluginLoadFailure     Code = "pluginCouldNotBeLoaded_0205"
	PluginInvokeFailure   Code = "pluginCouldNotBeInvoked_0206"
	DataOwnershipConflict Code = "dataOwnershipConflict_0301"
	StorageFailure        Code = "storageFailure_0302"
	UnknownDataTarget     Code = "unknownDataTarget_0303"
)

// Field returns the zap field carrying c.
func Field(c Code) zap.Field {
	return zap.String("code", string(c))
}

// Log writes msg at level with the code field prepended to fields.
func Log(logger *zap.Logger, level zapcore.Level, c Code, msg string, fields ...zap.Field) {
	if ce := logger.Check(level, msg); ce != nil {
		ce.Write(append([]zap.Field{Field(c)}, fields...)...)
	}
}

// Debug logs c at debug level.
func Debug(logger *zap.Logger, c Code, msg string, fields ...zap.Field) {
	Log(logger, zapcore.DebugLevel, c, msg, fields...)
}

// Error logs c at error level.
func Error(logger *zap.Logger, c Code, msg string, fields ...zap.Field) {
	Log(logger, zapcore.ErrorLevel, c, msg, fields...)
}
