// Package logger builds the shared zap logger. Everything long-running
// (engine ticks, queue consumers, channel sends) logs through it so
// that failures in background work are visible without a debugger.
package logger

import (
	"go.uber.org/zap"
)

// New returns a configured *zap.Logger. In development the output is
// human-readable console encoding at debug level; anywhere else it is
// production JSON at info level.
func New(env string) (*zap.Logger, error) {
	if env == "development" || env == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
