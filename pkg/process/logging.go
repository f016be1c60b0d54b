// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

package process

import (
	"go.uber.org/zap"
)

// NewLogger builds a zap logger for the given disposition; "dev" gets
// console output with debug level, anything else gets production JSON.
func NewLogger(disposition string, fields ...zap.Field) (*zap.Logger, error) {
	var config zap.Config
	if disposition == "dev" {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}

	logger, err := config.Build(zap.Fields(fields...))
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return logger, nil
}

// SetGlobalLogger replaces the zap globals and the stdlib log output.
// The returned function restores the previous state.
func SetGlobalLogger(logger *zap.Logger) func() {
	undoGlobals := zap.ReplaceGlobals(logger)
	undoStd := zap.RedirectStdLog(logger)
	return func() {
		undoStd()
		undoGlobals()
	}
}
