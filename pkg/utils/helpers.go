package utils

import (
	"go.uber.org/zap"
)

// SafeGo executes a function in a goroutine with panic recovery
func SafeGo(logger *zap.Logger, fn func()) {
	go func() {
		defer Recover(logger)
		fn()
	}()
}

// Recover logs a recovered panic. It must be deferred directly.
func Recover(logger *zap.Logger) {
	if r := recover(); r != nil {
		logger.Error("Panic recovered in goroutine",
			zap.Any("panic", r),
			zap.Stack("stack"))
	}
}
