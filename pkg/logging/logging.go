// Package logging builds the service logger and the error handler the
// selector reports unexpected failures to.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap logger. The "local" env gets the development console
// encoder, everything else gets production JSON.
func New(serviceName, env string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if env == "local" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build(
		zap.Fields(
			zap.String("service", serviceName),
			zap.String("env", env),
		),
	)
}

// ErrorRecorder receives a count of unexpected failures.
type ErrorRecorder interface {
	RecordError(component, operation string)
}

// ErrorHandler logs unexpected failures and counts them.
// It implements betting.ErrorHandler.
type ErrorHandler struct {
	log      *zap.Logger
	recorder ErrorRecorder
}

// NewErrorHandler creates an error handler. recorder may be nil.
func NewErrorHandler(log *zap.Logger, recorder ErrorRecorder) *ErrorHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &ErrorHandler{log: log, recorder: recorder}
}

// HandleError logs err tagged with component and operation.
func (h *ErrorHandler) HandleError(err error, component, operation string) {
	h.log.Error("operation failed",
		zap.Error(err),
		zap.String("component", component),
		zap.String("operation", operation),
	)
	if h.recorder != nil {
		h.recorder.RecordError(component, operation)
	}
}
