package betting

// EventValidationFailed is emitted once per opportunity rejected during selection.
const EventValidationFailed = "betting:validation_failed"

// ValidationFailedPayload accompanies EventValidationFailed.
type ValidationFailedPayload struct {
	Opportunity Opportunity `json:"opportunity"`
	Reason      string      `json:"reason"`
}

// EventEmitter receives fire-and-forget notifications.
type EventEmitter interface {
	Emit(name string, payload any)
}

// ErrorHandler receives unexpected failures with component and operation tags.
type ErrorHandler interface {
	HandleError(err error, component, operation string)
}

// PerformanceMonitor records named operation durations.
type PerformanceMonitor interface {
	RecordOperation(name string, durationMs float64)
}

// EmitterFunc adapts a function to EventEmitter.
type EmitterFunc func(name string, payload any)

func (f EmitterFunc) Emit(name string, payload any) { f(name, payload) }

// ErrorHandlerFunc adapts a function to ErrorHandler.
type ErrorHandlerFunc func(err error, component, operation string)

func (f ErrorHandlerFunc) HandleError(err error, component, operation string) {
	f(err, component, operation)
}

// MonitorFunc adapts a function to PerformanceMonitor.
type MonitorFunc func(name string, durationMs float64)

func (f MonitorFunc) RecordOperation(name string, durationMs float64) { f(name, durationMs) }

type nopEmitter struct{}

func (nopEmitter) Emit(string, any) {}

type nopErrorHandler struct{}

func (nopErrorHandler) HandleError(error, string, string) {}

type nopMonitor struct{}

func (nopMonitor) RecordOperation(string, float64) {}

// MultiEmitter fans an event out to every emitter in order.
type MultiEmitter []EventEmitter

func (m MultiEmitter) Emit(name string, payload any) {
	for _, e := range m {
		if e != nil {
			e.Emit(name, payload)
		}
	}
}
