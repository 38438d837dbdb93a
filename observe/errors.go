package observe

import "errors"

// Config errors.
var (
	ErrMissingServiceName     = errors.New("observe: service name is required")
	ErrInvalidSampleRatio     = errors.New("observe: sample ratio must be between 0 and 1")
	ErrInvalidTracingExporter = errors.New("observe: invalid tracing exporter")
	ErrInvalidMetricsExporter = errors.New("observe: invalid metrics exporter")
	ErrInvalidLogLevel        = errors.New("observe: invalid log level")
)

// ErrNilObserver is returned by MiddlewareFromObserver for a nil Observer.
var ErrNilObserver = errors.New("observe: observer is nil")

// Bounds of Config.SampleRatio.
const (
	MinSampleRatio = 0.0
	MaxSampleRatio = 1.0
)

// RedactedFields lists field keys whose values never reach the log.
// Cached payloads can carry user data.
var RedactedFields = []string{
	"data",
	"payload",
	"password",
	"secret",
	"token",
	"api_key",
	"apiKey",
	"credential",
}
