// Package logger wraps github.com/charmbracelet/log with component-prefixed,
// field-carrying helpers so every call site tags its subsystem without
// constructing a sub-logger by hand.
//
// Grounded on the package-level log.Debug/Info/Warn/Error(msg, key, val...)
// call shape used throughout AbdelazizMoustafa10m-Raven (internal/task,
// internal/review). Its callers include pkg/api (auth.go, executions.go),
// pkg/editsession, pkg/supervisor and pkg/observability.
package logger

import (
	"os"

	"github.com/charmbracelet/log"
)

var base = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	TimeFormat:      "15:04:05",
})

// SetLevel adjusts the minimum level emitted by every helper in this package.
func SetLevel(level log.Level) {
	base.SetLevel(level)
}

func withComponent(component string) *log.Logger {
	return base.With("component", component)
}

func fieldArgs(fields map[string]interface{}) []interface{} {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}

// DebugC logs a debug-level message tagged with component.
func DebugC(component, msg string) { withComponent(component).Debug(msg) }

// InfoC logs an info-level message tagged with component.
func InfoC(component, msg string) { withComponent(component).Info(msg) }

// WarnC logs a warn-level message tagged with component.
func WarnC(component, msg string) { withComponent(component).Warn(msg) }

// ErrorC logs an error-level message tagged with component.
func ErrorC(component, msg string) { withComponent(component).Error(msg) }

// DebugCF logs a debug-level message tagged with component and carrying
// structured fields.
func DebugCF(component, msg string, fields map[string]interface{}) {
	withComponent(component).Debug(msg, fieldArgs(fields)...)
}

// InfoCF logs an info-level message tagged with component and carrying
// structured fields.
func InfoCF(component, msg string, fields map[string]interface{}) {
	withComponent(component).Info(msg, fieldArgs(fields)...)
}

// WarnCF logs a warn-level message tagged with component and carrying
// structured fields.
func WarnCF(component, msg string, fields map[string]interface{}) {
	withComponent(component).Warn(msg, fieldArgs(fields)...)
}

// ErrorCF logs an error-level message tagged with component and carrying
// structured fields.
func ErrorCF(component, msg string, fields map[string]interface{}) {
	withComponent(component).Error(msg, fieldArgs(fields)...)
}
