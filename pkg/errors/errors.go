// Package errors defines the error kinds raised by the stack correction core.
//
// Every kind is a struct carrying the operation (plugin or pipeline step)
// that failed, and matches a sentinel through errors.Is:
//
//	var cfgErr *errors.ConfigurationError
//	if errors.As(err, &cfgErr) { ... }
//	if errors.Is(err, errors.ErrConfiguration) { ... }
//
// Configuration and registry errors surface at build/initialize time.
// Optimization and transform errors surface from Transform and abort the
// offending step; nothing is retried and nothing is rolled back.
package errors

import (
	"errors"
	"fmt"
)

// Re-export standard library functions so callers only need this package.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Sentinels matched by the typed errors below.
var (
	ErrConfiguration    = New("configuration error")
	ErrUnknownOperation = New("unknown operation")
	ErrOptimization     = New("optimization error")
	ErrTransform        = New("transform error")
	ErrPipelineState    = New("pipeline state error")
)

// ConfigurationError reports an unknown or invalid key, an out-of-range
// value, or an empty parameter space.
type ConfigurationError struct {
	Operation string
	Key       string
	Reason    string
	Err       error
}

// NewConfigurationError creates a ConfigurationError for the given key.
func NewConfigurationError(operation, key, reason string) *ConfigurationError {
	return &ConfigurationError{Operation: operation, Key: key, Reason: reason}
}

// WrapConfigurationError wraps a decoding or validation failure.
func WrapConfigurationError(operation string, err error) *ConfigurationError {
	return &ConfigurationError{Operation: operation, Reason: "invalid configuration", Err: err}
}

func (e *ConfigurationError) Error() string {
	msg := e.Operation + ": " + e.Reason
	if e.Key != "" {
		msg += fmt.Sprintf(" (key %q)", e.Key)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// UnknownOperationError reports an operation name missing from the registry.
type UnknownOperationError struct {
	Name string
}

func NewUnknownOperationError(name string) *UnknownOperationError {
	return &UnknownOperationError{Name: name}
}

func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("unknown operation %q", e.Name)
}

func (e *UnknownOperationError) Is(target error) bool { return target == ErrUnknownOperation }

// OptimizationError reports that every candidate of a parameter search failed.
// Err holds the last failure observed.
type OptimizationError struct {
	Operation string
	Evaluated int
	Err       error
}

func NewOptimizationError(operation string, evaluated int, last error) *OptimizationError {
	return &OptimizationError{Operation: operation, Evaluated: evaluated, Err: last}
}

func (e *OptimizationError) Error() string {
	msg := fmt.Sprintf("%s: all %d candidates failed", e.Operation, e.Evaluated)
	if e.Err != nil {
		msg += ": last error: " + e.Err.Error()
	}
	return msg
}

func (e *OptimizationError) Unwrap() error { return e.Err }

func (e *OptimizationError) Is(target error) bool { return target == ErrOptimization }

// TransformError reports a shape or type mismatch during a deterministic transform.
type TransformError struct {
	Operation string
	Reason    string
	Err       error
}

func NewTransformError(operation, format string, args ...any) *TransformError {
	return &TransformError{Operation: operation, Reason: fmt.Sprintf(format, args...)}
}

func WrapTransformError(operation string, err error) *TransformError {
	return &TransformError{Operation: operation, Reason: "transform failed", Err: err}
}

func (e *TransformError) Error() string {
	msg := e.Operation + ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransformError) Unwrap() error { return e.Err }

func (e *TransformError) Is(target error) bool { return target == ErrTransform }

// PipelineStateError reports a lifecycle call made in the wrong state.
type PipelineStateError struct {
	Pipeline string
	Call     string
	State    string
}

func NewPipelineStateError(pipeline, call, state string) *PipelineStateError {
	return &PipelineStateError{Pipeline: pipeline, Call: call, State: state}
}

func (e *PipelineStateError) Error() string {
	return fmt.Sprintf("pipeline %q: %s not allowed in state %s", e.Pipeline, e.Call, e.State)
}

func (e *PipelineStateError) Is(target error) bool { return target == ErrPipelineState }
