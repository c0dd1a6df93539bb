package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnsupportedVersion   = errors.New("unsupported compiler version")
	ErrDependencyResolution = errors.New("dependency resolution failed")
	ErrAdapterNotFound      = errors.New("compiler class not found")
	ErrMethodNotFound       = errors.New("compiler method not found")
	ErrParameterAdaptation  = errors.New("parameter adaptation failed")
	ErrInvocation           = errors.New("compiler invocation failed")
	ErrSourceOutsideRoot    = errors.New("source file is not under source root")
	ErrNoTemplateFormat     = errors.New("no template format matches source file")
	ErrForeignValue         = errors.New("value belongs to another environment")
	ErrForeignHandle        = errors.New("method handle belongs to another environment")
	ErrEnvironmentClosed    = errors.New("environment is closed")
)

type UnsupportedVersionError struct {
	Version   string
	Supported []string
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("%s: %q (supported: %s)", ErrUnsupportedVersion, e.Version, strings.Join(e.Supported, ", "))
}

func (e *UnsupportedVersionError) Is(target error) bool {
	return target == ErrUnsupportedVersion
}

type DependencyResolutionError struct {
	Coordinate string
	Cause      error
}

func (e *DependencyResolutionError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrDependencyResolution, e.Coordinate, e.Cause)
}

func (e *DependencyResolutionError) Is(target error) bool {
	return target == ErrDependencyResolution
}

func (e *DependencyResolutionError) Unwrap() error {
	return e.Cause
}

// AdapterNotFoundError reports a declaring class absent from the environment.
type AdapterNotFoundError struct {
	Coordinate string
	Class      string
}

func (e *AdapterNotFoundError) Error() string {
	return fmt.Sprintf("%s: %s in %s", ErrAdapterNotFound, e.Class, e.Coordinate)
}

func (e *AdapterNotFoundError) Is(target error) bool {
	return target == ErrAdapterNotFound
}

type MethodNotFoundError struct {
	Coordinate string
	Signature  MethodSignature
	Candidates []MethodSignature
}

func (e *MethodNotFoundError) Error() string {
	msg := fmt.Sprintf("%s: %s in %s", ErrMethodNotFound, e.Signature, e.Coordinate)
	if len(e.Candidates) == 0 {
		return msg
	}
	names := make([]string, 0, len(e.Candidates))
	for _, c := range e.Candidates {
		names = append(names, c.String())
	}
	return msg + " (candidates: " + strings.Join(names, "; ") + ")"
}

func (e *MethodNotFoundError) Is(target error) bool {
	return target == ErrMethodNotFound
}

type ParameterAdaptationError struct {
	Coordinate string
	Type       string
	Factory    string
	Cause      error
}

func (e *ParameterAdaptationError) Error() string {
	msg := fmt.Sprintf("%s: %s", ErrParameterAdaptation, e.Type)
	if e.Factory != "" {
		msg += " via " + e.Factory
	}
	msg += " in " + e.Coordinate
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ParameterAdaptationError) Is(target error) bool {
	return target == ErrParameterAdaptation
}

func (e *ParameterAdaptationError) Unwrap() error {
	return e.Cause
}

// InvocationError wraps a failure raised by the invoked method itself.
type InvocationError struct {
	Coordinate string
	Signature  MethodSignature
	Cause      error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("%s: %s in %s: %v", ErrInvocation, e.Signature, e.Coordinate, e.Cause)
}

func (e *InvocationError) Is(target error) bool {
	return target == ErrInvocation
}

func (e *InvocationError) Unwrap() error {
	return e.Cause
}

// RemoteError is an exception raised inside a sandbox, carried back over RPC.
type RemoteError struct {
	Type    string
	Message string
}

func (e *RemoteError) Error() string {
	return e.Type + ": " + e.Message
}
