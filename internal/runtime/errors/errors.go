package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrConfig       = sterrors.New("servoflow: configuration error")
	ErrResource     = sterrors.New("servoflow: resource error")
	ErrStep         = sterrors.New("servoflow: step failed")
	ErrTeardown     = sterrors.New("servoflow: teardown failed")
	ErrInterrupted  = sterrors.New("servoflow: interrupted")
	ErrInvalidState = sterrors.New("servoflow: invalid orchestrator state")

	ErrConfigRequired   = sterrors.New("servoflow: configuration is required")
	ErrLoggerRequired   = sterrors.New("servoflow: logger is required")
	ErrRegistryRequired = sterrors.New("servoflow: module registry is required")
	ErrBridgeClosed     = sterrors.New("servoflow: bridge is closed")
	ErrNotSubscribing   = sterrors.New("servoflow: bridge does not subscribe")
	ErrNotPublishing    = sterrors.New("servoflow: bridge does not publish")
)

// Kind classifies a failure by the lifecycle phase that raised it.
type Kind int

const (
	KindConfig Kind = iota
	KindResource
	KindStep
	KindTeardown
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindResource:
		return "resource"
	case KindStep:
		return "step"
	case KindTeardown:
		return "teardown"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindConfig:
		return ErrConfig
	case KindResource:
		return ErrResource
	case KindStep:
		return ErrStep
	case KindTeardown:
		return ErrTeardown
	default:
		return nil
	}
}

// Error is a classified failure carrying the module and operation it came
// from. errors.Is matches it against the sentinel for its Kind.
type Error struct {
	Kind   Kind
	Module string
	Op     string
	Err    error
}

func (e *Error) Error() string {
	msg := "servoflow: " + e.Kind.String()
	if e.Module != "" {
		msg += " [" + e.Module + "]"
	}
	if e.Op != "" {
		msg += " " + e.Op
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

func newError(kind Kind, module, op string, err error) *Error {
	return &Error{Kind: kind, Module: module, Op: op, Err: err}
}

// ConfigError reports a missing or malformed setting.
func ConfigError(module, op string, err error) error {
	return newError(KindConfig, module, op, err)
}

// ConfigErrorf is ConfigError with a formatted cause.
func ConfigErrorf(module, op, format string, args ...any) error {
	return newError(KindConfig, module, op, fmt.Errorf(format, args...))
}

// ResourceError reports a device, socket, or file that could not be acquired.
func ResourceError(module, op string, err error) error {
	return newError(KindResource, module, op, err)
}

// StepError reports a failure inside a module's per-cycle work or the bridge.
func StepError(module, op string, err error) error {
	return newError(KindStep, module, op, err)
}

// TeardownError reports a failure while releasing resources.
func TeardownError(module, op string, err error) error {
	return newError(KindTeardown, module, op, err)
}

// KindOf returns the Kind of the first classified error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if sterrors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// UnknownModuleTypeError is returned when configuration names a module type
// that no registry entry exists for.
type UnknownModuleTypeError struct {
	Name       string
	Registered []string
}

func (e UnknownModuleTypeError) Error() string {
	return fmt.Sprintf("servoflow: unknown module type %q (registered: %v)", e.Name, e.Registered)
}

func (e UnknownModuleTypeError) Is(target error) bool {
	return target == ErrConfig
}

// ConfigValidationError wraps the joined findings of Config.Validate.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "servoflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

func (e ConfigValidationError) Is(target error) bool {
	return target == ErrConfig
}

// NewConfigValidationError wraps err, returning nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
