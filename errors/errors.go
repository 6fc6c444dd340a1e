package errors

import (
	stderrors "errors"
	"fmt"
	"path/filepath"
	"regexp"
	"runtime"
)

// Sentinel errors for the failure classes the agent runtime distinguishes.
// Wrap them with Wrapf and test with Is.
var (
	// ErrNotReady is reported when an agent is used before Initialize succeeded.
	ErrNotReady = stderrors.New("agent not ready")
	// ErrProvider marks a missing or unsuccessful provider response.
	ErrProvider = stderrors.New("provider error")
	// ErrFunctionNotFound marks dispatch against an unregistered function name.
	ErrFunctionNotFound = stderrors.New("function not found")
	// ErrMalformedCall marks a function-call directive whose payload could not be decoded.
	ErrMalformedCall = stderrors.New("malformed function call")
	// ErrInvalidConfig marks an absent or unusable configuration at initialization time.
	ErrInvalidConfig = stderrors.New("invalid configuration")
)

// New creates a new error with file and line number information.
func New(format string, a ...interface{}) error {
	return fmt.Errorf("[%s] %s", caller(), fmt.Sprintf(format, a...))
}

// Wrapf adds context (including file and line number) to an existing error.
// If the provided error is nil, Wrapf returns nil.
func Wrapf(err error, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("[%s] %s: %w", caller(), fmt.Sprintf(format, a...), err)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool { return stderrors.As(err, target) }

// Join returns an error that wraps the given errors, discarding nils.
func Join(errs ...error) error { return stderrors.Join(errs...) }

var location = regexp.MustCompile(`\[[^\[\]\s]+\.go:\d+\] `)

// Message returns err's text without the [file:line] prefixes added by New
// and Wrapf, for display to end users. A nil error yields "".
func Message(err error) string {
	if err == nil {
		return ""
	}
	return StripLocation(err.Error())
}

// StripLocation removes [file:line] prefixes from an error text.
func StripLocation(msg string) string {
	return location.ReplaceAllString(msg, "")
}

func caller() string {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return "???:0"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}
