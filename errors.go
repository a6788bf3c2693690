package shaderpipe

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrorKind categorizes pipeline failures.
type ErrorKind uint8

const (
	// KindUnsupportedStage marks a stage name that is neither vertex nor fragment.
	// Non-fatal: the request is skipped.
	KindUnsupportedStage ErrorKind = iota + 1

	// KindToolchainFailure marks an external tool that exited non-zero or
	// reported success without producing its output.
	KindToolchainFailure

	// KindInvalidArtifact marks a binary that fails the SPIR-V header check.
	KindInvalidArtifact

	// KindEmptyOutput marks a translator that produced blank text.
	KindEmptyOutput

	// KindCacheReadFailure marks an unreadable cache entry. Never surfaced.
	KindCacheReadFailure

	// KindCacheWriteFailure marks a failed cache store. Never surfaced.
	KindCacheWriteFailure

	// KindNativeResourceFailure marks a native create/update/destroy call that
	// failed or returned an invalid handle.
	KindNativeResourceFailure
)

// String returns a human-readable error kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindUnsupportedStage:
		return "UnsupportedStage"
	case KindToolchainFailure:
		return "ToolchainFailure"
	case KindInvalidArtifact:
		return "InvalidArtifact"
	case KindEmptyOutput:
		return "EmptyOutput"
	case KindCacheReadFailure:
		return "CacheReadFailure"
	case KindCacheWriteFailure:
		return "CacheWriteFailure"
	case KindNativeResourceFailure:
		return "NativeResourceFailure"
	default:
		return "Unknown"
	}
}

// Sentinels for errors.Is. Matching compares only the kind.
var (
	ErrUnsupportedStage      = &Error{Kind: KindUnsupportedStage}
	ErrToolchainFailure      = &Error{Kind: KindToolchainFailure}
	ErrInvalidArtifact       = &Error{Kind: KindInvalidArtifact}
	ErrEmptyOutput           = &Error{Kind: KindEmptyOutput}
	ErrCacheReadFailure      = &Error{Kind: KindCacheReadFailure}
	ErrCacheWriteFailure     = &Error{Kind: KindCacheWriteFailure}
	ErrNativeResourceFailure = &Error{Kind: KindNativeResourceFailure}
)

// Error is the structured failure type used across the pipeline.
type Error struct {
	// Kind categorizes the error.
	Kind ErrorKind

	// Shader is the program name the failure belongs to, if known.
	Shader string

	// Stage is the stage name, if known.
	Stage string

	// Op names the failing operation ("glslangValidator", "createShaderProgram", ...).
	Op string

	// Message provides details.
	Message string

	// ExitCode is the external process exit code for toolchain failures.
	ExitCode int

	// Stderr is the captured standard error of the external process.
	Stderr string

	// Status describes the native status for native resource failures.
	Status string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(" in ")
		b.WriteString(e.Op)
	}
	if e.Shader != "" {
		b.WriteString(" for ")
		b.WriteString(quote(e.Shader))
		if e.Stage != "" {
			b.WriteString(" (stage=")
			b.WriteString(e.Stage)
			b.WriteString(")")
		}
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Kind == KindToolchainFailure && e.ExitCode != 0 {
		b.WriteString(" (exitCode=")
		b.WriteString(strconv.Itoa(e.ExitCode))
		b.WriteString(")")
	}
	if e.Status != "" {
		b.WriteString(" status ")
		b.WriteString(e.Status)
	}
	if e.Stderr != "" {
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(e.Stderr))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain, or zero.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func quote(s string) string {
	return fmt.Sprintf("'%s'", s)
}
