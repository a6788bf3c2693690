package pipeline

import "sync/atomic"

// EventKind identifies a lifecycle event.
type EventKind uint8

// Lifecycle events.
const (
	EventProgramLoadStart EventKind = iota + 1
	EventProgramLoadComplete
	EventProgramClose
	EventCompileStart
	EventSkipped
	EventSourceCaptured
	EventCacheHit
	EventCompiled
	EventReflected
	EventTranslated
	EventNativeCaptured
	EventFailed
	EventCompileComplete
	EventRelease
)

// String returns the event name.
func (k EventKind) String() string {
	switch k {
	case EventProgramLoadStart:
		return "program_load_start"
	case EventProgramLoadComplete:
		return "program_load_complete"
	case EventProgramClose:
		return "program_close"
	case EventCompileStart:
		return "compile_start"
	case EventSkipped:
		return "compile_skipped"
	case EventSourceCaptured:
		return "source_captured"
	case EventCacheHit:
		return "disk_cache_hit"
	case EventCompiled:
		return "spirv_compile_complete"
	case EventReflected:
		return "reflection_complete"
	case EventTranslated:
		return "translate_complete"
	case EventNativeCaptured:
		return "native_source_captured"
	case EventFailed:
		return "compile_failed"
	case EventCompileComplete:
		return "compile_complete"
	case EventRelease:
		return "release"
	default:
		return "unknown"
	}
}

// Phase names the fresh-compile step an EventFailed belongs to.
type Phase string

// Failure phases.
const (
	PhaseCapture   Phase = "capture"
	PhaseCompile   Phase = "spirv_compile"
	PhaseReflect   Phase = "spirv_reflect"
	PhaseTranslate Phase = "translate"
)

// ProgramStage is the Stage value of program-level events.
const ProgramStage = "program"

// Event is one lifecycle notification.
type Event struct {
	// Seq increases monotonically across every pipeline in the process.
	Seq     uint64
	Kind    EventKind
	Program string
	Stage   string

	// Phase and Err are set for EventFailed.
	Phase Phase
	Err   error
}

var sequence atomic.Uint64

type phaseError struct {
	phase Phase
	err   error
}

func (e *phaseError) Error() string { return string(e.phase) + ": " + e.err.Error() }
func (e *phaseError) Unwrap() error { return e.err }
