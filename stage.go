package shaderpipe

import "strings"

// Stage identifies one half of a shader program.
type Stage uint8

const (
	// StageVertex is the vertex stage.
	StageVertex Stage = iota
	// StageFragment is the fragment stage.
	StageFragment
)

// Stages lists every supported stage in pairing order.
var Stages = [...]Stage{StageVertex, StageFragment}

// ParseStage resolves a stage name case-insensitively.
// Anything other than "vertex" or "fragment" yields an UnsupportedStage error.
func ParseStage(name string) (Stage, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "VERTEX":
		return StageVertex, nil
	case "FRAGMENT":
		return StageFragment, nil
	default:
		return 0, &Error{Kind: KindUnsupportedStage, Op: "parse stage", Message: "unsupported stage " + quote(name)}
	}
}

// String returns "VERTEX" or "FRAGMENT".
func (s Stage) String() string {
	switch s {
	case StageVertex:
		return "VERTEX"
	case StageFragment:
		return "FRAGMENT"
	default:
		return "UNKNOWN"
	}
}

// ShortName returns the glslang stage suffix ("vert" or "frag").
func (s Stage) ShortName() string {
	switch s {
	case StageVertex:
		return "vert"
	case StageFragment:
		return "frag"
	default:
		return "unknown"
	}
}

// Other returns the paired stage.
func (s Stage) Other() Stage {
	if s == StageVertex {
		return StageFragment
	}
	return StageVertex
}
