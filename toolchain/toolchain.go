package toolchain

import (
	"context"
	"os"

	"github.com/gogpu/shaderpipe"
)

// Compiler transpiles one stage's source text into a SPIR-V artifact.
type Compiler interface {
	Compile(ctx context.Context, name string, stage shaderpipe.Stage, source string) ([]byte, error)
}

// Reflector extracts resource bindings from a SPIR-V artifact.
type Reflector interface {
	Reflect(ctx context.Context, name string, artifact []byte) (shaderpipe.BindingMap, error)
}

// Translator converts a SPIR-V artifact into native shading language source.
type Translator interface {
	Translate(ctx context.Context, name string, artifact []byte) (string, error)
}

// Configuration keys and defaults for tool locations.
const (
	EnvGlslang    = "SHADERPIPE_GLSLANG"
	EnvSPIRVCross = "SHADERPIPE_SPIRV_CROSS"

	DefaultGlslang    = "glslangValidator"
	DefaultSPIRVCross = "spirv-cross"
)

// ToolPath returns the value of the environment variable key, or def when
// the variable is unset or empty.
func ToolPath(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}
