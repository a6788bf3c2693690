package toolchain

import (
	"context"
	"os"
	"path/filepath"

	"github.com/gogpu/shaderpipe"
)

// DefaultTargetEnv is the SPIR-V environment passed to glslangValidator.
const DefaultTargetEnv = "spirv1.6"

// Glslang compiles GLSL to SPIR-V with glslangValidator.
type Glslang struct {
	// Bin is the executable to run.
	Bin string

	// TargetEnv is passed as --target-env.
	TargetEnv string

	// Executor runs the tool. Nil means Exec{}.
	Executor Executor
}

// NewGlslang returns a Glslang using the configured tool path.
func NewGlslang() *Glslang {
	return &Glslang{
		Bin:       ToolPath(EnvGlslang, DefaultGlslang),
		TargetEnv: DefaultTargetEnv,
	}
}

// Compile writes source to a temporary file, compiles it for stage and
// returns the validated SPIR-V artifact.
func (g *Glslang) Compile(ctx context.Context, name string, stage shaderpipe.Stage, source string) ([]byte, error) {
	fail := func(msg string, out Output, err error) error {
		return &shaderpipe.Error{
			Kind:     shaderpipe.KindToolchainFailure,
			Shader:   name,
			Stage:    stage.String(),
			Op:       "glslangValidator",
			Message:  msg,
			ExitCode: out.ExitCode,
			Stderr:   out.diagnostics(),
			Err:      err,
		}
	}

	var artifact []byte
	err := withWorkDir("shaderpipe-spirv", func(dir string) error {
		base := filepath.Join(dir, shaderpipe.SanitizeName(name)+"."+stage.ShortName())
		sourcePath := base + ".glsl"
		spirvPath := base + ".spv"
		if err := os.WriteFile(sourcePath, []byte(source), 0o600); err != nil {
			return fail("write source", Output{}, err)
		}

		out, err := g.executor().Run(ctx, g.bin(),
			"-V",
			"--target-env", g.targetEnv(),
			"-S", stage.ShortName(),
			"-o", spirvPath,
			sourcePath,
		)
		if err != nil {
			return fail("invocation failed", out, err)
		}
		if out.ExitCode != 0 {
			return fail("GLSL->SPIR-V compilation failed", out, nil)
		}
		if !fileExists(spirvPath) {
			return fail("reported success but produced no SPIR-V output", Output{}, nil)
		}

		data, err := os.ReadFile(spirvPath)
		if err != nil {
			return fail("read output", Output{}, err)
		}
		if err := shaderpipe.ValidateArtifact(name, data); err != nil {
			if e, ok := err.(*shaderpipe.Error); ok {
				e.Stage = stage.String()
				e.Op = "glslangValidator"
			}
			return err
		}
		artifact = data
		return nil
	})
	if err != nil {
		if shaderpipe.KindOf(err) == 0 {
			return nil, fail("work dir", Output{}, err)
		}
		return nil, err
	}
	return artifact, nil
}

func (g *Glslang) bin() string {
	if g.Bin == "" {
		return DefaultGlslang
	}
	return g.Bin
}

func (g *Glslang) targetEnv() string {
	if g.TargetEnv == "" {
		return DefaultTargetEnv
	}
	return g.TargetEnv
}

func (g *Glslang) executor() Executor {
	if g.Executor == nil {
		return Exec{}
	}
	return g.Executor
}
