package toolchain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gogpu/shaderpipe"
)

// Target selects the native shading language spirv-cross emits.
type Target string

// Supported translation targets.
const (
	TargetMSL  Target = "msl"
	TargetGLSL Target = "glsl"
	TargetES   Target = "es"
	TargetHLSL Target = "hlsl"
)

// ParseTarget validates a target name.
func ParseTarget(s string) (Target, error) {
	switch t := Target(strings.ToLower(s)); t {
	case TargetMSL, TargetGLSL, TargetES, TargetHLSL:
		return t, nil
	default:
		return "", fmt.Errorf("unknown target %q", s)
	}
}

// Ext returns the file extension for translated sources.
func (t Target) Ext() string {
	switch t {
	case TargetGLSL, TargetES:
		return ".glsl"
	case TargetHLSL:
		return ".hlsl"
	default:
		return ".metal"
	}
}

func (t Target) args() []string {
	switch t {
	case TargetGLSL:
		return []string{"--version", "450"}
	case TargetES:
		return []string{"--es", "--version", "310"}
	case TargetHLSL:
		return []string{"--hlsl", "--shader-model", "50"}
	default:
		return []string{"--msl"}
	}
}

// SPIRVCross reflects and translates SPIR-V with spirv-cross.
type SPIRVCross struct {
	// Bin is the executable to run.
	Bin string

	// Target is the translation output language. Empty means MSL.
	Target Target

	// Executor runs the tool. Nil means Exec{}.
	Executor Executor
}

// NewSPIRVCross returns a SPIRVCross using the configured tool path.
func NewSPIRVCross() *SPIRVCross {
	return &SPIRVCross{
		Bin:    ToolPath(EnvSPIRVCross, DefaultSPIRVCross),
		Target: TargetMSL,
	}
}

// Reflect runs spirv-cross --reflect and parses its JSON report.
func (c *SPIRVCross) Reflect(ctx context.Context, name string, artifact []byte) (shaderpipe.BindingMap, error) {
	var bindings shaderpipe.BindingMap
	err := withWorkDir("shaderpipe-reflect", func(dir string) error {
		spirvPath := filepath.Join(dir, shaderpipe.SanitizeName(name)+".spv")
		if err := os.WriteFile(spirvPath, artifact, 0o600); err != nil {
			return c.fail(name, "spirv-cross --reflect", "write input", Output{}, err)
		}

		out, err := c.executor().Run(ctx, c.bin(), spirvPath, "--reflect")
		if err != nil {
			return c.fail(name, "spirv-cross --reflect", "invocation failed", out, err)
		}
		if out.ExitCode != 0 {
			return c.fail(name, "spirv-cross --reflect", "SPIR-V reflection failed", out, nil)
		}

		m, err := shaderpipe.ParseBindingMap([]byte(out.Stdout))
		if err != nil {
			return c.fail(name, "spirv-cross --reflect", "unparsable reflection output", Output{}, err)
		}
		bindings = m
		return nil
	})
	if err != nil {
		if shaderpipe.KindOf(err) == 0 {
			return shaderpipe.BindingMap{}, c.fail(name, "spirv-cross --reflect", "work dir", Output{}, err)
		}
		return shaderpipe.BindingMap{}, err
	}
	return bindings, nil
}

// Translate runs spirv-cross for the configured target and returns the
// generated source. Whitespace-only output is an EmptyOutput error.
func (c *SPIRVCross) Translate(ctx context.Context, name string, artifact []byte) (string, error) {
	target := c.target()
	op := "spirv-cross --" + string(target)

	var source string
	err := withWorkDir("shaderpipe-"+string(target), func(dir string) error {
		base := filepath.Join(dir, shaderpipe.SanitizeName(name))
		spirvPath := base + ".spv"
		outPath := base + target.Ext()
		if err := os.WriteFile(spirvPath, artifact, 0o600); err != nil {
			return c.fail(name, op, "write input", Output{}, err)
		}

		args := append([]string{spirvPath}, target.args()...)
		args = append(args, "--output", outPath)
		out, err := c.executor().Run(ctx, c.bin(), args...)
		if err != nil {
			return c.fail(name, op, "invocation failed", out, err)
		}
		if out.ExitCode != 0 {
			return c.fail(name, op, "SPIR-V->"+strings.ToUpper(string(target))+" translation failed", out, nil)
		}
		if !fileExists(outPath) {
			return c.fail(name, op, "reported success but produced no output", Output{}, nil)
		}

		data, err := os.ReadFile(outPath)
		if err != nil {
			return c.fail(name, op, "read output", Output{}, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			return &shaderpipe.Error{
				Kind:    shaderpipe.KindEmptyOutput,
				Shader:  name,
				Op:      op,
				Message: "spirv-cross produced an empty " + strings.ToUpper(string(target)) + " shader",
			}
		}
		source = string(data)
		return nil
	})
	if err != nil {
		if shaderpipe.KindOf(err) == 0 {
			return "", c.fail(name, op, "work dir", Output{}, err)
		}
		return "", err
	}
	return source, nil
}

func (c *SPIRVCross) fail(name, op, msg string, out Output, err error) error {
	return &shaderpipe.Error{
		Kind:     shaderpipe.KindToolchainFailure,
		Shader:   name,
		Op:       op,
		Message:  msg,
		ExitCode: out.ExitCode,
		Stderr:   out.Stderr,
		Err:      err,
	}
}

func (c *SPIRVCross) bin() string {
	if c.Bin == "" {
		return DefaultSPIRVCross
	}
	return c.Bin
}

func (c *SPIRVCross) target() Target {
	if c.Target == "" {
		return TargetMSL
	}
	return c.Target
}

func (c *SPIRVCross) executor() Executor {
	if c.Executor == nil {
		return Exec{}
	}
	return c.Executor
}
