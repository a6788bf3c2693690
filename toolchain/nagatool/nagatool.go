// Package nagatool is a pure Go, in-process toolchain for WGSL shaders
// built on github.com/gogpu/naga.
//
// Toolchain implements toolchain.Compiler, toolchain.Reflector and
// toolchain.Translator without spawning processes. Compile lowers the WGSL
// source to naga IR and emits SPIR-V; the lowered module is retained in a
// bounded LRU keyed by the SHA-256 of the emitted artifact so that Reflect
// and Translate can work from the IR rather than re-parsing SPIR-V.
// Artifacts the toolchain did not produce (or has evicted) are rejected
// with a ToolchainFailure.
package nagatool

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/glsl"
	"github.com/gogpu/naga/ir"
	"github.com/gogpu/naga/msl"
	"github.com/gogpu/naga/spirv"

	"github.com/gogpu/shaderpipe"
	"github.com/gogpu/shaderpipe/internal/lru"
)

// Target selects the native language Translate emits.
type Target string

// Supported targets. TargetWGSL returns the original source, for backends
// such as gogpu/wgpu that consume WGSL directly.
const (
	TargetMSL  Target = "msl"
	TargetGLSL Target = "glsl"
	TargetWGSL Target = "wgsl"
)

// DefaultCapacity is the number of lowered modules retained.
const DefaultCapacity = 64

// ParseTarget validates a target name.
func ParseTarget(s string) (Target, error) {
	switch t := Target(strings.ToLower(s)); t {
	case TargetMSL, TargetGLSL, TargetWGSL:
		return t, nil
	default:
		return "", fmt.Errorf("nagatool: unknown target %q", s)
	}
}

// unit is one lowered stage.
type unit struct {
	source string
	module *ir.Module
	entry  string
	stage  ir.ShaderStage
}

// Toolchain compiles, reflects and translates WGSL in process.
//
// Toolchain is safe for concurrent use.
type Toolchain struct {
	target   Target
	version  spirv.Version
	validate bool
	units    *lru.Cache[string, *unit]
	evicted  atomic.Int64
}

// Option configures a Toolchain.
type Option func(*Toolchain)

// WithTarget sets the translation target. The default is MSL.
func WithTarget(t Target) Option {
	return func(tc *Toolchain) { tc.target = t }
}

// WithSPIRVVersion sets the emitted SPIR-V version. The default is 1.6.
func WithSPIRVVersion(v spirv.Version) Option {
	return func(tc *Toolchain) { tc.version = v }
}

// WithValidation toggles naga IR validation. Enabled by default.
func WithValidation(enabled bool) Option {
	return func(tc *Toolchain) { tc.validate = enabled }
}

// WithCapacity bounds the number of retained modules.
func WithCapacity(n int) Option {
	return func(tc *Toolchain) { tc.units = lru.New[string, *unit](n) }
}

// New creates a Toolchain.
func New(opts ...Option) *Toolchain {
	tc := &Toolchain{
		target:   TargetMSL,
		version:  spirv.Version1_6,
		validate: true,
	}
	for _, opt := range opts {
		opt(tc)
	}
	if tc.units == nil {
		tc.units = lru.New[string, *unit](DefaultCapacity)
	}
	tc.units.OnEvict(func(key string, u *unit) {
		tc.evicted.Add(1)
		shaderpipe.Logger().Debug("nagatool: lowered module evicted", "digest", key[:12], "entry", u.entry)
	})
	return tc
}

// Target returns the configured translation target.
func (tc *Toolchain) Target() Target { return tc.target }

// Compile lowers WGSL source and emits a SPIR-V artifact. The source must
// declare an entry point for stage.
func (tc *Toolchain) Compile(_ context.Context, name string, stage shaderpipe.Stage, source string) ([]byte, error) {
	fail := func(msg string, err error) error {
		return &shaderpipe.Error{
			Kind:    shaderpipe.KindToolchainFailure,
			Shader:  name,
			Stage:   stage.String(),
			Op:      "naga",
			Message: msg,
			Err:     err,
		}
	}

	ast, err := naga.Parse(source)
	if err != nil {
		return nil, fail("parse", err)
	}
	module, err := naga.LowerWithSource(ast, source)
	if err != nil {
		return nil, fail("lower", err)
	}
	if tc.validate {
		issues, err := naga.Validate(module)
		if err != nil {
			return nil, fail("validate", err)
		}
		if len(issues) > 0 {
			return nil, fail("validation failed", issues[0])
		}
	}

	// Keep only the first entry point of the requested stage so that each
	// stage yields a distinct artifact.
	irStage := irStageOf(stage)
	idx := slices.IndexFunc(module.EntryPoints, func(ep ir.EntryPoint) bool { return ep.Stage == irStage })
	if idx < 0 {
		return nil, fail("no "+strings.ToLower(stage.String())+" entry point", nil)
	}
	entry := module.EntryPoints[idx].Name
	staged := *module
	staged.EntryPoints = []ir.EntryPoint{module.EntryPoints[idx]}
	module = &staged

	artifact, err := naga.GenerateSPIRV(module, spirv.Options{Version: tc.version})
	if err != nil {
		return nil, fail("generate SPIR-V", err)
	}
	if err := shaderpipe.ValidateArtifact(name, artifact); err != nil {
		return nil, err
	}

	tc.units.Add(digest(artifact), &unit{
		source: source,
		module: module,
		entry:  entry,
		stage:  irStage,
	})
	return artifact, nil
}

// Reflect lists the module's bound resources: uniform address space
// globals as uniform blocks, image-typed handles as textures and
// sampler-typed handles as samplers, in declaration order.
func (tc *Toolchain) Reflect(_ context.Context, name string, artifact []byte) (shaderpipe.BindingMap, error) {
	u, err := tc.lookup(name, "naga reflect", artifact)
	if err != nil {
		return shaderpipe.BindingMap{}, err
	}
	return bindings(u.module), nil
}

// Translate emits native source for the stage's entry point.
func (tc *Toolchain) Translate(_ context.Context, name string, artifact []byte) (string, error) {
	op := "naga " + string(tc.target)
	u, err := tc.lookup(name, op, artifact)
	if err != nil {
		return "", err
	}

	var source string
	switch tc.target {
	case TargetWGSL:
		source = u.source
	case TargetGLSL:
		opts := glsl.DefaultOptions()
		opts.EntryPoint = u.entry
		source, _, err = glsl.Compile(u.module, opts)
	default:
		source, _, err = msl.CompileWithPipeline(u.module, msl.DefaultOptions(), msl.PipelineOptions{
			EntryPoint: &msl.EntryPointSelector{Stage: u.stage, Name: u.entry},
		})
	}
	if err != nil {
		return "", &shaderpipe.Error{
			Kind:    shaderpipe.KindToolchainFailure,
			Shader:  name,
			Op:      op,
			Message: "translation failed",
			Err:     err,
		}
	}
	if strings.TrimSpace(source) == "" {
		return "", &shaderpipe.Error{
			Kind:    shaderpipe.KindEmptyOutput,
			Shader:  name,
			Op:      op,
			Message: "naga produced an empty " + strings.ToUpper(string(tc.target)) + " shader",
		}
	}
	return source, nil
}

// Info describes a WGSL source without compiling it.
type Info struct {
	Bindings shaderpipe.BindingMap

	// EntryPoints maps each stage to its first entry point.
	EntryPoints map[shaderpipe.Stage]string
}

// Inspect parses and lowers WGSL source, reporting its bound resources the
// way Reflect does along with its vertex and fragment entry points.
func Inspect(source string) (Info, error) {
	ast, err := naga.Parse(source)
	if err != nil {
		return Info{}, fmt.Errorf("nagatool: parse: %w", err)
	}
	module, err := naga.LowerWithSource(ast, source)
	if err != nil {
		return Info{}, fmt.Errorf("nagatool: lower: %w", err)
	}

	info := Info{Bindings: bindings(module), EntryPoints: make(map[shaderpipe.Stage]string)}
	for _, stage := range shaderpipe.Stages {
		irStage := irStageOf(stage)
		for _, ep := range module.EntryPoints {
			if ep.Stage == irStage {
				info.EntryPoints[stage] = ep.Name
				break
			}
		}
	}
	return info, nil
}

func bindings(module *ir.Module) shaderpipe.BindingMap {
	m := shaderpipe.BindingMap{
		Uniforms: []shaderpipe.Binding{},
		Textures: []shaderpipe.Binding{},
		Samplers: []shaderpipe.Binding{},
	}
	for _, gv := range module.GlobalVariables {
		if gv.Binding == nil {
			continue
		}
		b := shaderpipe.Binding{Name: gv.Name, Set: int(gv.Binding.Group), Binding: int(gv.Binding.Binding)}
		if gv.Space == ir.SpaceUniform {
			m.Uniforms = append(m.Uniforms, b)
			continue
		}
		if gv.Space != ir.SpaceHandle || int(gv.Type) >= len(module.Types) {
			continue
		}
		switch module.Types[gv.Type].Inner.(type) {
		case ir.ImageType:
			m.Textures = append(m.Textures, b)
		case ir.SamplerType:
			m.Samplers = append(m.Samplers, b)
		}
	}
	return m
}

// Retained returns the number of lowered modules currently held.
func (tc *Toolchain) Retained() int { return tc.units.Len() }

// Evicted returns the number of lowered modules dropped to make room.
func (tc *Toolchain) Evicted() int64 { return tc.evicted.Load() }

func (tc *Toolchain) lookup(name, op string, artifact []byte) (*unit, error) {
	u, ok := tc.units.Get(digest(artifact))
	if !ok {
		return nil, &shaderpipe.Error{
			Kind:    shaderpipe.KindToolchainFailure,
			Shader:  name,
			Op:      op,
			Message: "artifact was not compiled by this toolchain",
		}
	}
	return u, nil
}

func irStageOf(s shaderpipe.Stage) ir.ShaderStage {
	if s == shaderpipe.StageFragment {
		return ir.StageFragment
	}
	return ir.StageVertex
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
