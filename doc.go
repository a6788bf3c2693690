// Package shaderpipe turns portable shader source text into platform-native
// shader programs with resolved resource bindings.
//
// # Overview
//
// A compile request names a program, a stage (vertex or fragment) and the
// stage's source text. The request flows through three toolchain steps:
//
//  1. Transpile: GLSL (or WGSL, in-process) to a SPIR-V binary artifact.
//  2. Reflect: extract uniform block, texture and sampler bindings.
//  3. Translate: SPIR-V to the native shading language (MSL by default).
//
// Results are stored in a content-addressed disk cache keyed by the exact
// source bytes, so an unchanged shader never invokes a toolchain twice.
// Translated stages and binding maps are then paired into one native program
// by the registry.
//
// # Packages
//
//   - shaderpipe: shared data model (Stage, BindingMap, artifact checks, errors, logger)
//   - toolchain: external glslangValidator / spirv-cross invocations
//   - toolchain/nagatool: pure Go in-process toolchain built on gogpu/naga
//   - diskcache: stage-then-rename on-disk cache
//   - registry: program records, one-time native creation, uniform handles
//   - pipeline: per-stage lifecycle orchestration, events and diagnostics
//   - backend/native: gogpu/wgpu HAL implementation of registry.Backend
//   - backend/headless: in-memory registry.Backend for dry runs
//
// # Quick Start
//
//	cfg := pipeline.ConfigFromEnv()
//	cfg.Sink = registry.New(native.New(device, queue))
//	p := pipeline.New(cfg)
//	defer p.Wait()
//
//	replay, err := p.CompileStage(ctx, "terrain", "vertex", src)
//	if err != nil {
//	    // native resource failure: stop using this program
//	}
//
// # Logging
//
// shaderpipe is silent by default. Call [SetLogger] to receive diagnostics.
package shaderpipe

// Version is the current version of the module.
const Version = "0.1.0"
