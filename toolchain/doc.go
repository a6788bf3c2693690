// Package toolchain runs the external shader tools the pipeline depends on.
//
// Each pipeline step is a small capability interface:
//
//   - [Compiler]: shader source to SPIR-V ([Glslang])
//   - [Reflector]: SPIR-V to a binding map ([SPIRVCross])
//   - [Translator]: SPIR-V to native shading language ([SPIRVCross])
//
// Process-backed implementations write their inputs into a private
// temporary directory that is removed before the call returns, on every
// exit path. Tool locations default to the well-known executable names and
// can be overridden with the SHADERPIPE_GLSLANG and SHADERPIPE_SPIRV_CROSS
// environment variables.
//
// Test doubles and in-process implementations (see toolchain/nagatool)
// satisfy the same interfaces.
package toolchain
