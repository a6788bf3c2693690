// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package native creates shader programs on a gogpu/wgpu HAL device.
//
// Backend implements registry.Backend. Stage sources are WGSL, as produced
// by nagatool with the wgsl target. Each program owns two shader modules,
// one bind group layout per reflected set, a pipeline layout and a render
// pipeline. Each registered uniform owns a 16-byte uniform buffer that
// UpdateUniform writes through the device queue.
//
// The backend can run on its own device or adopt the device of a host
// application:
//
//	b, err := native.NewFromProvider(provider)
//	if err != nil {
//	    return err
//	}
//	reg := registry.New(b)
package native
