//go:build !nogpu

// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"encoding/binary"
	"fmt"
	"maps"
	"math"
	"slices"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/shaderpipe"
	"github.com/gogpu/shaderpipe/backend"
	"github.com/gogpu/shaderpipe/registry"
	"github.com/gogpu/shaderpipe/toolchain/nagatool"
)

// uniformSize is the byte size of one vec4<f32> uniform.
const uniformSize = 16

type program struct {
	name     string
	vertex   hal.ShaderModule
	fragment hal.ShaderModule
	entries  [len(shaderpipe.Stages)]string
	groups   [][]gputypes.BindGroupLayoutEntry

	groupLayouts []hal.BindGroupLayout
	layout       hal.PipelineLayout
	pipeline     hal.RenderPipeline

	uniforms []registry.UniformHandle
}

type uniform struct {
	program registry.ProgramHandle
	name    string
	buffer  hal.Buffer
}

// Backend implements registry.Backend over a HAL device.
//
// Backend is safe for concurrent use.
type Backend struct {
	device hal.Device
	queue  hal.Queue
	format gputypes.TextureFormat

	mu       sync.Mutex
	next     int64
	programs map[registry.ProgramHandle]*program
	uniforms map[registry.UniformHandle]*uniform
}

// Option configures a Backend.
type Option func(*Backend)

// WithColorFormat sets the color target format of created pipelines.
// The default is BGRA8Unorm.
func WithColorFormat(format gputypes.TextureFormat) Option {
	return func(b *Backend) { b.format = format }
}

// New creates a Backend on device and queue. The caller keeps ownership of
// both.
func New(device hal.Device, queue hal.Queue, opts ...Option) *Backend {
	b := &Backend{
		device:   device,
		queue:    queue,
		format:   gputypes.TextureFormatBGRA8Unorm,
		programs: make(map[registry.ProgramHandle]*program),
		uniforms: make(map[registry.UniformHandle]*uniform),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewFromProvider creates a Backend on the device of a host application.
// The provider must also expose HalDevice() and HalQueue() returning
// hal.Device and hal.Queue. Pipelines target the provider's surface format.
func NewFromProvider(provider gpucontext.DeviceProvider, opts ...Option) (*Backend, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, fmt.Errorf("native: provider does not expose HAL types")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("native: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("native: provider HalQueue is not hal.Queue")
	}
	opts = append([]Option{WithColorFormat(provider.SurfaceFormat())}, opts...)
	return New(device, queue, opts...), nil
}

func (b *Backend) newHandle() int64 {
	b.next++
	return b.next
}

// CreateProgram builds the vertex and fragment shader modules.
func (b *Backend) CreateProgram(name, vertexSource, fragmentSource string) (registry.ProgramHandle, error) {
	p := &program{name: name}
	var stageBindings [len(shaderpipe.Stages)]shaderpipe.BindingMap
	for _, stage := range shaderpipe.Stages {
		src := vertexSource
		if stage == shaderpipe.StageFragment {
			src = fragmentSource
		}
		info, err := nagatool.Inspect(src)
		if err != nil {
			return 0, fmt.Errorf("native: %s %s source: %w: %w", name, stage, registry.StatusInvalidArgument, err)
		}
		entry, ok := info.EntryPoints[stage]
		if !ok {
			return 0, fmt.Errorf("native: %s %s source has no entry point: %w", name, stage, registry.StatusInvalidArgument)
		}
		p.entries[stage] = entry
		stageBindings[stage] = info.Bindings
	}
	p.groups = mergeLayouts(stageBindings[shaderpipe.StageVertex], stageBindings[shaderpipe.StageFragment])

	var err error
	p.vertex, err = b.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  name + "_vertex",
		Source: hal.ShaderSource{WGSL: vertexSource},
	})
	if err != nil {
		return 0, fmt.Errorf("native: compile %s vertex shader: %w: %w", name, registry.StatusInitializationFailed, err)
	}
	p.fragment, err = b.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  name + "_fragment",
		Source: hal.ShaderSource{WGSL: fragmentSource},
	})
	if err != nil {
		b.device.DestroyShaderModule(p.vertex)
		return 0, fmt.Errorf("native: compile %s fragment shader: %w: %w", name, registry.StatusInitializationFailed, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	h := registry.ProgramHandle(b.newHandle())
	b.programs[h] = p
	shaderpipe.Logger().Debug("native: program created", "program", name, "handle", int64(h), "sets", len(p.groups))
	return h, nil
}

// CompilePipeline creates the bind group layouts, pipeline layout and
// render pipeline. Compiling twice reports AlreadyInitialized.
func (b *Backend) CompilePipeline(h registry.ProgramHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.programs[h]
	if !ok {
		return fmt.Errorf("native: compile pipeline: unknown program %d: %w", h, registry.StatusInvalidArgument)
	}
	if p.pipeline != nil {
		return registry.StatusAlreadyInitialized
	}
	if err := b.createPipeline(p); err != nil {
		b.destroyPipeline(p)
		return fmt.Errorf("native: %s: %w: %w", p.name, registry.StatusInitializationFailed, err)
	}
	return nil
}

func (b *Backend) createPipeline(p *program) error {
	for set, entries := range p.groups {
		l, err := b.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
			Label:   fmt.Sprintf("%s_group%d_layout", p.name, set),
			Entries: entries,
		})
		if err != nil {
			return fmt.Errorf("create bind group layout %d: %w", set, err)
		}
		p.groupLayouts = append(p.groupLayouts, l)
	}

	layout, err := b.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            p.name + "_pipe_layout",
		BindGroupLayouts: p.groupLayouts,
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %w", err)
	}
	p.layout = layout

	pipeline, err := b.device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  p.name + "_pipeline",
		Layout: p.layout,
		Vertex: hal.VertexState{
			Module:     p.vertex,
			EntryPoint: p.entries[shaderpipe.StageVertex],
		},
		Fragment: &hal.FragmentState{
			Module:     p.fragment,
			EntryPoint: p.entries[shaderpipe.StageFragment],
			Targets: []gputypes.ColorTargetState{
				{
					Format:    b.format,
					WriteMask: gputypes.ColorWriteMaskAll,
				},
			},
		},
		Primitive: gputypes.PrimitiveState{
			Topology: gputypes.PrimitiveTopologyTriangleList,
			CullMode: gputypes.CullModeNone,
		},
		Multisample: gputypes.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
	})
	if err != nil {
		return fmt.Errorf("create render pipeline: %w", err)
	}
	p.pipeline = pipeline
	return nil
}

// RegisterUniform allocates the uniform's buffer.
func (b *Backend) RegisterUniform(h registry.ProgramHandle, name string, set, binding int) (registry.UniformHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.programs[h]
	if !ok {
		return 0, fmt.Errorf("native: register %s: unknown program %d: %w", name, h, registry.StatusInvalidArgument)
	}

	buf, err := b.device.CreateBuffer(&hal.BufferDescriptor{
		Label: fmt.Sprintf("%s_%s_s%d_b%d", p.name, name, set, binding),
		Size:  uniformSize,
		Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return 0, fmt.Errorf("native: create uniform buffer %s: %w: %w", name, registry.StatusInitializationFailed, err)
	}

	u := registry.UniformHandle(b.newHandle())
	b.uniforms[u] = &uniform{program: h, name: name, buffer: buf}
	p.uniforms = append(p.uniforms, u)
	return u, nil
}

// UpdateUniform writes value into the uniform's buffer.
func (b *Backend) UpdateUniform(u registry.UniformHandle, value registry.Vec4) error {
	b.mu.Lock()
	un, ok := b.uniforms[u]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("native: update: unknown uniform %d: %w", u, registry.StatusInvalidArgument)
	}
	b.queue.WriteBuffer(un.buffer, 0, encodeVec4(value))
	return nil
}

// DestroyProgram releases the program and its uniforms.
func (b *Backend) DestroyProgram(h registry.ProgramHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.programs[h]
	if !ok {
		return fmt.Errorf("native: destroy: unknown program %d: %w", h, registry.StatusInvalidArgument)
	}
	delete(b.programs, h)
	b.release(p)
	return nil
}

// Close destroys every program still alive. The device is not destroyed.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, h := range slices.Sorted(maps.Keys(b.programs)) {
		b.release(b.programs[h])
		delete(b.programs, h)
	}
}

// Pipeline returns the program's render pipeline once compiled.
func (b *Backend) Pipeline(h registry.ProgramHandle) (hal.RenderPipeline, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.programs[h]
	if !ok || p.pipeline == nil {
		return nil, false
	}
	return p.pipeline, true
}

// UniformBuffer returns the buffer backing a uniform.
func (b *Backend) UniformBuffer(u registry.UniformHandle) (hal.Buffer, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	un, ok := b.uniforms[u]
	if !ok {
		return nil, false
	}
	return un.buffer, true
}

// Programs returns the number of live programs.
func (b *Backend) Programs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.programs)
}

// release destroys p's resources. b.mu must be held.
func (b *Backend) release(p *program) {
	for _, u := range p.uniforms {
		if un, ok := b.uniforms[u]; ok {
			b.device.DestroyBuffer(un.buffer)
			delete(b.uniforms, u)
		}
	}
	p.uniforms = nil
	b.destroyPipeline(p)
	if p.fragment != nil {
		b.device.DestroyShaderModule(p.fragment)
		p.fragment = nil
	}
	if p.vertex != nil {
		b.device.DestroyShaderModule(p.vertex)
		p.vertex = nil
	}
}

func (b *Backend) destroyPipeline(p *program) {
	if p.pipeline != nil {
		b.device.DestroyRenderPipeline(p.pipeline)
		p.pipeline = nil
	}
	if p.layout != nil {
		b.device.DestroyPipelineLayout(p.layout)
		p.layout = nil
	}
	for _, l := range p.groupLayouts {
		b.device.DestroyBindGroupLayout(l)
	}
	p.groupLayouts = nil
}

// mergeLayouts builds one entry list per set from 0 to the highest set
// either stage uses. A binding used by both stages is visible to both.
func mergeLayouts(vertex, fragment shaderpipe.BindingMap) [][]gputypes.BindGroupLayoutEntry {
	maxSet := -1
	for _, s := range append(vertex.Sets(), fragment.Sets()...) {
		maxSet = max(maxSet, s)
	}
	groups := make([][]gputypes.BindGroupLayoutEntry, maxSet+1)
	for set := range groups {
		merged := vertex.LayoutEntries(set, shaderpipe.StageVertex)
		for _, e := range fragment.LayoutEntries(set, shaderpipe.StageFragment) {
			i := slices.IndexFunc(merged, func(m gputypes.BindGroupLayoutEntry) bool { return m.Binding == e.Binding })
			if i >= 0 {
				merged[i].Visibility |= e.Visibility
				continue
			}
			merged = append(merged, e)
		}
		slices.SortStableFunc(merged, func(a, b gputypes.BindGroupLayoutEntry) int {
			return int(a.Binding) - int(b.Binding)
		})
		groups[set] = merged
	}
	return groups
}

func encodeVec4(v registry.Vec4) []byte {
	data := make([]byte, uniformSize)
	for i, f := range v {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(f))
	}
	return data
}

// Register makes a native backend on provider's device available as
// backend.BackendNative.
func Register(provider gpucontext.DeviceProvider, opts ...Option) {
	backend.Register(backend.BackendNative, func() (backend.Backend, error) {
		return NewFromProvider(provider, opts...)
	})
}
