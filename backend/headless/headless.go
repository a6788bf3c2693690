// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package headless is an in-memory native backend.
//
// It links programs without a GPU: sources are kept, pipelines are marked
// compiled and uniform values are stored. The shaderc command uses it for
// dry runs, and it registers itself with the backend package on import.
package headless

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/gogpu/shaderpipe/backend"
	"github.com/gogpu/shaderpipe/registry"
)

func init() {
	backend.Register(backend.BackendHeadless, func() (backend.Backend, error) {
		return New(), nil
	})
}

// Uniform is a registered uniform.
type Uniform struct {
	Name    string
	Set     int
	Binding int
	Value   registry.Vec4
	Updates int
}

// Program is a linked program.
type Program struct {
	Handle         registry.ProgramHandle
	Name           string
	VertexSource   string
	FragmentSource string
	Compiled       bool
	Uniforms       []Uniform
}

type uniformSlot struct {
	program registry.ProgramHandle
	Uniform
}

// Backend implements registry.Backend in memory. It is safe for
// concurrent use.
type Backend struct {
	mu       sync.Mutex
	next     int64
	programs map[registry.ProgramHandle]*Program
	uniforms map[registry.UniformHandle]*uniformSlot
}

// New creates an empty Backend.
func New() *Backend {
	return &Backend{
		programs: make(map[registry.ProgramHandle]*Program),
		uniforms: make(map[registry.UniformHandle]*uniformSlot),
	}
}

// CreateProgram stores the stage sources. Blank sources are rejected.
func (b *Backend) CreateProgram(name, vertexSource, fragmentSource string) (registry.ProgramHandle, error) {
	if strings.TrimSpace(vertexSource) == "" || strings.TrimSpace(fragmentSource) == "" {
		return 0, fmt.Errorf("headless: %s: blank stage source: %w", name, registry.StatusInvalidArgument)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	h := registry.ProgramHandle(b.next)
	b.programs[h] = &Program{Handle: h, Name: name, VertexSource: vertexSource, FragmentSource: fragmentSource}
	return h, nil
}

// CompilePipeline marks the program compiled.
func (b *Backend) CompilePipeline(h registry.ProgramHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.programs[h]
	if !ok {
		return fmt.Errorf("headless: unknown program %d: %w", h, registry.StatusInvalidArgument)
	}
	if p.Compiled {
		return registry.StatusAlreadyInitialized
	}
	p.Compiled = true
	return nil
}

// RegisterUniform allocates a uniform slot.
func (b *Backend) RegisterUniform(h registry.ProgramHandle, name string, set, binding int) (registry.UniformHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.programs[h]; !ok {
		return 0, fmt.Errorf("headless: unknown program %d: %w", h, registry.StatusInvalidArgument)
	}
	b.next++
	u := registry.UniformHandle(b.next)
	b.uniforms[u] = &uniformSlot{program: h, Uniform: Uniform{Name: name, Set: set, Binding: binding}}
	return u, nil
}

// UpdateUniform stores value.
func (b *Backend) UpdateUniform(u registry.UniformHandle, value registry.Vec4) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	slot, ok := b.uniforms[u]
	if !ok {
		return fmt.Errorf("headless: unknown uniform %d: %w", u, registry.StatusInvalidArgument)
	}
	slot.Value = value
	slot.Updates++
	return nil
}

// DestroyProgram forgets the program and its uniforms.
func (b *Backend) DestroyProgram(h registry.ProgramHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.programs[h]; !ok {
		return fmt.Errorf("headless: unknown program %d: %w", h, registry.StatusInvalidArgument)
	}
	b.destroy(h)
	return nil
}

// Close destroys every program.
func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for h := range b.programs {
		b.destroy(h)
	}
}

func (b *Backend) destroy(h registry.ProgramHandle) {
	delete(b.programs, h)
	maps.DeleteFunc(b.uniforms, func(_ registry.UniformHandle, s *uniformSlot) bool {
		return s.program == h
	})
}

// Programs returns snapshots of the live programs ordered by name, each
// with its uniforms ordered by name.
func (b *Backend) Programs() []Program {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Program, 0, len(b.programs))
	for _, p := range b.programs {
		snap := *p
		snap.Uniforms = nil
		for _, s := range b.uniforms {
			if s.program == p.Handle {
				snap.Uniforms = append(snap.Uniforms, s.Uniform)
			}
		}
		slices.SortFunc(snap.Uniforms, func(a, b Uniform) int { return cmp.Compare(a.Name, b.Name) })
		out = append(out, snap)
	}
	slices.SortFunc(out, func(a, b Program) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.Handle, b.Handle))
	})
	return out
}
