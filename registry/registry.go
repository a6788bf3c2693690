// Package registry reconciles independently compiled shader stages into
// native programs.
//
// A Registry receives translated stage sources and reflected binding maps
// in any order. Once both stages of a program are known it creates the
// native program exactly once, compiles its pipeline and registers the
// uniforms declared so far. Later declarations are registered as they
// arrive; undeclared or premature uniform updates are ignored.
package registry

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/gogpu/shaderpipe"
)

// ProgramHandle identifies a native program. Valid handles are positive.
type ProgramHandle int64

// UniformHandle identifies a registered uniform. Valid handles are positive.
type UniformHandle int64

// Vec4 is a four component uniform value.
type Vec4 [4]float32

// Backend creates and manages native programs.
//
// Errors may be, or wrap, a Status; StatusAlreadyInitialized is treated as
// success. Any other error fails the operation.
type Backend interface {
	CreateProgram(name, vertexSource, fragmentSource string) (ProgramHandle, error)
	CompilePipeline(program ProgramHandle) error
	RegisterUniform(program ProgramHandle, name string, set, binding int) (UniformHandle, error)
	UpdateUniform(uniform UniformHandle, value Vec4) error
	DestroyProgram(program ProgramHandle) error
}

type record struct {
	mu sync.Mutex

	sources  [len(shaderpipe.Stages)]string
	received [len(shaderpipe.Stages)]bool

	// creating is set while a goroutine owns native creation.
	creating bool
	closed   bool
	handle   ProgramHandle

	pending  map[string]shaderpipe.Binding
	uniforms map[string]UniformHandle
}

func newRecord() *record {
	return &record{
		pending:  make(map[string]shaderpipe.Binding),
		uniforms: make(map[string]UniformHandle),
	}
}

// Registry tracks programs by name.
//
// Registry is safe for concurrent use. Operations on different programs
// do not block each other beyond a short map lookup.
type Registry struct {
	backend Backend

	mu       sync.Mutex
	programs map[string]*record
}

// New creates a registry over backend.
func New(backend Backend) *Registry {
	return &Registry{
		backend:  backend,
		programs: make(map[string]*record),
	}
}

func (r *Registry) record(program string, create bool) *record {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.programs[program]
	if !ok && create {
		rec = newRecord()
		r.programs[program] = rec
	}
	return rec
}

// OnTranslatedStage stores a stage's native source. When both stages are
// present and no native program exists yet, the calling goroutine claims
// creation, creates the program and compiles its pipeline outside the
// record lock, then publishes the handle and registers pending uniforms.
// A failed attempt releases the claim so a later call can retry.
func (r *Registry) OnTranslatedStage(program string, stage shaderpipe.Stage, nativeSource string) error {
	if stage != shaderpipe.StageVertex && stage != shaderpipe.StageFragment {
		return nil
	}
	rec := r.record(program, true)

	rec.mu.Lock()
	rec.sources[stage] = nativeSource
	rec.received[stage] = true
	if !rec.received[stage.Other()] || rec.handle != 0 || rec.creating || rec.closed {
		rec.mu.Unlock()
		return nil
	}
	rec.creating = true
	vertex, fragment := rec.sources[shaderpipe.StageVertex], rec.sources[shaderpipe.StageFragment]
	rec.mu.Unlock()

	handle, err := r.create(program, vertex, fragment)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.creating = false
	if err != nil {
		return err
	}
	if rec.closed {
		// Closed while creating: the handle was never visible.
		return r.destroy(program, handle)
	}
	rec.handle = handle
	shaderpipe.Logger().Debug("registry: program active", "program", program, "handle", int64(handle))
	return r.registerPending(program, rec)
}

func (r *Registry) create(program, vertex, fragment string) (ProgramHandle, error) {
	handle, err := r.backend.CreateProgram(program, vertex, fragment)
	if !StatusOf(err).IsSuccess() {
		return 0, nativeFailure(program, "createShaderProgram", err)
	}
	if handle <= 0 {
		return 0, invalidHandle(program, "createShaderProgram", int64(handle))
	}
	if err := r.backend.CompilePipeline(handle); !StatusOf(err).IsSuccess() {
		failure := nativeFailure(program, "compileShaderPipeline", err)
		if derr := r.destroy(program, handle); derr != nil {
			shaderpipe.Logger().Debug("registry: destroy after failed compile", "program", program, "err", derr)
		}
		return 0, failure
	}
	return handle, nil
}

// OnBindingMap records every uniform in m as pending, replacing earlier
// declarations of the same name, and registers them at once if the
// program is active.
func (r *Registry) OnBindingMap(program string, m shaderpipe.BindingMap) error {
	rec := r.record(program, true)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, b := range m.Uniforms {
		rec.pending[b.Name] = b
	}
	if rec.handle == 0 {
		return nil
	}
	return r.registerPending(program, rec)
}

// SetUniform updates a uniform, registering it first if it was declared
// but not yet registered. It is a no-op when the program is not active or
// the uniform was never declared.
func (r *Registry) SetUniform(program, uniform string, value Vec4) error {
	rec := r.record(program, false)
	if rec == nil {
		return nil
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	handle, ok := rec.uniforms[uniform]
	if !ok {
		b, declared := rec.pending[uniform]
		if !declared || rec.handle == 0 {
			return nil
		}
		var err error
		if handle, err = r.register(program, rec, b); err != nil {
			return err
		}
	}

	if err := r.backend.UpdateUniform(handle, value); !StatusOf(err).IsSuccess() {
		return nativeFailure(program+":"+uniform, "updateUniformFloat4", err)
	}
	return nil
}

// CloseProgram destroys the program's native handle, if any, and forgets
// the program. Closing an unknown program is a no-op. A program closed
// while its creation is in flight is destroyed when creation completes.
func (r *Registry) CloseProgram(program string) error {
	r.mu.Lock()
	rec, ok := r.programs[program]
	delete(r.programs, program)
	r.mu.Unlock()
	if !ok {
		return nil
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.closed = true
	if rec.handle == 0 {
		return nil
	}
	handle := rec.handle
	rec.handle = 0
	return r.destroy(program, handle)
}

// Close destroys every program. The registry stays usable.
func (r *Registry) Close() error {
	r.mu.Lock()
	names := slices.Sorted(maps.Keys(r.programs))
	r.mu.Unlock()

	var errs []error
	for _, name := range names {
		errs = append(errs, r.CloseProgram(name))
	}
	return errors.Join(errs...)
}

// Program is a snapshot of one program's state.
type Program struct {
	Name        string
	Handle      ProgramHandle
	HasVertex   bool
	HasFragment bool
	Uniforms    map[string]UniformHandle
	Pending     []string
}

// Active reports whether the native program exists.
func (p Program) Active() bool { return p.Handle > 0 }

// Program returns a snapshot of the named program.
func (r *Registry) Program(name string) (Program, bool) {
	rec := r.record(name, false)
	if rec == nil {
		return Program{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return Program{
		Name:        name,
		Handle:      rec.handle,
		HasVertex:   rec.received[shaderpipe.StageVertex],
		HasFragment: rec.received[shaderpipe.StageFragment],
		Uniforms:    maps.Clone(rec.uniforms),
		Pending:     slices.Sorted(maps.Keys(rec.pending)),
	}, true
}

// Programs returns the tracked program names in order.
func (r *Registry) Programs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Sorted(maps.Keys(r.programs))
}

// registerPending registers every declared uniform not yet registered, in
// name order. rec.mu must be held.
func (r *Registry) registerPending(program string, rec *record) error {
	for _, name := range slices.Sorted(maps.Keys(rec.pending)) {
		if _, err := r.register(program, rec, rec.pending[name]); err != nil {
			return err
		}
	}
	return nil
}

// register returns the uniform's handle, registering it on first use.
// rec.mu must be held.
func (r *Registry) register(program string, rec *record, b shaderpipe.Binding) (UniformHandle, error) {
	if h, ok := rec.uniforms[b.Name]; ok {
		return h, nil
	}
	op := "registerUniform"
	h, err := r.backend.RegisterUniform(rec.handle, b.Name, b.Set, b.Binding)
	if !StatusOf(err).IsSuccess() {
		return 0, nativeFailure(program+":"+b.Name, op, err)
	}
	if h <= 0 {
		return 0, invalidHandle(program+":"+b.Name, op, int64(h))
	}
	rec.uniforms[b.Name] = h
	shaderpipe.Logger().Debug("registry: uniform registered",
		"program", program, "uniform", b.Name, "set", b.Set, "binding", b.Binding)
	return h, nil
}

func (r *Registry) destroy(program string, handle ProgramHandle) error {
	if err := r.backend.DestroyProgram(handle); !StatusOf(err).IsSuccess() {
		return nativeFailure(program, "destroyShaderProgram", err)
	}
	return nil
}

func nativeFailure(subject, op string, err error) error {
	return &shaderpipe.Error{
		Kind:   shaderpipe.KindNativeResourceFailure,
		Shader: subject,
		Op:     op,
		Status: StatusOf(err).describe(),
		Err:    err,
	}
}

func invalidHandle(subject, op string, handle int64) error {
	return &shaderpipe.Error{
		Kind:    shaderpipe.KindNativeResourceFailure,
		Shader:  subject,
		Op:      op,
		Message: fmt.Sprintf("invalid handle %d", handle),
	}
}
