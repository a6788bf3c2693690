package registry

import (
	"sync"
	"time"
)

type updateCall struct {
	uniform UniformHandle
	value   Vec4
}

// fakeBackend records calls and hands out increasing handles.
type fakeBackend struct {
	mu sync.Mutex

	createDelay  time.Duration
	createErr    error
	createHandle ProgramHandle // returned instead of a fresh handle when non-zero
	compileErr   error
	registerErr  error
	updateErr    error
	destroyErr   error

	next       int64
	creates    []string
	compiles   []ProgramHandle
	registered []string
	updates    []updateCall
	destroyed  []ProgramHandle
}

func (f *fakeBackend) CreateProgram(name, vertex, fragment string) (ProgramHandle, error) {
	if f.createDelay > 0 {
		time.Sleep(f.createDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, name+"|"+vertex+"|"+fragment)
	if f.createErr != nil {
		return 0, f.createErr
	}
	if f.createHandle != 0 {
		return f.createHandle, nil
	}
	f.next++
	return ProgramHandle(f.next), nil
}

func (f *fakeBackend) CompilePipeline(program ProgramHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.compiles = append(f.compiles, program)
	return f.compileErr
}

func (f *fakeBackend) RegisterUniform(program ProgramHandle, name string, set, binding int) (UniformHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, name)
	if f.registerErr != nil {
		return 0, f.registerErr
	}
	f.next++
	return UniformHandle(f.next), nil
}

func (f *fakeBackend) UpdateUniform(uniform UniformHandle, value Vec4) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, updateCall{uniform, value})
	return f.updateErr
}

func (f *fakeBackend) DestroyProgram(program ProgramHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = append(f.destroyed, program)
	return f.destroyErr
}

func (f *fakeBackend) counts() (creates, compiles, registers, updates, destroys int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.creates), len(f.compiles), len(f.registered), len(f.updates), len(f.destroyed)
}
