package pipeline

import (
	"context"
	"sync"

	"github.com/gogpu/shaderpipe"
	"github.com/gogpu/shaderpipe/registry"
)

var validArtifact = []byte{0x03, 0x02, 0x23, 0x07, 0x00, 0x06, 0x01, 0x00, 0x01, 0x02, 0x03, 0x04}

// stubToolchain succeeds unless told otherwise and counts invocations.
type stubToolchain struct {
	mu sync.Mutex

	compileErr   error
	reflectErr   error
	translateErr error
	artifact     []byte
	bindings     shaderpipe.BindingMap

	compiles, reflects, translates int
}

func newStubToolchain() *stubToolchain {
	return &stubToolchain{
		artifact: validArtifact,
		bindings: shaderpipe.BindingMap{
			Uniforms: []shaderpipe.Binding{{Name: "ColorModulator", Set: 0, Binding: 0}},
		},
	}
}

func (s *stubToolchain) Compile(_ context.Context, _ string, _ shaderpipe.Stage, _ string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compiles++
	return s.artifact, s.compileErr
}

func (s *stubToolchain) Reflect(context.Context, string, []byte) (shaderpipe.BindingMap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reflects++
	return s.bindings, s.reflectErr
}

func (s *stubToolchain) Translate(_ context.Context, name string, _ []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.translates++
	return "// native " + name, s.translateErr
}

// clearFailures clears injected failures.
func (s *stubToolchain) clearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compileErr, s.reflectErr, s.translateErr = nil, nil, nil
	s.artifact = validArtifact
}

func (s *stubToolchain) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compiles + s.reflects + s.translates
}

// countingBackend is a registry backend that counts native calls.
type countingBackend struct {
	mu        sync.Mutex
	createErr error
	next      int64

	creates, compiles, registers, updates, destroys int
}

func (b *countingBackend) CreateProgram(string, string, string) (registry.ProgramHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.creates++
	if b.createErr != nil {
		return 0, b.createErr
	}
	b.next++
	return registry.ProgramHandle(b.next), nil
}

func (b *countingBackend) CompilePipeline(registry.ProgramHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.compiles++
	return nil
}

func (b *countingBackend) RegisterUniform(registry.ProgramHandle, string, int, int) (registry.UniformHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registers++
	b.next++
	return registry.UniformHandle(b.next), nil
}

func (b *countingBackend) UpdateUniform(registry.UniformHandle, registry.Vec4) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updates++
	return nil
}

func (b *countingBackend) DestroyProgram(registry.ProgramHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.destroys++
	return nil
}

// eventLog collects events.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) count(kind EventKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (l *eventLog) first(kind EventKind) (Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return Event{}, false
}
