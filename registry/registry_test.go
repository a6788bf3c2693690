package registry

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/shaderpipe"
)

var twoUniforms = shaderpipe.BindingMap{
	Uniforms: []shaderpipe.Binding{
		{Name: "ModelViewMat", Set: 0, Binding: 1},
		{Name: "ColorModulator", Set: 0, Binding: 0},
	},
}

func TestStatus(t *testing.T) {
	tests := []struct {
		s       Status
		name    string
		success bool
	}{
		{StatusOK, "OK", true},
		{StatusAlreadyInitialized, "ALREADY_INITIALIZED", true},
		{StatusInvalidArgument, "INVALID_ARGUMENT", false},
		{StatusInitializationFailed, "INITIALIZATION_FAILED", false},
		{Status(42), "UNKNOWN", false},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.name {
			t.Errorf("Status(%d).String() = %q, want %q", tt.s, got, tt.name)
		}
		if got := tt.s.IsSuccess(); got != tt.success {
			t.Errorf("Status(%d).IsSuccess() = %v, want %v", tt.s, got, tt.success)
		}
	}
}

func TestStatusOf(t *testing.T) {
	if StatusOf(nil) != StatusOK {
		t.Error("StatusOf(nil) != OK")
	}
	if got := StatusOf(fmt.Errorf("wrapped: %w", StatusInvalidArgument)); got != StatusInvalidArgument {
		t.Errorf("StatusOf(wrapped) = %v", got)
	}
	if got := StatusOf(errors.New("boom")); got != StatusInitializationFailed {
		t.Errorf("StatusOf(plain) = %v", got)
	}
}

func TestOrderIndependence(t *testing.T) {
	type step func(r *Registry) error
	vertex := func(r *Registry) error { return r.OnTranslatedStage("p", shaderpipe.StageVertex, "vs") }
	fragment := func(r *Registry) error { return r.OnTranslatedStage("p", shaderpipe.StageFragment, "fs") }
	bindings := func(r *Registry) error { return r.OnBindingMap("p", twoUniforms) }

	orders := map[string][]step{
		"bindings first":  {bindings, vertex, fragment},
		"bindings middle": {vertex, bindings, fragment},
		"bindings last":   {fragment, vertex, bindings},
	}
	for name, order := range orders {
		t.Run(name, func(t *testing.T) {
			fb := &fakeBackend{}
			r := New(fb)
			for _, s := range order {
				if err := s(r); err != nil {
					t.Fatal(err)
				}
			}

			creates, compiles, registers, _, _ := fb.counts()
			if creates != 1 || compiles != 1 || registers != 2 {
				t.Errorf("creates=%d compiles=%d registers=%d, want 1 1 2", creates, compiles, registers)
			}
			p, ok := r.Program("p")
			if !ok || !p.Active() {
				t.Fatalf("program not active: %+v", p)
			}
			if len(p.Uniforms) != 2 {
				t.Errorf("Uniforms = %v, want 2 entries", p.Uniforms)
			}
			if fb.creates[0] != "p|vs|fs" {
				t.Errorf("CreateProgram got %q", fb.creates[0])
			}
		})
	}
}

func TestPendingRegisteredInNameOrder(t *testing.T) {
	fb := &fakeBackend{}
	r := New(fb)
	_ = r.OnBindingMap("p", twoUniforms)
	_ = r.OnTranslatedStage("p", shaderpipe.StageVertex, "vs")
	_ = r.OnTranslatedStage("p", shaderpipe.StageFragment, "fs")

	want := []string{"ColorModulator", "ModelViewMat"}
	if !slices.Equal(fb.registered, want) {
		t.Errorf("registered %v, want %v", fb.registered, want)
	}
}

func TestConcurrentStagesCreateOnce(t *testing.T) {
	for range 20 {
		fb := &fakeBackend{createDelay: time.Millisecond}
		r := New(fb)

		var wg sync.WaitGroup
		start := make(chan struct{})
		for _, stage := range shaderpipe.Stages {
			for range 4 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					if err := r.OnTranslatedStage("p", stage, "src"); err != nil {
						t.Error(err)
					}
				}()
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_ = r.OnBindingMap("p", twoUniforms)
		}()
		close(start)
		wg.Wait()

		creates, compiles, registers, _, _ := fb.counts()
		if creates != 1 || compiles != 1 {
			t.Fatalf("creates=%d compiles=%d, want 1 1", creates, compiles)
		}
		if registers != 2 {
			t.Fatalf("registers=%d, want 2", registers)
		}
	}
}

func TestSetUniformRegistersOnce(t *testing.T) {
	fb := &fakeBackend{}
	r := New(fb)
	_ = r.OnTranslatedStage("p", shaderpipe.StageVertex, "vs")
	_ = r.OnTranslatedStage("p", shaderpipe.StageFragment, "fs")
	// Declared after activation and then immediately registered.
	_ = r.OnBindingMap("p", shaderpipe.BindingMap{Uniforms: []shaderpipe.Binding{{Name: "Fog", Binding: 2}}})

	for i := range 3 {
		if err := r.SetUniform("p", "Fog", Vec4{float32(i), 0, 0, 1}); err != nil {
			t.Fatal(err)
		}
	}
	_, _, registers, updates, _ := fb.counts()
	if registers != 1 || updates != 3 {
		t.Errorf("registers=%d updates=%d, want 1 3", registers, updates)
	}
	if got := fb.updates[2].value; got != (Vec4{2, 0, 0, 1}) {
		t.Errorf("last update = %v", got)
	}
}

func TestSetUniformNoOps(t *testing.T) {
	fb := &fakeBackend{}
	r := New(fb)

	if err := r.SetUniform("unknown", "x", Vec4{}); err != nil {
		t.Errorf("unknown program: %v", err)
	}

	_ = r.OnBindingMap("p", twoUniforms)
	if err := r.SetUniform("p", "ColorModulator", Vec4{1, 1, 1, 1}); err != nil {
		t.Errorf("inactive program: %v", err)
	}

	_ = r.OnTranslatedStage("p", shaderpipe.StageVertex, "vs")
	_ = r.OnTranslatedStage("p", shaderpipe.StageFragment, "fs")
	if err := r.SetUniform("p", "Undeclared", Vec4{}); err != nil {
		t.Errorf("undeclared uniform: %v", err)
	}
	if _, _, _, updates, _ := fb.counts(); updates != 0 {
		t.Errorf("updates = %d, want 0", updates)
	}
}

func TestCreateFailureIsolatedAndRetried(t *testing.T) {
	fb := &fakeBackend{createErr: StatusInitializationFailed}
	r := New(fb)

	_ = r.OnTranslatedStage("bad", shaderpipe.StageVertex, "vs")
	err := r.OnTranslatedStage("bad", shaderpipe.StageFragment, "fs")
	if !errors.Is(err, shaderpipe.ErrNativeResourceFailure) {
		t.Fatalf("err = %v, want NativeResourceFailure", err)
	}
	if !strings.Contains(err.Error(), "createShaderProgram") || !strings.Contains(err.Error(), "INITIALIZATION_FAILED") {
		t.Errorf("error %q lacks op or status", err)
	}

	// A retry after the backend recovers creates the program.
	fb.mu.Lock()
	fb.createErr = nil
	fb.mu.Unlock()
	if err := r.OnTranslatedStage("bad", shaderpipe.StageFragment, "fs"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if p, _ := r.Program("bad"); !p.Active() {
		t.Error("program not active after retry")
	}

	// Other programs are unaffected.
	_ = r.OnTranslatedStage("good", shaderpipe.StageVertex, "vs")
	if err := r.OnTranslatedStage("good", shaderpipe.StageFragment, "fs"); err != nil {
		t.Fatalf("good program: %v", err)
	}
}

func TestInvalidHandle(t *testing.T) {
	fb := &fakeBackend{createHandle: -1}
	r := New(fb)
	_ = r.OnTranslatedStage("p", shaderpipe.StageVertex, "vs")
	err := r.OnTranslatedStage("p", shaderpipe.StageFragment, "fs")
	if shaderpipe.KindOf(err) != shaderpipe.KindNativeResourceFailure {
		t.Fatalf("err = %v, want NativeResourceFailure", err)
	}
}

func TestCompileFailureDestroysProgram(t *testing.T) {
	fb := &fakeBackend{compileErr: StatusInvalidArgument}
	r := New(fb)
	_ = r.OnTranslatedStage("p", shaderpipe.StageVertex, "vs")
	err := r.OnTranslatedStage("p", shaderpipe.StageFragment, "fs")
	if !errors.Is(err, shaderpipe.ErrNativeResourceFailure) {
		t.Fatalf("err = %v", err)
	}
	if _, _, _, _, destroys := fb.counts(); destroys != 1 {
		t.Errorf("destroys = %d, want 1", destroys)
	}
	if p, _ := r.Program("p"); p.Active() {
		t.Error("program active after failed compile")
	}
}

func TestAlreadyInitializedIsSuccess(t *testing.T) {
	fb := &fakeBackend{compileErr: StatusAlreadyInitialized}
	r := New(fb)
	_ = r.OnTranslatedStage("p", shaderpipe.StageVertex, "vs")
	if err := r.OnTranslatedStage("p", shaderpipe.StageFragment, "fs"); err != nil {
		t.Fatalf("err = %v", err)
	}
}

func TestUpdateFailure(t *testing.T) {
	fb := &fakeBackend{updateErr: StatusInvalidArgument}
	r := New(fb)
	_ = r.OnBindingMap("p", twoUniforms)
	_ = r.OnTranslatedStage("p", shaderpipe.StageVertex, "vs")
	_ = r.OnTranslatedStage("p", shaderpipe.StageFragment, "fs")

	err := r.SetUniform("p", "ColorModulator", Vec4{})
	if !errors.Is(err, shaderpipe.ErrNativeResourceFailure) {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(err.Error(), "p:ColorModulator") {
		t.Errorf("error %q does not name the uniform", err)
	}
}

func TestCloseProgram(t *testing.T) {
	fb := &fakeBackend{}
	r := New(fb)
	_ = r.OnTranslatedStage("p", shaderpipe.StageVertex, "vs")
	_ = r.OnTranslatedStage("p", shaderpipe.StageFragment, "fs")

	if err := r.CloseProgram("p"); err != nil {
		t.Fatal(err)
	}
	if err := r.CloseProgram("p"); err != nil {
		t.Errorf("second close: %v", err)
	}
	if err := r.CloseProgram("never"); err != nil {
		t.Errorf("unknown close: %v", err)
	}
	if _, ok := r.Program("p"); ok {
		t.Error("program still tracked after close")
	}
	if _, _, _, _, destroys := fb.counts(); destroys != 1 {
		t.Errorf("destroys = %d, want 1", destroys)
	}
}

func TestCloseDuringCreation(t *testing.T) {
	fb := &fakeBackend{createDelay: 50 * time.Millisecond}
	r := New(fb)
	_ = r.OnTranslatedStage("p", shaderpipe.StageVertex, "vs")

	done := make(chan error, 1)
	go func() { done <- r.OnTranslatedStage("p", shaderpipe.StageFragment, "fs") }()

	// Wait until creation is claimed, then close.
	for {
		r.mu.Lock()
		rec := r.programs["p"]
		r.mu.Unlock()
		rec.mu.Lock()
		creating := rec.creating
		rec.mu.Unlock()
		if creating {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if err := r.CloseProgram("p"); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if _, _, _, _, destroys := fb.counts(); destroys != 1 {
		t.Errorf("destroys = %d, want 1", destroys)
	}
}

func TestCloseAll(t *testing.T) {
	fb := &fakeBackend{}
	r := New(fb)
	for _, name := range []string{"a", "b", "c"} {
		_ = r.OnTranslatedStage(name, shaderpipe.StageVertex, "vs")
		_ = r.OnTranslatedStage(name, shaderpipe.StageFragment, "fs")
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if got := r.Programs(); len(got) != 0 {
		t.Errorf("Programs() = %v after Close", got)
	}
	if _, _, _, _, destroys := fb.counts(); destroys != 3 {
		t.Errorf("destroys = %d, want 3", destroys)
	}
}
