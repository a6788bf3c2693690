// Package pipeline orchestrates per-stage shader compilation.
//
// For each (program, stage) request a Pipeline captures the source, looks
// it up in the content-addressed cache and, on a miss, runs the compiler,
// reflector and translator in turn. Outputs are forwarded to a Sink, which
// assembles native programs. Compile failures never escape CompileStage:
// they are logged, recorded in diagnostics and reported as EventFailed.
// Only native resource failures raised by the Sink are returned.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/gogpu/shaderpipe"
	"github.com/gogpu/shaderpipe/diskcache"
)

// Diagnostics is the latest record for one (program, stage).
type Diagnostics struct {
	Program      string
	Stage        string
	Source       string
	NativeSource string
	Err          error
}

// ErrSourceTooLarge is the capture failure for a source longer than
// Config.MaxSourceBytes.
var ErrSourceTooLarge = errors.New("pipeline: shader source too large")

type diagKey struct{ program, stage string }

// outcome is the product of a cache hit or a fresh compile.
type outcome struct {
	cached      bool
	artifact    []byte
	bindings    shaderpipe.BindingMap
	hasBindings bool
	native      string
	hasNative   bool
}

// Pipeline compiles shader stages. It is safe for concurrent use.
type Pipeline struct {
	cfg Config

	flight singleflight.Group
	stores sync.WaitGroup

	mu          sync.RWMutex
	diagnostics map[diagKey]Diagnostics
	bindings    map[string]shaderpipe.BindingMap
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	if cfg.MaxSourceBytes <= 0 {
		cfg.MaxSourceBytes = DefaultMaxSourceBytes
	}
	if cfg.DisableDiskCache {
		cfg.Cache = nil
	}
	return &Pipeline{
		cfg:         cfg,
		diagnostics: make(map[diagKey]Diagnostics),
		bindings:    make(map[string]shaderpipe.BindingMap),
	}
}

// CompileStage compiles one stage of program from src.
//
// The returned reader yields exactly the bytes src would have yielded, so
// the caller can keep consuming the source after capture. The error is
// non-nil only for native resource failures reported by the Sink.
func (p *Pipeline) CompileStage(ctx context.Context, program, stageName string, src io.Reader) (io.Reader, error) {
	if p.cfg.DisableCompilation || p.cfg.Compiler == nil {
		return src, nil
	}

	stage, err := shaderpipe.ParseStage(stageName)
	if err != nil {
		p.emit(Event{Kind: EventSkipped, Program: program, Stage: stageName, Err: err})
		return src, nil
	}

	captured, err := io.ReadAll(io.LimitReader(src, int64(p.cfg.MaxSourceBytes)+1))
	replay := io.MultiReader(bytes.NewReader(captured), src)
	if err != nil {
		p.fail(program, stage, "", &phaseError{PhaseCapture, err})
		return replay, nil
	}
	if len(captured) > p.cfg.MaxSourceBytes {
		p.fail(program, stage, "", &phaseError{PhaseCapture, fmt.Errorf("%w: more than %d bytes", ErrSourceTooLarge, p.cfg.MaxSourceBytes)})
		return replay, nil
	}
	source := string(captured)

	p.setDiagnostics(Diagnostics{Program: program, Stage: stage.String(), Source: source})
	p.emit(Event{Kind: EventSourceCaptured, Program: program, Stage: stage.String()})

	key := diskcache.Key(program, stage, source)
	led := false
	v, err, _ := p.flight.Do(key, func() (any, error) {
		led = true
		return p.resolve(ctx, program, stage, source)
	})
	if !led {
		p.follow(program, stage, v, err)
	}
	if err != nil {
		p.fail(program, stage, source, err)
		return replay, nil
	}
	out := v.(*outcome)

	if out.hasBindings {
		p.mu.Lock()
		p.bindings[program] = out.bindings
		p.mu.Unlock()
		if p.cfg.Sink != nil {
			if err := p.forward(program, stage, p.cfg.Sink.OnBindingMap(program, out.bindings)); err != nil {
				return replay, err
			}
		}
	}

	if out.hasNative {
		p.setDiagnostics(Diagnostics{Program: program, Stage: stage.String(), Source: source, NativeSource: out.native})
		p.emit(Event{Kind: EventNativeCaptured, Program: program, Stage: stage.String()})
		if p.cfg.Sink != nil {
			if err := p.forward(program, stage, p.cfg.Sink.OnTranslatedStage(program, stage, out.native)); err != nil {
				return replay, err
			}
		}
	}
	return replay, nil
}

// resolve produces the stage outputs from the cache or the toolchain.
func (p *Pipeline) resolve(ctx context.Context, program string, stage shaderpipe.Stage, source string) (*outcome, error) {
	if p.cfg.Cache != nil {
		if e, ok := p.cfg.Cache.Load(program, stage, source); ok {
			p.emit(Event{Kind: EventCacheHit, Program: program, Stage: stage.String()})
			return &outcome{
				cached:      true,
				artifact:    e.Artifact,
				bindings:    e.Bindings,
				hasBindings: true,
				native:      e.NativeSource,
				hasNative:   true,
			}, nil
		}
	}

	artifact, err := p.cfg.Compiler.Compile(ctx, program, stage, source)
	if err == nil {
		err = shaderpipe.ValidateArtifact(program, artifact)
	}
	if err != nil {
		return nil, &phaseError{PhaseCompile, err}
	}
	major, minor := shaderpipe.ArtifactVersion(artifact)
	shaderpipe.Logger().Debug("pipeline: stage compiled",
		"program", program, "stage", stage.String(), "bytes", len(artifact), "spirv", fmt.Sprintf("%d.%d", major, minor))
	p.emit(Event{Kind: EventCompiled, Program: program, Stage: stage.String()})

	out := &outcome{artifact: artifact}
	if !p.cfg.DisableReflection && p.cfg.Reflector != nil {
		m, err := p.cfg.Reflector.Reflect(ctx, program, artifact)
		if err != nil {
			return nil, &phaseError{PhaseReflect, err}
		}
		out.bindings, out.hasBindings = m, true
		p.emit(Event{Kind: EventReflected, Program: program, Stage: stage.String()})
	}
	if !p.cfg.DisableTranslation && p.cfg.Translator != nil {
		native, err := p.cfg.Translator.Translate(ctx, program, artifact)
		if err != nil {
			return nil, &phaseError{PhaseTranslate, err}
		}
		out.native, out.hasNative = native, true
		p.emit(Event{Kind: EventTranslated, Program: program, Stage: stage.String()})
	}

	if p.cfg.Cache != nil && out.hasBindings && out.hasNative {
		p.stores.Add(1)
		go func() {
			defer p.stores.Done()
			p.cfg.Cache.Store(program, stage, source, out.artifact, out.native, out.bindings)
		}()
	}
	return out, nil
}

// follow emits, for a request collapsed onto another's lookup, the
// lookup and compile events the leading request emitted.
func (p *Pipeline) follow(program string, stage shaderpipe.Stage, v any, err error) {
	ev := func(kind EventKind) {
		p.emit(Event{Kind: kind, Program: program, Stage: stage.String()})
	}
	if err != nil {
		var pe *phaseError
		if !errors.As(err, &pe) || pe.phase == PhaseCompile {
			return
		}
		ev(EventCompiled)
		if pe.phase == PhaseTranslate && !p.cfg.DisableReflection && p.cfg.Reflector != nil {
			ev(EventReflected)
		}
		return
	}
	out := v.(*outcome)
	if out.cached {
		ev(EventCacheHit)
		return
	}
	ev(EventCompiled)
	if out.hasBindings {
		ev(EventReflected)
	}
	if out.hasNative {
		ev(EventTranslated)
	}
}

// forward passes native resource failures through and logs anything else.
func (p *Pipeline) forward(program string, stage shaderpipe.Stage, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, shaderpipe.ErrNativeResourceFailure) {
		return err
	}
	shaderpipe.Logger().Warn("pipeline: sink rejected stage output",
		"program", program, "stage", stage.String(), "err", err)
	return nil
}

func (p *Pipeline) fail(program string, stage shaderpipe.Stage, source string, err error) {
	phase := PhaseCompile
	var pe *phaseError
	if errors.As(err, &pe) {
		phase, err = pe.phase, pe.err
	}
	shaderpipe.Logger().Warn("pipeline: shader compile failed",
		"phase", string(phase), "program", program, "stage", stage.String(), "err", err)
	p.setDiagnostics(Diagnostics{Program: program, Stage: stage.String(), Source: source, Err: err})
	p.emit(Event{Kind: EventFailed, Program: program, Stage: stage.String(), Phase: phase, Err: err})
}

// Wait blocks until all pending cache stores have finished.
func (p *Pipeline) Wait() { p.stores.Wait() }

// Diagnostics returns the latest diagnostics for a stage.
func (p *Pipeline) Diagnostics(program, stage string) (Diagnostics, bool) {
	if s, err := shaderpipe.ParseStage(stage); err == nil {
		stage = s.String()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	d, ok := p.diagnostics[diagKey{program, stage}]
	return d, ok
}

// BindingMap returns the most recent binding map produced for program.
func (p *Pipeline) BindingMap(program string) (shaderpipe.BindingMap, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.bindings[program]
	return m, ok
}

func (p *Pipeline) setDiagnostics(d Diagnostics) {
	p.mu.Lock()
	p.diagnostics[diagKey{d.Program, d.Stage}] = d
	p.mu.Unlock()
}

// ProgramLoadStart reports that the host began loading program.
func (p *Pipeline) ProgramLoadStart(program string) {
	p.emit(Event{Kind: EventProgramLoadStart, Program: program, Stage: ProgramStage})
}

// ProgramLoadComplete reports that the host finished loading program.
func (p *Pipeline) ProgramLoadComplete(program string) {
	p.emit(Event{Kind: EventProgramLoadComplete, Program: program, Stage: ProgramStage})
}

// CompileStart reports that the host is about to compile a stage.
func (p *Pipeline) CompileStart(program, stage string) {
	p.emit(Event{Kind: EventCompileStart, Program: program, Stage: stage})
}

// CompileComplete reports that the host finished compiling a stage.
func (p *Pipeline) CompileComplete(program, stage string) {
	p.emit(Event{Kind: EventCompileComplete, Program: program, Stage: stage})
}

// Release reports that the host released a stage.
func (p *Pipeline) Release(program, stage string) {
	p.emit(Event{Kind: EventRelease, Program: program, Stage: stage})
}

// CloseProgram closes program in the Sink and forgets its binding map.
func (p *Pipeline) CloseProgram(program string) error {
	var err error
	if p.cfg.Sink != nil {
		err = p.cfg.Sink.CloseProgram(program)
	}
	p.mu.Lock()
	delete(p.bindings, program)
	p.mu.Unlock()
	p.emit(Event{Kind: EventProgramClose, Program: program, Stage: ProgramStage})
	return err
}

func (p *Pipeline) emit(ev Event) {
	ev.Seq = sequence.Add(1)
	if p.cfg.Debug {
		shaderpipe.Logger().Debug("pipeline: shader lifecycle",
			"event", ev.Kind.String(), "program", ev.Program, "stage", ev.Stage, "seq", ev.Seq)
	}
	if p.cfg.OnEvent != nil {
		p.cfg.OnEvent(ev)
	}
}
