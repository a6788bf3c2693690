// Command shaderc batch-compiles shader programs through the shaderpipe
// pipeline and links them against a program backend.
//
// With the external toolchain a program is a pair of files sharing a base
// path, <name>.vsh and <name>.fsh (GLSL). With -toolchain naga a program is
// a single <name>.wgsl file holding both entry points.
//
//	shaderc -j 4 -target glsl -out build/shaders assets/shaders
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/gogpu/shaderpipe"
	"github.com/gogpu/shaderpipe/backend"
	_ "github.com/gogpu/shaderpipe/backend/headless"
	"github.com/gogpu/shaderpipe/diskcache"
	"github.com/gogpu/shaderpipe/pipeline"
	"github.com/gogpu/shaderpipe/registry"
	"github.com/gogpu/shaderpipe/toolchain"
	"github.com/gogpu/shaderpipe/toolchain/nagatool"
)

const (
	toolchainExternal = "external"
	toolchainNaga     = "naga"
)

// options holds the parsed command line.
type options struct {
	toolchain string
	target    string
	cacheDir  string
	noCache   bool
	jobs      int
	timeout   time.Duration
	outDir    string
	backend   string
	jsonLogs  bool
	verbose   bool
	validate  bool
	paths     []string
}

// program is one shader program discovered on disk.
type program struct {
	name  string
	files [2]string // indexed by shaderpipe.Stage
}

func main() {
	opts, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "shaderc:", err)
		os.Exit(2)
	}

	shaderpipe.SetLogger(slog.New(newHandler(os.Stderr, opts)))

	failed, err := run(context.Background(), opts, os.Stdout)
	if err != nil {
		shaderpipe.Logger().Error("shaderc failed", "err", err)
		os.Exit(1)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func parseFlags(fset *flag.FlagSet, args []string) (options, error) {
	var opts options
	fset.StringVar(&opts.toolchain, "toolchain", toolchainExternal, "shader toolchain: external (glslangValidator + spirv-cross) or naga")
	fset.StringVar(&opts.target, "target", "msl", "native target language")
	fset.StringVar(&opts.cacheDir, "cache", "", "disk cache root (default $"+diskcache.EnvCacheDir+" or the user cache dir)")
	fset.BoolVar(&opts.noCache, "no-cache", false, "disable the disk cache")
	fset.IntVar(&opts.jobs, "j", runtime.NumCPU(), "programs compiled concurrently")
	fset.DurationVar(&opts.timeout, "timeout", 30*time.Second, "per-invocation timeout for external tools")
	fset.StringVar(&opts.outDir, "out", "", "directory receiving translated sources")
	fset.StringVar(&opts.backend, "backend", "", "program backend (default: first available)")
	fset.BoolVar(&opts.jsonLogs, "json", false, "log as JSON even on a terminal")
	fset.BoolVar(&opts.verbose, "v", false, "log every lifecycle event")
	fset.BoolVar(&opts.validate, "validate", true, "validate lowered IR (naga toolchain only)")
	if err := fset.Parse(args); err != nil {
		return opts, err
	}

	opts.paths = fset.Args()
	if len(opts.paths) == 0 {
		return opts, errors.New("no shader paths given")
	}
	if opts.jobs < 1 {
		return opts, fmt.Errorf("-j must be positive, got %d", opts.jobs)
	}
	switch opts.toolchain {
	case toolchainExternal, toolchainNaga:
	default:
		return opts, fmt.Errorf("unknown toolchain %q", opts.toolchain)
	}
	if opts.backend != "" && !backend.IsRegistered(opts.backend) {
		return opts, fmt.Errorf("unknown backend %q (available: %s)", opts.backend, strings.Join(backend.Available(), ", "))
	}
	return opts, nil
}

// newHandler logs as text on a terminal and as JSON otherwise.
func newHandler(w *os.File, opts options) slog.Handler {
	ho := &slog.HandlerOptions{Level: slog.LevelInfo}
	if opts.verbose {
		ho.Level = slog.LevelDebug
	}
	if !opts.jsonLogs && term.IsTerminal(int(w.Fd())) {
		return slog.NewTextHandler(w, ho)
	}
	return slog.NewJSONHandler(w, ho)
}

// newConfig builds the pipeline configuration for opts. The returned ext
// is the file extension of translated sources.
func newConfig(opts options) (cfg pipeline.Config, ext string, err error) {
	switch opts.toolchain {
	case toolchainNaga:
		target, err := nagatool.ParseTarget(opts.target)
		if err != nil {
			return cfg, "", err
		}
		tc := nagatool.New(nagatool.WithTarget(target), nagatool.WithValidation(opts.validate))
		cfg.Compiler, cfg.Reflector, cfg.Translator = tc, tc, tc
		ext = "." + string(target)
		if target == nagatool.TargetMSL {
			ext = ".metal"
		}
	default:
		target, err := toolchain.ParseTarget(opts.target)
		if err != nil {
			return cfg, "", err
		}
		exec := toolchain.Exec{Timeout: opts.timeout}
		glslang := toolchain.NewGlslang()
		glslang.Executor = exec
		cross := toolchain.NewSPIRVCross()
		cross.Target = target
		cross.Executor = exec
		cfg.Compiler, cfg.Reflector, cfg.Translator = glslang, cross, cross
		ext = target.Ext()
	}

	if opts.noCache {
		cfg.DisableDiskCache = true
		return cfg, ext, nil
	}
	root := opts.cacheDir
	if root == "" {
		if root, err = diskcache.DefaultRoot(); err != nil {
			return cfg, "", err
		}
	}
	cfg.Cache = diskcache.New(root)
	return cfg, ext, nil
}

// discover walks paths and groups shader files into programs, sorted by name.
func discover(paths []string, kind string) ([]program, error) {
	byName := make(map[string]*program)
	add := func(path string) {
		name, stages := classify(path, kind)
		if len(stages) == 0 {
			return
		}
		p, ok := byName[name]
		if !ok {
			p = &program{name: name}
			byName[name] = p
		}
		for _, s := range stages {
			p.files[s] = path
		}
	}

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			add(root)
			continue
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	programs := make([]program, 0, len(byName))
	for _, p := range byName {
		programs = append(programs, *p)
	}
	sort.Slice(programs, func(i, j int) bool { return programs[i].name < programs[j].name })
	return programs, nil
}

// classify maps a file to its program name and the stages it provides.
func classify(path, kind string) (string, []shaderpipe.Stage) {
	ext := strings.ToLower(filepath.Ext(path))
	name := filepath.ToSlash(strings.TrimSuffix(path, filepath.Ext(path)))
	if kind == toolchainNaga {
		if ext == ".wgsl" {
			return name, shaderpipe.Stages[:]
		}
		return "", nil
	}
	switch ext {
	case ".vsh":
		return name, []shaderpipe.Stage{shaderpipe.StageVertex}
	case ".fsh":
		return name, []shaderpipe.Stage{shaderpipe.StageFragment}
	default:
		return "", nil
	}
}

// run compiles every discovered program and prints one summary line per
// program to w. It returns the number of programs that failed to link.
func run(ctx context.Context, opts options, w io.Writer) (int, error) {
	log := shaderpipe.Logger()

	cfg, ext, err := newConfig(opts)
	if err != nil {
		return 0, err
	}
	programs, err := discover(opts.paths, opts.toolchain)
	if err != nil {
		return 0, err
	}
	if len(programs) == 0 {
		return 0, errors.New("no shader programs found")
	}

	b, err := openBackend(opts.backend)
	if err != nil {
		return 0, err
	}
	defer b.Close()
	reg := registry.New(b)
	defer reg.Close()

	var stageFailures atomic.Int64
	cfg.Sink = reg
	cfg.Debug = opts.verbose
	cfg.OnEvent = func(ev pipeline.Event) {
		if ev.Kind == pipeline.EventFailed {
			stageFailures.Add(1)
		}
	}
	p := pipeline.New(cfg)

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.jobs)
	for _, prog := range programs {
		g.Go(func() error { return load(gctx, p, prog) })
	}
	err = g.Wait()
	p.Wait()
	if err != nil {
		return 0, err
	}

	failed := 0
	for _, prog := range programs {
		status := "ok"
		if linked, ok := reg.Program(prog.name); !ok || !linked.Active() {
			status = "unlinked"
			failed++
		}
		fmt.Fprintf(w, "%-8s %s\n", status, prog.name)
		if opts.outDir != "" {
			if err := writeNative(p, prog, opts.outDir, ext); err != nil {
				return failed, err
			}
		}
	}
	log.Info("shaderc done",
		"programs", len(programs),
		"failed", failed,
		"stage_failures", stageFailures.Load(),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return failed, nil
}

// openBackend creates the named backend, or the first available one when
// name is empty.
func openBackend(name string) (backend.Backend, error) {
	if name == "" {
		return backend.Default()
	}
	return backend.Get(name)
}

// load drives one program through the pipeline lifecycle. Only native
// resource failures are returned; compile failures stay in diagnostics.
func load(ctx context.Context, p *pipeline.Pipeline, prog program) error {
	p.ProgramLoadStart(prog.name)
	defer p.ProgramLoadComplete(prog.name)

	for _, stage := range shaderpipe.Stages {
		path := prog.files[stage]
		if path == "" {
			shaderpipe.Logger().Warn("missing stage", "program", prog.name, "stage", stage)
			continue
		}
		if err := compileFile(ctx, p, prog.name, stage.String(), path); err != nil {
			return err
		}
	}
	return nil
}

func compileFile(ctx context.Context, p *pipeline.Pipeline, name, stage, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	p.CompileStart(name, stage)
	defer p.Release(name, stage)
	defer p.CompileComplete(name, stage)

	_, err = p.CompileStage(ctx, name, stage, f)
	return err
}

// writeNative writes each translated stage as <out>/<name>.<vert|frag><ext>.
func writeNative(p *pipeline.Pipeline, prog program, outDir, ext string) error {
	for _, stage := range shaderpipe.Stages {
		d, ok := p.Diagnostics(prog.name, stage.String())
		if !ok || d.NativeSource == "" {
			continue
		}
		path := filepath.Join(outDir, filepath.FromSlash(prog.name)+"."+stage.ShortName()+ext)
		if filepath.IsAbs(prog.name) || slices.Contains(strings.Split(prog.name, "/"), "..") {
			path = filepath.Join(outDir, filepath.Base(prog.name)+"."+stage.ShortName()+ext)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(d.NativeSource), 0o644); err != nil {
			return err
		}
	}
	return nil
}
