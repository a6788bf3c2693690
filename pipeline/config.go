package pipeline

import (
	"os"
	"strconv"

	"github.com/gogpu/shaderpipe"
	"github.com/gogpu/shaderpipe/diskcache"
	"github.com/gogpu/shaderpipe/toolchain"
)

// Environment flags read by ConfigFromEnv. Each accepts any value
// strconv.ParseBool does; anything else counts as unset.
const (
	EnvDisableCompilation = "SHADERPIPE_DISABLE_COMPILATION"
	EnvDisableReflection  = "SHADERPIPE_DISABLE_REFLECTION"
	EnvDisableTranslation = "SHADERPIPE_DISABLE_TRANSLATION"
	EnvDisableDiskCache   = "SHADERPIPE_DISABLE_DISK_CACHE"
	EnvDebugLifecycle     = "SHADERPIPE_DEBUG_LIFECYCLE"
)

// DefaultMaxSourceBytes bounds how much source CompileStage captures.
const DefaultMaxSourceBytes = 512 * 1024

// Cache is the durable store consulted before compiling. *diskcache.Cache
// implements it.
type Cache interface {
	Load(name string, stage shaderpipe.Stage, source string) (*diskcache.Entry, bool)
	Store(name string, stage shaderpipe.Stage, source string, artifact []byte, nativeSource string, bindings shaderpipe.BindingMap)
}

// Sink receives compile outputs. *registry.Registry implements it.
type Sink interface {
	OnTranslatedStage(program string, stage shaderpipe.Stage, nativeSource string) error
	OnBindingMap(program string, m shaderpipe.BindingMap) error
	CloseProgram(program string) error
}

// Config configures a Pipeline.
type Config struct {
	Compiler   toolchain.Compiler
	Reflector  toolchain.Reflector
	Translator toolchain.Translator

	// Cache may be nil.
	Cache Cache

	// Sink may be nil, in which case outputs are only recorded.
	Sink Sink

	DisableCompilation bool
	DisableReflection  bool
	DisableTranslation bool
	DisableDiskCache   bool

	// Debug logs every event at debug level.
	Debug bool

	// MaxSourceBytes caps source capture; longer sources fail with
	// ErrSourceTooLarge. Zero means DefaultMaxSourceBytes.
	MaxSourceBytes int

	// OnEvent, if set, is called synchronously for every event.
	OnEvent func(Event)
}

// ConfigFromEnv returns a Config using the external glslangValidator and
// spirv-cross toolchain, the default disk cache and the SHADERPIPE_*
// feature flags.
func ConfigFromEnv() Config {
	cross := toolchain.NewSPIRVCross()
	cfg := Config{
		Compiler:           toolchain.NewGlslang(),
		Reflector:          cross,
		Translator:         cross,
		DisableCompilation: envFlag(EnvDisableCompilation),
		DisableReflection:  envFlag(EnvDisableReflection),
		DisableTranslation: envFlag(EnvDisableTranslation),
		DisableDiskCache:   envFlag(EnvDisableDiskCache),
		Debug:              envFlag(EnvDebugLifecycle),
	}
	if !cfg.DisableDiskCache {
		c, err := diskcache.Open()
		if err != nil {
			shaderpipe.Logger().Debug("pipeline: disk cache unavailable", "err", err)
		} else {
			cfg.Cache = c
		}
	}
	return cfg
}

func envFlag(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}
