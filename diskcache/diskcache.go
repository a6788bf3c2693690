// Package diskcache is a durable, content-addressed store for compiled
// shader stages.
//
// Each entry is a directory named by the cache key holding the SPIR-V
// artifact, the translated native source and the reflected binding map.
// Entries are written into a private staging directory and renamed into
// place, so a reader observes either a complete entry or none.
package diskcache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gogpu/shaderpipe"
)

// Namespace is the subdirectory of the cache root holding entries. It
// changes whenever the entry layout does.
const Namespace = "shader-pipeline-v1"

// EnvCacheDir overrides the cache root.
const EnvCacheDir = "SHADERPIPE_CACHE_DIR"

// Entry file names.
const (
	ArtifactFile = "shader.spv"
	NativeFile   = "shader.src"
	BindingsFile = "reflection.json"
)

const stagingPrefix = ".staging-"

var errNullBindings = errors.New("binding map is null")

// Entry is one cached stage.
type Entry struct {
	Artifact     []byte
	NativeSource string
	Bindings     shaderpipe.BindingMap
}

// Cache stores entries under <root>/shader-pipeline-v1.
//
// Cache is safe for concurrent use, including by several processes sharing
// a root.
type Cache struct {
	dir string
}

// New returns a cache rooted at root. The directory is created on the first
// store.
func New(root string) *Cache {
	return &Cache{dir: filepath.Join(root, Namespace)}
}

// Open returns a cache at DefaultRoot.
func Open() (*Cache, error) {
	root, err := DefaultRoot()
	if err != nil {
		return nil, err
	}
	return New(root), nil
}

// DefaultRoot returns $SHADERPIPE_CACHE_DIR, or a shaderpipe directory in
// the user cache directory.
func DefaultRoot() (string, error) {
	if dir := os.Getenv(EnvCacheDir); dir != "" {
		return dir, nil
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("diskcache: resolving cache root: %w", err)
	}
	return filepath.Join(dir, "shaderpipe"), nil
}

// Key derives the entry name for a stage. It depends only on its inputs;
// sources differing in a single byte yield different keys.
func Key(name string, stage shaderpipe.Stage, source string) string {
	sum := sha256.Sum256([]byte(source))
	return shaderpipe.SanitizeName(name) + "__" + shaderpipe.SanitizeName(stage.String()) + "__" + hex.EncodeToString(sum[:])
}

// Dir returns the namespace directory.
func (c *Cache) Dir() string { return c.dir }

// Load returns the entry for the inputs. Missing, unreadable or malformed
// entries are all reported as a miss.
func (c *Cache) Load(name string, stage shaderpipe.Stage, source string) (*Entry, bool) {
	key := Key(name, stage, source)
	entry, err := c.load(name, filepath.Join(c.dir, key))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			shaderpipe.Logger().Debug("diskcache: treating entry as miss", "key", key, "err", err)
		}
		return nil, false
	}
	return entry, true
}

func (c *Cache) load(name, dir string) (*Entry, error) {
	fail := func(err error) error {
		return &shaderpipe.Error{Kind: shaderpipe.KindCacheReadFailure, Shader: name, Op: "cache load", Err: err}
	}

	artifact, err := os.ReadFile(filepath.Join(dir, ArtifactFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		return nil, fail(err)
	}
	if err := shaderpipe.ValidateArtifact(name, artifact); err != nil {
		return nil, fail(err)
	}
	native, err := os.ReadFile(filepath.Join(dir, NativeFile))
	if err != nil {
		return nil, fail(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, BindingsFile))
	if err != nil {
		return nil, fail(err)
	}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil, fail(errNullBindings)
	}
	bindings, err := shaderpipe.ParseBindingMap(data)
	if err != nil {
		return nil, fail(err)
	}
	return &Entry{Artifact: artifact, NativeSource: string(native), Bindings: bindings}, nil
}

// Store writes an entry, replacing any existing one for the same key.
// Failures are logged at debug level and otherwise ignored.
func (c *Cache) Store(name string, stage shaderpipe.Stage, source string, artifact []byte, nativeSource string, bindings shaderpipe.BindingMap) {
	key := Key(name, stage, source)
	if err := c.store(key, artifact, nativeSource, bindings); err != nil {
		shaderpipe.Logger().Debug("diskcache: store failed", "key", key, "err", err)
	}
}

func (c *Cache) store(key string, artifact []byte, nativeSource string, bindings shaderpipe.BindingMap) error {
	fail := func(err error) error {
		return &shaderpipe.Error{Kind: shaderpipe.KindCacheWriteFailure, Op: "cache store", Message: key, Err: err}
	}

	data, err := json.Marshal(bindings)
	if err != nil {
		return fail(err)
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fail(err)
	}
	staging, err := os.MkdirTemp(c.dir, stagingPrefix)
	if err != nil {
		return fail(err)
	}
	defer removeBestEffort(staging)

	files := []struct {
		name string
		data []byte
	}{
		{ArtifactFile, artifact},
		{NativeFile, []byte(nativeSource)},
		{BindingsFile, data},
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(staging, f.name), f.data, 0o644); err != nil {
			return fail(err)
		}
	}

	dst := filepath.Join(c.dir, key)
	if err := os.Rename(staging, dst); err == nil {
		return nil
	}

	// An entry already exists. Move it aside under a name derived from the
	// unique staging directory, land the new one, then drop the old.
	tombstone := staging + ".old"
	if err := os.Rename(dst, tombstone); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fail(err)
	}
	defer removeBestEffort(tombstone)
	if err := os.Rename(staging, dst); err != nil {
		return fail(err)
	}
	return nil
}

// Purge removes every entry.
func (c *Cache) Purge() error {
	if err := os.RemoveAll(c.dir); err != nil {
		return fmt.Errorf("diskcache: purge: %w", err)
	}
	return nil
}

func removeBestEffort(path string) {
	if err := os.RemoveAll(path); err != nil {
		shaderpipe.Logger().Debug("diskcache: cleanup failed", "path", path, "err", err)
	}
}
