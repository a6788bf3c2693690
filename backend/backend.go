package backend

import (
	"errors"

	"github.com/gogpu/shaderpipe/registry"
)

// ErrBackendNotAvailable is returned when a requested backend is not
// registered or its factory cannot produce one.
var ErrBackendNotAvailable = errors.New("backend: not available")

// Backend name constants.
const (
	// BackendNative is the gogpu/wgpu HAL backend.
	BackendNative = "native"
	// BackendHeadless is the in-memory backend.
	BackendHeadless = "headless"
)

// Backend is a registry.Backend owning resources that Close releases.
type Backend interface {
	registry.Backend

	// Close destroys every program still alive.
	Close()
}
