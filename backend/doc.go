// Package backend selects the native backend programs are created on.
//
// # Backend Registration
//
// Backend packages register a factory under a name from init, so
// importing a backend makes it available:
//
//	import _ "github.com/gogpu/shaderpipe/backend/headless"
//
// The native backend needs a host device and registers explicitly:
//
//	native.Register(provider)
//
// # Backend Selection
//
// Use Default() to get the best available backend, or Get() to request
// a specific backend by name:
//
//	b, err := backend.Get(backend.BackendHeadless)
//	if err != nil {
//	    return err
//	}
//	defer b.Close()
//	reg := registry.New(b)
//
// Default prefers native over headless and skips backends whose factory
// fails.
package backend
