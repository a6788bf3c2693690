package toolchain

import (
	"context"
	"os"
	"path/filepath"
	"sync"
)

// validSPIRV is a minimal header-valid SPIR-V 1.6 module.
var validSPIRV = []byte{0x03, 0x02, 0x23, 0x07, 0x00, 0x06, 0x01, 0x00, 0x01, 0x00, 0x00, 0x00}

// fakeExecutor simulates a tool. It writes outFile (when non-nil) to the
// path following "-o" or "--output" and returns out/err.
type fakeExecutor struct {
	mu      sync.Mutex
	out     Output
	err     error
	outFile []byte
	calls   [][]string
	dirs    []string
}

func (f *fakeExecutor) Run(_ context.Context, name string, args ...string) (Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, append([]string{name}, args...))
	for i, a := range args {
		if filepath.IsAbs(a) {
			f.dirs = append(f.dirs, filepath.Dir(a))
		}
		if (a == "-o" || a == "--output") && i+1 < len(args) && f.outFile != nil {
			if err := os.WriteFile(args[i+1], f.outFile, 0o600); err != nil {
				return Output{}, err
			}
		}
	}
	return f.out, f.err
}

func (f *fakeExecutor) lastCall() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

// workDirsRemoved reports whether every directory the tool saw is gone.
func (f *fakeExecutor) workDirsRemoved() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.dirs {
		if _, err := os.Stat(d); err == nil {
			return false
		}
	}
	return len(f.dirs) > 0
}

func contains(args []string, want ...string) bool {
	for i := 0; i+len(want) <= len(args); i++ {
		match := true
		for j, w := range want {
			if args[i+j] != w {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
