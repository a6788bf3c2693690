package toolchain

import (
	"os"

	"github.com/gogpu/shaderpipe"
)

// withWorkDir runs fn inside a fresh temporary directory and removes the
// directory afterwards. Removal is best effort and never fails the call.
func withWorkDir(prefix string, fn func(dir string) error) error {
	dir, err := os.MkdirTemp("", prefix)
	if err != nil {
		return err
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			shaderpipe.Logger().Debug("toolchain: work dir cleanup failed", "dir", dir, "err", rmErr)
		}
	}()
	return fn(dir)
}

// fileExists reports whether path names an existing regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
