// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"bufio"
	"go/build/constraint"
	"os"
	"testing"
)

// TestNogpuExcludesHAL keeps the wgpu-backed files out of nogpu builds.
func TestNogpuExcludesHAL(t *testing.T) {
	for _, file := range []string{"backend.go", "backend_test.go"} {
		f, err := os.Open(file)
		if err != nil {
			t.Fatal(err)
		}
		sc := bufio.NewScanner(f)
		sc.Scan()
		first := sc.Text()
		f.Close()

		expr, err := constraint.Parse(first)
		if err != nil {
			t.Fatalf("%s: first line %q is not a build constraint: %v", file, first, err)
		}
		if expr.Eval(func(tag string) bool { return tag == "nogpu" }) {
			t.Errorf("%s builds with the nogpu tag", file)
		}
		if !expr.Eval(func(string) bool { return false }) {
			t.Errorf("%s is excluded from default builds", file)
		}
	}
}
