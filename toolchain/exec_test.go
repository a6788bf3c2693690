package toolchain

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func requireShell(t *testing.T) string {
	t.Helper()
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return sh
}

func TestExecRunExitCode(t *testing.T) {
	sh := requireShell(t)

	out, err := Exec{}.Run(context.Background(), sh, "-c", "echo out; echo err >&2; exit 3")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", out.ExitCode)
	}
	if strings.TrimSpace(out.Stdout) != "out" || strings.TrimSpace(out.Stderr) != "err" {
		t.Errorf("Output = %+v", out)
	}
}

func TestExecRunSuccess(t *testing.T) {
	sh := requireShell(t)

	out, err := Exec{}.Run(context.Background(), sh, "-c", "true")
	if err != nil || out.ExitCode != 0 {
		t.Fatalf("Run() = %+v, %v", out, err)
	}
}

func TestExecRunTimeout(t *testing.T) {
	sh := requireShell(t)

	start := time.Now()
	_, err := Exec{Timeout: 50 * time.Millisecond}.Run(context.Background(), sh, "-c", "exec sleep 5")
	if err == nil {
		t.Fatal("Run() should fail after timeout")
	}
	if time.Since(start) > 4*time.Second {
		t.Error("timeout did not stop the tool")
	}
}

func TestExecRunMissingBinary(t *testing.T) {
	_, err := Exec{}.Run(context.Background(), "shaderpipe-no-such-tool")
	if err == nil {
		t.Fatal("Run() should fail for a missing executable")
	}
}

func TestToolPath(t *testing.T) {
	t.Setenv(EnvGlslang, "")
	if got := ToolPath(EnvGlslang, DefaultGlslang); got != DefaultGlslang {
		t.Errorf("ToolPath(empty) = %q, want default", got)
	}
	t.Setenv(EnvGlslang, "/opt/vulkan/bin/glslangValidator")
	if got := ToolPath(EnvGlslang, DefaultGlslang); got != "/opt/vulkan/bin/glslangValidator" {
		t.Errorf("ToolPath() = %q", got)
	}
}

func TestNewConstructorsUseEnv(t *testing.T) {
	t.Setenv(EnvGlslang, "my-glslang")
	t.Setenv(EnvSPIRVCross, "my-spirv-cross")
	if g := NewGlslang(); g.Bin != "my-glslang" || g.TargetEnv != DefaultTargetEnv {
		t.Errorf("NewGlslang() = %+v", g)
	}
	if c := NewSPIRVCross(); c.Bin != "my-spirv-cross" || c.Target != TargetMSL {
		t.Errorf("NewSPIRVCross() = %+v", c)
	}
}
