package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// waitDelay bounds how long Run waits for output pipes after the tool is
// killed, in case a grandchild process still holds them open.
const waitDelay = 2 * time.Second

// Output is the observable result of one tool invocation.
type Output struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Executor runs an external program to completion.
// A non-zero exit is reported through Output.ExitCode with a nil error;
// the error is reserved for programs that could not be started or were
// stopped by the context.
type Executor interface {
	Run(ctx context.Context, name string, args ...string) (Output, error)
}

// Exec is the os/exec backed Executor.
type Exec struct {
	// Timeout bounds each invocation. Zero means the call blocks until the
	// tool exits, so a hung tool blocks its caller.
	Timeout time.Duration
}

// Run starts name with args and waits for it.
func (e Exec) Run(ctx context.Context, name string, args ...string) (Output, error) {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return out, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	if ctx.Err() != nil {
		return out, fmt.Errorf("run %s: %w", name, ctx.Err())
	}
	return out, fmt.Errorf("run %s: %w", name, err)
}

// diagnostics returns the tool's error text. glslangValidator reports
// compile errors on stdout, so stdout is used when stderr is empty.
func (o Output) diagnostics() string {
	if o.Stderr != "" {
		return o.Stderr
	}
	return o.Stdout
}
