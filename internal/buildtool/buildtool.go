// Package buildtool invokes the external build system that produces the
// application bundle.
package buildtool

import (
	"context"
	"fmt"
	"os/exec"
)

// Builder runs one clean build of the application and reports whether it
// succeeded. Implementations block until the build completes.
type Builder interface {
	Build(ctx context.Context, target, configuration string) error
}

// BuildError indicates the external build tool exited non-zero.
type BuildError struct {
	// Command is the tool that was invoked.
	Command string

	// Err is the underlying exec error.
	Err error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build failed (%s): %v", e.Command, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// ExecBuilder shells out to the build tool. Diagnostic output is
// discarded: build failures are rare and get investigated by re-running
// the tool by hand, so the pipeline only cares about the exit status.
type ExecBuilder struct {
	// Command is the build tool binary (e.g. "xcodebuild").
	Command string

	// Dir is the working directory for the invocation, normally the
	// project source directory.
	Dir string
}

// Build runs `<command> -configuration <configuration> -target <target>
// clean build` in the configured directory.
func (b ExecBuilder) Build(ctx context.Context, target, configuration string) error {
	cmd := exec.CommandContext(ctx, b.Command,
		"-configuration", configuration,
		"-target", target,
		"clean", "build",
	)
	cmd.Dir = b.Dir
	if err := cmd.Run(); err != nil {
		return &BuildError{Command: b.Command, Err: err}
	}
	return nil
}
