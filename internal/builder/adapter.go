// Package builder defines the contract for the external executor that
// materializes a BuildTask's source, applies patches and substs, and runs
// its build/install commands inside a sandbox. The real sandboxed spawner
// lives outside this module; this package defines the contract, an
// unsandboxed host-exec implementation (LocalBuilder), and a fake for
// scheduler tests.
package builder

import (
	"context"
	"fmt"

	nbm "github.com/nbmpm/nbm"
	"github.com/nbmpm/nbm/internal/plan"
)

// Mode selects what Execute actually runs.
type Mode int

const (
	// ModeBuild runs the task's full build then install commands.
	ModeBuild Mode = iota
	// ModeBuildShell drops into an interactive shell inside the sandbox
	// instead of running the build commands.
	ModeBuildShell
	// ModeExec runs an arbitrary command inside the sandbox instead of the
	// task's own build commands. Command holds the argv to run.
	ModeExec
)

// ExecSpec carries ModeExec's command; zero value for the other modes.
type ExecSpec struct {
	Command []string
}

// ErrorCategory classifies an AdapterError.
type ErrorCategory int

const (
	ExitNonZero ErrorCategory = iota
	Spawn
	Sandbox
	Patch
	Subst
)

func (c ErrorCategory) String() string {
	switch c {
	case ExitNonZero:
		return "exit-nonzero"
	case Spawn:
		return "spawn"
	case Sandbox:
		return "sandbox"
	case Patch:
		return "patch"
	case Subst:
		return "subst"
	default:
		return "unknown"
	}
}

// AdapterError is a Builder's failure shape.
type AdapterError struct {
	Category ErrorCategory
	Detail   string
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s: %s", e.Category, e.Detail)
}

// Builder is the external per-build execution contract the scheduler
// depends on. Implementations materialize task.SourcePath into
// task.BuildPath, apply task.Pkg.Manifest's patches/substs, run the
// commands mode selects, and, on ModeBuild success, rename task.StagePath
// into task.InstallPath unless skipInstall is set.
type Builder interface {
	Execute(ctx context.Context, cfg *nbm.Config, task *plan.BuildTask, mode Mode, exec ExecSpec, skipInstall bool) error
}
