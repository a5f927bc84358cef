package builder

import (
	"context"
	"sync"

	nbm "github.com/nbmpm/nbm"
	"github.com/nbmpm/nbm/internal/plan"
)

// Invocation is one recorded call to FakeBuilder.Execute.
type Invocation struct {
	PkgName     string
	Mode        Mode
	SkipInstall bool
}

// FakeBuilder is the deterministic, programmable Builder used by scheduler
// tests: it records invocations and returns pre-programmed outcomes.
type FakeBuilder struct {
	mu sync.Mutex

	// Outcomes maps a package name to the error Execute should return for
	// it; a missing entry means success. Shared across goroutines: set it
	// up before handing the FakeBuilder to a concurrent scheduler run.
	Outcomes map[string]error

	invocations []Invocation
}

// Execute records the call and returns the programmed outcome for
// task.Pkg.Name, if any.
func (f *FakeBuilder) Execute(_ context.Context, _ *nbm.Config, task *plan.BuildTask, mode Mode, _ ExecSpec, skipInstall bool) error {
	f.mu.Lock()
	f.invocations = append(f.invocations, Invocation{PkgName: task.Pkg.Name, Mode: mode, SkipInstall: skipInstall})
	err := f.Outcomes[task.Pkg.Name]
	f.mu.Unlock()
	return err
}

// Invocations returns a snapshot of every Execute call recorded so far, in
// call order.
func (f *FakeBuilder) Invocations() []Invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Invocation(nil), f.invocations...)
}

var _ Builder = (*FakeBuilder)(nil)
