// Package scheduler walks a planned BuildTask graph bottom-up with bounded
// parallelism, deciding per node whether to rebuild, dispatching each
// build to a Builder, and surfacing the first failure. One coordinator
// owns the remaining-dependency counts and keeps up to `concurrency` build
// goroutines outstanding, draining their results.
package scheduler

import (
	"context"
	"os"
	"runtime"
	"sort"

	nbm "github.com/nbmpm/nbm"
	"github.com/nbmpm/nbm/internal/builder"
	"github.com/nbmpm/nbm/internal/nbmerr"
	"github.com/nbmpm/nbm/internal/pkggraph"
	"github.com/nbmpm/nbm/internal/plan"
	"github.com/nbmpm/nbm/internal/storelock"
	"golang.org/x/sync/errgroup"
)

// Force selects the rebuild-forcing policy.
type Force int

const (
	ForceNo Force = iota
	ForceForRoot
	ForceYes
)

// BuildOnly selects whether the root node's install phase is skipped;
// dependencies always install regardless of this setting.
type BuildOnly int

const (
	BuildOnlyNo BuildOnly = iota
	BuildOnlyForRoot
)

// Reporter is the progress side-channel the scheduler notifies as nodes
// start, finish, and fail.
type Reporter interface {
	Started(pkg *pkggraph.Package)
	Succeeded(pkg *pkggraph.Package, fromCache bool)
	Failed(pkg *pkggraph.Package, err error)
}

// noopReporter is used when Scheduler.Reporter is nil.
type noopReporter struct{}

func (noopReporter) Started(*pkggraph.Package) {}

func (noopReporter) Succeeded(*pkggraph.Package, bool) {}

func (noopReporter) Failed(*pkggraph.Package, error) {}

// Scheduler executes a planned BuildTask graph.
type Scheduler struct {
	Cfg         *nbm.Config
	Builder     builder.Builder
	Concurrency int
	Force       Force
	BuildOnly   BuildOnly
	Reporter    Reporter
}

func (s *Scheduler) concurrency() int {
	if s.Concurrency > 0 {
		return s.Concurrency
	}
	if n := runtime.NumCPU(); n > 0 {
		return n
	}
	return 1
}

func (s *Scheduler) reporter() Reporter {
	if s.Reporter != nil {
		return s.Reporter
	}
	return noopReporter{}
}

type taskResult struct {
	task *plan.BuildTask
	err  error
}

// Run walks root's dependency graph bottom-up and builds whatever the
// rebuild policy selects, returning the first failure encountered. On
// failure or cancellation no new node is dispatched; builds already in
// flight are awaited to completion, never force-killed.
func (s *Scheduler) Run(ctx context.Context, root *plan.BuildTask) error {
	tasks := collectAll(root)
	remaining := make(map[string]int, len(tasks))
	dependents := make(map[string][]*plan.BuildTask)
	for _, t := range tasks {
		remaining[t.ID] = len(t.Dependencies)
		for _, d := range t.Dependencies {
			dependents[d.ID] = append(dependents[d.ID], t)
		}
	}

	// The queue is FIFO by eligibility time; each batch of newly eligible
	// nodes is sorted by package name before it is appended.
	queue := eligibleNow(tasks, remaining)

	var eg errgroup.Group
	done := make(chan taskResult)
	inflight := 0
	stopped := false
	var firstErr error
	fail := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
		stopped = true
	}

	for {
		// Cancellation is cooperative: checked between scheduling ticks and
		// before spawning a new build.
		if !stopped && ctx.Err() != nil {
			fail(nbmerr.New(nbmerr.KindCancelled, "build cancelled"))
		}

		for !stopped && inflight < s.concurrency() && len(queue) > 0 {
			t := queue[0]
			queue = queue[1:]
			inflight++
			eg.Go(func() error {
				done <- taskResult{task: t, err: s.runOne(ctx, t, t.ID == root.ID)}
				return nil
			})
		}

		if inflight == 0 {
			break
		}

		if stopped {
			// Drain: in-flight builds run to completion, their outcomes no
			// longer schedule anything.
			<-done
			inflight--
			continue
		}

		select {
		case r := <-done:
			inflight--
			if r.err != nil {
				fail(r.err)
				continue
			}
			var ready []*plan.BuildTask
			for _, dep := range dependents[r.task.ID] {
				remaining[dep.ID]--
				if remaining[dep.ID] == 0 {
					ready = append(ready, dep)
				}
			}
			sort.Slice(ready, func(i, j int) bool { return ready[i].Pkg.Name < ready[j].Pkg.Name })
			queue = append(queue, ready...)
		case <-ctx.Done():
			fail(nbmerr.New(nbmerr.KindCancelled, "build cancelled"))
		}
	}

	eg.Wait()
	return firstErr
}

func eligibleNow(tasks []*plan.BuildTask, remaining map[string]int) []*plan.BuildTask {
	var out []*plan.BuildTask
	for _, t := range tasks {
		if remaining[t.ID] == 0 {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pkg.Name < out[j].Pkg.Name })
	return out
}

func collectAll(root *plan.BuildTask) []*plan.BuildTask {
	seen := map[string]bool{}
	var all []*plan.BuildTask
	var walk func(t *plan.BuildTask)
	walk = func(t *plan.BuildTask) {
		if seen[t.ID] {
			return
		}
		seen[t.ID] = true
		for _, d := range t.Dependencies {
			walk(d)
		}
		all = append(all, t)
	}
	walk(root)
	return all
}

// shouldRebuild decides whether a node runs or is treated as already
// installed: forced nodes always run, anything without an install
// directory runs, and transient-flavored sources run unconditionally.
func (s *Scheduler) shouldRebuild(task *plan.BuildTask, isRoot bool) bool {
	if s.Force == ForceYes {
		return true
	}
	if s.Force == ForceForRoot && isRoot {
		return true
	}
	if _, err := os.Stat(task.InstallPath); err != nil {
		return true
	}
	switch task.Pkg.SourceType {
	case pkggraph.Transient, pkggraph.ImmutableWithTransient:
		return true
	default:
		return false
	}
}

func (s *Scheduler) runOne(ctx context.Context, task *plan.BuildTask, isRoot bool) error {
	if !s.shouldRebuild(task, isRoot) {
		s.reporter().Succeeded(task.Pkg, true)
		return nil
	}

	s.reporter().Started(task.Pkg)

	lock, err := storelock.Acquire(s.Cfg.LockPathFor(task.ID))
	if err != nil {
		wrapped := nbmerr.WithContext(err, nbmerr.KindLockContention, "scheduling "+task.Pkg.Name)
		s.reporter().Failed(task.Pkg, wrapped)
		return wrapped
	}
	defer lock.Close()

	skipInstall := s.BuildOnly == BuildOnlyForRoot && isRoot
	if err := s.Builder.Execute(ctx, s.Cfg, task, builder.ModeBuild, builder.ExecSpec{}, skipInstall); err != nil {
		wrapped := nbmerr.Wrap(nbmerr.KindBuildFailed, err).WithContext("building " + task.Pkg.Name)
		s.reporter().Failed(task.Pkg, wrapped)
		return wrapped
	}

	s.reporter().Succeeded(task.Pkg, false)
	return nil
}
