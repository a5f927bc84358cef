package scheduler

import (
	"context"
	"errors"
	"os"
	"testing"

	nbm "github.com/nbmpm/nbm"
	"github.com/nbmpm/nbm/internal/builder"
	"github.com/nbmpm/nbm/internal/manifest"
	"github.com/nbmpm/nbm/internal/nbmerr"
	"github.com/nbmpm/nbm/internal/pkggraph"
	"github.com/nbmpm/nbm/internal/plan"
)

func testConfig(t *testing.T) *nbm.Config {
	t.Helper()
	dir := t.TempDir()
	return &nbm.Config{
		StorePath:      dir + "/store",
		LocalStorePath: dir + "/local-store",
		SandboxPath:    dir,
		EsyVersion:     "test",
		StoreVersion:   1,
	}
}

func buildGraph(t *testing.T, edges map[string][]string) (*pkggraph.Graph, map[string]*pkggraph.Package) {
	t.Helper()
	g := pkggraph.New()
	pkgs := map[string]*pkggraph.Package{}
	for name := range edges {
		pkgs[name] = &pkggraph.Package{Name: name, Version: "1", SourceDigest: "d", SourcePath: "/src/" + name, Manifest: &manifest.BuildManifest{Name: name}}
		g.AddPackage(pkgs[name])
	}
	for name, deps := range edges {
		for _, dep := range deps {
			if err := g.AddEdge(pkgs[name], pkgs[dep], pkggraph.EdgeDependency); err != nil {
				t.Fatalf("AddEdge: %v", err)
			}
		}
	}
	return g, pkgs
}

func TestRunBuildsAllOnSuccess(t *testing.T) {
	cfg := testConfig(t)
	g, pkgs := buildGraph(t, map[string][]string{
		"root": {"a", "b", "c"},
		"a":    nil,
		"b":    nil,
		"c":    nil,
	})

	pl := plan.NewPlanner(cfg, g, nil)
	root, err := pl.Plan(pkgs["root"], false)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	fake := &builder.FakeBuilder{}
	s := &Scheduler{Cfg: cfg, Builder: fake, Concurrency: 2, Force: ForceYes}

	if err := s.Run(context.Background(), root); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := map[string]bool{}
	for _, inv := range fake.Invocations() {
		got[inv.PkgName] = true
	}
	for _, want := range []string{"root", "a", "b", "c"} {
		if !got[want] {
			t.Fatalf("invocations = %v, missing %q", fake.Invocations(), want)
		}
	}
}

func TestRunStopsAtFirstFailureAndNeverStartsRoot(t *testing.T) {
	cfg := testConfig(t)
	g, pkgs := buildGraph(t, map[string][]string{
		"root": {"a", "b", "c"},
		"a":    nil,
		"b":    nil,
		"c":    nil,
	})

	pl := plan.NewPlanner(cfg, g, nil)
	root, err := pl.Plan(pkgs["root"], false)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	fake := &builder.FakeBuilder{Outcomes: map[string]error{"b": errors.New("boom")}}
	s := &Scheduler{Cfg: cfg, Builder: fake, Concurrency: 2, Force: ForceYes}

	err = s.Run(context.Background(), root)
	if err == nil {
		t.Fatal("expected Run to return the first failure")
	}

	for _, inv := range fake.Invocations() {
		if inv.PkgName == "root" {
			t.Fatal("root must never be started once a dependency failed")
		}
	}
}

func TestRunSkipsImmutableAlreadyInstalled(t *testing.T) {
	cfg := testConfig(t)
	g := pkggraph.New()
	leaf := &pkggraph.Package{
		Name: "leaf", Version: "1", SourceDigest: "d", SourcePath: "/src/leaf",
		SourceType: pkggraph.Immutable,
		Manifest:   &manifest.BuildManifest{Name: "leaf"},
	}
	g.AddPackage(leaf)

	pl := plan.NewPlanner(cfg, g, nil)
	task, err := pl.Plan(leaf, false)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if err := os.MkdirAll(task.InstallPath, 0o755); err != nil {
		t.Fatalf("seeding install path: %v", err)
	}

	fake := &builder.FakeBuilder{}
	s := &Scheduler{Cfg: cfg, Builder: fake, Concurrency: 1, Force: ForceNo}
	if err := s.Run(context.Background(), task); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(fake.Invocations()) != 0 {
		t.Fatalf("expected no builder invocations for an already-installed immutable package, got %v", fake.Invocations())
	}
}

func TestRunCancelledContextDispatchesNothing(t *testing.T) {
	cfg := testConfig(t)
	g, pkgs := buildGraph(t, map[string][]string{
		"root": {"a"},
		"a":    nil,
	})

	pl := plan.NewPlanner(cfg, g, nil)
	root, err := pl.Plan(pkgs["root"], false)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fake := &builder.FakeBuilder{}
	s := &Scheduler{Cfg: cfg, Builder: fake, Concurrency: 2, Force: ForceYes}

	err = s.Run(ctx, root)
	if !nbmerr.Is(err, nbmerr.KindCancelled) {
		t.Fatalf("Run err = %v, want Cancelled", err)
	}
	if len(fake.Invocations()) != 0 {
		t.Fatalf("expected no builds after pre-cancelled context, got %v", fake.Invocations())
	}
}

func TestRunBuildOnlyForRootSkipsOnlyRootInstall(t *testing.T) {
	cfg := testConfig(t)
	g, pkgs := buildGraph(t, map[string][]string{
		"root": {"a"},
		"a":    nil,
	})

	pl := plan.NewPlanner(cfg, g, nil)
	root, err := pl.Plan(pkgs["root"], false)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	fake := &builder.FakeBuilder{}
	s := &Scheduler{Cfg: cfg, Builder: fake, Concurrency: 1, Force: ForceYes, BuildOnly: BuildOnlyForRoot}
	if err := s.Run(context.Background(), root); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, inv := range fake.Invocations() {
		wantSkip := inv.PkgName == "root"
		if inv.SkipInstall != wantSkip {
			t.Fatalf("SkipInstall for %q = %v, want %v (only the root skips its install phase)", inv.PkgName, inv.SkipInstall, wantSkip)
		}
	}
}
