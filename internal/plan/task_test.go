package plan

import (
	"os"
	"path/filepath"
	"testing"

	nbm "github.com/nbmpm/nbm"
	"github.com/nbmpm/nbm/internal/manifest"
	"github.com/nbmpm/nbm/internal/pkggraph"
)

func testConfig(t *testing.T) *nbm.Config {
	t.Helper()
	dir := t.TempDir()
	return &nbm.Config{
		PrefixPath:     dir,
		StorePath:      dir + "/store",
		LocalStorePath: dir + "/local-store",
		SandboxPath:    dir,
		EsyVersion:     "test",
		StoreVersion:   1,
	}
}

func pkgWith(name string, m *manifest.BuildManifest) *pkggraph.Package {
	m.Name = name
	return &pkggraph.Package{Name: name, Version: "1", SourceDigest: "d", SourcePath: "/src/" + name, Manifest: m}
}

func TestPlanIsDeterministicAcrossInvocations(t *testing.T) {
	cfg := testConfig(t)
	g := pkggraph.New()
	root := pkgWith("root", &manifest.BuildManifest{
		Build: manifest.CommandList{Commands: [][]string{{"echo", "hi"}}},
	})
	g.AddPackage(root)

	p1 := NewPlanner(cfg, g, nil)
	t1, err := p1.Plan(root, false)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	p2 := NewPlanner(cfg, g, nil)
	t2, err := p2.Plan(root, false)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	if t1.ID != t2.ID {
		t.Fatalf("task id not deterministic: %q vs %q", t1.ID, t2.ID)
	}
}

func TestPlanChangingManifestChangesID(t *testing.T) {
	cfg := testConfig(t)

	g1 := pkggraph.New()
	p1 := pkgWith("root", &manifest.BuildManifest{Build: manifest.CommandList{Commands: [][]string{{"echo", "a"}}}})
	g1.AddPackage(p1)
	t1, err := NewPlanner(cfg, g1, nil).Plan(p1, false)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	g2 := pkggraph.New()
	p2 := pkgWith("root", &manifest.BuildManifest{Build: manifest.CommandList{Commands: [][]string{{"echo", "b"}}}})
	g2.AddPackage(p2)
	t2, err := NewPlanner(cfg, g2, nil).Plan(p2, false)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	if t1.ID == t2.ID {
		t.Fatal("changing build commands did not change task id")
	}
}

func TestPlanMemoizesByPackageID(t *testing.T) {
	cfg := testConfig(t)
	g := pkggraph.New()
	root := pkgWith("root", &manifest.BuildManifest{})
	leaf := pkgWith("leaf", &manifest.BuildManifest{})
	g.AddPackage(root)
	g.AddPackage(leaf)
	if err := g.AddEdge(root, leaf, pkggraph.EdgeDependency); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}

	pl := NewPlanner(cfg, g, nil)
	rootTask, err := pl.Plan(root, false)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	leafTaskAgain, err := pl.Plan(leaf, false)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	if rootTask.Dependencies[0] != leafTaskAgain {
		t.Fatal("Plan did not return the memoized leaf task instance")
	}
}

func TestPlanEnvironmentScoping(t *testing.T) {
	cfg := testConfig(t)
	g := pkggraph.New()

	l := pkgWith("L", &manifest.BuildManifest{
		ExportedEnv: map[string]manifest.EnvEntry{"X": {Value: "x-val", Scope: manifest.ScopeLocal}},
	})
	gpkg := pkgWith("G", &manifest.BuildManifest{
		ExportedEnv: map[string]manifest.EnvEntry{"Y": {Value: "y-val", Scope: manifest.ScopeGlobal}},
	})
	m := pkgWith("M", &manifest.BuildManifest{})
	root := pkgWith("R", &manifest.BuildManifest{})

	for _, pk := range []*pkggraph.Package{l, gpkg, m, root} {
		g.AddPackage(pk)
	}
	must(t, g.AddEdge(root, l, pkggraph.EdgeDependency))
	must(t, g.AddEdge(root, gpkg, pkggraph.EdgeDependency))
	must(t, g.AddEdge(root, m, pkggraph.EdgeDependency))
	must(t, g.AddEdge(m, l, pkggraph.EdgeDependency))

	pl := NewPlanner(cfg, g, nil)
	rootTask, err := pl.Plan(root, false)
	if err != nil {
		t.Fatalf("Plan root: %v", err)
	}
	mTask, err := pl.Plan(m, false)
	if err != nil {
		t.Fatalf("Plan m: %v", err)
	}

	if v, ok := rootTask.Env.Command.Get("X"); !ok || v != "x-val" {
		t.Fatalf("R's command-env X = %q,%v, want x-val,true", v, ok)
	}
	if v, ok := rootTask.Env.Command.Get("Y"); !ok || v != "y-val" {
		t.Fatalf("R's command-env Y = %q,%v, want y-val,true", v, ok)
	}
	if v, ok := mTask.Env.Command.Get("X"); !ok || v != "x-val" {
		t.Fatalf("M's command-env X = %q,%v, want x-val,true (L is M's direct dependency)", v, ok)
	}
	if _, ok := mTask.Env.Command.Get("Y"); ok {
		t.Fatal("M's command-env should not see G's global Y: M does not depend on G")
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPlanPatchContentChangesID(t *testing.T) {
	cfg := testConfig(t)
	src := t.TempDir()
	patchPath := filepath.Join(src, "fix.patch")
	if err := os.WriteFile(patchPath, []byte("--- a\n+++ b\n"), 0o644); err != nil {
		t.Fatalf("writing patch: %v", err)
	}

	mkTask := func() string {
		g := pkggraph.New()
		p := &pkggraph.Package{
			Name: "root", Version: "1", SourceDigest: "d", SourcePath: src,
			Manifest: &manifest.BuildManifest{
				Name:    "root",
				Patches: []manifest.PatchSpec{{Path: "fix.patch"}},
			},
		}
		g.AddPackage(p)
		task, err := NewPlanner(cfg, g, nil).Plan(p, false)
		if err != nil {
			t.Fatalf("Plan: %v", err)
		}
		return task.ID
	}

	before := mkTask()
	if err := os.WriteFile(patchPath, []byte("--- a\n+++ b\n@@ changed\n"), 0o644); err != nil {
		t.Fatalf("rewriting patch: %v", err)
	}
	after := mkTask()

	if before == after {
		t.Fatal("changing a patch's bytes did not change the task id")
	}
}
