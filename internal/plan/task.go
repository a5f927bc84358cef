// Package plan turns a resolved Package graph into memoized,
// content-addressed BuildTasks with their three composed environment
// layers.
package plan

import (
	"os"
	"sort"

	nbm "github.com/nbmpm/nbm"
	"github.com/nbmpm/nbm/internal/envcompose"
	"github.com/nbmpm/nbm/internal/manifest"
	"github.com/nbmpm/nbm/internal/override"
	"github.com/nbmpm/nbm/internal/pkggraph"
	"github.com/sirupsen/logrus"
)

// Env is a BuildTask's three composed environment layers.
type Env struct {
	Sandbox *envcompose.Closed
	Command *envcompose.Closed
	Build   *envcompose.Closed
}

// BuildTask is the planner's output for one package.
type BuildTask struct {
	ID  string
	Pkg *pkggraph.Package

	Build   manifest.CommandList
	Install manifest.CommandList

	SourcePath  string
	BuildPath   string
	StagePath   string
	InstallPath string

	Env Env

	Dependencies []*BuildTask

	// globalClosure is this task's resolved global exported-env, depth-0
	// being this package's own global entries; dependents shift it by one
	// when folding it into their own closure. Unexported: only other tasks
	// within this package consume it.
	globalClosure map[string]globalEntry

	// normalized is the manifest after override folding, kept so that
	// dependents can read this task's own exported-env without re-running
	// the fold.
	normalized *manifest.BuildManifest
}

// Planner produces BuildTasks from a Package graph lazily, memoizing by
// pkg.ID(). The memo table belongs to one planning invocation and is never
// shared across concurrent invocations.
type Planner struct {
	cfg   *nbm.Config
	graph *pkggraph.Graph
	log   *logrus.Logger
	memo  map[string]*BuildTask
}

// NewPlanner returns a Planner over g using cfg for path derivation. log may
// be nil, in which case a disabled logger is used.
func NewPlanner(cfg *nbm.Config, g *pkggraph.Graph, log *logrus.Logger) *Planner {
	if log == nil {
		log = logrus.New()
		log.SetOutput(os.Stderr)
		log.SetLevel(logrus.PanicLevel)
	}
	return &Planner{cfg: cfg, graph: g, log: log, memo: map[string]*BuildTask{}}
}

// Plan computes (or returns the memoized) BuildTask for pkg. dev selects
// whether a package's own BuildDev commands replace Build for that
// package; dependencies are planned with the same dev value, but each
// decides independently based on whether its own manifest sets BuildDev.
func (p *Planner) Plan(pkg *pkggraph.Package, dev bool) (*BuildTask, error) {
	if t, ok := p.memo[pkg.ID()]; ok {
		return t, nil
	}

	norm := override.FoldAll(pkg.Manifest, pkg.Overrides)

	kinds := []pkggraph.EdgeKind{pkggraph.EdgeDependency, pkggraph.EdgeBuildDependency}
	if dev {
		kinds = append(kinds, pkggraph.EdgeDevDependency)
	}
	directDeps := p.graph.IterDependencies(pkg, kinds...)

	depTasks := make([]*BuildTask, 0, len(directDeps))
	for _, d := range directDeps {
		dt, err := p.Plan(d.Pkg, dev)
		if err != nil {
			return nil, err
		}
		depTasks = append(depTasks, dt)
	}

	globalClosure := p.computeGlobalClosure(pkg.Name, norm, depTasks)

	sandboxEnv, err := p.sandboxEnv(globalClosure, pkg.Name)
	if err != nil {
		return nil, err
	}
	commandEnv, err := p.commandEnv(sandboxEnv, norm, depTasks)
	if err != nil {
		return nil, err
	}

	depIDs := make([]string, len(depTasks))
	for i, dt := range depTasks {
		depIDs[i] = dt.ID
	}
	id := taskID(pkg.Name, pkg.Version, norm.Serialize(), depIDs, patchDigests(pkg.SourcePath, norm.Patches), p.cfg.StoreVersion, norm.BuildType)

	transient := pkg.SourceType == pkggraph.Transient
	buildPath := p.cfg.StoreDirFor(transient, "b", id)
	stagePath := p.cfg.StoreDirFor(transient, "s", id)
	installPath := p.cfg.StoreDirFor(transient, "i", id)

	buildEnv, err := p.buildEnv(commandEnv, pkg, norm, buildPath, stagePath, installPath, depIDs)
	if err != nil {
		return nil, err
	}

	buildCmds := norm.Build
	if dev && norm.BuildDev != nil {
		buildCmds = *norm.BuildDev
	}

	t := &BuildTask{
		ID:            id,
		Pkg:           pkg,
		Build:         buildCmds,
		Install:       norm.Install,
		SourcePath:    pkg.SourcePath,
		BuildPath:     buildPath,
		StagePath:     stagePath,
		InstallPath:   installPath,
		Dependencies:  depTasks,
		globalClosure: globalClosure,
		normalized:    norm,
		Env: Env{
			Sandbox: sandboxEnv,
			Command: commandEnv,
			Build:   buildEnv,
		},
	}
	p.memo[pkg.ID()] = t
	return t, nil
}

// computeGlobalClosure folds pkg's own global exports with its dependencies'
// already-resolved closures, each shifted one level deeper.
func (p *Planner) computeGlobalClosure(pkgName string, norm *manifest.BuildManifest, deps []*BuildTask) map[string]globalEntry {
	shifted := make([]map[string]globalEntry, 0, len(deps)+1)
	shifted = append(shifted, ownGlobalEntries(pkgName, norm.ExportedEnv))
	for _, dt := range deps {
		shifted = append(shifted, shiftDepth(dt.globalClosure, 1))
	}
	return mergeGlobal(shifted...)
}

func platformDefault(name, fallback string) string {
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	return fallback
}

// sandboxEnv builds the minimal platform environment plus every global
// exported-env entry reachable from pkg's dependencies. pkg's own global
// entries are excluded: a package never sees its own not-yet-built exports
// in its own sandbox.
func (p *Planner) sandboxEnv(globalClosure map[string]globalEntry, pkgName string) (*envcompose.Closed, error) {
	bindings := []envcompose.Binding{
		{Name: "HOME", Value: platformDefault("HOME", "/nonexistent")},
		{Name: "SHELL", Value: platformDefault("SHELL", "/bin/sh")},
		{Name: "PATH", Value: platformDefault("PATH", "/usr/bin:/bin")},
	}

	names := make([]string, 0, len(globalClosure))
	for name, e := range globalClosure {
		if e.SourcePkg == pkgName && e.Depth == 0 {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		bindings = append(bindings, envcompose.Binding{Name: name, Value: globalClosure[name].Value})
	}

	return envcompose.Close(bindings)
}

// commandEnv layers pkg's own build-env and each direct dependency's raw
// exported-env (both scopes) onto sandboxEnv. Locals are added first and
// globals last, so a same-named global from a direct dependency always
// wins over a same-named local.
func (p *Planner) commandEnv(sandboxEnv *envcompose.Closed, norm *manifest.BuildManifest, deps []*BuildTask) (*envcompose.Closed, error) {
	bindings := sandboxPairsToBindings(sandboxEnv)

	buildEnvKeys := make([]string, 0, len(norm.BuildEnv))
	for k := range norm.BuildEnv {
		buildEnvKeys = append(buildEnvKeys, k)
	}
	sort.Strings(buildEnvKeys)
	for _, k := range buildEnvKeys {
		bindings = append(bindings, envcompose.Binding{Name: k, Value: norm.BuildEnv[k]})
	}

	sortedDeps := append([]*BuildTask(nil), deps...)
	sort.Slice(sortedDeps, func(i, j int) bool { return sortedDeps[i].Pkg.Name < sortedDeps[j].Pkg.Name })

	appendScoped := func(scope manifest.EnvScope) {
		for _, dt := range sortedDeps {
			exported := dt.normalized.ExportedEnv
			keys := make([]string, 0, len(exported))
			for k, e := range exported {
				if e.Scope == scope {
					keys = append(keys, k)
				}
			}
			sort.Strings(keys)
			for _, k := range keys {
				bindings = append(bindings, envcompose.Binding{Name: k, Value: exported[k].Value})
			}
		}
	}
	appendScoped(manifest.ScopeLocal)
	appendScoped(manifest.ScopeGlobal)

	return envcompose.Close(bindings)
}

// buildEnv layers the cur__* build-only variables onto commandEnv. The
// install-subtree variables are expressed as $cur__install references and
// resolved by the same expansion that closes user-authored bindings.
func (p *Planner) buildEnv(commandEnv *envcompose.Closed, pkg *pkggraph.Package, norm *manifest.BuildManifest, buildPath, stagePath, installPath string, depIDs []string) (*envcompose.Closed, error) {
	bindings := sandboxPairsToBindings(commandEnv)

	sortedDepIDs := append([]string(nil), depIDs...)
	sort.Strings(sortedDepIDs)

	extra := []envcompose.Binding{
		{Name: "cur__root", Value: pkg.SourcePath},
		{Name: "cur__target_dir", Value: buildPath},
		{Name: "cur__install", Value: installPath},
		{Name: "cur__stage", Value: stagePath},
		{Name: "cur__name", Value: pkg.Name},
		{Name: "cur__version", Value: pkg.Version},
		{Name: "cur__depends", Value: joinSpace(sortedDepIDs)},
		{Name: "cur__toplevel", Value: p.cfg.StorePath},
		{Name: "cur__bin", Value: "$cur__install/bin"},
		{Name: "cur__sbin", Value: "$cur__install/sbin"},
		{Name: "cur__lib", Value: "$cur__install/lib"},
		{Name: "cur__man", Value: "$cur__install/man"},
		{Name: "cur__doc", Value: "$cur__install/doc"},
		{Name: "cur__share", Value: "$cur__install/share"},
		{Name: "cur__etc", Value: "$cur__install/etc"},
	}
	bindings = append(bindings, extra...)

	return envcompose.Close(bindings)
}

func sandboxPairsToBindings(c *envcompose.Closed) []envcompose.Binding {
	names := c.Names()
	out := make([]envcompose.Binding, 0, len(names))
	for _, name := range names {
		v, _ := c.Get(name)
		out = append(out, envcompose.Binding{Name: name, Value: v})
	}
	return out
}

func joinSpace(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out
}
