// Package pkggraph is the in-memory DAG of resolved packages: typed edges
// between Packages, deterministic dependency iteration, and a memoizing
// post-order fold used by the task planner.
package pkggraph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nbmpm/nbm/internal/manifest"
	"github.com/nbmpm/nbm/internal/nbmerr"
	"github.com/nbmpm/nbm/internal/override"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// SourceType classifies how a package's source behaves across builds:
// Immutable sources are never rebuilt once installed, Transient sources are
// rebuilt on every request, ImmutableWithTransient sits in between.
type SourceType int

const (
	Immutable SourceType = iota
	ImmutableWithTransient
	Transient
)

func (t SourceType) String() string {
	switch t {
	case ImmutableWithTransient:
		return "immutable-with-transient"
	case Transient:
		return "transient"
	default:
		return "immutable"
	}
}

// EdgeKind distinguishes runtime, build, and dev dependency edges.
type EdgeKind int

const (
	EdgeDependency EdgeKind = iota
	EdgeBuildDependency
	EdgeDevDependency
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeBuildDependency:
		return "build"
	case EdgeDevDependency:
		return "dev"
	default:
		return "runtime"
	}
}

// Package is the identity and static shape of a resolved package.
type Package struct {
	Name         string
	Version      string
	SourceDigest string

	SourceType SourceType
	SourcePath string

	// Overrides is the ordered stack of build overrides to fold onto the
	// loaded manifest, outermost last.
	Overrides []*override.BuildOverride

	// Manifest is the manifest loaded for this package before override
	// folding; the planner folds Overrides onto it.
	Manifest *manifest.BuildManifest
}

// ID is the package's identity key, (name, version, source-digest), used
// as the graph node key and as the task planner's memoization key.
func (p *Package) ID() string {
	return p.Name + "@" + p.Version + "#" + p.SourceDigest
}

type depEdge struct {
	kind EdgeKind
	to   *Package
}

type pkgNode struct {
	id  int64
	pkg *Package
}

func (n *pkgNode) ID() int64 { return n.id }

// Graph is a DAG of Packages with typed edges, keyed by Package.ID().
type Graph struct {
	g        *simple.DirectedGraph
	byKey    map[string]*pkgNode
	edgesOut map[string][]depEdge // pkg key -> edges to its dependencies
}

// New returns an empty package graph.
func New() *Graph {
	return &Graph{
		g:        simple.NewDirectedGraph(),
		byKey:    map[string]*pkgNode{},
		edgesOut: map[string][]depEdge{},
	}
}

// AddPackage registers pkg as a node, leaving the existing node unchanged
// if pkg.ID() was already added.
func (g *Graph) AddPackage(pkg *Package) {
	key := pkg.ID()
	if _, ok := g.byKey[key]; ok {
		return
	}
	n := &pkgNode{id: int64(len(g.byKey)), pkg: pkg}
	g.byKey[key] = n
	g.g.AddNode(n)
}

// AddEdge records that from depends on to with the given edge kind. Both
// packages must already have been added via AddPackage.
func (g *Graph) AddEdge(from, to *Package, kind EdgeKind) error {
	fn, ok := g.byKey[from.ID()]
	if !ok {
		return fmt.Errorf("pkggraph: AddEdge: %s not in graph", from.ID())
	}
	tn, ok := g.byKey[to.ID()]
	if !ok {
		return fmt.Errorf("pkggraph: AddEdge: %s not in graph", to.ID())
	}
	g.g.SetEdge(g.g.NewEdge(fn, tn))
	g.edgesOut[from.ID()] = append(g.edgesOut[from.ID()], depEdge{kind: kind, to: to})
	return nil
}

// Package looks up a package by its identity key.
func (g *Graph) Package(key string) (*Package, bool) {
	n, ok := g.byKey[key]
	if !ok {
		return nil, false
	}
	return n.pkg, true
}

// DepEdge is one outgoing dependency edge, returned by IterDependencies.
type DepEdge struct {
	Kind EdgeKind
	Pkg  *Package
}

// IterDependencies returns pkg's outgoing edges, optionally filtered to the
// given kinds, in deterministic order: by (name, version) ascending.
func (g *Graph) IterDependencies(pkg *Package, kinds ...EdgeKind) []DepEdge {
	var filter map[EdgeKind]bool
	if len(kinds) > 0 {
		filter = make(map[EdgeKind]bool, len(kinds))
		for _, k := range kinds {
			filter[k] = true
		}
	}

	edges := append([]depEdge(nil), g.edgesOut[pkg.ID()]...)
	sort.Slice(edges, func(i, j int) bool {
		pi, pj := edges[i].to, edges[j].to
		if pi.Name != pj.Name {
			return pi.Name < pj.Name
		}
		return pi.Version < pj.Version
	})

	out := make([]DepEdge, 0, len(edges))
	for _, e := range edges {
		if filter != nil && !filter[e.kind] {
			continue
		}
		out = append(out, DepEdge{Kind: e.kind, Pkg: e.to})
	}
	return out
}

// Fold performs a memoizing, cycle-detecting, deterministic post-order walk
// of the subgraph reachable from root, calling visit once per node with its
// already-computed dependency results (in the deterministic order
// IterDependencies would return, across all edge kinds).
func Fold[R any](g *Graph, root *Package, visit func(pkg *Package, depResults []R) (R, error)) (R, error) {
	memo := map[string]R{}
	var zero R
	var chain []string
	onStack := map[string]bool{}

	var walk func(pkg *Package) (R, error)
	walk = func(pkg *Package) (R, error) {
		key := pkg.ID()
		if r, ok := memo[key]; ok {
			return r, nil
		}
		if onStack[key] {
			chain = append(chain, pkg.Name)
			return zero, nbmerr.New(nbmerr.KindCyclicDependency, "cycle: %s", strings.Join(chain, " -> "))
		}
		onStack[key] = true
		chain = append(chain, pkg.Name)
		defer func() {
			onStack[key] = false
			chain = chain[:len(chain)-1]
		}()

		deps := g.IterDependencies(pkg)
		results := make([]R, len(deps))
		for i, d := range deps {
			r, err := walk(d.Pkg)
			if err != nil {
				return zero, err
			}
			results[i] = r
		}

		r, err := visit(pkg, results)
		if err != nil {
			return zero, err
		}
		memo[key] = r
		return r, nil
	}

	return walk(root)
}

// DetectCycles runs a whole-graph topological sort and reports the first
// offending component as a CyclicDependency error. Fold also detects
// cycles inline during a single root's walk; this is a cheaper up-front
// check over the whole graph before planning begins.
func (g *Graph) DetectCycles() error {
	if _, err := topo.Sort(g.g); err != nil {
		unorderable, ok := err.(topo.Unorderable)
		if !ok {
			return fmt.Errorf("pkggraph: topological sort: %w", err)
		}
		var names []string
		for _, n := range unorderable[0] {
			names = append(names, n.(*pkgNode).pkg.Name)
		}
		return nbmerr.New(nbmerr.KindCyclicDependency, "cycle among: %s", strings.Join(names, ", "))
	}
	return nil
}

var _ graph.Node = (*pkgNode)(nil)
