package plan

import "github.com/nbmpm/nbm/internal/manifest"

// globalEntry is one name's resolved global exported-env value as it
// propagates up through the dependency graph, carrying enough provenance to
// break collision ties deterministically.
type globalEntry struct {
	Value     string
	SourcePkg string
	Depth     int
}

// shiftDepth returns a copy of m with every entry's Depth incremented by
// delta, used when folding a dependency's already-resolved closure one
// level further up the tree.
func shiftDepth(m map[string]globalEntry, delta int) map[string]globalEntry {
	out := make(map[string]globalEntry, len(m))
	for k, v := range m {
		v.Depth += delta
		out[k] = v
	}
	return out
}

// mergeGlobal combines any number of global-entry maps, resolving
// collisions: deepest-package wins, ties broken
// lexicographically by source package name. (Scope is implicit here: only
// globals ever enter this structure, so "global-over-local" is enforced at
// the command-env composition site in task.go, not here.)
func mergeGlobal(maps ...map[string]globalEntry) map[string]globalEntry {
	out := map[string]globalEntry{}
	for _, m := range maps {
		for name, entry := range m {
			existing, ok := out[name]
			if !ok {
				out[name] = entry
				continue
			}
			if entry.Depth > existing.Depth {
				out[name] = entry
			} else if entry.Depth == existing.Depth && entry.SourcePkg < existing.SourcePkg {
				out[name] = entry
			}
		}
	}
	return out
}

// ownGlobalEntries extracts a package's own global-scoped exported-env
// entries as depth-0 globalEntry values.
func ownGlobalEntries(pkgName string, exported map[string]manifest.EnvEntry) map[string]globalEntry {
	out := map[string]globalEntry{}
	for name, e := range exported {
		if e.Scope == manifest.ScopeGlobal {
			out[name] = globalEntry{Value: e.Value, SourcePkg: pkgName, Depth: 0}
		}
	}
	return out
}
