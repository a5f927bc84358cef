// Package override implements the ordered override fold: applying a stack
// of BuildOverride patches onto a BuildManifest, outermost override
// winning.
package override

import (
	"dario.cat/mergo"
	"github.com/nbmpm/nbm/internal/manifest"
)

// EnvDiff is the three-operation diff applied to an env map by
// *EnvOverride fields: keys are removed, then added, then updated, in that
// order.
type EnvDiff struct {
	Remove []string
	Add    map[string]string
	Update map[string]string
}

func (d *EnvDiff) apply(m map[string]string) map[string]string {
	if d == nil {
		return m
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	for _, k := range d.Remove {
		delete(out, k)
	}
	// add then update, in that order; mergo.WithOverride lets each later
	// layer win on a colliding key.
	mergo.Merge(&out, d.Add, mergo.WithOverride)
	mergo.Merge(&out, d.Update, mergo.WithOverride)
	return out
}

// ExportedEnvDiff mirrors EnvDiff but for the richer exported-env value
// (value + scope); Add/Update entries default to local scope unless Scope
// is set explicitly.
type ExportedEnvDiff struct {
	Remove []string
	Add    map[string]manifest.EnvEntry
	Update map[string]manifest.EnvEntry
}

func (d *ExportedEnvDiff) apply(m map[string]manifest.EnvEntry) map[string]manifest.EnvEntry {
	if d == nil {
		return m
	}
	out := make(map[string]manifest.EnvEntry, len(m))
	for k, v := range m {
		out[k] = v
	}
	for _, k := range d.Remove {
		delete(out, k)
	}
	mergo.Merge(&out, d.Add, mergo.WithOverride)
	mergo.Merge(&out, d.Update, mergo.WithOverride)
	return out
}

// BuildOverride is one layer of the override stack: every field is
// optional, and only fields actually set replace anything.
type BuildOverride struct {
	BuildType *manifest.BuildType

	Build   *manifest.CommandList
	Install *manifest.CommandList

	ExportedEnv *map[string]manifest.EnvEntry
	BuildEnv    *map[string]string

	ExportedEnvOverride *ExportedEnvDiff
	BuildEnvOverride    *EnvDiff
}

// Apply folds each set field of override onto a clone of base, field by
// field, and returns the clone. base is never mutated.
func Apply(base *manifest.BuildManifest, o *BuildOverride) *manifest.BuildManifest {
	m := base.Clone()
	if o == nil {
		return m
	}

	if o.BuildType != nil {
		m.BuildType = *o.BuildType
	}
	if o.Build != nil {
		m.Build = manifest.CommandList{Origin: manifest.CommandOriginEsy, Commands: o.Build.Commands}
	}
	if o.Install != nil {
		m.Install = manifest.CommandList{Origin: manifest.CommandOriginEsy, Commands: o.Install.Commands}
	}
	if o.ExportedEnv != nil {
		m.ExportedEnv = cloneExportedEnv(*o.ExportedEnv)
	}
	if o.BuildEnv != nil {
		m.BuildEnv = cloneEnv(*o.BuildEnv)
	}
	if o.ExportedEnvOverride != nil {
		m.ExportedEnv = o.ExportedEnvOverride.apply(m.ExportedEnv)
	}
	if o.BuildEnvOverride != nil {
		m.BuildEnv = o.BuildEnvOverride.apply(m.BuildEnv)
	}
	return m
}

// FoldAll applies overrides left-to-right: since each Apply
// folds onto the prior result, an override pushed later (the "outermost"
// one, discovered last) wins any field conflict.
func FoldAll(base *manifest.BuildManifest, overrides []*BuildOverride) *manifest.BuildManifest {
	m := base
	for _, o := range overrides {
		m = Apply(m, o)
	}
	return m
}

func cloneEnv(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneExportedEnv(m map[string]manifest.EnvEntry) map[string]manifest.EnvEntry {
	out := make(map[string]manifest.EnvEntry, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
