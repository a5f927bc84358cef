// Command nbm-build wires the core subsystems end to end for a single
// sandbox: manifest loading, override folding, graph assembly, planning,
// scheduling, and the sandbox-info cache (read and logged before planning,
// written after a successful run; a cache hit does not skip planning or
// scheduling). It is deliberately the
// thinnest possible driver, not a CLI; subcommand routing and flag parsing
// live elsewhere.
package main

import (
	"context"
	"fmt"
	"os"

	nbm "github.com/nbmpm/nbm"
	"github.com/nbmpm/nbm/internal/builder"
	"github.com/nbmpm/nbm/internal/envcompose"
	"github.com/nbmpm/nbm/internal/manifest"
	"github.com/nbmpm/nbm/internal/pkggraph"
	"github.com/nbmpm/nbm/internal/plan"
	"github.com/nbmpm/nbm/internal/sandboxcache"
	"github.com/nbmpm/nbm/internal/scheduler"
	"github.com/sirupsen/logrus"
)

func main() {
	log := logrus.New()
	nbm.ConfigureLogging(log)

	if err := run(log); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func run(log *logrus.Logger) error {
	cfg, err := nbm.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if cached, err := sandboxcache.Read(cfg); err == nil && cached != nil {
		log.WithField("rootTaskID", cached.RootTaskID).Info("sandbox-info cache hit (planning still runs)")
	}

	m, contributing, err := manifest.LoadFromPath(cfg.SandboxPath, nil)
	if err != nil {
		return fmt.Errorf("loading root manifest: %w", err)
	}
	if m == nil {
		return fmt.Errorf("no manifest found under %s", cfg.SandboxPath)
	}

	g := pkggraph.New()
	root := &pkggraph.Package{
		Name:         m.Name,
		Version:      m.Version,
		SourceDigest: "root",
		SourceType:   pkggraph.ImmutableWithTransient,
		SourcePath:   cfg.SandboxPath,
		Manifest:     m,
	}
	g.AddPackage(root)
	if err := g.DetectCycles(); err != nil {
		return err
	}

	planner := plan.NewPlanner(cfg, g, log)
	rootTask, err := planner.Plan(root, false)
	if err != nil {
		return fmt.Errorf("planning: %w", err)
	}

	reporter := scheduler.NewProgressReporter(countTasks(rootTask), log)
	defer reporter.Finish()

	s := &scheduler.Scheduler{
		Cfg:      cfg,
		Builder:  &builder.LocalBuilder{Log: log},
		Reporter: reporter,
	}
	if err := s.Run(context.Background(), rootTask); err != nil {
		return fmt.Errorf("scheduling: %w", err)
	}

	info := &sandboxcache.SandboxInfo{
		SandboxPath:     cfg.SandboxPath,
		RootPkgName:     root.Name,
		RootTaskID:      rootTask.ID,
		CommandEnvOrder: rootTask.Env.Command.Names(),
		CommandEnv:      pairsToMap(rootTask.Env.Command),
		SandboxEnvOrder: rootTask.Env.Sandbox.Names(),
		SandboxEnv:      pairsToMap(rootTask.Env.Sandbox),
	}
	for path := range contributing {
		st, statErr := os.Stat(path)
		if statErr != nil {
			continue
		}
		info.ManifestInfo = append(info.ManifestInfo, sandboxcache.ManifestWitness{Path: path, MTime: st.ModTime()})
	}
	sandboxcache.Write(cfg, info, log)

	return nil
}

func countTasks(root *plan.BuildTask) int {
	seen := map[string]bool{}
	var walk func(t *plan.BuildTask)
	walk = func(t *plan.BuildTask) {
		if seen[t.ID] {
			return
		}
		seen[t.ID] = true
		for _, d := range t.Dependencies {
			walk(d)
		}
	}
	walk(root)
	return len(seen)
}

func pairsToMap(c *envcompose.Closed) map[string]string {
	out := map[string]string{}
	for _, name := range c.Names() {
		v, _ := c.Get(name)
		out[name] = v
	}
	return out
}
