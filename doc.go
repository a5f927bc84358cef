// Package nbm is the build orchestration core of a package manager for a
// native-compilation ecosystem: it loads build manifests, plans per-package
// build tasks with content-addressed store paths, and schedules their
// execution across a dependency graph.
package nbm
