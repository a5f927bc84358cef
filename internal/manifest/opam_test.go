package manifest

import (
	"testing"
)

const samplePackageOpam = `
opam-version: "2.0"
name: "foo"
version: "1.2.3"
build: [
  ["./configure" "--prefix=%{prefix}%"]
  [make]
]
install: [
  [make "install"]
]
patches: ["fix-build.patch" {os = "linux"} "second.patch"]
substs: ["foo.ml"]
`

func TestLoadOpamScopeCoercion(t *testing.T) {
	m, err := LoadOpam("foo.opam", []byte(samplePackageOpam), "foo")
	if err != nil {
		t.Fatalf("LoadOpam: %v", err)
	}
	if m.Name != "@opam/foo" {
		t.Fatalf("Name = %q, want @opam/foo", m.Name)
	}
	if m.Version != "1.2.3" {
		t.Fatalf("Version = %q, want 1.2.3", m.Version)
	}
	if m.BuildType != BuildTypeInSource {
		t.Fatalf("BuildType = %v, want in-source", m.BuildType)
	}
	wantBuild := [][]string{{"./configure", "--prefix=%{prefix}%"}, {"make"}}
	if len(m.Build.Commands) != len(wantBuild) {
		t.Fatalf("Build.Commands = %v, want %v", m.Build.Commands, wantBuild)
	}
	for i := range wantBuild {
		if !equalSlice(m.Build.Commands[i], wantBuild[i]) {
			t.Fatalf("Build.Commands[%d] = %v, want %v", i, m.Build.Commands[i], wantBuild[i])
		}
	}
	if len(m.Patches) != 2 {
		t.Fatalf("Patches = %v, want 2 entries", m.Patches)
	}
	if m.Patches[0].Filter != `os = "linux"` {
		t.Fatalf("Patches[0].Filter = %q, want os = \"linux\"", m.Patches[0].Filter)
	}
	if m.Patches[1].Filter != "" {
		t.Fatalf("Patches[1].Filter = %q, want empty", m.Patches[1].Filter)
	}
}

func TestLoadOpamAlreadyScopedNameUnchanged(t *testing.T) {
	m, err := LoadOpam("foo.opam", []byte(`name: "@opam/foo"
version: "1.0"
`), "foo")
	if err != nil {
		t.Fatalf("LoadOpam: %v", err)
	}
	if m.Name != "@opam/foo" {
		t.Fatalf("Name = %q, want unchanged @opam/foo", m.Name)
	}
}

func equalSlice(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
