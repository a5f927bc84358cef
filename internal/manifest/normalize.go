package manifest

import (
	"bytes"
	"fmt"
)

// Serialize renders a BuildManifest into a deterministic byte stream
// suitable for hashing into a task id. It is not meant to be parsed back;
// only byte-for-byte stability across two calls with equal manifests
// matters.
func (m *BuildManifest) Serialize() []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "name=%s\n", m.Name)
	fmt.Fprintf(&b, "version=%s\n", m.Version)
	fmt.Fprintf(&b, "buildType=%s\n", m.BuildType)
	writeCommandList(&b, "build", m.Build)
	writeCommandList(&b, "install", m.Install)
	if m.BuildDev != nil {
		writeCommandList(&b, "buildDev", *m.BuildDev)
	}
	for _, k := range m.sortedEnvKeys() {
		e := m.ExportedEnv[k]
		fmt.Fprintf(&b, "exportedEnv[%s]=%s scope=%s\n", k, e.Value, e.Scope)
	}
	for _, k := range m.sortedBuildEnvKeys() {
		fmt.Fprintf(&b, "buildEnv[%s]=%s\n", k, m.BuildEnv[k])
	}
	for _, p := range m.Patches {
		fmt.Fprintf(&b, "patch=%s filter=%s\n", p.Path, p.Filter)
	}
	for _, s := range m.Substs {
		fmt.Fprintf(&b, "subst=%s\n", s)
	}
	return b.Bytes()
}

func writeCommandList(b *bytes.Buffer, field string, cl CommandList) {
	for i, cmd := range cl.Commands {
		fmt.Fprintf(b, "%s[%d]=%q\n", field, i, cmd)
	}
}
