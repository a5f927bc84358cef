package plan

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nbmpm/nbm/internal/manifest"
	"github.com/zeebo/blake3"
)

// taskID computes a BuildTask's content hash: a hex digest over the
// package identity, the normalized manifest serialization, every direct
// dependency's own id in sorted order, each patch's content digest in
// listed order, the store version, and the build type. Equal inputs always
// digest to equal ids; changing any input produces a new id.
func taskID(pkgName, pkgVersion string, normalizedManifest []byte, depIDs []string, patchDigests []string, storeVersion int, buildType fmt.Stringer) string {
	sorted := append([]string(nil), depIDs...)
	sort.Strings(sorted)

	h := blake3.New()
	fmt.Fprintf(h, "pkg=%s@%s\n", pkgName, pkgVersion)
	h.Write(normalizedManifest)
	fmt.Fprintf(h, "deps=%s\n", strings.Join(sorted, ","))
	fmt.Fprintf(h, "patches=%s\n", strings.Join(patchDigests, ","))
	fmt.Fprintf(h, "storeVersion=%d\n", storeVersion)
	fmt.Fprintf(h, "buildType=%s\n", buildType)
	return hex.EncodeToString(h.Sum(nil))
}

// patchDigests digests each patch's bytes (resolved against the package's
// source path) in listed order. A patch file that cannot be read digests to
// its (path, filter) pair alone: the planner stays I/O-tolerant here and
// leaves "patch file genuinely missing" to the builder, which is the
// component that applies patches.
func patchDigests(sourcePath string, patches []manifest.PatchSpec) []string {
	out := make([]string, 0, len(patches))
	for _, p := range patches {
		h := blake3.New()
		fmt.Fprintf(h, "patch=%s filter=%s\n", p.Path, p.Filter)
		if data, err := os.ReadFile(filepath.Join(sourcePath, p.Path)); err == nil {
			h.Write(data)
		}
		out = append(out, hex.EncodeToString(h.Sum(nil)))
	}
	return out
}
