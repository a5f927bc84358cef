package manifest

import (
	"os"
	"path/filepath"

	"github.com/nbmpm/nbm/internal/nbmerr"
)

// HintKind names which format a Hint forces the loader to use.
type HintKind int

const (
	HintEsy HintKind = iota
	HintOpam
)

// Hint forces the loader to use a specific format and file name instead of
// probing. Name is a file name relative to the directory passed to
// LoadFromPath.
type Hint struct {
	Kind HintKind
	Name string
}

// ContributingPaths is the set of manifest file paths that contributed to a
// loaded manifest, used both as the sandbox-info cache's mtime witness set
// and for diagnostics.
type ContributingPaths map[string]struct{}

func (c ContributingPaths) add(path string) ContributingPaths {
	if c == nil {
		c = ContributingPaths{}
	}
	c[path] = struct{}{}
	return c
}

// probeOrder is the list of candidate esy-format file names tried, in
// order, when no Hint is given.
var probeOrder = []string{"esy.json", "package.json"}

// LoadFromPath loads the manifest for the package rooted at dir: the exact
// file a Hint names, or the first probe candidate that is present and
// carries an "esy" section. All candidates absent yields (nil, empty, nil).
func LoadFromPath(dir string, hint *Hint) (*BuildManifest, ContributingPaths, error) {
	nameFallback := filepath.Base(dir)

	if hint != nil {
		path := filepath.Join(dir, hint.Name)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil, nbmerr.New(nbmerr.KindManifestMissing, "manifest not found").WithContext("loading " + path)
			}
			return nil, nil, nbmerr.New(nbmerr.KindManifestParse, "%v", err).WithContext("reading " + path)
		}
		switch hint.Kind {
		case HintOpam:
			m, err := LoadOpam(path, data, nameFallback)
			if err != nil {
				return nil, nil, err
			}
			return m, ContributingPaths{}.add(path), nil
		default:
			m, err := LoadEsyJSON(path, data, nameFallback)
			if err != nil {
				return nil, nil, err
			}
			if m == nil {
				// Present file without an "esy" section: the path still
				// contributed even though no manifest came of it.
				return nil, ContributingPaths{}.add(path), nil
			}
			return m, ContributingPaths{}.add(path), nil
		}
	}

	for _, candidate := range probeOrder {
		path := filepath.Join(dir, candidate)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, nil, nbmerr.New(nbmerr.KindManifestParse, "%v", err).WithContext("reading " + path)
		}
		m, err := LoadEsyJSON(path, data, nameFallback)
		if err != nil {
			return nil, nil, err
		}
		if m == nil {
			continue // present but no "esy" section: try next candidate
		}
		return m, ContributingPaths{}.add(path), nil
	}

	return nil, ContributingPaths{}, nil
}

// LoadFromData parses manifest bytes already in hand (e.g. from tests, or
// an installer that embeds manifests in its own metadata).
func LoadFromData(kind HintKind, data []byte, nameFallback string) (*BuildManifest, error) {
	switch kind {
	case HintOpam:
		return LoadOpam("<data>", data, nameFallback)
	default:
		return LoadEsyJSON("<data>", data, nameFallback)
	}
}
