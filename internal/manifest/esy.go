package manifest

import (
	"encoding/json"
	"strings"

	"github.com/nbmpm/nbm/internal/nbmerr"
)

// esyDoc mirrors the subset of esy.json/package.json this loader cares
// about: the top-level "name"/"version" fields plus the nested "esy"
// object.
type esyDoc struct {
	Name    string      `json:"name"`
	Version string      `json:"version"`
	Esy     *esySection `json:"esy"`
}

type esySection struct {
	BuildsInSource json.RawMessage    `json:"buildsInSource"`
	Build          json.RawMessage    `json:"build"`
	Install        json.RawMessage    `json:"install"`
	BuildDev       json.RawMessage    `json:"buildDev"`
	BuildEnv       map[string]string  `json:"buildEnv"`
	ExportedEnv    map[string]esyEnvV `json:"exportedEnv"`
}

type esyEnvV struct {
	Val   string `json:"val"`
	Scope string `json:"scope"`
}

// LoadEsyJSON parses an esy.json/package.json document and, when it carries
// an "esy" section, returns the normalized BuildManifest. When the document
// has no "esy" section, it returns (nil, nil): the caller decides whether
// that is "try the next candidate" or "fatal", depending on whether the
// path was explicitly hinted.
func LoadEsyJSON(path string, data []byte, nameFallback string) (*BuildManifest, error) {
	var doc esyDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nbmerr.New(nbmerr.KindManifestParse, "invalid JSON: %v", err).WithContext("parsing " + path)
	}
	if doc.Esy == nil {
		return nil, nil
	}

	name := doc.Name
	if name == "" {
		name = nameFallback
	}

	buildType, err := decodeBuildsInSource(doc.Esy.BuildsInSource)
	if err != nil {
		return nil, nbmerr.New(nbmerr.KindManifestParse, "buildsInSource field: %v", err).WithContext("parsing " + path)
	}

	m := &BuildManifest{
		Name:        name,
		Version:     doc.Version,
		BuildType:   buildType,
		BuildEnv:    doc.Esy.BuildEnv,
		ExportedEnv: map[string]EnvEntry{},
	}

	build, err := decodeEsyCommands(doc.Esy.Build)
	if err != nil {
		return nil, nbmerr.New(nbmerr.KindManifestParse, "build field: %v", err).WithContext("parsing " + path)
	}
	m.Build = build

	install, err := decodeEsyCommands(doc.Esy.Install)
	if err != nil {
		return nil, nbmerr.New(nbmerr.KindManifestParse, "install field: %v", err).WithContext("parsing " + path)
	}
	m.Install = install

	if len(doc.Esy.BuildDev) > 0 {
		dev, err := decodeEsyCommands(doc.Esy.BuildDev)
		if err != nil {
			return nil, nbmerr.New(nbmerr.KindManifestParse, "buildDev field: %v", err).WithContext("parsing " + path)
		}
		m.BuildDev = &dev
	}

	for k, v := range doc.Esy.ExportedEnv {
		scope := ScopeLocal
		if v.Scope == "global" {
			scope = ScopeGlobal
		}
		m.ExportedEnv[k] = EnvEntry{Value: v.Val, Scope: scope}
	}

	return m, nil
}

// decodeBuildsInSource accepts the three shapes esy allows for
// buildsInSource: a boolean (true = in-source, false/absent =
// out-of-source), or the strings "_build" (jbuilder-like) and "unsafe".
func decodeBuildsInSource(raw json.RawMessage) (BuildType, error) {
	if len(raw) == 0 {
		return BuildTypeOutOfSource, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		if b {
			return BuildTypeInSource, nil
		}
		return BuildTypeOutOfSource, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch s {
		case "true":
			return BuildTypeInSource, nil
		case "false":
			return BuildTypeOutOfSource, nil
		case "_build":
			return BuildTypeJbuilderLike, nil
		case "unsafe":
			return BuildTypeUnsafe, nil
		}
		return 0, nbmerr.New(nbmerr.KindManifestParse, "unrecognized value %q", s)
	}
	return 0, nbmerr.New(nbmerr.KindManifestParse, "expected a boolean or string")
}

// decodeEsyCommands accepts the shapes esy allows for a command field: a
// single command as one string ("make install", whitespace-split into an
// argv), or a list whose elements are each either a string command or an
// already-split argv array. A missing field yields an empty list.
func decodeEsyCommands(raw json.RawMessage) (CommandList, error) {
	if len(raw) == 0 {
		return CommandList{Origin: CommandOriginEsy}, nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		cmd := strings.Fields(single)
		if len(cmd) == 0 {
			return CommandList{Origin: CommandOriginEsy}, nil
		}
		return CommandList{Origin: CommandOriginEsy, Commands: [][]string{cmd}}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return CommandList{}, nbmerr.New(nbmerr.KindManifestParse, "expected a command or list of commands")
	}

	var cmds [][]string
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			if cmd := strings.Fields(s); len(cmd) > 0 {
				cmds = append(cmds, cmd)
			}
			continue
		}
		var argv []string
		if err := json.Unmarshal(item, &argv); err == nil {
			cmds = append(cmds, argv)
			continue
		}
		return CommandList{}, nbmerr.New(nbmerr.KindManifestParse, "expected each command to be a string or an argv array")
	}
	return CommandList{Origin: CommandOriginEsy, Commands: cmds}, nil
}
