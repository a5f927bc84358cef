package manifest

import (
	"strings"

	"github.com/nbmpm/nbm/internal/nbmerr"
)

// This file is a small hand-rolled reader for the subset of the opam file
// grammar a build manifest uses: `field: value` pairs where a value is a
// quoted string, a bare identifier, a bracketed list of values, or a value
// followed by a `{...}` filter.

type opamTokKind int

const (
	tokIdent opamTokKind = iota
	tokString
	tokColon
	tokLBracket
	tokRBracket
	tokLBrace
	tokRBrace
	tokEOF
)

type opamTok struct {
	kind opamTokKind
	text string
}

func lexOpam(src string) ([]opamTok, error) {
	var toks []opamTok
	i := 0
	n := len(src)
	for i < n {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			i++
		case c == '#':
			for i < n && src[i] != '\n' {
				i++
			}
		case c == ':':
			toks = append(toks, opamTok{kind: tokColon})
			i++
		case c == '[':
			toks = append(toks, opamTok{kind: tokLBracket})
			i++
		case c == ']':
			toks = append(toks, opamTok{kind: tokRBracket})
			i++
		case c == '{':
			// Filters are carried verbatim, never evaluated; scan to the
			// matching close brace.
			depth := 1
			j := i + 1
			for j < n && depth > 0 {
				if src[j] == '{' {
					depth++
				} else if src[j] == '}' {
					depth--
				}
				j++
			}
			if depth != 0 {
				return nil, nbmerr.New(nbmerr.KindManifestParse, "unterminated filter starting at byte %d", i)
			}
			toks = append(toks, opamTok{kind: tokLBrace, text: src[i+1 : j-1]})
			toks = append(toks, opamTok{kind: tokRBrace})
			i = j
		case c == '"':
			j := i + 1
			var b strings.Builder
			for j < n && src[j] != '"' {
				if src[j] == '\\' && j+1 < n {
					b.WriteByte(src[j+1])
					j += 2
					continue
				}
				b.WriteByte(src[j])
				j++
			}
			if j >= n {
				return nil, nbmerr.New(nbmerr.KindManifestParse, "unterminated string starting at byte %d", i)
			}
			toks = append(toks, opamTok{kind: tokString, text: b.String()})
			i = j + 1
		default:
			j := i
			for j < n && !strings.ContainsRune(" \t\r\n:[]{}\"#", rune(src[j])) {
				j++
			}
			if j == i {
				return nil, nbmerr.New(nbmerr.KindManifestParse, "unexpected byte %q at offset %d", src[i], i)
			}
			toks = append(toks, opamTok{kind: tokIdent, text: src[i:j]})
			i = j
		}
	}
	toks = append(toks, opamTok{kind: tokEOF})
	return toks, nil
}

// opamValue is a parsed opam value: either a leaf (string/ident) or a list.
type opamValue struct {
	leaf     string
	isList   bool
	items    []opamValue
	filter   string
	hasFiler bool
}

type opamParser struct {
	toks []opamTok
	pos  int
}

func (p *opamParser) peek() opamTok { return p.toks[p.pos] }

func (p *opamParser) next() opamTok {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *opamParser) parseValue() (opamValue, error) {
	t := p.next()
	var v opamValue
	switch t.kind {
	case tokString, tokIdent:
		v = opamValue{leaf: t.text}
	case tokLBracket:
		for p.peek().kind != tokRBracket {
			if p.peek().kind == tokEOF {
				return opamValue{}, nbmerr.New(nbmerr.KindManifestParse, "unterminated list")
			}
			item, err := p.parseValue()
			if err != nil {
				return opamValue{}, err
			}
			v.items = append(v.items, item)
		}
		p.next() // consume ]
		v.isList = true
	default:
		return opamValue{}, nbmerr.New(nbmerr.KindManifestParse, "expected value, got token kind %d", t.kind)
	}
	if p.peek().kind == tokLBrace {
		brace := p.next()
		v.filter = brace.text
		v.hasFiler = true
		p.next() // consume matching RBrace
	}
	return v, nil
}

// opamFields parses the whole document into a map keyed by field name,
// tolerating repeated fields (last one wins, matching typical opam tooling).
func opamFields(src string) (map[string]opamValue, error) {
	toks, err := lexOpam(src)
	if err != nil {
		return nil, err
	}
	fields := map[string]opamValue{}
	p := &opamParser{toks: toks}
	for p.peek().kind != tokEOF {
		name := p.next()
		if name.kind != tokIdent {
			return nil, nbmerr.New(nbmerr.KindManifestParse, "expected field name, got token kind %d", name.kind)
		}
		if p.peek().kind != tokColon {
			return nil, nbmerr.New(nbmerr.KindManifestParse, "expected ':' after field %q", name.text)
		}
		p.next() // consume ':'
		val, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		fields[name.text] = val
	}
	return fields, nil
}

func (v opamValue) asString() string {
	if v.isList {
		if len(v.items) == 1 {
			return v.items[0].asString()
		}
		return ""
	}
	return v.leaf
}

func (v opamValue) asCommandList() [][]string {
	if !v.isList {
		return [][]string{{v.leaf}}
	}
	// Disambiguate "single command" (list of strings) from "list of
	// commands" (list of lists) the same way opam tooling does.
	allLeaves := true
	for _, it := range v.items {
		if it.isList {
			allLeaves = false
			break
		}
	}
	if allLeaves {
		cmd := make([]string, len(v.items))
		for i, it := range v.items {
			cmd[i] = it.leaf
		}
		if len(cmd) == 0 {
			return nil
		}
		return [][]string{cmd}
	}
	var out [][]string
	for _, it := range v.items {
		out = append(out, flattenLeaves(it))
	}
	return out
}

func flattenLeaves(v opamValue) []string {
	if !v.isList {
		return []string{v.leaf}
	}
	out := make([]string, 0, len(v.items))
	for _, it := range v.items {
		out = append(out, it.leaf)
	}
	return out
}

func (v opamValue) asStringList() []string {
	if !v.isList {
		return []string{v.leaf}
	}
	out := make([]string, 0, len(v.items))
	for _, it := range v.items {
		out = append(out, it.leaf)
	}
	return out
}

func (v opamValue) asPatchList() []PatchSpec {
	if !v.isList {
		return []PatchSpec{{Path: v.leaf, Filter: v.filter}}
	}
	out := make([]PatchSpec, 0, len(v.items))
	for _, it := range v.items {
		out = append(out, PatchSpec{Path: it.leaf, Filter: it.filter})
	}
	return out
}

// hasOpamScope reports whether name is already in the @opam/ scope (the
// "@scope/pkg" convention).
func hasOpamScope(name string) bool {
	return strings.HasPrefix(name, "@opam/")
}

// LoadOpam parses an opam-format document into a BuildManifest: builds are
// in-source, the package name is coerced into the @opam/ scope, and
// patches keep their filters.
func LoadOpam(path string, data []byte, nameFallback string) (*BuildManifest, error) {
	fields, err := opamFields(string(data))
	if err != nil {
		return nil, nbmerr.WithContext(err, nbmerr.KindManifestParse, "parsing "+path)
	}

	name := nameFallback
	if v, ok := fields["name"]; ok {
		name = v.asString()
	}
	if name != "" && !hasOpamScope(name) {
		name = "@opam/" + name
	}

	m := &BuildManifest{
		Name:        name,
		BuildType:   BuildTypeInSource,
		ExportedEnv: map[string]EnvEntry{},
		BuildEnv:    map[string]string{},
	}

	if v, ok := fields["version"]; ok {
		m.Version = v.asString()
	}
	if v, ok := fields["build"]; ok {
		m.Build = CommandList{Origin: CommandOriginOpam, Commands: v.asCommandList()}
	}
	if v, ok := fields["install"]; ok {
		m.Install = CommandList{Origin: CommandOriginOpam, Commands: v.asCommandList()}
	}
	if v, ok := fields["patches"]; ok {
		m.Patches = v.asPatchList()
	}
	if v, ok := fields["substs"]; ok {
		m.Substs = v.asStringList()
	}

	return m, nil
}
