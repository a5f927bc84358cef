// Package envcompose closes environments: given an ordered list of
// (name, value) bindings where a value may reference an earlier binding as
// $name or ${name}, it produces an environment where every reference has
// been expanded.
package envcompose

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/moby/buildkit/frontend/dockerfile/shell"
	"github.com/nbmpm/nbm/internal/nbmerr"
)

// envRefPattern matches $name or ${name} references that are not escaped
// with a preceding backslash.
var envRefPattern = regexp.MustCompile(`\\\$|\$\{([A-Za-z_][A-Za-z0-9_]*)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// Binding is one (name, value) pair to fold into a Closed environment, in
// the order they should be applied.
type Binding struct {
	Name  string
	Value string
}

// Closed is an environment where every $name/${name} reference has been
// resolved against earlier bindings, in insertion order.
type Closed struct {
	order  []string
	values map[string]string
}

// Close expands bindings in order, producing a Closed environment. PATH
// has cons semantics: each subsequent PATH binding is prepended to the
// accumulated value rather than replacing it.
func Close(bindings []Binding) (*Closed, error) {
	lex := shell.NewLex('\\')
	values := map[string]string{}
	var order []string

	for _, b := range bindings {
		for _, m := range envRefPattern.FindAllStringSubmatch(b.Value, -1) {
			name := m[1]
			if name == "" {
				name = m[2]
			}
			if name == "" {
				continue
			}
			if _, ok := values[name]; !ok {
				return nil, nbmerr.New(nbmerr.KindUnknownEnvRef, "%s", name).WithContext("expanding binding " + b.Name)
			}
		}

		newVal, _, err := lex.ProcessWordWithMatches(b.Value, values)
		if err != nil {
			return nil, nbmerr.New(nbmerr.KindUnknownEnvRef, "%v", err).WithContext("expanding binding " + b.Name)
		}

		if b.Name == "PATH" {
			if existing, had := values["PATH"]; had && existing != "" {
				newVal = newVal + ":" + existing
			}
		}

		if _, had := values[b.Name]; !had {
			order = append(order, b.Name)
		}
		values[b.Name] = newVal
	}

	return &Closed{order: order, values: values}, nil
}

// Get returns the resolved value for name, and whether it is present. By
// construction a Closed environment's own values never contain unresolved
// references.
func (c *Closed) Get(name string) (string, bool) {
	v, ok := c.values[name]
	return v, ok
}

// Names returns the bound names in insertion order.
func (c *Closed) Names() []string {
	return append([]string(nil), c.order...)
}

// Pairs returns "NAME=value" strings in insertion order, the shape
// os/exec.Cmd.Env expects.
func (c *Closed) Pairs() []string {
	out := make([]string, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, name+"="+c.values[name])
	}
	return out
}

// RenderShell renders the environment as POSIX-shell-sourceable text with a
// header comment.
func (c *Closed) RenderShell(generatedBy string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# generated by %s on %s; do not edit by hand\n", generatedBy, time.Now().UTC().Format(time.RFC3339))
	for _, name := range c.order {
		fmt.Fprintf(&b, "export %s=%q\n", name, c.values[name])
	}
	return b.Bytes()
}

// RenderJSON renders the environment as pretty-printed JSON
// {name: expanded-value}.
func (c *Closed) RenderJSON() ([]byte, error) {
	ordered := make(map[string]string, len(c.values))
	for k, v := range c.values {
		ordered[k] = v
	}
	return json.MarshalIndent(ordered, "", "  ")
}
