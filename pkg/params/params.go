// Package params resolves named string parameters through a chain of
// scopes and expands %name% references inside parameter values.
package params

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/opnlabs/dotc/pkg/diag"
)

type ScopeKind int

const (
	Global ScopeKind = iota
	Template
	Build
)

func (k ScopeKind) String() string {
	switch k {
	case Global:
		return "global"
	case Template:
		return "template"
	case Build:
		return "build"
	}
	return fmt.Sprintf("scope(%d)", int(k))
}

type Scope struct {
	Kind   ScopeKind
	Values map[string]string
}

// Chain is an ordered list of scopes, narrowest first.
type Chain []Scope

// Lookup returns the raw value of name from the narrowest scope defining it.
func (c Chain) Lookup(name string) (string, ScopeKind, bool) {
	for _, s := range c {
		if v, ok := s.Values[name]; ok {
			return v, s.Kind, true
		}
	}
	return "", 0, false
}

// Names returns every name defined anywhere in the chain, sorted.
func (c Chain) Names() []string {
	seen := make(map[string]struct{})
	for _, s := range c {
		for k := range s.Values {
			seen[k] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// Store holds the global scope and the runtime parameter patterns. It is
// immutable once built and safe for concurrent use.
type Store struct {
	global  map[string]string
	runtime []string
}

// NewStore validates the runtime patterns and returns a Store.
func NewStore(global map[string]string, runtimePatterns []string) (*Store, error) {
	for _, p := range runtimePatterns {
		if _, err := path.Match(p, ""); err != nil {
			return nil, diag.New(diag.ErrInvalidDefinition, diag.PhaseParameters, "runtimeParams", p).
				WithDetail("bad pattern: %v", err)
		}
	}
	g := make(map[string]string, len(global))
	for k, v := range global {
		g[k] = v
	}
	return &Store{global: g, runtime: append([]string(nil), runtimePatterns...)}, nil
}

// Global returns a copy of the global scope.
func (s *Store) Global() map[string]string {
	out := make(map[string]string, len(s.global))
	for k, v := range s.global {
		out[k] = v
	}
	return out
}

// Chain builds the lookup chain build -> template -> global.
func (s *Store) Chain(build, template map[string]string) Chain {
	return Chain{
		{Kind: Build, Values: build},
		{Kind: Template, Values: template},
		{Kind: Global, Values: s.global},
	}
}

// GlobalChain is the chain used for project level parameters.
func (s *Store) GlobalChain() Chain {
	return Chain{{Kind: Global, Values: s.global}}
}

// IsRuntime reports whether name is supplied by the CI agent.
func (s *Store) IsRuntime(name string) bool {
	for _, p := range s.runtime {
		if ok, _ := path.Match(p, name); ok {
			return true
		}
	}
	return false
}

// Resolve returns the fully interpolated value of name.
func (s *Store) Resolve(name string, chain Chain) (string, error) {
	r := s.newResolver(chain)
	return r.resolve(name)
}

// Interpolate expands every %name% reference in value.
func (s *Store) Interpolate(value string, chain Chain) (string, error) {
	r := s.newResolver(chain)
	return r.expand(value)
}

// ResolveAll resolves every parameter defined in the chain.
func (s *Store) ResolveAll(chain Chain) (map[string]string, error) {
	return s.ResolveNames(chain, chain.Names())
}

// ResolveNames resolves the given names against one chain, sharing the
// work between names that reference each other.
func (s *Store) ResolveNames(chain Chain, names []string) (map[string]string, error) {
	r := s.newResolver(chain)
	out := make(map[string]string, len(names))
	for _, name := range names {
		v, err := r.resolve(name)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

type resolver struct {
	store *Store
	chain Chain
	done  map[string]string
	stack []string
}

func (s *Store) newResolver(chain Chain) *resolver {
	return &resolver{store: s, chain: chain, done: make(map[string]string)}
}

func (r *resolver) resolve(name string) (string, error) {
	if v, ok := r.done[name]; ok {
		return v, nil
	}
	for i, n := range r.stack {
		if n == name {
			cycle := append([]string(nil), r.stack[i:]...)
			return "", diag.New(diag.ErrCyclicParameter, diag.PhaseParameters, "", cycle...).
				WithDetail("%s -> %s", strings.Join(cycle, " -> "), name)
		}
	}

	raw, _, ok := r.chain.Lookup(name)
	if !ok {
		if r.store.IsRuntime(name) {
			return "%" + name + "%", nil
		}
		e := diag.New(diag.ErrUnresolvedParameter, diag.PhaseParameters, "", name)
		if len(r.stack) > 0 {
			e.WithDetail("referenced by %s", r.stack[len(r.stack)-1])
		}
		return "", e
	}

	r.stack = append(r.stack, name)
	v, err := r.expand(raw)
	r.stack = r.stack[:len(r.stack)-1]
	if err != nil {
		return "", err
	}
	r.done[name] = v
	return v, nil
}

// expand scans value for %name% references. The %% escape is kept as is so
// the output stays in the runtime's parameter syntax, and text between
// percent signs that is not a valid name is left alone.
func (r *resolver) expand(value string) (string, error) {
	if !strings.Contains(value, "%") {
		return value, nil
	}
	var b strings.Builder
	for i := 0; i < len(value); {
		c := value[i]
		if c != '%' {
			b.WriteByte(c)
			i++
			continue
		}
		if i+1 < len(value) && value[i+1] == '%' {
			b.WriteString("%%")
			i += 2
			continue
		}
		end := strings.IndexByte(value[i+1:], '%')
		if end < 0 {
			b.WriteString(value[i:])
			break
		}
		name := value[i+1 : i+1+end]
		if !namePattern.MatchString(name) {
			b.WriteByte('%')
			i++
			continue
		}
		v, err := r.resolve(name)
		if err != nil {
			return "", err
		}
		b.WriteString(v)
		i += end + 2
	}
	return b.String(), nil
}
