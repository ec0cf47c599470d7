package env

import (
	"os"
	"sort"
	"strings"
)

// Var maps variable names to values.
type Var map[string]string

// Env composes child environments from the OS environment, variables shared
// by every process and per-process overrides.
type Env struct {
	Var Var // shared variables (K->V)
	env Var // cached base from OS environment
}

func New() *Env {
	return &Env{Var: make(Var)}
}

// FromMap returns an Env whose shared variables are a copy of vars.
func FromMap(vars map[string]string) *Env {
	e := New()
	for k, v := range vars {
		e.Set(k, v)
	}
	return e
}

// FromOS caches the current process environment as the base.
func (e *Env) FromOS() {
	e.env = parse(os.Environ())
}

// Set sets a shared variable K=V. Empty keys are ignored.
func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	if e.Var == nil {
		e.Var = make(Var)
	}
	e.Var[k] = v
}

// Unset removes a shared variable.
func (e *Env) Unset(k string) {
	if e.Var != nil {
		delete(e.Var, k)
	}
}

// Merge composes the final environment in this order: OS environment, shared
// variables, then perProc entries ("K=V"). ${VAR} references in values are
// expanded once against the composed map; unknown references are left as is.
// The result is sorted by key.
func (e *Env) Merge(perProc []string) []string {
	if e.env == nil {
		e.FromOS()
	}
	m := make(Var, len(e.env)+len(e.Var)+len(perProc))
	for k, v := range e.env {
		m[k] = v
	}
	for k, v := range e.Var {
		if k != "" {
			m[k] = v
		}
	}
	for k, v := range parse(perProc) {
		m[k] = v
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+expand(m[k], m))
	}
	return out
}

// Overrides returns only the shared and per-process entries, expanded against
// the full composed environment. Suitable for appending to os.Environ().
func (e *Env) Overrides(perProc []string) []string {
	full := parse(e.Merge(perProc))
	own := make(Var, len(e.Var))
	for k := range e.Var {
		own[k] = full[k]
	}
	for k := range parse(perProc) {
		own[k] = full[k]
	}
	keys := make([]string, 0, len(own))
	for k := range own {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+own[k])
	}
	return out
}

func parse(kvs []string) Var {
	m := make(Var, len(kvs))
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			b.WriteString(s)
			return b.String()
		}
		name := s[i+2 : i+2+j]
		b.WriteString(s[:i])
		if v, ok := m[name]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+3+j])
		}
		s = s[i+3+j:]
	}
}
