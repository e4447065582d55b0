// Package macro implements display filter macros.
//
// A macro is a named filter fragment. Invocations look like
//
//	${name}
//	${name:arg1;arg2}
//	$name(arg1, arg2)
//
// and are replaced by the macro body with $1, $2 ... (or the declared
// parameter names, e.g. $host) substituted by the arguments.
package macro

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
)

var (
	nameRegex       = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	positionalRegex = regexp.MustCompile(`\$([0-9]+)`)
)

// Macro is a named filter fragment.
type Macro struct {
	Name   string
	Params []string
	Body   string
}

// Arity returns the number of arguments an invocation must supply. Without
// declared parameters it is the highest positional reference in the body.
func (m Macro) Arity() int {
	if len(m.Params) > 0 {
		return len(m.Params)
	}
	return maxPositional(m.Body)
}

func maxPositional(body string) int {
	highest := 0
	for i := 0; i < len(body); i++ {
		if body[i] != '$' {
			continue
		}
		if i+1 < len(body) && body[i+1] == '$' {
			i++
			continue
		}
		j := i + 1
		for j < len(body) && body[j] >= '0' && body[j] <= '9' {
			j++
		}
		if j > i+1 {
			if n, err := strconv.Atoi(body[i+1 : j]); err == nil && n > highest {
				highest = n
			}
		}
	}
	return highest
}

// Validate checks the macro definition.
func (m Macro) Validate() error {
	if !nameRegex.MatchString(m.Name) {
		return fmt.Errorf("%w: invalid macro name %q", ErrDefinition, m.Name)
	}

	seen := make(map[string]struct{}, len(m.Params))
	for _, p := range m.Params {
		if !nameRegex.MatchString(p) {
			return fmt.Errorf("%w: macro %s: invalid parameter name %q", ErrDefinition, m.Name, p)
		}
		if _, ok := seen[p]; ok {
			return fmt.Errorf("%w: macro %s: duplicate parameter %q", ErrDefinition, m.Name, p)
		}
		seen[p] = struct{}{}
	}

	if len(m.Params) > 0 {
		if n := maxPositional(m.Body); n > len(m.Params) {
			return fmt.Errorf("%w: macro %s: body references $%d but declares %d parameters", ErrDefinition, m.Name, n, len(m.Params))
		}
	}

	for _, match := range positionalRegex.FindAllStringSubmatch(m.Body, -1) {
		if n, _ := strconv.Atoi(match[1]); n == 0 {
			return fmt.Errorf("%w: macro %s: positional arguments start at $1", ErrDefinition, m.Name)
		}
	}

	return nil
}

// Source resolves macros by name.
type Source interface {
	Lookup(name string) (Macro, bool)
}

// Table is a set of macros keyed by name. It is not safe for concurrent
// modification; build it before compiling filters with it.
type Table struct {
	macros map[string]Macro
}

// NewTable creates a table holding the given macros.
func NewTable(macros ...Macro) (*Table, error) {
	t := &Table{macros: make(map[string]Macro, len(macros))}
	for _, m := range macros {
		if err := t.Add(m); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Add validates and stores a macro, replacing any previous definition.
func (t *Table) Add(m Macro) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if t.macros == nil {
		t.macros = make(map[string]Macro)
	}
	t.macros[m.Name] = m
	return nil
}

// Lookup returns the macro registered under name.
func (t *Table) Lookup(name string) (Macro, bool) {
	if t == nil {
		return Macro{}, false
	}
	m, ok := t.macros[name]
	return m, ok
}

// Names returns the sorted macro names.
func (t *Table) Names() []string {
	if t == nil {
		return nil
	}
	names := make([]string, 0, len(t.macros))
	for name := range t.macros {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of macros.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.macros)
}
