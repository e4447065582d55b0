// Package registry holds field definitions registered by protocol dissectors.
//
// A Snapshot is immutable once built. Filters compiled against a snapshot
// record its generation; loading new definitions produces a new snapshot and
// filters must be recompiled against it.
package registry

import (
	"regexp"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/vitalvas/pktfilter/ftype"
)

// FieldID identifies a field or protocol within a snapshot.
type FieldID int32

// InvalidID is never assigned to a field.
const InvalidID FieldID = -1

// Field describes a registered field. Protocols are fields of type
// ftype.TypeProtocol whose Parent is their own ID.
type Field struct {
	ID          FieldID
	Abbrev      string
	Name        string
	Type        ftype.Type
	Parent      FieldID
	Description string
}

// IsProtocol reports whether the field is a protocol node.
func (f Field) IsProtocol() bool {
	return f.Type == ftype.TypeProtocol
}

var (
	abbrevRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z0-9_]+)*$`)

	generations atomic.Uint64
)

// Snapshot is a read-only view of registered fields.
type Snapshot struct {
	generation uint64
	fields     []Field
	byName     map[string]FieldID
}

// LookupField resolves a dotted field name.
func (s *Snapshot) LookupField(name string) (Field, bool) {
	id, ok := s.byName[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[id], true
}

// Field returns the definition registered under id.
func (s *Snapshot) Field(id FieldID) (Field, bool) {
	if id < 0 || int(id) >= len(s.fields) {
		return Field{}, false
	}
	return s.fields[id], true
}

// MustLookup resolves a field name and panics when it is not registered.
func (s *Snapshot) MustLookup(name string) FieldID {
	id, ok := s.byName[name]
	if !ok {
		panic("registry: field not registered: " + name)
	}
	return id
}

// Fields returns all definitions sorted by abbreviation.
func (s *Snapshot) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	sort.Slice(out, func(i, j int) bool { return out[i].Abbrev < out[j].Abbrev })
	return out
}

// Protocols returns the protocol definitions sorted by abbreviation.
func (s *Snapshot) Protocols() []Field {
	var out []Field
	for _, f := range s.fields {
		if f.IsProtocol() {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Abbrev < out[j].Abbrev })
	return out
}

// WithPrefix returns the fields whose abbreviation starts with prefix.
func (s *Snapshot) WithPrefix(prefix string) []Field {
	var out []Field
	for _, f := range s.Fields() {
		if strings.HasPrefix(f.Abbrev, prefix) {
			out = append(out, f)
		}
	}
	return out
}

// Len returns the number of registered fields, protocols included.
func (s *Snapshot) Len() int {
	return len(s.fields)
}

// Generation identifies the snapshot. Every Build yields a new generation.
func (s *Snapshot) Generation() uint64 {
	return s.generation
}
