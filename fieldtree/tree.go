// Package fieldtree stores the fields decoded from one packet and answers
// the value lookups made by compiled filters.
package fieldtree

import (
	"sort"
	"strconv"

	"github.com/vitalvas/pktfilter/ftype"
	"github.com/vitalvas/pktfilter/registry"
)

// Layer selects the protocol layers a lookup considers.
// The zero value selects every layer.
type Layer struct {
	index int
}

// AnyLayer matches values from every protocol layer.
var AnyLayer = Layer{}

// LayerN selects the n-th occurrence of the field's protocol, counting from 1.
// Negative values count back from the innermost layer, -1 being the last.
func LayerN(n int) Layer {
	return Layer{index: n}
}

// Any reports whether the selector matches every layer.
func (l Layer) Any() bool { return l.index == 0 }

// Index returns the selected layer number, or 0 for AnyLayer.
func (l Layer) Index() int { return l.index }

func (l Layer) String() string {
	if l.index == 0 {
		return "any"
	}
	return "#" + strconv.Itoa(l.index)
}

// Entry is one decoded field occurrence.
type Entry struct {
	Field    registry.FieldID
	Protocol registry.FieldID
	Layer    int
	Value    ftype.Value
}

type column struct {
	protocol registry.FieldID
	values   []ftype.Value
	layers   []int
}

// Tree is the read-only result of dissecting one packet.
type Tree struct {
	entries []Entry
	columns map[registry.FieldID]*column
	layers  map[registry.FieldID]int
}

// FetchValues returns every value recorded for the field within the selected
// layers, in dissection order. The returned slice must not be modified.
func (t *Tree) FetchValues(id registry.FieldID, layer Layer) []ftype.Value {
	if t == nil {
		return nil
	}

	col := t.columns[id]
	if col == nil {
		return nil
	}

	if layer.Any() {
		return col.values
	}

	n := layer.index
	if n < 0 {
		n = t.layers[col.protocol] + n + 1
	}
	if n <= 0 {
		return nil
	}

	lo := sort.SearchInts(col.layers, n)
	hi := sort.SearchInts(col.layers, n+1)

	return col.values[lo:hi:hi]
}

// Layers returns how many times the protocol occurs in the packet.
func (t *Tree) Layers(protocol registry.FieldID) int {
	if t == nil {
		return 0
	}
	return t.layers[protocol]
}

// Len returns the number of recorded entries.
func (t *Tree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Walk calls fn for each entry in dissection order until fn returns false.
func (t *Tree) Walk(fn func(Entry) bool) {
	if t == nil {
		return
	}
	for _, e := range t.entries {
		if !fn(e) {
			return
		}
	}
}
