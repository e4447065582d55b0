package fieldtree

import (
	"github.com/vitalvas/pktfilter/ftype"
	"github.com/vitalvas/pktfilter/registry"
)

// Builder accumulates entries while a packet is dissected.
//
// Once primed, the builder only records the primed fields and protocols so a
// dissector can skip work nobody will read. Protocol layers are always
// counted, so layer addressing stays correct.
type Builder struct {
	primed  map[registry.FieldID]struct{}
	current registry.FieldID
	tree    *Tree
}

// NewBuilder creates a builder that records every field.
func NewBuilder() *Builder {
	b := &Builder{}
	b.Reset()
	return b
}

// Prime restricts recording to the given fields. Calls accumulate.
func (b *Builder) Prime(ids ...registry.FieldID) {
	if b.primed == nil {
		b.primed = make(map[registry.FieldID]struct{}, len(ids))
	}
	for _, id := range ids {
		b.primed[id] = struct{}{}
	}
}

// Primed reports whether recording has been restricted.
func (b *Builder) Primed() bool {
	return b.primed != nil
}

// Wants reports whether a value for id would be recorded.
func (b *Builder) Wants(id registry.FieldID) bool {
	if b.primed == nil {
		return true
	}
	_, ok := b.primed[id]
	return ok
}

// PushProtocol opens a new layer of the protocol. Fields added afterwards
// belong to it. The payload is recorded as the protocol's own value.
func (b *Builder) PushProtocol(id registry.FieldID, payload []byte) {
	b.tree.layers[id]++
	b.current = id

	if b.Wants(id) {
		b.record(id, ftype.BytesValue(payload))
	}
}

// Add records a value for a field of the current protocol layer.
func (b *Builder) Add(id registry.FieldID, v ftype.Value) {
	if v == nil || !b.Wants(id) {
		return
	}
	b.record(id, v)
}

func (b *Builder) record(id registry.FieldID, v ftype.Value) {
	layer := b.tree.layers[b.current]
	col := b.tree.columns[id]
	if col == nil {
		col = &column{protocol: b.current}
		b.tree.columns[id] = col
	}

	col.values = append(col.values, v)
	col.layers = append(col.layers, layer)

	b.tree.entries = append(b.tree.entries, Entry{
		Field:    id,
		Protocol: b.current,
		Layer:    layer,
		Value:    v,
	})
}

// Tree returns the finished tree and resets the builder for the next packet.
// Priming is kept.
func (b *Builder) Tree() *Tree {
	t := b.tree
	b.Reset()
	return t
}

// Reset discards recorded entries.
func (b *Builder) Reset() {
	b.current = registry.InvalidID
	b.tree = &Tree{
		columns: make(map[registry.FieldID]*column),
		layers:  make(map[registry.FieldID]int),
	}
}
