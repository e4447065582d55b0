package registry

import (
	"fmt"

	"github.com/vitalvas/pktfilter/ftype"
)

// Builder collects definitions and produces a Snapshot.
// Errors are sticky and reported by Build.
type Builder struct {
	fields  []Field
	byName  map[string]FieldID
	current FieldID
	err     error
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{
		byName:  make(map[string]FieldID),
		current: InvalidID,
	}
}

// NewBuilderFrom starts a builder holding every definition of base.
// IDs of existing fields are preserved.
func NewBuilderFrom(base *Snapshot) *Builder {
	b := NewBuilder()
	b.fields = append(b.fields, base.fields...)
	for name, id := range base.byName {
		b.byName[name] = id
	}
	return b
}

// Protocol registers a protocol and makes it the parent of subsequent fields.
// Registering an existing protocol again only selects it.
func (b *Builder) Protocol(abbrev, name string) *Builder {
	if b.err != nil {
		return b
	}

	if id, ok := b.byName[abbrev]; ok && b.fields[id].IsProtocol() {
		b.current = id
		return b
	}

	id := b.add(Field{Abbrev: abbrev, Name: name, Type: ftype.TypeProtocol})
	if id != InvalidID {
		b.fields[id].Parent = id
		b.current = id
	}
	return b
}

// Field registers a field under the current protocol.
func (b *Builder) Field(abbrev, name string, typ ftype.Type) *Builder {
	return b.FieldWithDescription(abbrev, name, typ, "")
}

// FieldWithDescription registers a field with a help text.
func (b *Builder) FieldWithDescription(abbrev, name string, typ ftype.Type, description string) *Builder {
	if b.err != nil {
		return b
	}

	if b.current == InvalidID {
		b.err = fmt.Errorf("%w: %s", ErrNoProtocol, abbrev)
		return b
	}

	if typ == ftype.TypeNone || typ == ftype.TypeProtocol {
		b.err = fmt.Errorf("%w: %s has type %s", ErrInvalidType, abbrev, typ)
		return b
	}

	b.add(Field{
		Abbrev:      abbrev,
		Name:        name,
		Type:        typ,
		Parent:      b.current,
		Description: description,
	})
	return b
}

func (b *Builder) add(f Field) FieldID {
	if !abbrevRegex.MatchString(f.Abbrev) {
		b.err = fmt.Errorf("%w: %q", ErrInvalidName, f.Abbrev)
		return InvalidID
	}

	if _, ok := b.byName[f.Abbrev]; ok {
		b.err = fmt.Errorf("%w: %s", ErrDuplicateField, f.Abbrev)
		return InvalidID
	}

	f.ID = FieldID(len(b.fields))
	b.fields = append(b.fields, f)
	b.byName[f.Abbrev] = f.ID

	return f.ID
}

// Build freezes the collected definitions.
func (b *Builder) Build() (*Snapshot, error) {
	if b.err != nil {
		return nil, b.err
	}

	snap := &Snapshot{
		generation: generations.Add(1),
		fields:     make([]Field, len(b.fields)),
		byName:     make(map[string]FieldID, len(b.byName)),
	}
	copy(snap.fields, b.fields)
	for name, id := range b.byName {
		snap.byName[name] = id
	}

	return snap, nil
}

// MustBuild is like Build but panics on error.
func (b *Builder) MustBuild() *Snapshot {
	snap, err := b.Build()
	if err != nil {
		panic(err)
	}
	return snap
}
