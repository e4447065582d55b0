package registry

import (
	"fmt"
	"io"
	"os"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/vitalvas/pktfilter/ftype"
)

// SupportedFormat is the semver constraint definition files must satisfy.
const SupportedFormat = "^1.0"

type definitionsFile struct {
	Format    string           `yaml:"format"`
	Protocols []protocolRecord `yaml:"protocols"`
}

type protocolRecord struct {
	Abbrev string        `yaml:"abbrev"`
	Name   string        `yaml:"name"`
	Fields []fieldRecord `yaml:"fields"`
}

type fieldRecord struct {
	Abbrev      string `yaml:"abbrev"`
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
}

// LoadYAML reads field definitions into the builder.
//
// The document looks like:
//
//	format: "1.0"
//	protocols:
//	  - abbrev: myproto
//	    name: My Protocol
//	    fields:
//	      - abbrev: myproto.id
//	        name: Identifier
//	        type: uint16
func (b *Builder) LoadYAML(r io.Reader) error {
	var doc definitionsFile

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return fmt.Errorf("%w: empty document", ErrUnknownFormat)
		}
		return fmt.Errorf("failed to decode definitions: %w", err)
	}

	if err := checkFormat(doc.Format); err != nil {
		return err
	}

	for _, p := range doc.Protocols {
		b.Protocol(p.Abbrev, p.Name)

		for _, f := range p.Fields {
			typ, err := ftype.ParseType(f.Type)
			if err != nil {
				return fmt.Errorf("field %s: %w", f.Abbrev, err)
			}
			b.FieldWithDescription(f.Abbrev, f.Name, typ, f.Description)
		}

		if b.err != nil {
			return b.err
		}
	}

	return nil
}

func checkFormat(format string) error {
	if format == "" {
		return fmt.Errorf("%w: missing format version", ErrUnknownFormat)
	}

	version, err := semver.NewVersion(format)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrUnknownFormat, format, err)
	}

	constraint, err := semver.NewConstraint(SupportedFormat)
	if err != nil {
		return err
	}

	if !constraint.Check(version) {
		return fmt.Errorf("%w: %s does not satisfy %s", ErrUnknownFormat, version, SupportedFormat)
	}

	return nil
}

// LoadYAML builds a snapshot holding only the definitions read from r.
func LoadYAML(r io.Reader) (*Snapshot, error) {
	b := NewBuilder()
	if err := b.LoadYAML(r); err != nil {
		return nil, err
	}
	return b.Build()
}

// LoadFile builds a snapshot from the built-in protocols extended with the
// definitions in the named file.
func LoadFile(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open definitions: %w", err)
	}
	defer f.Close()

	b := DefaultBuilder()
	if err := b.LoadYAML(f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return b.Build()
}
