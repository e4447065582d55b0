package macro

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"gopkg.in/yaml.v3"
)

// uatFile is the grammar of the dfilter_macros table: one record per line,
// comma separated quoted fields, "#" comments. Records have either
// "name","body" or "enabled","name","body".
type uatFile struct {
	Lines []*uatLine `parser:"( @@ | EOL )*"`
}

type uatLine struct {
	Pos    lexer.Position
	Fields []string `parser:"@String ( ',' @String )* EOL?"`
}

var uatLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `#[^\n]*`},
	{Name: "String", Pattern: `"(\\.|[^"\\])*"`},
	{Name: "Comma", Pattern: `,`},
	{Name: "EOL", Pattern: `\r?\n`},
	{Name: "Whitespace", Pattern: `[ \t]+`},
})

var uatParser = participle.MustBuild[uatFile](
	participle.Lexer(uatLexer),
	participle.Unquote("String"),
	participle.Elide("Whitespace", "Comment"),
)

// LoadUAT reads macros stored in the user table format.
// Disabled records are skipped.
func LoadUAT(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read macros: %w", err)
	}

	file, err := uatParser.ParseBytes("", data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDefinition, err)
	}

	t := &Table{macros: make(map[string]Macro, len(file.Lines))}
	for _, line := range file.Lines {
		var m Macro

		switch len(line.Fields) {
		case 2:
			m = Macro{Name: line.Fields[0], Body: line.Fields[1]}
		case 3:
			if !strings.EqualFold(line.Fields[0], "true") {
				continue
			}
			m = Macro{Name: line.Fields[1], Body: line.Fields[2]}
		default:
			return nil, fmt.Errorf("%w: line %d: expected 2 or 3 fields, got %d", ErrDefinition, line.Pos.Line, len(line.Fields))
		}

		if err := t.Add(m); err != nil {
			return nil, fmt.Errorf("line %d: %w", line.Pos.Line, err)
		}
	}

	return t, nil
}

type yamlMacro struct {
	Name   string   `yaml:"name"`
	Params []string `yaml:"params"`
	Body   string   `yaml:"body"`
}

// LoadYAML reads macros from a YAML list of name/params/body records.
func LoadYAML(r io.Reader) (*Table, error) {
	var records []yamlMacro

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&records); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode macros: %w", err)
	}

	t := &Table{macros: make(map[string]Macro, len(records))}
	for _, rec := range records {
		if err := t.Add(Macro(rec)); err != nil {
			return nil, err
		}
	}

	return t, nil
}

// LoadFile picks the loader from the file extension: .yaml and .yml files
// are YAML, anything else is read as a user table.
func LoadFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open macros: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(f)
	default:
		return LoadUAT(f)
	}
}
