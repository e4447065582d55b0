package xconfig

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

func loadFromFiles(config any, filenames []string, strict bool) error {
	for _, filename := range filenames {
		if err := loadFromFile(config, filename, strict); err != nil {
			return fmt.Errorf("failed to load file %s: %w", filename, err)
		}
	}
	return nil
}

func loadFromFile(config any, filename string, strict bool) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".yaml", ".yml":
		return unmarshalYAML(data, config, strict)
	case ".json":
		return unmarshalJSON(data, config, strict)
	default:
		return fmt.Errorf("unsupported file extension %q", ext)
	}
}

func unmarshalYAML(data []byte, config any, strict bool) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(strict)

	if err := dec.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// unmarshalJSON goes through yaml.v3 so durations and field names are
// decoded the same way for both formats. JSON is a subset of YAML.
func unmarshalJSON(data []byte, config any, strict bool) error {
	if !json.Valid(data) {
		return errors.New("invalid JSON")
	}
	return unmarshalYAML(data, config, strict)
}
