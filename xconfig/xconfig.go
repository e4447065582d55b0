// Package xconfig fills a configuration struct from default tags, Default
// methods, YAML or JSON files and prefixed environment variables, in that
// order.
package xconfig

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"regexp"
)

var (
	// ErrNotPointer is returned when Load is given anything but a non-nil
	// pointer to a struct.
	ErrNotPointer = errors.New("xconfig: config must be a non-nil pointer to a struct")

	envMacroRegex = regexp.MustCompile(`\$\{env:([^}]+)\}`)
)

type options struct {
	files     []string
	envPrefix string
	strict    bool
	lookupEnv func(string) (string, bool)
}

type Option func(*options)

// WithFiles loads the files in order. Missing files are skipped.
func WithFiles(filenames ...string) Option {
	return func(o *options) {
		o.files = append(o.files, filenames...)
	}
}

// WithEnv overlays PREFIX_FIELD environment variables after the files.
func WithEnv(prefix string) Option {
	return func(o *options) {
		o.envPrefix = prefix
	}
}

// WithStrict rejects keys in files that match no struct field.
func WithStrict() Option {
	return func(o *options) {
		o.strict = true
	}
}

// WithLookupEnv replaces os.LookupEnv, mostly for tests.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(o *options) {
		o.lookupEnv = fn
	}
}

func Load(config any, opts ...Option) error {
	o := &options{lookupEnv: os.LookupEnv}
	for _, opt := range opts {
		opt(o)
	}

	elem, err := validateConfigPointer(config)
	if err != nil {
		return err
	}

	if err := applyDefaultTags(elem); err != nil {
		return fmt.Errorf("failed to apply default tags: %w", err)
	}
	callDefaultMethods(elem)

	if len(o.files) > 0 {
		if err := loadFromFiles(config, o.files, o.strict); err != nil {
			return err
		}
		expandMacrosInValue(elem, o.lookupEnv)
	}

	if o.envPrefix != "" {
		if err := loadFromEnv(elem, o.envPrefix, o.lookupEnv); err != nil {
			return fmt.Errorf("failed to load from environment: %w", err)
		}
	}

	return nil
}

func validateConfigPointer(config any) (reflect.Value, error) {
	v := reflect.ValueOf(config)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, ErrNotPointer
	}
	return v.Elem(), nil
}

// expandMacros replaces ${env:VAR} with the variable's value. Unset
// variables are left as written.
func expandMacros(value string, lookup func(string) (string, bool)) string {
	return envMacroRegex.ReplaceAllStringFunc(value, func(match string) string {
		name := envMacroRegex.FindStringSubmatch(match)[1]
		if v, ok := lookup(name); ok && v != "" {
			return v
		}
		return match
	})
}

func expandMacrosInValue(v reflect.Value, lookup func(string) (string, bool)) {
	switch v.Kind() {
	case reflect.String:
		if v.CanSet() && v.String() != "" {
			v.SetString(expandMacros(v.String(), lookup))
		}
	case reflect.Struct:
		for i := range v.NumField() {
			if field := v.Field(i); field.CanSet() {
				expandMacrosInValue(field, lookup)
			}
		}
	case reflect.Slice:
		for i := range v.Len() {
			expandMacrosInValue(v.Index(i), lookup)
		}
	case reflect.Map:
		if v.Type().Elem().Kind() != reflect.String {
			return
		}
		for _, key := range v.MapKeys() {
			value := v.MapIndex(key).String()
			v.SetMapIndex(key, reflect.ValueOf(expandMacros(value, lookup)).Convert(v.Type().Elem()))
		}
	case reflect.Pointer:
		if !v.IsNil() {
			expandMacrosInValue(v.Elem(), lookup)
		}
	}
}
