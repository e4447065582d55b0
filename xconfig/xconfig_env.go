package xconfig

import (
	"fmt"
	"reflect"
	"strings"
	"unicode"
)

func camelToSnake(s string) string {
	var sb strings.Builder
	runes := []rune(s)

	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevUpper := unicode.IsUpper(runes[i-1])
			nextLower := i < len(runes)-1 && unicode.IsLower(runes[i+1])
			if !prevUpper || nextLower {
				sb.WriteByte('_')
			}
		}
		sb.WriteRune(unicode.ToLower(r))
	}
	return sb.String()
}

func fieldTagName(field reflect.StructField) string {
	for _, key := range []string{"env", "yaml", "json"} {
		if tag := field.Tag.Get(key); tag != "" {
			name := strings.Split(tag, ",")[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
	}
	return camelToSnake(field.Name)
}

func loadFromEnv(v reflect.Value, prefix string, lookup func(string) (string, bool)) error {
	t := v.Type()

	for i := range v.NumField() {
		field := v.Field(i)
		fieldType := t.Field(i)
		if !field.CanSet() {
			continue
		}

		name := fieldTagName(fieldType)
		if name == "" {
			continue
		}
		key := strings.ToUpper(prefix + "_" + name)

		if field.Kind() == reflect.Struct && field.Type() != durationType {
			if err := loadFromEnv(field, key, lookup); err != nil {
				return err
			}
			continue
		}

		value, ok := lookup(key)
		if !ok || value == "" {
			continue
		}

		if field.Kind() == reflect.Slice {
			if err := setSliceFromString(field, value); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			continue
		}
		if err := setValueFromString(field, value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

func setSliceFromString(field reflect.Value, value string) error {
	parts := strings.Split(value, ",")
	slice := reflect.MakeSlice(field.Type(), 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		elem := reflect.New(field.Type().Elem()).Elem()
		if err := setValueFromString(elem, part); err != nil {
			return err
		}
		slice = reflect.Append(slice, elem)
	}

	field.Set(slice)
	return nil
}
