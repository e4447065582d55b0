package xconfig

import (
	"fmt"
	"reflect"
	"strconv"
	"time"
)

var durationType = reflect.TypeOf(time.Duration(0))

type defaulter interface {
	Default()
}

func applyDefaultTags(v reflect.Value) error {
	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := range v.NumField() {
			field := v.Field(i)
			if !field.CanSet() {
				continue
			}

			if err := applyDefaultTag(field, t.Field(i)); err != nil {
				return err
			}
			if err := applyDefaultTags(field); err != nil {
				return err
			}
		}
	case reflect.Pointer:
		if !v.IsNil() {
			return applyDefaultTags(v.Elem())
		}
	}
	return nil
}

func applyDefaultTag(field reflect.Value, fieldType reflect.StructField) error {
	value, ok := fieldType.Tag.Lookup("default")
	if !ok || !field.IsZero() {
		return nil
	}

	if err := setValueFromString(field, value); err != nil {
		return fmt.Errorf("field %s: %w", fieldType.Name, err)
	}
	return nil
}

// callDefaultMethods runs Default on every addressable struct, outermost
// first, so nested Default methods may override the parent's choices.
func callDefaultMethods(v reflect.Value) {
	if v.Kind() != reflect.Struct {
		return
	}

	if v.CanAddr() {
		if d, ok := v.Addr().Interface().(defaulter); ok {
			d.Default()
		}
	}

	for i := range v.NumField() {
		if field := v.Field(i); field.CanSet() {
			callDefaultMethods(field)
		}
	}
}

func setValueFromString(field reflect.Value, value string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q", value)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean %q", value)
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || field.OverflowInt(n) {
			return fmt.Errorf("invalid integer %q for %s", value, field.Type())
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil || field.OverflowUint(n) {
			return fmt.Errorf("invalid unsigned integer %q for %s", value, field.Type())
		}
		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || field.OverflowFloat(f) {
			return fmt.Errorf("invalid float %q for %s", value, field.Type())
		}
		field.SetFloat(f)
	case reflect.Pointer:
		if field.IsNil() {
			field.Set(reflect.New(field.Type().Elem()))
		}
		return setValueFromString(field.Elem(), value)
	default:
		return fmt.Errorf("unsupported type %s", field.Type())
	}
	return nil
}
