package validation

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Validator validates structs
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates a struct. Nested structs are validated as well, errors
// carry the dotted field path.
func (v *Validator) Validate(s interface{}) error {
	val := reflect.ValueOf(s)
	if val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return fmt.Errorf("validate expects a struct, got nil")
		}
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return fmt.Errorf("validate expects a struct")
	}

	return v.validateStruct(val, "")
}

func (v *Validator) validateStruct(val reflect.Value, prefix string) error {
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		if !fieldType.IsExported() {
			continue
		}

		name := prefix + fieldType.Name

		if tag := fieldType.Tag.Get("validate"); tag != "" && tag != "-" {
			if err := v.validateField(field, tag); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}

		nested := field
		if nested.Kind() == reflect.Ptr {
			if nested.IsNil() {
				continue
			}
			nested = nested.Elem()
		}
		if nested.Kind() == reflect.Struct && fieldType.Tag.Get("validate") != "-" {
			if err := v.validateStruct(nested, name+"."); err != nil {
				return err
			}
		}
	}

	return nil
}

// validateField validates a single field
func (v *Validator) validateField(field reflect.Value, tag string) error {
	rules := strings.Split(tag, ",")

	// optional fields skip the remaining rules when empty
	if field.IsZero() && !contains(rules, "required") {
		return nil
	}

	for _, rule := range rules {
		parts := strings.SplitN(strings.TrimSpace(rule), "=", 2)
		ruleName := parts[0]
		param := ""
		if len(parts) == 2 {
			param = parts[1]
		}

		switch ruleName {
		case "required":
			if field.IsZero() {
				return fmt.Errorf("field is required")
			}

		case "min":
			limit, err := strconv.ParseFloat(param, 64)
			if err != nil {
				return fmt.Errorf("invalid min rule %q", param)
			}
			if n, ok := measure(field); ok && n < limit {
				return fmt.Errorf("minimum is %s", param)
			}

		case "max":
			limit, err := strconv.ParseFloat(param, 64)
			if err != nil {
				return fmt.Errorf("invalid max rule %q", param)
			}
			if n, ok := measure(field); ok && n > limit {
				return fmt.Errorf("maximum is %s", param)
			}

		case "oneof":
			allowed := strings.Fields(param)
			s := fmt.Sprint(field.Interface())
			if !contains(allowed, s) {
				return fmt.Errorf("must be one of [%s]", strings.Join(allowed, " "))
			}
		}
	}

	return nil
}

// measure returns the value of numbers and the length of strings, slices and
// maps.
func measure(field reflect.Value) (float64, bool) {
	switch field.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(field.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(field.Uint()), true
	case reflect.Float32, reflect.Float64:
		return field.Float(), true
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return float64(field.Len()), true
	}
	return 0, false
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
