// Package schema validates canonical rows against declared fields and
// describes those fields to destinations.
//
// A Schema is a list of Field declarations. Validate coerces each declared
// field of an incoming row to its type and returns the row in output form:
// aliased names (DumpTo) applied, load-only fields dropped, dates rendered as
// ISO strings. Validation is strictly per row.
//
//	s := schema.New("permits",
//	    schema.Field{Name: "permit_id", Type: schema.TypeString, Required: true},
//	    schema.Field{Name: "issued", Type: schema.TypeDate, Format: "01/02/2006"},
//	    schema.Field{Name: "fee", Type: schema.TypeNumber, Min: schema.Bound(0)},
//	)
//	out, errs := s.Validate(row)
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ajitpratap0/ledgerline/pkg/errors"
	"github.com/ajitpratap0/ledgerline/pkg/record"
)

// FieldType is the declared type of a field.
type FieldType string

const (
	TypeString   FieldType = "string"
	TypeInteger  FieldType = "integer"
	TypeNumber   FieldType = "number"
	TypeFloat    FieldType = "float"
	TypeBoolean  FieldType = "boolean"
	TypeDate     FieldType = "date"
	TypeDateTime FieldType = "datetime"
	TypeTime     FieldType = "time"
	TypeJSON     FieldType = "json"
)

// Field declares one column of the schema.
type Field struct {
	Name     string    `yaml:"name"`
	Type     FieldType `yaml:"type"`
	Required bool      `yaml:"required"`
	// LoadOnly fields are validated but never persisted.
	LoadOnly bool `yaml:"load_only"`
	// DumpTo renames the field on output.
	DumpTo string `yaml:"dump_to"`
	// Format is a Go time layout for date, datetime and time fields.
	Format string   `yaml:"format"`
	Min    *float64 `yaml:"min"`
	Max    *float64 `yaml:"max"`
}

// OutputName is the name the field carries after validation.
func (f Field) OutputName() string {
	if f.DumpTo != "" {
		return f.DumpTo
	}
	return f.Name
}

// Bound is a helper for Field.Min and Field.Max literals.
func Bound(v float64) *float64 { return &v }

// Schema is an ordered set of field declarations.
type Schema struct {
	name   string
	fields []Field
}

// New creates a schema. Field order is preserved on output.
func New(name string, fields ...Field) *Schema {
	return &Schema{name: name, fields: fields}
}

// Name returns the schema name.
func (s *Schema) Name() string { return s.name }

// Fields returns a copy of the declared fields.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Check verifies the declarations themselves.
func (s *Schema) Check() error {
	if len(s.fields) == 0 {
		return errors.Newf(errors.ErrorTypeConfig, "schema %s declares no fields", s.name)
	}
	seen := make(map[string]bool, len(s.fields))
	for _, f := range s.fields {
		if f.Name == "" {
			return errors.Newf(errors.ErrorTypeConfig, "schema %s has a field without a name", s.name)
		}
		if _, ok := ckanTypes[f.Type]; !ok {
			return errors.Newf(errors.ErrorTypeConfig, "schema %s field %s has unknown type %q", s.name, f.Name, f.Type)
		}
		if seen[f.OutputName()] {
			return errors.Newf(errors.ErrorTypeConfig, "schema %s declares %s twice", s.name, f.OutputName())
		}
		seen[f.OutputName()] = true
	}
	return nil
}

// FieldError describes one failed field of a row.
type FieldError struct {
	Field   string
	Message string
}

// FieldErrors collects the failures of a single row.
type FieldErrors []FieldError

// Error renders the failures sorted by field name.
func (fe FieldErrors) Error() string {
	parts := make([]string, len(fe))
	for i, e := range fe {
		parts[i] = e.Field + ": " + e.Message
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// Err converts the failures into a validation error, or nil when empty.
func (fe FieldErrors) Err(row record.Row) error {
	if len(fe) == 0 {
		return nil
	}
	return errors.Newf(errors.ErrorTypeValidation, "there were errors in the input data: %s", fe.Error()).
		WithDetail("row", row.Map())
}

// Validate coerces every declared field of row. The returned row contains
// one entry per persisted field, keyed by output name. Absent and null
// values pass through as record.Null unless the field is required.
func (s *Schema) Validate(row record.Row) (record.Row, FieldErrors) {
	out := record.New(len(s.fields))
	var errs FieldErrors

	for _, f := range s.fields {
		raw, _ := row.Get(f.Name)
		if raw == nil {
			if f.Required {
				errs = append(errs, FieldError{Field: f.Name, Message: "missing data for required field"})
				continue
			}
			if !f.LoadOnly {
				out.Set(f.OutputName(), record.Null)
			}
			continue
		}

		v, err := coerce(f, raw)
		if err != nil {
			errs = append(errs, FieldError{Field: f.Name, Message: err.Error()})
			continue
		}
		if msg := checkBounds(f, v); msg != "" {
			errs = append(errs, FieldError{Field: f.Name, Message: msg})
			continue
		}
		if !f.LoadOnly {
			out.Set(f.OutputName(), v)
		}
	}

	return out, errs
}

func checkBounds(f Field, v any) string {
	var n float64
	switch x := v.(type) {
	case int64:
		n = float64(x)
	case float64:
		n = x
	default:
		return ""
	}
	if f.Min != nil && n < *f.Min {
		return fmt.Sprintf("must be greater than or equal to %v", *f.Min)
	}
	if f.Max != nil && n > *f.Max {
		return fmt.Sprintf("must be less than or equal to %v", *f.Max)
	}
	return ""
}
