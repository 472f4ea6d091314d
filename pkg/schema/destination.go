package schema

import "strings"

// DestinationField describes a persisted field to a datastore.
type DestinationField struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

var ckanTypes = map[FieldType]string{
	TypeString:   "text",
	TypeNumber:   "numeric",
	TypeInteger:  "int",
	TypeDateTime: "timestamp",
	TypeDate:     "date",
	TypeFloat:    "float",
	TypeBoolean:  "bool",
	TypeTime:     "time",
	TypeJSON:     "json",
}

var postgresTypes = map[FieldType]string{
	TypeString:   "text",
	TypeNumber:   "numeric",
	TypeInteger:  "bigint",
	TypeDateTime: "timestamptz",
	TypeDate:     "date",
	TypeFloat:    "double precision",
	TypeBoolean:  "boolean",
	TypeTime:     "time",
	TypeJSON:     "jsonb",
}

// ToDestinationFields lists the persisted fields with CKAN datastore types.
// Load-only fields are skipped and DumpTo aliases applied.
func (s *Schema) ToDestinationFields(capitalize bool) []DestinationField {
	return s.destinationFields(ckanTypes, capitalize)
}

// ToPostgresFields lists the persisted fields with PostgreSQL column types.
func (s *Schema) ToPostgresFields() []DestinationField {
	return s.destinationFields(postgresTypes, false)
}

func (s *Schema) destinationFields(types map[FieldType]string, capitalize bool) []DestinationField {
	out := make([]DestinationField, 0, len(s.fields))
	for _, f := range s.fields {
		if f.LoadOnly {
			continue
		}
		name := f.OutputName()
		if capitalize {
			name = strings.ToUpper(name)
		}
		out = append(out, DestinationField{ID: name, Type: types[f.Type]})
	}
	return out
}
