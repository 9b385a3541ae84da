package sqlstore

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/getpup/docledger"
)

var identifierRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// ValidateIdentifier ensures a table name only contains characters that are
// safe to interpolate into SQL.
func ValidateIdentifier(name, fieldName string) error {
	if name == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	if !identifierRegex.MatchString(name) {
		return fmt.Errorf("%s must start with a letter and contain only letters, numbers, and underscores (got: %s)", fieldName, name)
	}
	return nil
}

// Column is one table column derived from a field spec. Object fields are
// flattened: their properties become parent_child columns.
type Column struct {
	// Name is the snake_case column name.
	Name string

	// Path is the JSON path of the value inside the document.
	Path []string

	Type     docledger.FieldType
	Repeated bool
}

// Columns flattens the field specs into table columns.
func Columns(fields []docledger.FieldSpec) []Column {
	var cols []Column
	var walk func(prefix []string, fields []docledger.FieldSpec)
	walk = func(prefix []string, fields []docledger.FieldSpec) {
		for _, f := range fields {
			path := append(append([]string(nil), prefix...), f.Name)
			if f.Type == docledger.FieldObject {
				walk(path, f.Properties)
				continue
			}
			cols = append(cols, Column{
				Name:     columnName(path),
				Path:     path,
				Type:     f.Type,
				Repeated: f.Repeated,
			})
		}
	}
	walk(nil, fields)
	return cols
}

// ColumnName returns the column that stores the field at the given JSON path.
func ColumnName(path ...string) string {
	return columnName(path)
}

func columnName(path []string) string {
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = snakeCase(p)
	}
	return strings.Join(parts, "_")
}

func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
