package opensearch

import "github.com/getpup/docledger"

// mapping renders field specs as OpenSearch mapping properties.
// Repeated fields need no special handling: every OpenSearch field accepts
// arrays.
func mapping(fields []docledger.FieldSpec) map[string]interface{} {
	props := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		if f.Type == docledger.FieldObject {
			props[f.Name] = map[string]interface{}{
				"type":       "object",
				"properties": mapping(f.Properties),
			}
			continue
		}
		props[f.Name] = map[string]interface{}{"type": string(f.Type)}
	}
	return props
}
