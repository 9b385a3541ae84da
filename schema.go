package docledger

// FieldType is the storage type declared for a field.
type FieldType string

const (
	FieldKeyword FieldType = "keyword"
	FieldText    FieldType = "text"
	FieldDate    FieldType = "date"
	FieldInteger FieldType = "integer"
	FieldObject  FieldType = "object"
)

// FieldSpec declares the type of one stored field.
type FieldSpec struct {
	Name string
	Type FieldType

	// Repeated marks fields holding a list of values of Type.
	Repeated bool

	// Properties holds the nested fields of an object field.
	Properties []FieldSpec
}

// Field name constants shared by the schema tables and the stores' queries.
// They must match the json tags of LockRecord and LedgerEntry.
const (
	FieldID        = "id"
	FieldGrantedAt = "grantedAt"
	FieldLockedBy  = "lockedBy"

	FieldChangeLogPath       = "changeLogPath"
	FieldStoredChangeLogPath = "storedChangeLogPath"
	FieldAuthor              = "author"
	FieldCheckSum            = "checksum"
	FieldCheckSumVersion     = "version"
	FieldCheckSumHash        = "hash"
	FieldExecutedAt          = "executedAt"
	FieldTag                 = "tag"
	FieldExecType            = "execType"
	FieldDescription         = "description"
	FieldComments            = "comments"
	FieldOrderExecuted       = "orderExecuted"
	FieldContextExpression   = "contextExpression"
	FieldContexts            = "contexts"
	FieldOriginalString      = "originalString"
	FieldLabels              = "labels"
	FieldDeploymentID        = "deploymentId"
	FieldToolVersion         = "toolVersion"
)

// LockRecordSchema declares the fields of LockRecord.
var LockRecordSchema = []FieldSpec{
	{Name: FieldID, Type: FieldKeyword},
	{Name: FieldGrantedAt, Type: FieldDate},
	{Name: FieldLockedBy, Type: FieldText},
}

// LedgerEntrySchema declares the fields of LedgerEntry.
// tag is a keyword so that tag counts match exactly.
var LedgerEntrySchema = []FieldSpec{
	{Name: FieldID, Type: FieldKeyword},
	{Name: FieldChangeLogPath, Type: FieldKeyword},
	{Name: FieldStoredChangeLogPath, Type: FieldKeyword},
	{Name: FieldAuthor, Type: FieldText},
	{Name: FieldCheckSum, Type: FieldObject, Properties: []FieldSpec{
		{Name: FieldCheckSumVersion, Type: FieldInteger},
		{Name: FieldCheckSumHash, Type: FieldKeyword},
	}},
	{Name: FieldExecutedAt, Type: FieldDate},
	{Name: FieldTag, Type: FieldKeyword},
	{Name: FieldExecType, Type: FieldKeyword},
	{Name: FieldDescription, Type: FieldText},
	{Name: FieldComments, Type: FieldText},
	{Name: FieldOrderExecuted, Type: FieldInteger},
	{Name: FieldContextExpression, Type: FieldObject, Properties: []FieldSpec{
		{Name: FieldContexts, Type: FieldKeyword, Repeated: true},
		{Name: FieldOriginalString, Type: FieldText},
	}},
	{Name: FieldLabels, Type: FieldText},
	{Name: FieldDeploymentID, Type: FieldKeyword},
	{Name: FieldToolVersion, Type: FieldKeyword},
}

// FieldNames returns the dotted names of all leaf and object fields.
func FieldNames(specs []FieldSpec) []string {
	var names []string
	var walk func(prefix string, specs []FieldSpec)
	walk = func(prefix string, specs []FieldSpec) {
		for _, f := range specs {
			name := prefix + f.Name
			names = append(names, name)
			if f.Type == FieldObject {
				walk(name+".", f.Properties)
			}
		}
	}
	walk("", specs)
	return names
}
