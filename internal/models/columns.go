package models

// HeaderSelection records which row of a file is the header row (stage U2).
type HeaderSelection struct {
	HeaderRowIndex int `json:"headerRowIndex" msgpack:"headerRowIndex"`
	SheetIndex     int `json:"sheetIndex" msgpack:"sheetIndex"`
}

// ColumnNameEdit is one entry of the column review performed in stage U3.
// Keep == false excludes the column from every later stage.
type ColumnNameEdit struct {
	OriginalName string `json:"originalName" msgpack:"originalName"`
	EditedName   string `json:"editedName" msgpack:"editedName"`
	Keep         bool   `json:"keep" msgpack:"keep"`
}

// DataType is the user-facing type of a column.
type DataType string

const (
	DataTypeText     DataType = "text"
	DataTypeString   DataType = "string"
	DataTypeNumber   DataType = "number"
	DataTypeInt      DataType = "int"
	DataTypeFloat    DataType = "float"
	DataTypeBoolean  DataType = "boolean"
	DataTypeDate     DataType = "date"
	DataTypeDatetime DataType = "datetime"
	DataTypeCategory DataType = "category"
)

// DataTypes lists every selectable type.
var DataTypes = []DataType{
	DataTypeText, DataTypeString, DataTypeNumber, DataTypeInt, DataTypeFloat,
	DataTypeBoolean, DataTypeDate, DataTypeDatetime, DataTypeCategory,
}

// Valid reports whether t is a known type.
func (t DataType) Valid() bool {
	for _, dt := range DataTypes {
		if dt == t {
			return true
		}
	}
	return false
}

// IsNumeric reports whether t is number, int or float.
func (t DataType) IsNumeric() bool {
	return t == DataTypeNumber || t == DataTypeInt || t == DataTypeFloat
}

// IsDate reports whether t is date or datetime.
func (t DataType) IsDate() bool {
	return t == DataTypeDate || t == DataTypeDatetime
}

// IsTextual reports whether t is text or string.
func (t DataType) IsTextual() bool {
	return t == DataTypeText || t == DataTypeString
}

// ColumnRole classifies a column as dimension-like or metric-like.
type ColumnRole string

const (
	RoleIdentifier ColumnRole = "identifier"
	RoleMeasure    ColumnRole = "measure"
)

// Valid reports whether r is identifier or measure.
func (r ColumnRole) Valid() bool {
	return r == RoleIdentifier || r == RoleMeasure
}

// Tag explains why a column's type and role have their current values.
type Tag string

const (
	TagAISuggestion       Tag = "ai_suggestion"
	TagEditedByUser       Tag = "edited_by_user"
	TagPreviouslyUsedType Tag = "previously_used_type"
	TagPreviouslyUsedRole Tag = "previously_used_role"
)

// DataTypeSelection is the stage U4 decision for one kept column.
// ColumnName always equals the EditedName of the matching ColumnNameEdit.
type DataTypeSelection struct {
	ColumnName   string     `json:"columnName" msgpack:"columnName"`
	SelectedType DataType   `json:"selectedType" msgpack:"selectedType"`
	DetectedType DataType   `json:"detectedType" msgpack:"detectedType"`
	ColumnRole   ColumnRole `json:"columnRole" msgpack:"columnRole"`
	Format       string     `json:"format,omitempty" msgpack:"format,omitempty"`
}
