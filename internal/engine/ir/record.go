package ir

// RecordDef is a compiled `record` declaration: its field schema, primary
// key, and uniqueness/foreign-key constraints, as produced by the flow
// builder from frame declarations (C4).
type RecordDef struct {
	Name       string
	Frame      string
	PrimaryKey string
	Fields     map[string]*FieldDef
	FieldOrder []string
}

// FieldDef describes one record field: its declared type, optional default,
// and constraint flags.
type FieldDef struct {
	Name       string
	Type       string // "string", "int", "float", "bool", "list", "map", "record_ref"
	Required   bool
	Unique     bool
	UniqueWith []string // composite-unique scope fields; the record layer's uniqueness checks compare this field alone and do not read UniqueWith
	Default    Expr
	References string // referenced record name (a record registry key), for record_ref fields
}
