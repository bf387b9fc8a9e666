// Package record implements the Record Layer (C4): typed field coercion,
// uniqueness and foreign-key enforcement, and the db_create/db_bulk_create/
// find/db_get/db_update/db_bulk_update/db_delete/db_bulk_delete operations
// that flow steps compile down to. Grounded on the original runtime's
// FlowEngineRecordOperationsMixin._execute_record_step.
package record

import (
	"fmt"

	"github.com/n3flow/core/internal/engine/expr"
	"github.com/n3flow/core/internal/engine/frame"
	"github.com/n3flow/core/internal/engine/ir"
	"github.com/n3flow/core/internal/engine/value"
	"github.com/n3flow/core/internal/platform/svcerr"
)

// Registry holds every compiled record definition for a flow, keyed by name.
type Registry struct {
	Defs map[string]*ir.RecordDef
}

// Layer executes record operations against a frame.Store using the
// definitions in a Registry.
type Layer struct {
	Frames *frame.Store
	Defs   *Registry
}

// New builds a Layer bound to the given frame store and record registry.
func New(frames *frame.Store, defs *Registry) *Layer {
	return &Layer{Frames: frames, Defs: defs}
}

func (l *Layer) def(name string) (*ir.RecordDef, error) {
	d, ok := l.Defs.Defs[name]
	if !ok {
		return nil, svcerr.NewNotFoundError("record", name)
	}
	return d, nil
}

// Execute runs one compiled RecordOpSpec and returns its result value.
func (l *Layer) Execute(spec *ir.RecordOpSpec, ev *expr.Evaluator, stepName string) (value.Value, error) {
	def, err := l.def(spec.Frame)
	if err != nil {
		return value.Null(), err
	}
	switch spec.Op {
	case "db_create":
		return l.create(def, spec, ev, stepName)
	case "db_bulk_create":
		return l.bulkCreate(def, spec, ev, stepName)
	case "find", "db_get":
		return l.find(def, spec, ev, stepName)
	case "db_update":
		return l.update(def, spec, ev, stepName)
	case "db_bulk_update":
		return l.bulkUpdate(def, spec, ev, stepName)
	case "db_delete":
		return l.delete(def, spec, ev, stepName)
	case "db_bulk_delete":
		return l.bulkDelete(def, spec, ev, stepName)
	default:
		return value.Null(), svcerr.NewStepValidationError(stepName, "op", fmt.Sprintf("unsupported record operation %q", spec.Op))
	}
}

func evalExprMap(m map[string]ir.Expr, ev *expr.Evaluator) (map[string]value.Value, error) {
	out := make(map[string]value.Value, len(m))
	for k, e := range m {
		v, err := ev.Evaluate(e)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// prepareValues coerces raw field values against def's schema, applies
// defaults, and enforces required fields, mirroring _prepare_record_values.
func (l *Layer) prepareValues(def *ir.RecordDef, raw map[string]value.Value, ev *expr.Evaluator, stepName string, includeDefaults, enforceRequired bool) (map[string]value.Value, error) {
	out := make(map[string]value.Value, len(def.Fields))
	for _, name := range def.FieldOrder {
		field := def.Fields[name]
		if v, ok := raw[name]; ok {
			coerced, err := coerce(def.Name, field, v, stepName)
			if err != nil {
				return nil, err
			}
			out[name] = coerced
			continue
		}
		if includeDefaults && field.Default != nil {
			v, err := ev.Evaluate(field.Default)
			if err != nil {
				return nil, err
			}
			out[name] = v
			continue
		}
		if enforceRequired && field.Required {
			return nil, svcerr.NewStepValidationError(stepName, name, fmt.Sprintf("%s requires field %q", def.Name, name))
		}
	}
	// Fields not in the schema pass through unchanged rather than erroring,
	// matching the original runtime's permissive extra-field behavior.
	for k, v := range raw {
		if _, known := def.Fields[k]; !known {
			out[k] = v
		}
	}
	return out, nil
}

func coerce(recordName string, field *ir.FieldDef, v value.Value, stepName string) (value.Value, error) {
	if v.IsNull() {
		return v, nil
	}
	switch field.Type {
	case "string":
		if v.Kind != value.KindStr {
			return value.Null(), svcerr.NewStepValidationError(stepName, field.Name, fmt.Sprintf("%s.%s expects a string, got %s", recordName, field.Name, v.Kind))
		}
	case "int":
		if v.Kind == value.KindFloat {
			return value.Int(int64(v.Float)), nil
		}
		if v.Kind != value.KindInt {
			return value.Null(), svcerr.NewStepValidationError(stepName, field.Name, fmt.Sprintf("%s.%s expects an integer, got %s", recordName, field.Name, v.Kind))
		}
	case "float":
		if f, ok := v.AsFloat(); ok {
			return value.Float(f), nil
		}
		return value.Null(), svcerr.NewStepValidationError(stepName, field.Name, fmt.Sprintf("%s.%s expects a number, got %s", recordName, field.Name, v.Kind))
	case "bool":
		if v.Kind != value.KindBool {
			return value.Null(), svcerr.NewStepValidationError(stepName, field.Name, fmt.Sprintf("%s.%s expects a boolean, got %s", recordName, field.Name, v.Kind))
		}
	case "list":
		if v.Kind != value.KindList {
			return value.Null(), svcerr.NewStepValidationError(stepName, field.Name, fmt.Sprintf("%s.%s expects a list, got %s", recordName, field.Name, v.Kind))
		}
	case "map":
		if v.Kind != value.KindMap {
			return value.Null(), svcerr.NewStepValidationError(stepName, field.Name, fmt.Sprintf("%s.%s expects a map, got %s", recordName, field.Name, v.Kind))
		}
	}
	return v, nil
}

func (l *Layer) validateRequired(def *ir.RecordDef, row map[string]value.Value, stepName string) error {
	for _, name := range def.FieldOrder {
		field := def.Fields[name]
		if field.Required {
			if v, ok := row[name]; !ok || v.IsNull() {
				return svcerr.NewStepValidationError(stepName, name, fmt.Sprintf("%s requires field %q", def.Name, name))
			}
		}
	}
	return nil
}

// enforceUniqueness scans existing rows (excluding excludeSeq, when
// updating) for a conflicting value on each unique field of def.
func (l *Layer) enforceUniqueness(def *ir.RecordDef, candidate map[string]value.Value, excludeSeq int64, hasExclude bool) error {
	for _, name := range def.FieldOrder {
		field := def.Fields[name]
		if !field.Unique {
			continue
		}
		v, ok := candidate[name]
		if !ok || v.IsNull() {
			continue
		}
		rows := l.Frames.Query(def.Frame, nil)
		for _, row := range rows {
			if hasExclude && row.Seq == excludeSeq {
				continue
			}
			if existing, ok := row.Fields[name]; ok && value.Equal(existing, v) {
				return svcerr.NewUniqueConflictError(def.Frame, name, v.Native())
			}
		}
	}
	return nil
}

// enforceForeignKeys checks every record_ref field against the referenced
// frame's rows, matching on the referenced frame's primary key.
func (l *Layer) enforceForeignKeys(def *ir.RecordDef, candidate map[string]value.Value) error {
	for _, name := range def.FieldOrder {
		field := def.Fields[name]
		if field.Type != "record_ref" || field.References == "" {
			continue
		}
		v, ok := candidate[name]
		if !ok || v.IsNull() {
			continue
		}
		refDef, ok := l.Defs.Defs[field.References]
		if !ok || refDef.PrimaryKey == "" {
			continue
		}
		rows := l.Frames.Query(refDef.Frame, []frame.Filter{{Field: refDef.PrimaryKey, Op: "eq", Value: v}})
		if len(rows) == 0 {
			return svcerr.NewForeignKeyError(def.Frame, name, field.References, v.Native())
		}
	}
	return nil
}

func rowToMap(row *frame.Row) map[string]value.Value {
	out := make(map[string]value.Value, len(row.Fields))
	for k, v := range row.Fields {
		out[k] = v
	}
	return out
}

func recordValue(def *ir.RecordDef, fields map[string]value.Value) value.Value {
	return value.FromRecord(&value.Record{Frame: def.Name, Fields: fields, Order: def.FieldOrder})
}
