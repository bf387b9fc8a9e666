package record

import (
	"fmt"
	"sort"

	"github.com/n3flow/core/internal/engine/expr"
	"github.com/n3flow/core/internal/engine/frame"
	"github.com/n3flow/core/internal/engine/ir"
	"github.com/n3flow/core/internal/engine/value"
	"github.com/n3flow/core/internal/platform/svcerr"
)

func (l *Layer) create(def *ir.RecordDef, spec *ir.RecordOpSpec, ev *expr.Evaluator, stepName string) (value.Value, error) {
	raw, err := evalExprMap(spec.Values, ev)
	if err != nil {
		return value.Null(), err
	}
	normalized, err := l.prepareValues(def, raw, ev, stepName, true, true)
	if err != nil {
		return value.Null(), err
	}
	if err := l.validateRequired(def, normalized, stepName); err != nil {
		return value.Null(), err
	}
	if err := l.enforceUniqueness(def, normalized, 0, false); err != nil {
		return value.Null(), err
	}
	if err := l.enforceForeignKeys(def, normalized); err != nil {
		return value.Null(), err
	}
	l.Frames.Insert(def.Frame, normalized)
	return recordValue(def, normalized), nil
}

func (l *Layer) bulkCreate(def *ir.RecordDef, spec *ir.RecordOpSpec, ev *expr.Evaluator, stepName string) (value.Value, error) {
	source, err := ev.Evaluate(spec.BulkSource)
	if err != nil {
		return value.Null(), err
	}
	if source.Kind != value.KindList || len(source.List) == 0 {
		return value.List(nil), nil
	}

	prepared := make([]map[string]value.Value, 0, len(source.List))
	for idx, item := range source.List {
		if item.Kind != value.KindMap {
			return value.Null(), svcerr.NewStepValidationError(stepName, "", fmt.Sprintf(
				"item %d inside create many %s must be a record of field values, got %s", idx+1, def.Name, item.Kind))
		}
		normalized, err := l.prepareValues(def, item.Map, ev, stepName, true, true)
		if err != nil {
			return value.Null(), err
		}
		if err := l.validateRequired(def, normalized, stepName); err != nil {
			return value.Null(), err
		}
		if err := l.enforceUniqueness(def, normalized, 0, false); err != nil {
			return value.Null(), err
		}
		if err := uniqueAgainstBatch(def, normalized, prepared); err != nil {
			return value.Null(), err
		}
		if err := l.enforceForeignKeys(def, normalized); err != nil {
			return value.Null(), err
		}
		prepared = append(prepared, normalized)
	}

	out := make([]value.Value, 0, len(prepared))
	for _, row := range prepared {
		l.Frames.Insert(def.Frame, row)
		out = append(out, recordValue(def, row))
	}
	return value.List(out), nil
}

// uniqueAgainstBatch checks a candidate row against rows already staged in
// the same bulk-create call, since they haven't hit the frame store yet.
func uniqueAgainstBatch(def *ir.RecordDef, candidate map[string]value.Value, batch []map[string]value.Value) error {
	for _, name := range def.FieldOrder {
		field := def.Fields[name]
		if !field.Unique {
			continue
		}
		v, ok := candidate[name]
		if !ok || v.IsNull() {
			continue
		}
		for _, other := range batch {
			if ov, ok := other[name]; ok && value.Equal(ov, v) {
				return svcerr.NewUniqueConflictError(def.Frame, name, v.Native())
			}
		}
	}
	return nil
}

func (l *Layer) find(def *ir.RecordDef, spec *ir.RecordOpSpec, ev *expr.Evaluator, stepName string) (value.Value, error) {
	byID, err := evalExprMap(spec.ByID, ev)
	if err != nil {
		return value.Null(), err
	}

	usedPrimary := false
	var filters []frame.Filter
	if def.PrimaryKey != "" {
		if v, ok := byID[def.PrimaryKey]; ok {
			field := def.Fields[def.PrimaryKey]
			coerced, err := coerce(def.Name, field, v, stepName)
			if err != nil {
				return value.Null(), err
			}
			filters = append(filters, frame.Filter{Field: def.PrimaryKey, Op: "eq", Value: coerced})
			usedPrimary = true
		}
	}

	var rows []*frame.Row
	if usedPrimary {
		rows = l.Frames.Query(def.Frame, filters)
	} else {
		rows = l.Frames.Query(def.Frame, nil)
		if spec.Where != nil {
			rows, err = l.filterByCondition(rows, spec.Where, ev, def.Name)
			if err != nil {
				return value.Null(), err
			}
		}
	}

	if len(spec.OrderBy) > 0 {
		sortRows(rows, spec.OrderBy)
	}

	if spec.Offset != nil {
		offset, err := evalNonNegative(spec.Offset, ev, stepName, "offset")
		if err != nil {
			return value.Null(), err
		}
		if offset > 0 {
			if offset >= len(rows) {
				rows = nil
			} else {
				rows = rows[offset:]
			}
		}
	}
	if spec.Limit != nil {
		limit, err := evalNonNegative(spec.Limit, ev, stepName, "limit")
		if err != nil {
			return value.Null(), err
		}
		if limit < len(rows) {
			rows = rows[:limit]
		}
	}

	if usedPrimary {
		if len(rows) == 0 {
			return value.Null(), nil
		}
		return recordValue(def, rowToMap(rows[0])), nil
	}
	out := make([]value.Value, len(rows))
	for i, row := range rows {
		out[i] = recordValue(def, rowToMap(row))
	}
	return value.List(out), nil
}

func evalNonNegative(e ir.Expr, ev *expr.Evaluator, stepName, label string) (int, error) {
	v, err := ev.Evaluate(e)
	if err != nil {
		return 0, svcerr.NewStepValidationError(stepName, label, fmt.Sprintf("I expected a non-negative number for %s, but couldn't evaluate it: %v", label, err))
	}
	f, ok := v.AsFloat()
	if !ok || f < 0 {
		return 0, svcerr.NewStepValidationError(stepName, label, fmt.Sprintf("I expected a non-negative number for %s, but got %v instead.", label, v))
	}
	return int(f), nil
}

// filterByCondition evaluates spec.Where once per row, binding alias to the
// row's record value, matching the original runtime's condition-tree match.
func (l *Layer) filterByCondition(rows []*frame.Row, where ir.Expr, ev *expr.Evaluator, alias string) ([]*frame.Row, error) {
	out := make([]*frame.Row, 0, len(rows))
	for _, row := range rows {
		child := ev.Env.Child()
		child.Declare(alias, value.FromRecord(&value.Record{Frame: alias, Fields: rowToMap(row)}), false)
		result, err := ev.WithEnv(child).Evaluate(where)
		if err != nil {
			return nil, err
		}
		if result.Truthy() {
			out = append(out, row)
		}
	}
	return out, nil
}

func sortRows(rows []*frame.Row, order []ir.OrderTerm) {
	sort.SliceStable(rows, func(i, j int) bool {
		for _, term := range order {
			vi := rows[i].Fields[term.Field]
			vj := rows[j].Fields[term.Field]
			cmp := value.Compare(vi, vj)
			if cmp == 0 {
				continue
			}
			if term.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return rows[i].Seq < rows[j].Seq
	})
}

func (l *Layer) update(def *ir.RecordDef, spec *ir.RecordOpSpec, ev *expr.Evaluator, stepName string) (value.Value, error) {
	byID, err := evalExprMap(spec.ByID, ev)
	if err != nil {
		return value.Null(), err
	}
	if def.PrimaryKey == "" {
		return value.Null(), svcerr.NewStepValidationError(stepName, "by_id", fmt.Sprintf("%s has no primary key to update by", def.Name))
	}
	idVal, ok := byID[def.PrimaryKey]
	if !ok {
		return value.Null(), svcerr.NewStepValidationError(stepName, "by_id", fmt.Sprintf("must include primary key %q inside 'by id'", def.PrimaryKey))
	}
	pkField := def.Fields[def.PrimaryKey]
	coercedID, err := coerce(def.Name, pkField, idVal, stepName)
	if err != nil {
		return value.Null(), err
	}

	rows := l.Frames.Query(def.Frame, []frame.Filter{{Field: def.PrimaryKey, Op: "eq", Value: coercedID}})
	if len(rows) == 0 {
		return value.Null(), nil
	}

	setValues, err := evalExprMap(spec.Set, ev)
	if err != nil {
		return value.Null(), err
	}
	updates, err := l.prepareValues(def, setValues, ev, stepName, false, false)
	if err != nil {
		return value.Null(), err
	}

	existing := rowToMap(rows[0])
	candidate := mergeRows(existing, updates)
	if err := l.enforceUniqueness(def, candidate, rows[0].Seq, true); err != nil {
		return value.Null(), err
	}
	if err := l.enforceForeignKeys(def, candidate); err != nil {
		return value.Null(), err
	}
	for k, v := range updates {
		rows[0].Fields[k] = v
	}
	return recordValue(def, rowToMap(rows[0])), nil
}

func (l *Layer) bulkUpdate(def *ir.RecordDef, spec *ir.RecordOpSpec, ev *expr.Evaluator, stepName string) (value.Value, error) {
	setValues, err := evalExprMap(spec.Set, ev)
	if err != nil {
		return value.Null(), err
	}
	if len(setValues) == 0 {
		return value.Null(), svcerr.NewStepValidationError(stepName, "set", fmt.Sprintf("update many %ss needs a 'set:' block to know which fields to change", def.Name))
	}
	updates, err := l.prepareValues(def, setValues, ev, stepName, false, false)
	if err != nil {
		return value.Null(), err
	}
	if spec.Where == nil {
		return value.Null(), svcerr.NewStepValidationError(stepName, "where", "update many ... must include a 'where:' block")
	}
	rows := l.Frames.Query(def.Frame, nil)
	rows, err = l.filterByCondition(rows, spec.Where, ev, spec.BulkAlias)
	if err != nil {
		return value.Null(), err
	}
	if len(rows) == 0 {
		return value.List(nil), nil
	}

	staged := make([]map[string]value.Value, 0, len(rows))
	for _, row := range rows {
		existing := rowToMap(row)
		candidate := mergeRows(existing, updates)
		if err := l.enforceUniqueness(def, candidate, row.Seq, true); err != nil {
			return value.Null(), err
		}
		if err := uniqueAgainstBatch(def, candidate, staged); err != nil {
			return value.Null(), err
		}
		if err := l.enforceForeignKeys(def, candidate); err != nil {
			return value.Null(), err
		}
		staged = append(staged, candidate)
	}
	for _, row := range rows {
		for k, v := range updates {
			row.Fields[k] = v
		}
	}
	out := make([]value.Value, len(rows))
	for i, row := range rows {
		out[i] = recordValue(def, rowToMap(row))
	}
	return value.List(out), nil
}

func (l *Layer) delete(def *ir.RecordDef, spec *ir.RecordOpSpec, ev *expr.Evaluator, stepName string) (value.Value, error) {
	byID, err := evalExprMap(spec.ByID, ev)
	if err != nil {
		return value.Null(), err
	}
	if def.PrimaryKey == "" {
		return value.Null(), svcerr.NewStepValidationError(stepName, "by_id", fmt.Sprintf("%s has no primary key to delete by", def.Name))
	}
	idVal, ok := byID[def.PrimaryKey]
	if !ok {
		return value.Null(), svcerr.NewStepValidationError(stepName, "by_id", fmt.Sprintf("must include primary key %q inside 'by id'", def.PrimaryKey))
	}
	pkField := def.Fields[def.PrimaryKey]
	coercedID, err := coerce(def.Name, pkField, idVal, stepName)
	if err != nil {
		return value.Null(), err
	}
	deleted := l.Frames.Delete(def.Frame, []frame.Filter{{Field: def.PrimaryKey, Op: "eq", Value: coercedID}})
	return value.Map(map[string]value.Value{
		"ok":      value.Bool(deleted > 0),
		"deleted": value.Int(int64(deleted)),
	}), nil
}

func (l *Layer) bulkDelete(def *ir.RecordDef, spec *ir.RecordOpSpec, ev *expr.Evaluator, stepName string) (value.Value, error) {
	if spec.Where == nil {
		return value.Null(), svcerr.NewStepValidationError(stepName, "where", "delete many ... must include a 'where:' block to limit which records are removed")
	}
	rows := l.Frames.Query(def.Frame, nil)
	matched, err := l.filterByCondition(rows, spec.Where, ev, spec.BulkAlias)
	if err != nil {
		return value.Null(), err
	}
	seqs := make(map[int64]bool, len(matched))
	for _, row := range matched {
		seqs[row.Seq] = true
	}
	deleted := 0
	allRows := l.Frames.Query(def.Frame, nil)
	for _, row := range allRows {
		if seqs[row.Seq] {
			l.Frames.Delete(def.Frame, []frame.Filter{{Field: def.PrimaryKey, Op: "eq", Value: row.Fields[def.PrimaryKey]}})
			deleted++
		}
	}
	return value.Map(map[string]value.Value{
		"ok":      value.Bool(deleted > 0),
		"deleted": value.Int(int64(deleted)),
	}), nil
}

func mergeRows(existing, updates map[string]value.Value) map[string]value.Value {
	out := make(map[string]value.Value, len(existing)+len(updates))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range updates {
		out[k] = v
	}
	return out
}
