package expr

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/n3flow/core/internal/engine/ir"
	"github.com/n3flow/core/internal/engine/value"
)

// dispatchBuiltin evaluates every argument and routes to the named builtin,
// mirroring the original runtime's _dispatch_builtin table.
func (ev *Evaluator) dispatchBuiltin(n ir.BuiltinCall) (value.Value, error) {
	args := make([]value.Value, len(n.Args))
	for i, a := range n.Args {
		v, err := ev.Evaluate(a)
		if err != nil {
			return value.Null(), err
		}
		args[i] = v
	}
	fn, ok := builtinTable[n.Name]
	if !ok {
		return value.Null(), errf("unknown builtin %q", n.Name)
	}
	return fn(args)
}

type builtinFunc func(args []value.Value) (value.Value, error)

var builtinTable map[string]builtinFunc

func init() {
	builtinTable = map[string]builtinFunc{
		"length":      biLength,
		"first":       biFirst,
		"last":        biLast,
		"sorted":      biSorted,
		"reverse":     biReverse,
		"unique":      biUnique,
		"sum":         biSum,
		"min":         biMin,
		"max":         biMax,
		"mean":        biMean,
		"round":       biRound,
		"abs":         biAbs,
		"upper":       biUpper,
		"lower":       biLower,
		"trim":        biTrim,
		"split":       biSplit,
		"join":        biJoin,
		"contains":    biContains,
		"starts_with": biStartsWith,
		"ends_with":   biEndsWith,
		"replace":     biReplace,
		"append":      biAppend,
		"remove":      biRemove,
		"insert":      biInsert,
		"keys":        biKeys,
		"values":      biValues,
		"now":         biNow,
		"current_date": biCurrentDate,
		"random_uuid": biRandomUUID,
		"to_string":   biToString,
		"to_int":      biToInt,
		"to_float":    biToFloat,
	}
}

func arity(args []value.Value, n int, name string) error {
	if len(args) != n {
		return errf("%s expects %d argument(s), got %d", name, n, len(args))
	}
	return nil
}

func biLength(args []value.Value) (value.Value, error) {
	if err := arity(args, 1, "length"); err != nil {
		return value.Null(), err
	}
	switch args[0].Kind {
	case value.KindList:
		return value.Int(int64(len(args[0].List))), nil
	case value.KindMap:
		return value.Int(int64(len(args[0].Map))), nil
	case value.KindStr:
		return value.Int(int64(len(args[0].Str))), nil
	default:
		return value.Null(), errf("length expects a list, map, or string, got %s", args[0].Kind)
	}
}

func biFirst(args []value.Value) (value.Value, error) {
	if err := arity(args, 1, "first"); err != nil {
		return value.Null(), err
	}
	if args[0].Kind != value.KindList || len(args[0].List) == 0 {
		return value.Null(), nil
	}
	return args[0].List[0], nil
}

func biLast(args []value.Value) (value.Value, error) {
	if err := arity(args, 1, "last"); err != nil {
		return value.Null(), err
	}
	if args[0].Kind != value.KindList || len(args[0].List) == 0 {
		return value.Null(), nil
	}
	return args[0].List[len(args[0].List)-1], nil
}

func biSorted(args []value.Value) (value.Value, error) {
	if err := arity(args, 1, "sorted"); err != nil {
		return value.Null(), err
	}
	if args[0].Kind != value.KindList {
		return value.Null(), errf("sorted expects a list, got %s", args[0].Kind)
	}
	out := append([]value.Value(nil), args[0].List...)
	sort.SliceStable(out, func(i, j int) bool { return value.Compare(out[i], out[j]) < 0 })
	return value.List(out), nil
}

func biReverse(args []value.Value) (value.Value, error) {
	if err := arity(args, 1, "reverse"); err != nil {
		return value.Null(), err
	}
	if args[0].Kind != value.KindList {
		return value.Null(), errf("reverse expects a list, got %s", args[0].Kind)
	}
	src := args[0].List
	out := make([]value.Value, len(src))
	for i, v := range src {
		out[len(src)-1-i] = v
	}
	return value.List(out), nil
}

func biUnique(args []value.Value) (value.Value, error) {
	if err := arity(args, 1, "unique"); err != nil {
		return value.Null(), err
	}
	if args[0].Kind != value.KindList {
		return value.Null(), errf("unique expects a list, got %s", args[0].Kind)
	}
	out := make([]value.Value, 0, len(args[0].List))
	for _, item := range args[0].List {
		dup := false
		for _, seen := range out {
			if value.Equal(item, seen) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, item)
		}
	}
	return value.List(out), nil
}

func numericList(v value.Value, name string) ([]float64, error) {
	if v.Kind != value.KindList {
		return nil, errf("%s expects a list, got %s", name, v.Kind)
	}
	out := make([]float64, 0, len(v.List))
	for _, item := range v.List {
		f, ok := item.AsFloat()
		if !ok {
			return nil, errf("%s expects a list of numbers, got %s element", name, item.Kind)
		}
		out = append(out, f)
	}
	return out, nil
}

func biSum(args []value.Value) (value.Value, error) {
	if err := arity(args, 1, "sum"); err != nil {
		return value.Null(), err
	}
	nums, err := numericList(args[0], "sum")
	if err != nil {
		return value.Null(), err
	}
	total := 0.0
	allInt := true
	for i, item := range args[0].List {
		if item.Kind != value.KindInt {
			allInt = false
		}
		total += nums[i]
	}
	if allInt {
		return value.Int(int64(total)), nil
	}
	return value.Float(total), nil
}

func biMin(args []value.Value) (value.Value, error) {
	if err := arity(args, 1, "min"); err != nil {
		return value.Null(), err
	}
	if args[0].Kind != value.KindList || len(args[0].List) == 0 {
		return value.Null(), nil
	}
	best := args[0].List[0]
	for _, item := range args[0].List[1:] {
		if value.Compare(item, best) < 0 {
			best = item
		}
	}
	return best, nil
}

func biMax(args []value.Value) (value.Value, error) {
	if err := arity(args, 1, "max"); err != nil {
		return value.Null(), err
	}
	if args[0].Kind != value.KindList || len(args[0].List) == 0 {
		return value.Null(), nil
	}
	best := args[0].List[0]
	for _, item := range args[0].List[1:] {
		if value.Compare(item, best) > 0 {
			best = item
		}
	}
	return best, nil
}

func biMean(args []value.Value) (value.Value, error) {
	if err := arity(args, 1, "mean"); err != nil {
		return value.Null(), err
	}
	nums, err := numericList(args[0], "mean")
	if err != nil {
		return value.Null(), err
	}
	if len(nums) == 0 {
		return value.Null(), nil
	}
	total := 0.0
	for _, n := range nums {
		total += n
	}
	return value.Float(total / float64(len(nums))), nil
}

func biRound(args []value.Value) (value.Value, error) {
	if len(args) < 1 || len(args) > 2 {
		return value.Null(), errf("round expects 1 or 2 arguments, got %d", len(args))
	}
	f, ok := args[0].AsFloat()
	if !ok {
		return value.Null(), errf("round expects a number, got %s", args[0].Kind)
	}
	digits := 0
	if len(args) == 2 {
		if args[1].Kind != value.KindInt {
			return value.Null(), errf("round precision must be an integer")
		}
		digits = int(args[1].Int)
	}
	mult := math.Pow(10, float64(digits))
	rounded := math.Round(f*mult) / mult
	if digits == 0 {
		return value.Int(int64(rounded)), nil
	}
	return value.Float(rounded), nil
}

func biAbs(args []value.Value) (value.Value, error) {
	if err := arity(args, 1, "abs"); err != nil {
		return value.Null(), err
	}
	switch args[0].Kind {
	case value.KindInt:
		if args[0].Int < 0 {
			return value.Int(-args[0].Int), nil
		}
		return args[0], nil
	case value.KindFloat:
		return value.Float(math.Abs(args[0].Float)), nil
	default:
		return value.Null(), errf("abs expects a number, got %s", args[0].Kind)
	}
}

func biUpper(args []value.Value) (value.Value, error) {
	if err := arity(args, 1, "upper"); err != nil {
		return value.Null(), err
	}
	return value.Str(strings.ToUpper(args[0].Str)), nil
}

func biLower(args []value.Value) (value.Value, error) {
	if err := arity(args, 1, "lower"); err != nil {
		return value.Null(), err
	}
	return value.Str(strings.ToLower(args[0].Str)), nil
}

func biTrim(args []value.Value) (value.Value, error) {
	if err := arity(args, 1, "trim"); err != nil {
		return value.Null(), err
	}
	return value.Str(strings.TrimSpace(args[0].Str)), nil
}

func biSplit(args []value.Value) (value.Value, error) {
	if err := arity(args, 2, "split"); err != nil {
		return value.Null(), err
	}
	parts := strings.Split(args[0].Str, args[1].Str)
	out := make([]value.Value, len(parts))
	for i, p := range parts {
		out[i] = value.Str(p)
	}
	return value.List(out), nil
}

func biJoin(args []value.Value) (value.Value, error) {
	if err := arity(args, 2, "join"); err != nil {
		return value.Null(), err
	}
	if args[0].Kind != value.KindList {
		return value.Null(), errf("join expects a list as the first argument, got %s", args[0].Kind)
	}
	parts := make([]string, len(args[0].List))
	for i, v := range args[0].List {
		parts[i] = v.String()
	}
	return value.Str(strings.Join(parts, args[1].Str)), nil
}

func biContains(args []value.Value) (value.Value, error) {
	if err := arity(args, 2, "contains"); err != nil {
		return value.Null(), err
	}
	return evalIn(args[1], args[0])
}

func biStartsWith(args []value.Value) (value.Value, error) {
	if err := arity(args, 2, "starts_with"); err != nil {
		return value.Null(), err
	}
	return value.Bool(strings.HasPrefix(args[0].Str, args[1].Str)), nil
}

func biEndsWith(args []value.Value) (value.Value, error) {
	if err := arity(args, 2, "ends_with"); err != nil {
		return value.Null(), err
	}
	return value.Bool(strings.HasSuffix(args[0].Str, args[1].Str)), nil
}

func biReplace(args []value.Value) (value.Value, error) {
	if err := arity(args, 3, "replace"); err != nil {
		return value.Null(), err
	}
	return value.Str(strings.ReplaceAll(args[0].Str, args[1].Str, args[2].Str)), nil
}

func biAppend(args []value.Value) (value.Value, error) {
	if err := arity(args, 2, "append"); err != nil {
		return value.Null(), err
	}
	if args[0].Kind != value.KindList {
		return value.Null(), errf("append expects a list, got %s", args[0].Kind)
	}
	out := append(append([]value.Value(nil), args[0].List...), args[1])
	return value.List(out), nil
}

func biRemove(args []value.Value) (value.Value, error) {
	if err := arity(args, 2, "remove"); err != nil {
		return value.Null(), err
	}
	if args[0].Kind != value.KindList {
		return value.Null(), errf("remove expects a list, got %s", args[0].Kind)
	}
	out := make([]value.Value, 0, len(args[0].List))
	for _, item := range args[0].List {
		if !value.Equal(item, args[1]) {
			out = append(out, item)
		}
	}
	return value.List(out), nil
}

func biInsert(args []value.Value) (value.Value, error) {
	if err := arity(args, 3, "insert"); err != nil {
		return value.Null(), err
	}
	if args[0].Kind != value.KindList || args[1].Kind != value.KindInt {
		return value.Null(), errf("insert expects (list, int, value)")
	}
	idx := int(args[1].Int)
	src := args[0].List
	if idx < 0 {
		idx = 0
	}
	if idx > len(src) {
		idx = len(src)
	}
	out := make([]value.Value, 0, len(src)+1)
	out = append(out, src[:idx]...)
	out = append(out, args[2])
	out = append(out, src[idx:]...)
	return value.List(out), nil
}

func biKeys(args []value.Value) (value.Value, error) {
	if err := arity(args, 1, "keys"); err != nil {
		return value.Null(), err
	}
	if args[0].Kind != value.KindMap {
		return value.Null(), errf("keys expects a map, got %s", args[0].Kind)
	}
	names := value.SortKeys(args[0].Map)
	out := make([]value.Value, len(names))
	for i, k := range names {
		out[i] = value.Str(k)
	}
	return value.List(out), nil
}

func biValues(args []value.Value) (value.Value, error) {
	if err := arity(args, 1, "values"); err != nil {
		return value.Null(), err
	}
	if args[0].Kind != value.KindMap {
		return value.Null(), errf("values expects a map, got %s", args[0].Kind)
	}
	names := value.SortKeys(args[0].Map)
	out := make([]value.Value, len(names))
	for i, k := range names {
		out[i] = args[0].Map[k]
	}
	return value.List(out), nil
}

func biNow(args []value.Value) (value.Value, error) {
	if err := arity(args, 0, "now"); err != nil {
		return value.Null(), err
	}
	return value.Str(time.Now().UTC().Format(time.RFC3339)), nil
}

func biCurrentDate(args []value.Value) (value.Value, error) {
	if err := arity(args, 0, "current_date"); err != nil {
		return value.Null(), err
	}
	return value.Str(time.Now().UTC().Format("2006-01-02")), nil
}

func biRandomUUID(args []value.Value) (value.Value, error) {
	if err := arity(args, 0, "random_uuid"); err != nil {
		return value.Null(), err
	}
	return value.Str(uuid.NewString()), nil
}

func biToString(args []value.Value) (value.Value, error) {
	if err := arity(args, 1, "to_string"); err != nil {
		return value.Null(), err
	}
	return value.Str(args[0].String()), nil
}

func biToInt(args []value.Value) (value.Value, error) {
	if err := arity(args, 1, "to_int"); err != nil {
		return value.Null(), err
	}
	f, ok := args[0].AsFloat()
	if !ok {
		return value.Null(), errf("to_int expects a number, got %s", args[0].Kind)
	}
	return value.Int(int64(f)), nil
}

func biToFloat(args []value.Value) (value.Value, error) {
	if err := arity(args, 1, "to_float"); err != nil {
		return value.Null(), err
	}
	f, ok := args[0].AsFloat()
	if !ok {
		return value.Null(), errf("to_float expects a number, got %s", args[0].Kind)
	}
	return value.Float(f), nil
}
