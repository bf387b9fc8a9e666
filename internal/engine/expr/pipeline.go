package expr

import (
	"sort"

	"github.com/n3flow/core/internal/engine/ir"
	"github.com/n3flow/core/internal/engine/value"
)

// evalPipeline applies a chain of collection operations to Source,
// mirroring the original runtime's _eval_collection_pipeline: keep/drop
// filter by a loop-bound predicate, group_by buckets into a map, sort_by
// orders by a key expression, take/skip slice, and unique dedupes.
func (ev *Evaluator) evalPipeline(n ir.Pipeline) (value.Value, error) {
	src, err := ev.Evaluate(n.Source)
	if err != nil {
		return value.Null(), err
	}
	if src.Kind != value.KindList {
		return value.Null(), errf("pipeline source must be a list, got %s", src.Kind)
	}
	items := src.List

	for _, stage := range n.Stages {
		switch stage.Kind {
		case "keep":
			items, err = ev.filterItems(items, stage, true)
		case "drop":
			items, err = ev.filterItems(items, stage, false)
		case "group_by":
			return ev.groupBy(items, stage)
		case "sort_by":
			items, err = ev.sortBy(items, stage)
		case "take":
			items, err = ev.sliceItems(items, stage, true)
		case "skip":
			items, err = ev.sliceItems(items, stage, false)
		case "unique":
			items, err = dedupeItems(items)
		default:
			return value.Null(), errf("unknown pipeline stage %q", stage.Kind)
		}
		if err != nil {
			return value.Null(), err
		}
	}
	return value.List(items), nil
}

func (ev *Evaluator) filterItems(items []value.Value, stage ir.PipelineStage, keep bool) ([]value.Value, error) {
	out := make([]value.Value, 0, len(items))
	for _, item := range items {
		child := ev.Env.Child()
		child.Declare(stage.Var, item, false)
		result, err := ev.WithEnv(child).Evaluate(stage.Pred)
		if err != nil {
			return nil, err
		}
		if result.Truthy() == keep {
			out = append(out, item)
		}
	}
	return out, nil
}

func (ev *Evaluator) groupBy(items []value.Value, stage ir.PipelineStage) (value.Value, error) {
	groups := make(map[string][]value.Value)
	order := make([]string, 0)
	for _, item := range items {
		child := ev.Env.Child()
		child.Declare(stage.Var, item, false)
		key, err := ev.WithEnv(child).Evaluate(stage.Pred)
		if err != nil {
			return value.Null(), err
		}
		k := key.String()
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], item)
	}
	out := make(map[string]value.Value, len(groups))
	for k, v := range groups {
		out[k] = value.List(v)
	}
	return value.Map(out), nil
}

func (ev *Evaluator) sortBy(items []value.Value, stage ir.PipelineStage) ([]value.Value, error) {
	keyed := make([]struct {
		item value.Value
		key  value.Value
	}, len(items))
	for i, item := range items {
		child := ev.Env.Child()
		child.Declare(stage.Var, item, false)
		key, err := ev.WithEnv(child).Evaluate(stage.Pred)
		if err != nil {
			return nil, err
		}
		keyed[i].item = item
		keyed[i].key = key
	}
	sort.SliceStable(keyed, func(i, j int) bool {
		cmp := value.Compare(keyed[i].key, keyed[j].key)
		if stage.Desc {
			return cmp > 0
		}
		return cmp < 0
	})
	out := make([]value.Value, len(keyed))
	for i, k := range keyed {
		out[i] = k.item
	}
	return out, nil
}

func (ev *Evaluator) sliceItems(items []value.Value, stage ir.PipelineStage, take bool) ([]value.Value, error) {
	countVal, err := ev.Evaluate(stage.Count)
	if err != nil {
		return nil, err
	}
	if countVal.Kind != value.KindInt {
		return nil, errf("pipeline count must be an integer, got %s", countVal.Kind)
	}
	n := int(countVal.Int)
	if n < 0 {
		return nil, errf("pipeline count must be non-negative, got %d", n)
	}
	if take {
		if n >= len(items) {
			return items, nil
		}
		return items[:n], nil
	}
	if n >= len(items) {
		return nil, nil
	}
	return items[n:], nil
}

func dedupeItems(items []value.Value) ([]value.Value, error) {
	out := make([]value.Value, 0, len(items))
	for _, item := range items {
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
	return out, nil
}
