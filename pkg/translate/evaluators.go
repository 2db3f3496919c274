/*
Copyright 2023 The Sluice Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package translate

import (
	"context"
	"fmt"
	"sort"

	"github.com/sluiceproj/sluice/pkg/combine"
	"github.com/sluiceproj/sluice/pkg/element"
	"github.com/sluiceproj/sluice/pkg/substrate"
	"github.com/sluiceproj/sluice/pkg/udf"
	"github.com/sluiceproj/sluice/pkg/window"
)

// The record-level cores shared by the batch and streaming evaluators. Both
// modes run the same element transformations; they differ only in the
// dataset type wrapped around the collections.

func asWindowed(rec any) (*element.Windowed, error) {
	el, ok := rec.(*element.Windowed)
	if !ok {
		return nil, fmt.Errorf("record of type %T, want a windowed element", rec)
	}
	return el, nil
}

func collectWindowed(ctx context.Context, sub substrate.Substrate, coll substrate.Collection) ([]*element.Windowed, error) {
	recs, err := sub.Collect(ctx, coll)
	if err != nil {
		return nil, err
	}
	els := make([]*element.Windowed, 0, len(recs))
	for _, rec := range recs {
		el, err := asWindowed(rec)
		if err != nil {
			return nil, err
		}
		els = append(els, el)
	}
	return els, nil
}

func wrapUnwindowed(els []*element.Element) []any {
	recs := make([]any, 0, len(els))
	for _, el := range els {
		recs = append(recs, element.NewWindowed(*el))
	}
	return recs
}

// runParDo applies the node's mapper over the collection and splits the
// tagged outputs into one collection per declared output. An output to a
// tag the node never declared fails the tick; it would otherwise vanish
// silently.
func runParDo(ctx context.Context, ectx *EvaluationContext, n *Node, coll substrate.Collection) (map[udf.Tag]substrate.Collection, error) {
	reader, err := ectx.SideReader(ctx, n.Name, n.SideInputs)
	if err != nil {
		return nil, err
	}
	mctx := udf.Context{Tick: ectx.Tick(), SideInputs: reader}

	declared := map[udf.Tag]struct{}{udf.MainTag: {}}
	for _, tag := range n.ExtraTags {
		declared[tag] = struct{}{}
	}

	tagged, err := ectx.sub.ParallelMap(ctx, coll, func(ctx context.Context, rec any) ([]any, error) {
		el, err := asWindowed(rec)
		if err != nil {
			return nil, err
		}
		outs, err := n.Mapper.Map(ctx, mctx, el)
		if err != nil {
			return nil, fmt.Errorf("mapper %q: %w", n.Mapper.Name(), err)
		}
		wrapped := make([]any, 0, len(outs))
		for _, out := range outs {
			if _, ok := declared[out.Tag]; !ok {
				return nil, fmt.Errorf("mapper %q emitted to undeclared output %q", n.Mapper.Name(), out.Tag)
			}
			wrapped = append(wrapped, out)
		}
		return wrapped, nil
	})
	if err != nil {
		return nil, err
	}

	outs := make(map[udf.Tag]substrate.Collection, len(declared))
	for tag := range declared {
		tag := tag
		filtered, err := ectx.sub.ParallelMap(ctx, tagged, func(_ context.Context, rec any) ([]any, error) {
			to, ok := rec.(udf.TaggedOutput)
			if !ok {
				return nil, fmt.Errorf("record of type %T, want a tagged output", rec)
			}
			if to.Tag != tag {
				return nil, nil
			}
			return []any{to.Element}, nil
		})
		if err != nil {
			return nil, err
		}
		outs[tag] = filtered
	}
	return outs, nil
}

// assignWindows rewindows every element per the given strategy, replacing
// whatever windows it carried.
func assignWindows(ctx context.Context, sub substrate.Substrate, coll substrate.Collection, w window.Windower) (substrate.Collection, error) {
	return sub.ParallelMap(ctx, coll, func(_ context.Context, rec any) ([]any, error) {
		el, err := asWindowed(rec)
		if err != nil {
			return nil, err
		}
		assigned := element.NewWindowed(el.Element, w.AssignWindows(el.EventTime)...)
		assigned.Timing = el.Timing
		return []any{assigned}, nil
	})
}

// groupBounded groups a finite collection into one Grouped record per
// (key, window). The whole input is known, so merging strategies merge
// within each key here rather than in the stateful engine.
func groupBounded(ctx context.Context, ectx *EvaluationContext, n *Node, coll substrate.Collection) (substrate.Collection, error) {
	normalized, err := ectx.sub.ParallelMap(ctx, coll, func(_ context.Context, rec any) ([]any, error) {
		el, err := asWindowed(rec)
		if err != nil {
			return nil, err
		}
		if len(el.Windows) == 0 {
			el = element.NewWindowed(el.Element, n.Windower.AssignWindows(el.EventTime)...)
		}
		singles := el.Explode()
		out := make([]any, 0, len(singles))
		for _, s := range singles {
			out = append(out, s)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	keyOf := func(rec any) (string, error) {
		el, err := asWindowed(rec)
		if err != nil {
			return "", err
		}
		if n.Windower.Merges() {
			// same-key proto windows must meet in one group to merge
			return el.Key, nil
		}
		iw := el.Windows[0]
		return fmt.Sprintf("%d-%d-%s", iw.StartTime().UnixMilli(), iw.EndTime().UnixMilli(), el.Key), nil
	}
	parts, err := ectx.sub.PartitionAndGroupLocally(ctx, normalized, keyOf)
	if err != nil {
		return nil, err
	}

	var recs []any
	for _, part := range parts {
		for _, grp := range part.Groups {
			els := make([]*element.Windowed, 0, len(grp.Records))
			for _, rec := range grp.Records {
				el, err := asWindowed(rec)
				if err != nil {
					return nil, err
				}
				els = append(els, el)
			}
			if n.Windower.Merges() {
				for _, g := range mergeGroups(els) {
					recs = append(recs, g)
				}
				continue
			}
			g := &combine.Grouped{Key: els[0].Key, Window: els[0].Windows[0]}
			for _, el := range els {
				g.Elements = append(g.Elements, &el.Element)
			}
			recs = append(recs, g)
		}
	}
	return ectx.sub.Parallelize(recs), nil
}

// mergeGroups merges the proto windows of one key into maximal sessions. A
// sweep over windows sorted by start time suffices: a window that neither
// overlaps nor touches the running session starts a new one.
func mergeGroups(els []*element.Windowed) []*combine.Grouped {
	sorted := make([]*element.Windowed, len(els))
	copy(sorted, els)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Windows[0].StartTime().Before(sorted[j].Windows[0].StartTime())
	})

	var out []*combine.Grouped
	var cur *combine.Grouped
	for _, el := range sorted {
		iw := el.Windows[0]
		if cur == nil || !cur.Window.Intersects(iw) {
			cur = &combine.Grouped{Key: el.Key, Window: iw}
			out = append(out, cur)
		} else {
			cur.Window = cur.Window.Union(iw)
		}
		cur.Elements = append(cur.Elements, &el.Element)
	}
	return out
}

// combineGroupedColl folds every Grouped record of the collection into one
// output element.
func combineGroupedColl(ctx context.Context, ectx *EvaluationContext, n *Node, coll substrate.Collection) (substrate.Collection, error) {
	reader, err := ectx.SideReader(ctx, n.Name, n.SideInputs)
	if err != nil {
		return nil, err
	}
	cctx := combine.Context{Tick: ectx.Tick(), SideInputs: reader}
	return ectx.sub.ParallelMap(ctx, coll, func(_ context.Context, rec any) ([]any, error) {
		g, ok := rec.(*combine.Grouped)
		if !ok {
			return nil, fmt.Errorf("record of type %T, want grouped values", rec)
		}
		out, err := combine.ApplyGrouped(cctx, n.Fn, g)
		if err != nil {
			return nil, err
		}
		return []any{out}, nil
	})
}

func writeSink(ctx context.Context, ectx *EvaluationContext, n *Node, coll substrate.Collection) error {
	els, err := collectWindowed(ctx, ectx.sub, coll)
	if err != nil {
		return err
	}
	if err := n.Sink.Write(ctx, els); err != nil {
		return fmt.Errorf("sink %q: %w", n.Sink.Name(), err)
	}
	return nil
}

// commonWindower returns the window strategy shared by all refs, nil when
// they differ or any is unwindowed.
func commonWindower(ectx *EvaluationContext, refs []Ref) window.Windower {
	var w window.Windower
	for i, ref := range refs {
		rw := ectx.WindowerFor(ref)
		if i == 0 {
			w = rw
			continue
		}
		if w == nil || rw == nil || rw.String() != w.String() {
			return nil
		}
	}
	return w
}
