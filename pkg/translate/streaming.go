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

	"github.com/sluiceproj/sluice/pkg/dataset"
	"github.com/sluiceproj/sluice/pkg/udf"
	"github.com/sluiceproj/sluice/pkg/window"
)

// The tick-based evaluators for nodes consuming unbounded datasets.

func evalLiveSource(_ context.Context, ectx *EvaluationContext, n *Node) error {
	batch, ok := ectx.sourceBatch(n.Name)
	if !ok {
		return fmt.Errorf("(%s) no micro-batch staged for tick %d", n.Name, ectx.tick)
	}
	recs := make([]any, 0, len(batch.Elements))
	for _, el := range batch.Elements {
		recs = append(recs, el)
	}
	coll := ectx.sub.Parallelize(recs)
	ectx.Bind(n.Name, udf.MainTag, dataset.NewUnbounded(coll, batch.Sources), nil)
	return nil
}

func evalStreamingParDo(ctx context.Context, ectx *EvaluationContext, n *Node) error {
	in, w, err := unboundedInput(ectx, n)
	if err != nil {
		return err
	}
	outs, err := runParDo(ctx, ectx, n, in.Collection())
	if err != nil {
		return err
	}
	for tag, coll := range outs {
		ectx.Bind(n.Name, tag, in.WithCollection(coll), w)
	}
	return nil
}

func evalStreamingWindowInto(ctx context.Context, ectx *EvaluationContext, n *Node) error {
	in, w, err := unboundedInput(ectx, n)
	if err != nil {
		return err
	}
	if w != nil && w.String() == n.Windower.String() {
		// elements already carry these windows, skip the assignment pass
		ectx.Bind(n.Name, udf.MainTag, in, n.Windower)
		return nil
	}
	assigned, err := assignWindows(ctx, ectx.sub, in.Collection(), n.Windower)
	if err != nil {
		return err
	}
	ectx.Bind(n.Name, udf.MainTag, in.WithCollection(assigned), n.Windower)
	return nil
}

// evalStreamingGroupByKey runs the stateful grouping engine over the tick's
// slice and binds the fired panes. The engine's staged transactions go to
// the evaluation context for the driver to commit after the whole tick
// evaluated cleanly.
func evalStreamingGroupByKey(ctx context.Context, ectx *EvaluationContext, n *Node) error {
	in, _, err := unboundedInput(ectx, n)
	if err != nil {
		return err
	}
	if n.Fn == nil {
		return fmt.Errorf("(%s) a group-by-key needs a combine fn to run in streaming mode", n.Name)
	}
	eng, err := ectx.engineFor(ctx, n)
	if err != nil {
		return err
	}
	els, err := collectWindowed(ctx, ectx.sub, in.Collection())
	if err != nil {
		return err
	}
	reader, err := ectx.SideReader(ctx, n.Name, n.SideInputs)
	if err != nil {
		return err
	}
	res, err := eng.ProcessTick(ctx, ectx.tick, els, in.Sources(), reader)
	if err != nil {
		return err
	}
	ectx.StageTxns(res.Txns...)

	recs := make([]any, 0, len(res.Panes))
	for _, pane := range res.Panes {
		recs = append(recs, pane)
	}
	ectx.Bind(n.Name, udf.MainTag, in.WithCollection(ectx.sub.Parallelize(recs)), n.Windower)
	return nil
}

func evalStreamingCombineGrouped(ctx context.Context, ectx *EvaluationContext, n *Node) error {
	in, w, err := unboundedInput(ectx, n)
	if err != nil {
		return err
	}
	combined, err := combineGroupedColl(ctx, ectx, n, in.Collection())
	if err != nil {
		return err
	}
	ectx.Bind(n.Name, udf.MainTag, in.WithCollection(combined), w)
	return nil
}

// evalStreamingFlatten unions the inputs' tick slices. A bounded input is
// lifted into an unbounded dataset with no sources, a stream that delivers
// its whole content in its first tick and is empty on every later one.
func evalStreamingFlatten(ctx context.Context, ectx *EvaluationContext, n *Node) error {
	parts := make([]*dataset.Unbounded, 0, len(n.Inputs))
	for _, ref := range n.Inputs {
		ds, err := ectx.Dataset(n.Name, ref)
		if err != nil {
			return err
		}
		switch d := ds.(type) {
		case *dataset.Unbounded:
			parts = append(parts, d)
		case *dataset.Bounded:
			if !ectx.liftOnce(n.Name, ref) {
				d = dataset.NewBounded(ectx.sub.Parallelize(nil))
			}
			parts = append(parts, dataset.QueueBounded(d))
		}
	}
	union, err := dataset.UnionUnbounded(ctx, ectx.sub, parts)
	if err != nil {
		return err
	}
	ectx.Bind(n.Name, udf.MainTag, union, commonWindower(ectx, n.Inputs))
	return nil
}

func evalStreamingSink(ctx context.Context, ectx *EvaluationContext, n *Node) error {
	in, _, err := unboundedInput(ectx, n)
	if err != nil {
		return err
	}
	return writeSink(ctx, ectx, n, in.Collection())
}

func unboundedInput(ectx *EvaluationContext, n *Node) (*dataset.Unbounded, window.Windower, error) {
	ref := n.Inputs[0]
	ds, err := ectx.Dataset(n.Name, ref)
	if err != nil {
		return nil, nil, err
	}
	u, err := dataset.AsUnbounded(ds)
	if err != nil {
		return nil, nil, err
	}
	return u, ectx.WindowerFor(ref), nil
}
