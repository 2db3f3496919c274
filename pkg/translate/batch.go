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
	"github.com/sluiceproj/sluice/pkg/substrate"
	"github.com/sluiceproj/sluice/pkg/udf"
	"github.com/sluiceproj/sluice/pkg/window"
)

// The finite-dataset evaluators. They serve batch pipelines and, within a
// streaming pipeline, the nodes all of whose inputs are bounded.

func evalBoundedSource(_ context.Context, ectx *EvaluationContext, n *Node) error {
	if n.Bounded == nil {
		return fmt.Errorf("(%s) a live source cannot run in batch mode", n.Name)
	}
	coll := ectx.sub.Parallelize(wrapUnwindowed(n.Bounded))
	ectx.Bind(n.Name, udf.MainTag, dataset.NewBounded(coll), nil)
	return nil
}

func evalBatchParDo(ctx context.Context, ectx *EvaluationContext, n *Node) error {
	in, w, err := boundedInput(ectx, n)
	if err != nil {
		return err
	}
	outs, err := runParDo(ctx, ectx, n, in.Collection())
	if err != nil {
		return err
	}
	for tag, coll := range outs {
		ectx.Bind(n.Name, tag, dataset.NewBounded(coll), w)
	}
	return nil
}

func evalBatchWindowInto(ctx context.Context, ectx *EvaluationContext, n *Node) error {
	in, w, err := boundedInput(ectx, n)
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
	ectx.Bind(n.Name, udf.MainTag, dataset.NewBounded(assigned), n.Windower)
	return nil
}

func evalBatchGroupByKey(ctx context.Context, ectx *EvaluationContext, n *Node) error {
	in, _, err := boundedInput(ectx, n)
	if err != nil {
		return err
	}
	grouped, err := groupBounded(ctx, ectx, n, in.Collection())
	if err != nil {
		return err
	}
	ectx.Bind(n.Name, udf.MainTag, dataset.NewBounded(grouped), n.Windower)
	return nil
}

func evalBatchCombineGrouped(ctx context.Context, ectx *EvaluationContext, n *Node) error {
	in, w, err := boundedInput(ectx, n)
	if err != nil {
		return err
	}
	combined, err := combineGroupedColl(ctx, ectx, n, in.Collection())
	if err != nil {
		return err
	}
	ectx.Bind(n.Name, udf.MainTag, dataset.NewBounded(combined), w)
	return nil
}

func evalBatchFlatten(ctx context.Context, ectx *EvaluationContext, n *Node) error {
	colls := make([]substrate.Collection, 0, len(n.Inputs))
	for _, ref := range n.Inputs {
		ds, err := ectx.Dataset(n.Name, ref)
		if err != nil {
			return err
		}
		b, err := dataset.AsBounded(ds)
		if err != nil {
			return err
		}
		colls = append(colls, b.Collection())
	}
	union, err := ectx.sub.Union(ctx, colls)
	if err != nil {
		return err
	}
	ectx.Bind(n.Name, udf.MainTag, dataset.NewBounded(union), commonWindower(ectx, n.Inputs))
	return nil
}

func evalBatchSink(ctx context.Context, ectx *EvaluationContext, n *Node) error {
	in, _, err := boundedInput(ectx, n)
	if err != nil {
		return err
	}
	return writeSink(ctx, ectx, n, in.Collection())
}

func boundedInput(ectx *EvaluationContext, n *Node) (*dataset.Bounded, window.Windower, error) {
	ref := n.Inputs[0]
	ds, err := ectx.Dataset(n.Name, ref)
	if err != nil {
		return nil, nil, err
	}
	b, err := dataset.AsBounded(ds)
	if err != nil {
		return nil, nil, err
	}
	return b, ectx.WindowerFor(ref), nil
}
