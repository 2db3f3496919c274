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

// Package local implements the substrate on in-process goroutines. Records
// never leave the process; partitioning is a murmur3 hash of the grouping
// key. It is the substrate used by the single-binary deployment and by
// every engine test.
package local

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/spaolacci/murmur3"
	"go.uber.org/multierr"

	"github.com/sluiceproj/sluice/pkg/substrate"
)

// Substrate runs batch operations on a fixed pool of goroutines.
type Substrate struct {
	parallelism int
}

var _ substrate.Substrate = (*Substrate)(nil)

// NewSubstrate returns a local substrate with the given parallelism.
func NewSubstrate(parallelism int) *Substrate {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Substrate{
		parallelism: parallelism,
	}
}

// collection is an in-memory batch of records.
type collection struct {
	recs []any
}

func (c *collection) Len() int {
	return len(c.recs)
}

// Parallelize turns an in-memory batch into a collection.
func (s *Substrate) Parallelize(recs []any) substrate.Collection {
	cp := make([]any, len(recs))
	copy(cp, recs)
	return &collection{recs: cp}
}

// Collect materializes a collection back into memory.
func (s *Substrate) Collect(_ context.Context, coll substrate.Collection) ([]any, error) {
	c, err := s.own(coll)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(c.recs))
	copy(out, c.recs)
	return out, nil
}

// ParallelMap applies fn to every record, fanning the batch out over the
// configured parallelism. Output order follows record order. Every failing
// record of every worker is reported, not just the first one.
func (s *Substrate) ParallelMap(ctx context.Context, coll substrate.Collection, fn substrate.MapFn) (substrate.Collection, error) {
	c, err := s.own(coll)
	if err != nil {
		return nil, err
	}

	chunks := s.chunk(len(c.recs))
	outs := make([][]any, len(chunks))
	errs := make([]error, len(chunks))

	var wg sync.WaitGroup
	for i, ch := range chunks {
		wg.Add(1)
		go func(worker int, lo, hi int) {
			defer wg.Done()
			out := make([]any, 0, hi-lo)
			var workerErr error
			for idx := lo; idx < hi; idx++ {
				if ctx.Err() != nil {
					workerErr = multierr.Append(workerErr, ctx.Err())
					break
				}
				mapped, err := fn(ctx, c.recs[idx])
				if err != nil {
					workerErr = multierr.Append(workerErr, fmt.Errorf("record %d: %w", idx, err))
					continue
				}
				out = append(out, mapped...)
			}
			outs[worker] = out
			errs[worker] = workerErr
		}(i, ch[0], ch[1])
	}
	wg.Wait()

	if err := multierr.Combine(errs...); err != nil {
		return nil, err
	}

	var recs []any
	for _, out := range outs {
		recs = append(recs, out...)
	}
	return &collection{recs: recs}, nil
}

// PartitionAndGroupLocally hashes every record into a partition by its key
// and groups records per key within each partition. Group order is sorted
// by key and records keep their batch order, so the result is deterministic
// for a given batch.
func (s *Substrate) PartitionAndGroupLocally(ctx context.Context, coll substrate.Collection, keyOf substrate.KeyOfFn) ([]substrate.Partition, error) {
	c, err := s.own(coll)
	if err != nil {
		return nil, err
	}

	// key extraction fans out, bucketing stays in record order
	keys := make([]string, len(c.recs))
	chunks := s.chunk(len(c.recs))
	errs := make([]error, len(chunks))

	var wg sync.WaitGroup
	for i, ch := range chunks {
		wg.Add(1)
		go func(worker int, lo, hi int) {
			defer wg.Done()
			var workerErr error
			for idx := lo; idx < hi; idx++ {
				if ctx.Err() != nil {
					workerErr = multierr.Append(workerErr, ctx.Err())
					break
				}
				key, err := keyOf(c.recs[idx])
				if err != nil {
					workerErr = multierr.Append(workerErr, fmt.Errorf("record %d: %w", idx, err))
					continue
				}
				keys[idx] = key
			}
			errs[worker] = workerErr
		}(i, ch[0], ch[1])
	}
	wg.Wait()

	if err := multierr.Combine(errs...); err != nil {
		return nil, err
	}

	grouped := make([]map[string][]any, s.parallelism)
	for i := range grouped {
		grouped[i] = make(map[string][]any)
	}
	for idx, rec := range c.recs {
		p := PartitionForKey(keys[idx], s.parallelism)
		grouped[p][keys[idx]] = append(grouped[p][keys[idx]], rec)
	}

	partitions := make([]substrate.Partition, s.parallelism)
	for p := range partitions {
		groupKeys := make([]string, 0, len(grouped[p]))
		for key := range grouped[p] {
			groupKeys = append(groupKeys, key)
		}
		sort.Strings(groupKeys)
		groups := make([]substrate.Group, 0, len(groupKeys))
		for _, key := range groupKeys {
			groups = append(groups, substrate.Group{Key: key, Records: grouped[p][key]})
		}
		partitions[p] = substrate.Partition{Index: p, Groups: groups}
	}
	return partitions, nil
}

// Union concatenates the given collections into one.
func (s *Substrate) Union(_ context.Context, colls []substrate.Collection) (substrate.Collection, error) {
	var recs []any
	for _, coll := range colls {
		c, err := s.own(coll)
		if err != nil {
			return nil, err
		}
		recs = append(recs, c.recs...)
	}
	return &collection{recs: recs}, nil
}

// Parallelism returns the number of partitions the substrate runs.
func (s *Substrate) Parallelism() int {
	return s.parallelism
}

// PartitionForKey returns the partition owning the given key. The mapping
// is stable across ticks and processes, which is what lets state entries
// stay with their owning partition.
func PartitionForKey(key string, parallelism int) int {
	return int(murmur3.Sum32([]byte(key)) % uint32(parallelism))
}

func (s *Substrate) own(coll substrate.Collection) (*collection, error) {
	c, ok := coll.(*collection)
	if !ok {
		return nil, substrate.ForeignCollectionErr{Name: "local", Message: fmt.Sprintf("collection of type %T was not created by this substrate", coll)}
	}
	return c, nil
}

// chunk splits n records into up to parallelism contiguous [lo, hi) ranges.
func (s *Substrate) chunk(n int) [][2]int {
	if n == 0 {
		return nil
	}
	workers := s.parallelism
	if workers > n {
		workers = n
	}
	size := (n + workers - 1) / workers
	chunks := make([][2]int, 0, workers)
	for lo := 0; lo < n; lo += size {
		hi := lo + size
		if hi > n {
			hi = n
		}
		chunks = append(chunks, [2]int{lo, hi})
	}
	return chunks
}
