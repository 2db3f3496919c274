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

// Package substrate defines the batch-parallel execution layer the engine
// runs on. The engine only ever touches batches through this contract, so
// the same graph runs unchanged on any implementation. A substrate delivers
// batches at least once; everything downstream tolerates replays.
package substrate

import (
	"context"
)

// Collection is an opaque handle to a batch of records held by a substrate.
// Handles are only valid with the substrate that created them.
type Collection interface {
	// Len returns the number of records in the collection.
	Len() int
}

// MapFn transforms one record into zero or more records.
type MapFn func(ctx context.Context, rec any) ([]any, error)

// KeyOfFn extracts the grouping key of a record.
type KeyOfFn func(rec any) (string, error)

// Group holds the records sharing one key within a partition. Records keep
// their batch order.
type Group struct {
	Key     string
	Records []any
}

// Partition is one hash partition of grouped records. Groups are ordered
// by key.
type Partition struct {
	Index  int
	Groups []Group
}

// Substrate executes batch operations with a fixed degree of parallelism.
type Substrate interface {
	// Parallelize turns an in-memory batch into a collection.
	Parallelize(recs []any) Collection
	// Collect materializes a collection back into memory.
	Collect(ctx context.Context, coll Collection) ([]any, error)
	// ParallelMap applies fn to every record and concatenates the outputs
	// in record order.
	ParallelMap(ctx context.Context, coll Collection, fn MapFn) (Collection, error)
	// PartitionAndGroupLocally hashes every record into a partition by its
	// key and groups records per key within each partition, without moving
	// data between workers. The same key lands in the same partition on
	// every call.
	PartitionAndGroupLocally(ctx context.Context, coll Collection, keyOf KeyOfFn) ([]Partition, error)
	// Union concatenates the given collections into one.
	Union(ctx context.Context, colls []Collection) (Collection, error)
	// Parallelism returns the number of partitions the substrate runs.
	Parallelism() int
}
