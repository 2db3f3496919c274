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

package state

import (
	"context"

	"github.com/sluiceproj/sluice/pkg/combine"
)

// NoCommittedTick is reported by LastCommittedTick before any commit.
const NoCommittedTick int64 = -1

// Txn stages mutations against one key partition. Nothing staged is
// visible outside the transaction until Commit; Discard drops it all and
// leaves the partition at its pre-transaction state.
type Txn interface {
	// Partition returns the key partition this transaction owns.
	Partition() int
	// Get returns the entry for id, or nil when absent. Staged mutations
	// are visible to the transaction itself.
	Get(ctx context.Context, id ID) (*Entry, error)
	// List returns every live entry of the partition, staged view
	// included. Order is unspecified.
	List(ctx context.Context) ([]*Entry, error)
	// Put stages an upsert.
	Put(ctx context.Context, e *Entry) error
	// Delete stages a removal. Deleting an absent entry is a no-op.
	Delete(ctx context.Context, id ID) error
	// Commit atomically applies the staged mutations and records tick as
	// committed for the partition. Committing a tick at or below the last
	// committed one drops the staged mutations without applying them, so
	// replayed batches are harmless.
	Commit(ctx context.Context, tick int64) error
	// Discard drops the staged mutations. The transaction is unusable
	// afterwards.
	Discard()
}

// Store is the durable home of grouping state for one stateful transform.
// Concurrent transactions are safe as long as no two target the same
// partition, which the engine's stable key partitioning guarantees.
type Store interface {
	Begin(ctx context.Context, partition int) (Txn, error)
	// LastCommittedTick returns the most recent tick committed for the
	// partition, or NoCommittedTick.
	LastCommittedTick(ctx context.Context, partition int) (int64, error)
	Close() error
}

// Provider hands out one Store per stateful transform, keyed by the
// transform's name. The combine fn is passed so durable backends can
// reach its accumulator coder.
type Provider interface {
	StoreFor(ctx context.Context, name string, fn combine.CombineFn) (Store, error)
	Close() error
}
