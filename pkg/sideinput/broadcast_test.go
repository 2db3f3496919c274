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

package sideinput

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sluiceproj/sluice/pkg/dataset"
	"github.com/sluiceproj/sluice/pkg/element"
	"github.com/sluiceproj/sluice/pkg/substrate/local"
)

func buildBounded(sub *local.Substrate, keyed map[string][]string) *dataset.Bounded {
	recs := make([]any, 0)
	for key, payloads := range keyed {
		for _, p := range payloads {
			el := element.New([]byte(p), time.UnixMilli(0))
			recs = append(recs, el.WithKey(key))
		}
	}
	return dataset.NewBounded(sub.Parallelize(recs))
}

func TestBroadcastSet_Snapshot(t *testing.T) {
	ctx := context.Background()
	sub := local.NewSubstrate(2)
	set := NewBroadcastSet(sub)

	d := buildBounded(sub, map[string][]string{
		"us": {"rate=1.0"},
		"eu": {"rate=0.9", "rate=0.95"},
	})

	b, err := set.Snapshot(ctx, "rates", 1, d)
	assert.NoError(t, err)
	assert.Equal(t, ViewID("rates"), b.View())
	assert.Equal(t, int64(1), b.Tick())
	assert.Equal(t, 2, b.Len())

	els, ok := b.Lookup("eu")
	assert.True(t, ok)
	assert.Len(t, els, 2)

	_, ok = b.Lookup("apac")
	assert.False(t, ok)
}

func TestBroadcastSet_SnapshotIsFrozen(t *testing.T) {
	ctx := context.Background()
	sub := local.NewSubstrate(1)
	set := NewBroadcastSet(sub)

	keyed := element.New([]byte("rate=1.0"), time.UnixMilli(0)).WithKey("us")
	d := dataset.NewBounded(sub.Parallelize([]any{keyed}))

	b, err := set.Snapshot(ctx, "rates", 1, d)
	assert.NoError(t, err)

	// mutating the source element after materialization must not be
	// visible through the snapshot
	keyed.Payload[5] = '9'
	got, ok := b.Lookup("us")
	assert.True(t, ok)
	assert.Equal(t, []byte("rate=1.0"), got[0].Payload)
}

func TestBroadcastSet_RejectsForeignRecords(t *testing.T) {
	ctx := context.Background()
	sub := local.NewSubstrate(1)
	set := NewBroadcastSet(sub)

	d := dataset.NewBounded(sub.Parallelize([]any{"not an element"}))
	_, err := set.Snapshot(ctx, "view", 1, d)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "want an element")
}

func TestBroadcastSet_SnapshotCachedWithinTick(t *testing.T) {
	ctx := context.Background()
	sub := local.NewSubstrate(1)
	set := NewBroadcastSet(sub)

	d := buildBounded(sub, map[string][]string{"k": {"v"}})

	first, err := set.Snapshot(ctx, "view", 7, d)
	assert.NoError(t, err)
	again, err := set.Snapshot(ctx, "view", 7, d)
	assert.NoError(t, err)
	// same tick returns the identical snapshot
	assert.Same(t, first, again)
}

func TestBroadcastSet_FreshSnapshotPerTick(t *testing.T) {
	ctx := context.Background()
	sub := local.NewSubstrate(1)
	set := NewBroadcastSet(sub)

	d := buildBounded(sub, map[string][]string{"k": {"v"}})

	tick1, err := set.Snapshot(ctx, "view", 1, d)
	assert.NoError(t, err)
	tick2, err := set.Snapshot(ctx, "view", 2, d)
	assert.NoError(t, err)
	assert.NotSame(t, tick1, tick2)
	assert.Equal(t, int64(2), tick2.Tick())
}

func TestReader_Get(t *testing.T) {
	ctx := context.Background()
	sub := local.NewSubstrate(1)
	set := NewBroadcastSet(sub)

	d := buildBounded(sub, map[string][]string{"k": {"v"}})
	b, err := set.Snapshot(ctx, "view", 1, d)
	assert.NoError(t, err)

	r := NewReader(map[ViewID]*Broadcast{"view": b})

	els, ok := r.Get("view", "k")
	assert.True(t, ok)
	assert.Len(t, els, 1)
	assert.Equal(t, []byte("v"), els[0].Payload)

	_, ok = r.Get("view", "missing")
	assert.False(t, ok)
	_, ok = r.Get("other", "k")
	assert.False(t, ok)
}
