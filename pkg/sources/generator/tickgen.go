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

// Package generator implements a synthetic tick source. Every time unit it
// emits rpu records whose payload carries its own creation timestamp, with
// an optional backwards jitter on the event time to simulate out-of-order
// arrival.
package generator

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	mrand "math/rand"
	"strconv"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/sluiceproj/sluice/pkg/element"
	"github.com/sluiceproj/sluice/pkg/metrics"
	"github.com/sluiceproj/sluice/pkg/shared/logging"
	"github.com/sluiceproj/sluice/pkg/sources"
	"github.com/sluiceproj/sluice/pkg/watermark"
)

// record is the generated data plus the offset it was assigned.
type record struct {
	data   []byte
	offset int64
	key    string
}

// payload is the data produced by the default generator function.
type payload struct {
	Data      []byte `json:"Data"`
	Createdts int64  `json:"Createdts"`
}

type memgen struct {
	// name of the source
	name string
	// name of the pipeline
	pipelineName string
	// records per time unit
	rpu int
	// size of each generated record
	msgSize int32
	// tick interval of the generator
	timeunit time.Duration
	// number of distinct keys assigned round robin, 0 leaves records unkeyed
	keyCount int
	// how far back an event time may be jittered
	jitter time.Duration
	// genFn generates the payload for one record
	genFn func(size int32, createdts int64) []byte
	// channel the generator loop writes to and Read drains
	srcChan chan record
	// size of the buffer holding generated but yet to be read records
	bufferSize int
	// read timeout for the from channel
	readTimeout time.Duration
	// watermark delay override, nil defaults to the jitter
	maxDelay *time.Duration
	// offset counter for record IDs
	offset  *atomic.Int64
	tracker *sources.Tracker
	// lifecycle of the generator loop
	lifecycleCtx context.Context
	cancelFn     context.CancelFunc
	doneCh       chan struct{}
	logger       *zap.SugaredLogger
}

type Option func(*memgen) error

// WithLogger is used to return logger information
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *memgen) error {
		o.logger = l
		return nil
	}
}

// WithReadTimeout sets the read timeout
func WithReadTimeout(t time.Duration) Option {
	return func(o *memgen) error {
		o.readTimeout = t
		return nil
	}
}

// WithBufferSize sets the size of the channel buffering generated records
func WithBufferSize(s int) Option {
	return func(o *memgen) error {
		o.bufferSize = s
		return nil
	}
}

// WithRPU sets the number of records generated per time unit
func WithRPU(n int) Option {
	return func(o *memgen) error {
		o.rpu = n
		return nil
	}
}

// WithMsgSize sets the size of the generated payload
func WithMsgSize(s int32) Option {
	return func(o *memgen) error {
		o.msgSize = s
		return nil
	}
}

// WithKeyCount sets how many distinct keys the records cycle through
func WithKeyCount(n int) Option {
	return func(o *memgen) error {
		o.keyCount = n
		return nil
	}
}

// WithTimeUnit sets the tick interval of the generator
func WithTimeUnit(d time.Duration) Option {
	return func(o *memgen) error {
		o.timeunit = d
		return nil
	}
}

// WithJitter sets how far back an event time may be moved from the tick it
// was generated on
func WithJitter(d time.Duration) Option {
	return func(o *memgen) error {
		o.jitter = d
		return nil
	}
}

// WithMaxDelay sets the watermark delay. It defaults to the jitter so the
// watermark never overtakes a jittered event time.
func WithMaxDelay(d time.Duration) Option {
	return func(o *memgen) error {
		o.maxDelay = &d
		return nil
	}
}

// NewMemGen returns a generator source and starts its tick loop.
func NewMemGen(ctx context.Context, pipelineName, name string, opts ...Option) (sources.Sourcer, error) {
	mg := &memgen{
		name:         name,
		pipelineName: pipelineName,
		rpu:          5,
		msgSize:      8,
		timeunit:     time.Second,
		bufferSize:   1000,            // default size
		readTimeout:  1 * time.Second, // default timeout
		offset:       atomic.NewInt64(0),
		logger:       logging.FromContext(ctx),
	}
	for _, o := range opts {
		if err := o(mg); err != nil {
			return nil, err
		}
	}
	if mg.rpu <= 0 {
		return nil, fmt.Errorf("invalid rpu %d, must be positive", mg.rpu)
	}
	mg.genFn = recordGenerator

	delay := mg.jitter
	if mg.maxDelay != nil {
		delay = *mg.maxDelay
	}
	mg.tracker = sources.NewTracker(delay)

	mg.srcChan = make(chan record, mg.bufferSize)
	mg.doneCh = make(chan struct{})
	mg.lifecycleCtx, mg.cancelFn = context.WithCancel(context.Background())
	go mg.generator()
	return mg, nil
}

func (mg *memgen) ID() watermark.SourceID {
	return watermark.SourceID(mg.name)
}

func (mg *memgen) Read(_ context.Context, count int64) ([]*element.Element, error) {
	msgs := make([]*element.Element, 0, count)
	timeout := time.After(mg.readTimeout)
loop:
	for i := int64(0); i < count; i++ {
		select {
		case r := <-mg.srcChan:
			tickgenSourceReadCount.With(map[string]string{metrics.LabelSource: mg.name, metrics.LabelPipeline: mg.pipelineName}).Inc()
			msgs = append(msgs, mg.toElement(r))
		case <-timeout:
			mg.logger.Debugw("Timed out waiting for messages to read.", zap.Duration("waited", mg.readTimeout), zap.Int("read", len(msgs)))
			break loop
		}
	}
	return msgs, nil
}

func (mg *memgen) CurrentWatermark() watermark.Watermark {
	return mg.tracker.Current()
}

// Ack is a no-op, generated data has nothing to acknowledge against.
func (mg *memgen) Ack(_ context.Context) error {
	return nil
}

func (mg *memgen) Close() error {
	mg.logger.Info("Shutting down the tick generator...")
	mg.cancelFn()
	<-mg.doneCh
	mg.logger.Info("Tick generator shut down")
	return nil
}

func (mg *memgen) toElement(r record) *element.Element {
	eventTime := timeFromNanos(parseTime(r.data))
	mg.tracker.Observe(eventTime)
	return &element.Element{
		ID:        strconv.FormatInt(r.offset, 10),
		Key:       r.key,
		EventTime: eventTime,
		Payload:   r.data,
	}
}

// generator runs the tick loop until the source is closed. Records that do
// not fit into the buffer are dropped, a slow reader must not stall the
// ticker.
func (mg *memgen) generator() {
	defer close(mg.doneCh)
	ticker := time.NewTicker(mg.timeunit)
	defer ticker.Stop()
	for {
		select {
		case <-mg.lifecycleCtx.Done():
			return
		case ts := <-ticker.C:
			tickgenSourceCount.With(map[string]string{metrics.LabelSource: mg.name, metrics.LabelPipeline: mg.pipelineName}).Inc()
			for i := 0; i < mg.rpu; i++ {
				eventTime := ts
				if mg.jitter > 0 {
					eventTime = eventTime.Add(-time.Duration(mrand.Int63n(mg.jitter.Nanoseconds() + 1)))
				}
				r := record{
					data:   mg.genFn(mg.msgSize, eventTime.UnixNano()),
					offset: mg.offset.Inc(),
				}
				if mg.keyCount > 0 {
					r.key = fmt.Sprintf("key-%d", i%mg.keyCount)
				}
				select {
				case mg.srcChan <- r:
				default:
					mg.logger.Debugw("Buffer full, dropping a generated record.", zap.Int("size", cap(mg.srcChan)))
				}
			}
		}
	}
}

// recordGenerator produces a record of the given size carrying its creation
// timestamp.
func recordGenerator(size int32, createdts int64) []byte {
	data := make([]byte, size)
	// rand.Read is almost always successful
	_, _ = rand.Read(data)
	r := payload{Data: data, Createdts: createdts}
	marshalled, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	return marshalled
}

// parseTime extracts the creation timestamp from a generated record, 0 when
// the record does not parse.
func parseTime(data []byte) int64 {
	var anyJSON map[string]interface{}
	if err := json.Unmarshal(data, &anyJSON); err != nil {
		return 0
	}
	createdts, ok := anyJSON["Createdts"].(float64)
	if !ok {
		return 0
	}
	return int64(createdts)
}

// timeFromNanos converts nanos to a time, falling back to now for anything
// non-positive.
func timeFromNanos(etime int64) time.Time {
	if etime > 0 {
		return time.Unix(0, etime)
	}
	return time.Now()
}
