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

package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	natslib "github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/sluiceproj/sluice/pkg/element"
	"github.com/sluiceproj/sluice/pkg/metrics"
	"github.com/sluiceproj/sluice/pkg/shared/logging"
	"github.com/sluiceproj/sluice/pkg/sources"
	"github.com/sluiceproj/sluice/pkg/watermark"
)

// EventTimeHeader, when present on a message and parseable as RFC 3339,
// carries the event time. Messages without it get the arrival time.
const EventTimeHeader = "X-Event-Time"

// AttrSubject is the element attribute carrying the subject a message
// arrived on.
const AttrSubject = "nats-subject"

type natsSource struct {
	name         string
	pipelineName string
	logger       *zap.SugaredLogger
	natsConn     *natslib.Conn
	sub          *natslib.Subscription
	bufferSize   int
	messages     chan *element.Element
	readTimeout  time.Duration
	maxDelay     time.Duration
	tracker      *sources.Tracker
	key          string
}

// New connects to the given nats server and subscribes to the subject as a
// member of the queue group, so replicas of a pipeline share the stream.
func New(ctx context.Context, pipelineName, name, url, subject, queue string, opts ...Option) (sources.Sourcer, error) {
	n := &natsSource{
		name:         name,
		pipelineName: pipelineName,
		bufferSize:   1000,            // default size
		readTimeout:  1 * time.Second, // default timeout
		logger:       logging.FromContext(ctx),
	}
	for _, o := range opts {
		if err := o(n); err != nil {
			return nil, err
		}
	}

	n.messages = make(chan *element.Element, n.bufferSize)
	n.tracker = sources.NewTracker(n.maxDelay)

	opt := []natslib.Option{
		natslib.MaxReconnects(-1),
		natslib.ReconnectWait(3 * time.Second),
		natslib.DisconnectErrHandler(func(c *natslib.Conn, err error) {
			n.logger.Errorw("Nats disconnected", zap.Error(err))
		}),
		natslib.ReconnectHandler(func(c *natslib.Conn) {
			n.logger.Info("Nats reconnected")
		}),
	}

	n.logger.Info("Connecting to nats service...")
	if conn, err := natslib.Connect(url, opt...); err != nil {
		return nil, fmt.Errorf("failed to connect to nats server, %w", err)
	} else {
		n.natsConn = conn
	}
	if sub, err := n.natsConn.QueueSubscribe(subject, queue, func(msg *natslib.Msg) {
		el := &element.Element{
			ID:        uuid.New().String(),
			Key:       n.key,
			EventTime: eventTimeOf(msg),
			Attrs:     element.Attributes{},
			Payload:   msg.Data,
		}
		el.Attrs.Add(AttrSubject, msg.Subject)
		n.messages <- el
	}); err != nil {
		n.natsConn.Close()
		return nil, fmt.Errorf("failed to QueueSubscribe nats messages, %w", err)
	} else {
		n.sub = sub
	}
	return n, nil
}

type Option func(*natsSource) error

// WithLogger is used to return logger information
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *natsSource) error {
		o.logger = l
		return nil
	}
}

// WithBufferSize sets the buffer size for storing the messages from nats
func WithBufferSize(s int) Option {
	return func(o *natsSource) error {
		o.bufferSize = s
		return nil
	}
}

// WithReadTimeout sets the read timeout
func WithReadTimeout(t time.Duration) Option {
	return func(o *natsSource) error {
		o.readTimeout = t
		return nil
	}
}

// WithMaxDelay sets how far the watermark trails the newest event time
func WithMaxDelay(d time.Duration) Option {
	return func(o *natsSource) error {
		o.maxDelay = d
		return nil
	}
}

// WithKey assigns a fixed grouping key to every element read
func WithKey(k string) Option {
	return func(o *natsSource) error {
		o.key = k
		return nil
	}
}

func (ns *natsSource) ID() watermark.SourceID {
	return watermark.SourceID(ns.name)
}

func (ns *natsSource) Read(_ context.Context, count int64) ([]*element.Element, error) {
	var msgs []*element.Element
	timeout := time.After(ns.readTimeout)
loop:
	for i := int64(0); i < count; i++ {
		select {
		case m := <-ns.messages:
			natsSourceReadCount.With(map[string]string{metrics.LabelSource: ns.name, metrics.LabelPipeline: ns.pipelineName}).Inc()
			ns.tracker.Observe(m.EventTime)
			msgs = append(msgs, m)
		case <-timeout:
			ns.logger.Debugw("Timed out waiting for messages to read.", zap.Duration("waited", ns.readTimeout), zap.Int("read", len(msgs)))
			break loop
		}
	}
	ns.logger.Debugf("Read %d messages.", len(msgs))
	return msgs, nil
}

func (ns *natsSource) CurrentWatermark() watermark.Watermark {
	return ns.tracker.Current()
}

// Ack is a no-op, core nats delivery is not acknowledged.
func (ns *natsSource) Ack(_ context.Context) error {
	return nil
}

func (ns *natsSource) Close() error {
	ns.logger.Info("Shutting down nats source server...")
	if err := ns.sub.Unsubscribe(); err != nil {
		ns.logger.Errorw("Failed to unsubscribe nats subscription", zap.Error(err))
	}
	ns.natsConn.Close()
	ns.logger.Info("Nats source server shutdown")
	return nil
}

func eventTimeOf(msg *natslib.Msg) time.Time {
	if h := msg.Header.Get(EventTimeHeader); h != "" {
		if t, err := time.Parse(time.RFC3339Nano, h); err == nil {
			return t
		}
	}
	return time.Now()
}
