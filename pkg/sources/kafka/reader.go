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

// Package kafka implements a source backed by a kafka consumer group.
// Event time is the broker message timestamp, and offsets are marked only
// when the driver acks a delivered batch, so an aborted tick replays its
// messages after a restart.
package kafka

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/sluiceproj/sluice/pkg/element"
	"github.com/sluiceproj/sluice/pkg/metrics"
	"github.com/sluiceproj/sluice/pkg/shared/logging"
	"github.com/sluiceproj/sluice/pkg/sources"
	"github.com/sluiceproj/sluice/pkg/watermark"
)

// Element attributes carrying where a message came from.
const (
	AttrTopic     = "kafka-topic"
	AttrPartition = "kafka-partition"
)

type KafkaSource struct {
	// name of the source
	name string
	// name of the pipeline
	pipelineName string
	// group name for the consumer group
	groupName string
	// topic to consume messages from
	topic string
	// kafka brokers
	brokers []string
	// sarama config for the consumer group
	config *sarama.Config
	// handler for the kafka consumer group
	handler *consumerHandler
	// size of the buffer that holds consumed but yet to be read messages
	handlerBuffer int
	// read timeout for the from buffer
	readTimeout time.Duration
	// max delay duration of watermark
	watermarkMaxDelay time.Duration
	tracker           *sources.Tracker
	// offsets delivered since the previous ack
	lock           sync.Mutex
	unackedOffsets []*kafkaOffset
	// lifecycle context
	lifecycleCtx context.Context
	cancelFn     context.CancelFunc
	// channel to indicate that the consumer loop is done
	stopCh  chan struct{}
	started bool
	logger  *zap.SugaredLogger
}

var _ sources.Sourcer = (*KafkaSource)(nil)

type Option func(*KafkaSource) error

// WithLogger is used to return logger information
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *KafkaSource) error {
		o.logger = l
		return nil
	}
}

// WithBufferSize is used to return size of message channel information
func WithBufferSize(s int) Option {
	return func(o *KafkaSource) error {
		o.handlerBuffer = s
		return nil
	}
}

// WithReadTimeOut is used to set the read timeout for the from buffer
func WithReadTimeOut(t time.Duration) Option {
	return func(o *KafkaSource) error {
		o.readTimeout = t
		return nil
	}
}

// WithGroupName is used to set the group name
func WithGroupName(gn string) Option {
	return func(o *KafkaSource) error {
		o.groupName = gn
		return nil
	}
}

// WithMaxDelay sets how far the watermark trails the newest event time
func WithMaxDelay(d time.Duration) Option {
	return func(o *KafkaSource) error {
		o.watermarkMaxDelay = d
		return nil
	}
}

// WithSaramaConfig replaces the default consumer configuration
func WithSaramaConfig(c *sarama.Config) Option {
	return func(o *KafkaSource) error {
		o.config = c
		return nil
	}
}

// NewKafkaSource returns a KafkaSource reader based on a Kafka Consumer
// Group. It does not dial the brokers, Start does.
func NewKafkaSource(ctx context.Context, pipelineName, name string, brokers []string, topic string, opts ...Option) (*KafkaSource, error) {
	kafkaSource := &KafkaSource{
		name:          name,
		pipelineName:  pipelineName,
		topic:         topic,
		brokers:       brokers,
		groupName:     fmt.Sprintf("%s-%s", pipelineName, name),
		readTimeout:   1 * time.Second, // default timeout
		handlerBuffer: 100,             // default buffer size for kafka reads
		logger:        logging.FromContext(ctx),
	}
	for _, o := range opts {
		if err := o(kafkaSource); err != nil {
			return nil, err
		}
	}
	if len(kafkaSource.brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured for source %q", name)
	}

	if kafkaSource.config == nil {
		config := sarama.NewConfig()
		config.Consumer.Offsets.Initial = sarama.OffsetOldest
		kafkaSource.config = config
	}
	// surface errors from the underlying kafka client on the Errors channel
	kafkaSource.config.Consumer.Return.Errors = true

	sarama.Logger = zap.NewStdLog(kafkaSource.logger.Desugar())

	kafkaSource.tracker = sources.NewTracker(kafkaSource.watermarkMaxDelay)
	kafkaSource.handler = newConsumerHandler(kafkaSource.handlerBuffer)
	kafkaSource.stopCh = make(chan struct{})
	kafkaSource.lifecycleCtx, kafkaSource.cancelFn = context.WithCancel(context.Background())
	return kafkaSource, nil
}

// Start joins the consumer group and blocks until the first session is set
// up and claims are being consumed.
func (r *KafkaSource) Start() error {
	client, err := sarama.NewConsumerGroup(r.brokers, r.groupName, r.config)
	if err != nil {
		return fmt.Errorf("failed to create kafka consumer group, %w", err)
	}
	r.logger.Infow("Creating NewConsumerGroup", zap.String("topic", r.topic), zap.String("consumerGroupName", r.groupName), zap.Strings("brokers", r.brokers))
	r.started = true
	go r.startConsumer(client)
	// wait for the consumer to setup.
	<-r.handler.ready
	r.logger.Info("Consumer ready. Starting kafka reader...")
	return nil
}

func (r *KafkaSource) startConsumer(client sarama.ConsumerGroup) {
	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-r.lifecycleCtx.Done():
				return
			case cErr := <-client.Errors():
				r.logger.Errorw("Kafka consumer error", zap.Error(cErr))
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			// Consume has to be called inside a loop; when a server-side
			// re-balance happens the consumer session is torn down and a
			// new one has to be created over the new claims
			if conErr := client.Consume(r.lifecycleCtx, []string{r.topic}, r.handler); conErr != nil {
				// Panic on errors to let it crash and restart the process
				r.logger.Panicw("Kafka consumer failed with error: ", zap.Error(conErr))
			}
			if r.lifecycleCtx.Err() != nil {
				return
			}
		}
	}()
	wg.Wait()
	_ = client.Close()
	close(r.stopCh)
}

func (r *KafkaSource) ID() watermark.SourceID {
	return watermark.SourceID(r.name)
}

func (r *KafkaSource) Read(_ context.Context, count int64) ([]*element.Element, error) {
	msgs := make([]*element.Element, 0, count)
	timeout := time.After(r.readTimeout)
loop:
	for i := int64(0); i < count; i++ {
		select {
		case m := <-r.handler.messages:
			kafkaSourceReadCount.With(map[string]string{metrics.LabelSource: r.name, metrics.LabelPipeline: r.pipelineName}).Inc()
			msgs = append(msgs, r.toElement(m))
		case <-timeout:
			// log that timeout has happened and don't return an error
			r.logger.Debugw("Timed out waiting for messages to read.", zap.Duration("waited", r.readTimeout))
			break loop
		}
	}
	return msgs, nil
}

func (r *KafkaSource) CurrentWatermark() watermark.Watermark {
	return r.tracker.Current()
}

// Ack marks every offset delivered since the previous ack as consumed. The
// consumer group commits the marks, an unacked message is redelivered after
// a restart.
func (r *KafkaSource) Ack(_ context.Context) error {
	r.lock.Lock()
	offsets := r.unackedOffsets
	r.unackedOffsets = nil
	r.lock.Unlock()
	if len(offsets) == 0 {
		return nil
	}

	// we want to block the handler from exiting if there are any inflight acks.
	r.handler.inflightAcks = make(chan bool)
	defer close(r.handler.inflightAcks)

	for _, o := range offsets {
		// we need to mark the offset of the next message to read
		r.handler.sess.MarkOffset(o.topic, o.partitionIdx, o.offset+1, "")
		kafkaSourceAckCount.With(map[string]string{metrics.LabelSource: r.name, metrics.LabelPipeline: r.pipelineName}).Inc()
	}
	return nil
}

func (r *KafkaSource) Close() error {
	r.logger.Info("Closing kafka reader...")
	r.cancelFn()
	if r.started {
		<-r.stopCh
	}
	r.logger.Info("Kafka reader closed")
	return nil
}

func (r *KafkaSource) toElement(m *sarama.ConsumerMessage) *element.Element {
	offset := &kafkaOffset{offset: m.Offset, partitionIdx: m.Partition, topic: m.Topic}
	r.lock.Lock()
	r.unackedOffsets = append(r.unackedOffsets, offset)
	r.lock.Unlock()

	r.tracker.Observe(m.Timestamp)
	el := &element.Element{
		ID:        offset.String(),
		Key:       string(m.Key),
		EventTime: m.Timestamp,
		Attrs:     element.Attributes{},
		Payload:   m.Value,
	}
	el.Attrs.Add(AttrTopic, m.Topic)
	el.Attrs.Add(AttrPartition, strconv.Itoa(int(m.Partition)))
	return el
}
