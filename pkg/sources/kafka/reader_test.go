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

package kafka

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"

	"github.com/sluiceproj/sluice/pkg/shared/logging"
	"github.com/sluiceproj/sluice/pkg/watermark"
)

func TestNewKafkaSource(t *testing.T) {
	ks, err := NewKafkaSource(context.Background(), "testPipeline", "testSource", []string{"b1"}, "testtopic",
		WithLogger(logging.NewLogger()), WithBufferSize(100), WithReadTimeOut(100*time.Millisecond), WithGroupName("default"))

	// no errors if everything is good.
	assert.Nil(t, err)
	assert.NotNil(t, ks)

	assert.Equal(t, "default", ks.groupName)
	assert.Equal(t, watermark.SourceID("testSource"), ks.ID())

	// config is all set and initialized correctly
	assert.NotNil(t, ks.config)
	assert.True(t, ks.config.Consumer.Return.Errors)
	assert.Equal(t, 100, ks.handlerBuffer)
	assert.Equal(t, 100*time.Millisecond, ks.readTimeout)
	assert.Equal(t, 100, cap(ks.handler.messages))

	assert.NoError(t, ks.Close())
}

func TestDefaultGroupName(t *testing.T) {
	ks, err := NewKafkaSource(context.Background(), "testPipeline", "testSource", []string{"b1"}, "testtopic")
	assert.Nil(t, err)
	assert.Equal(t, "testPipeline-testSource", ks.groupName)
	assert.Equal(t, 100, ks.handlerBuffer)
}

func TestNoBrokers(t *testing.T) {
	_, err := NewKafkaSource(context.Background(), "testPipeline", "testSource", nil, "testtopic")
	assert.Error(t, err)
}

func TestSaramaConfigOverride(t *testing.T) {
	config := sarama.NewConfig()
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	ks, err := NewKafkaSource(context.Background(), "testPipeline", "testSource", []string{"b1"}, "testtopic",
		WithSaramaConfig(config))
	assert.Nil(t, err)
	assert.Equal(t, sarama.OffsetNewest, ks.config.Consumer.Offsets.Initial)
	// the errors channel is forced on, the consumer loop depends on it
	assert.True(t, ks.config.Consumer.Return.Errors)
}

func TestElementConversion(t *testing.T) {
	ks, err := NewKafkaSource(context.Background(), "testPipeline", "testSource", []string{"b1"}, "testtopic",
		WithMaxDelay(2*time.Second))
	assert.Nil(t, err)

	ts := time.UnixMilli(60_000)
	el := ks.toElement(&sarama.ConsumerMessage{
		Topic:     "testtopic",
		Partition: 3,
		Offset:    42,
		Key:       []byte("k"),
		Value:     []byte("v"),
		Timestamp: ts,
	})
	assert.Equal(t, "testtopic:3:42", el.ID)
	assert.Equal(t, "k", el.Key)
	assert.Equal(t, ts, el.EventTime)
	assert.Equal(t, []byte("v"), el.Payload)
	assert.Equal(t, "testtopic", el.Attrs.Get(AttrTopic))
	assert.Equal(t, "3", el.Attrs.Get(AttrPartition))

	// delivery moved the watermark and left the offset awaiting ack
	assert.Equal(t, int64(58_000), ks.CurrentWatermark().UnixMilli())
	assert.Len(t, ks.unackedOffsets, 1)
}

func TestAckWithNothingInflight(t *testing.T) {
	ks, err := NewKafkaSource(context.Background(), "testPipeline", "testSource", []string{"b1"}, "testtopic")
	assert.Nil(t, err)
	assert.NoError(t, ks.Ack(context.Background()))
}

func TestOffsetFrom(t *testing.T) {
	offstr := "t1:32:64"
	topic, partition, offset, err := offsetFrom(offstr)
	assert.Nil(t, err)
	assert.Equal(t, "t1", topic)
	assert.Equal(t, int32(32), partition)
	assert.Equal(t, int64(64), offset)
}

func TestOffsetFromMalformed(t *testing.T) {
	for _, offstr := range []string{"t1:32", "t1:x:64", "t1:32:y"} {
		_, _, _, err := offsetFrom(offstr)
		assert.Error(t, err, offstr)
	}
}

func TestToOffset(t *testing.T) {
	topic := "t1"
	partition := int32(1)
	offset := int64(23)

	formattedoffset := toOffset(topic, partition, offset)
	expected := fmt.Sprintf("%s:%v:%v", topic, partition, offset)
	assert.Equal(t, expected, formattedoffset)
}
