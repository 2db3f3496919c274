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
	"fmt"
	"strconv"
	"strings"
)

// kafkaOffset pins a consumed message to its topic, partition and offset,
// which is everything needed to mark it consumed on ack.
type kafkaOffset struct {
	offset       int64
	partitionIdx int32
	topic        string
}

func (k *kafkaOffset) String() string {
	return toOffset(k.topic, k.partitionIdx, k.offset)
}

// toOffset formats an offset as topic:partition:offset.
func toOffset(topic string, partition int32, offset int64) string {
	return topic + ":" + strconv.Itoa(int(partition)) + ":" + strconv.FormatInt(offset, 10)
}

// offsetFrom parses a formatted offset back into its parts.
func offsetFrom(formatted string) (string, int32, int64, error) {
	parts := strings.Split(formatted, ":")
	if len(parts) != 3 {
		return "", 0, 0, fmt.Errorf("malformed offset %q, expected topic:partition:offset", formatted)
	}
	partition, err := strconv.ParseInt(parts[1], 10, 32)
	if err != nil {
		return "", 0, 0, fmt.Errorf("malformed partition in offset %q, %w", formatted, err)
	}
	offset, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", 0, 0, fmt.Errorf("malformed sequence in offset %q, %w", formatted, err)
	}
	return parts[0], int32(partition), offset, nil
}
