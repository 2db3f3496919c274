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

package reduce

import (
	"fmt"

	"github.com/sluiceproj/sluice/pkg/reduce/trigger"
)

// Options for the grouping engine.
type Options struct {
	// parallelism is the number of key partitions.
	parallelism int
	// policy decides firing and expiry.
	policy trigger.Policy
}

// DefaultOptions returns the default options.
func DefaultOptions() *Options {
	return &Options{
		parallelism: 1,
		policy:      trigger.WatermarkPolicy{},
	}
}

// Option to apply different options.
type Option func(*Options) error

// WithParallelism sets the number of key partitions. Changing it between
// runs moves keys across partitions, so persisted state must be drained
// first.
func WithParallelism(parallelism int) Option {
	return func(o *Options) error {
		if parallelism < 1 {
			return fmt.Errorf("parallelism should be greater than zero")
		}
		o.parallelism = parallelism
		return nil
	}
}

// WithTriggerPolicy overrides the default watermark trigger policy.
func WithTriggerPolicy(policy trigger.Policy) Option {
	return func(o *Options) error {
		if policy == nil {
			return fmt.Errorf("trigger policy cannot be nil")
		}
		o.policy = policy
		return nil
	}
}
