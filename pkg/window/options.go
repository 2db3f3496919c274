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

package window

import (
	"time"
)

type Options struct {
	// allowedLateness to specify how long window state is retained past
	// the watermark for late elements
	allowedLateness time.Duration
}

func DefaultOptions() *Options {
	return &Options{
		allowedLateness: time.Duration(0),
	}
}

// AllowedLateness returns the configured allowed lateness.
func (o *Options) AllowedLateness() time.Duration {
	return o.allowedLateness
}

type Option func(options *Options) error

// WithAllowedLateness sets the allowed lateness
func WithAllowedLateness(d time.Duration) Option {
	return func(o *Options) error {
		o.allowedLateness = d
		return nil
	}
}
