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

package dataset

import "fmt"

// TypeMismatchErr is returned when a transform expects one boundedness and
// is handed the other. It is a programming error in the pipeline and fatal
// at translation time.
type TypeMismatchErr struct {
	Want string
	Got  string
}

func (e TypeMismatchErr) Error() string {
	return fmt.Sprintf("dataset type mismatch: want %s, got %s", e.Want, e.Got)
}
