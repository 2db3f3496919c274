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

package substrate

import "fmt"

// ForeignCollectionErr is returned when a substrate is handed a collection
// created by a different substrate.
type ForeignCollectionErr struct {
	Name    string
	Message string
}

func (e ForeignCollectionErr) Error() string {
	return fmt.Sprintf("(%s) %s", e.Name, e.Message)
}
