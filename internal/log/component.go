// Copyright 2023 qbee.io
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package log

import "fmt"

// Component is a tagged logger for a single core package (codec, lockmgr,
// database, reconcile). It prefixes every line with the component name so
// multi-package operations (e.g. reload pulling in codec + lockmgr) stay
// attributable in the process log.
type Component struct {
	name string
}

// For returns a Component logger tagged with name.
func For(name string) Component {
	return Component{name: name}
}

func (c Component) tag(msg string) string {
	return fmt.Sprintf("%s: %s", c.name, msg)
}

// Debugf logs a message with DEBUG severity under this component.
func (c Component) Debugf(msg string, args ...any) {
	Debugf(c.tag(msg), args...)
}

// Infof logs a message with INFO severity under this component.
func (c Component) Infof(msg string, args ...any) {
	Infof(c.tag(msg), args...)
}

// Warnf logs a message with WARNING severity under this component.
func (c Component) Warnf(msg string, args ...any) {
	Warnf(c.tag(msg), args...)
}

// Errorf logs a message with ERROR severity under this component.
func (c Component) Errorf(msg string, args ...any) {
	Errorf(c.tag(msg), args...)
}
