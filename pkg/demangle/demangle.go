// Copyright 2022-2024 The Parca Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package demangle

import (
	"strings"

	"github.com/ianlancetaylor/demangle"
)

// Demangler turns mangled C++ symbol names into readable ones. It is an
// in-process replacement for piping symbols through c++filt: same
// string-in, string-out contract, and symbols that aren't mangled C++
// names pass through unchanged.
type Demangler struct{}

// New returns a Demangler.
func New() *Demangler {
	return &Demangler{}
}

// Demangle returns the demangled form of symbol, or symbol itself when it is
// not a mangled C++ name. A single leading underscore in front of the _Z
// prefix (Mach-O convention) is tolerated.
func (d *Demangler) Demangle(symbol string) string {
	if strings.HasPrefix(symbol, "__Z") {
		if out := demangle.Filter(symbol[1:]); out != symbol[1:] {
			return out
		}
	}
	return demangle.Filter(symbol)
}
