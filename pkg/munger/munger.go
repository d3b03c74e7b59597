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

package munger

import (
	"fmt"
	"regexp"
	"strings"
)

// NameMunger rewrites the labels entering a data source's range sink
// according to the user's configuration, e.g. collapsing per-directory
// source paths into one bucket.
type NameMunger struct {
	rewrites []rewrite
}

type rewrite struct {
	re          *regexp.Regexp
	replacement string
}

// New returns a munger with no rewrites, which passes names through
// unchanged.
func New() *NameMunger {
	return &NameMunger{}
}

// AddRewrite appends a pattern/replacement pair. The replacement uses
// regexp.Expand syntax ($1, ${name}). Rewrites are tried in the order they
// were added; only the first matching one applies.
func (m *NameMunger) AddRewrite(pattern, replacement string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("compiling rewrite pattern %q: %w", pattern, err)
	}
	m.rewrites = append(m.rewrites, rewrite{re: re, replacement: replacement})
	return nil
}

// IsEmpty reports whether the munger has no rewrites.
func (m *NameMunger) IsEmpty() bool {
	return len(m.rewrites) == 0
}

// Munge applies the first matching rewrite to name. Names starting with '['
// are synthetic labels ([Other], [None], [Unmapped], ...) and are returned
// unchanged, as is a name no rewrite matches.
func (m *NameMunger) Munge(name string) string {
	if strings.HasPrefix(name, "[") {
		return name
	}
	for _, rw := range m.rewrites {
		idx := rw.re.FindStringSubmatchIndex(name)
		if idx == nil {
			continue
		}
		return string(rw.re.ExpandString(nil, rw.replacement, name, idx))
	}
	return name
}
