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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMungeEmpty(t *testing.T) {
	m := New()
	require.True(t, m.IsEmpty())
	require.Equal(t, "foo", m.Munge("foo"))
}

func TestMungeFirstMatchWins(t *testing.T) {
	m := New()
	require.NoError(t, m.AddRewrite(`^src/(\w+)/.*`, "dir_$1"))
	require.NoError(t, m.AddRewrite(`^src/.*`, "src"))
	require.False(t, m.IsEmpty())

	require.Equal(t, "dir_core", m.Munge("src/core/buffer.cc"))
	// A later rewrite is only reached when the earlier ones don't match.
	require.NoError(t, m.AddRewrite(`^third_party/.*`, "vendored"))
	require.Equal(t, "vendored", m.Munge("third_party/zlib/inflate.c"))
}

func TestMungeNoMatchPassesThrough(t *testing.T) {
	m := New()
	require.NoError(t, m.AddRewrite(`^src/(\w+)`, "$1"))
	require.Equal(t, "lib/foo.c", m.Munge("lib/foo.c"))
}

func TestMungeSyntheticLabelsUntouched(t *testing.T) {
	m := New()
	require.NoError(t, m.AddRewrite(`.*`, "everything"))
	require.Equal(t, "[Other]", m.Munge("[Other]"))
	require.Equal(t, "[AR Headers]", m.Munge("[AR Headers]"))
	require.Equal(t, "everything", m.Munge("real_symbol"))
}

func TestAddRewriteBadPattern(t *testing.T) {
	m := New()
	require.Error(t, m.AddRewrite(`(`, "x"))
}
