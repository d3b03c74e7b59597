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

package flags

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/parca-dev/binsize/pkg/rollup"
)

func TestParseBasic(t *testing.T) {
	f, custom, err := Parse([]string{"-d", "segments,sections", "-n", "5", "-s", "vm", "a.out"})
	require.NoError(t, err)
	require.Empty(t, custom)
	require.Equal(t, []string{"segments", "sections"}, f.DataSources)
	require.Equal(t, []string{"a.out"}, f.Files)
	require.Empty(t, f.BaseFiles)
	require.Equal(t, 5, f.MaxRows)
	require.Equal(t, rollup.SortByVM, f.RollupOptions().SortBy)
}

func TestParseDefaults(t *testing.T) {
	f, _, err := Parse([]string{"a.out"})
	require.NoError(t, err)
	require.Equal(t, []string{"sections"}, f.DataSources)
	require.Equal(t, 20, f.MaxRows)
	require.Equal(t, rollup.SortByBoth, f.RollupOptions().SortBy)
	require.Equal(t, 0, f.Verbose)
	require.False(t, f.CSV)
}

func TestParseBaseFileSeparator(t *testing.T) {
	f, _, err := Parse([]string{"new.bin", "also-new.bin", "--", "old.bin"})
	require.NoError(t, err)
	require.Equal(t, []string{"new.bin", "also-new.bin"}, f.Files)
	require.Equal(t, []string{"old.bin"}, f.BaseFiles)
}

func TestParseVerbosityCounter(t *testing.T) {
	f, _, err := Parse([]string{"-vvv", "a.out"})
	require.NoError(t, err)
	require.Equal(t, 3, f.Verbose)
}

func TestParseNoFiles(t *testing.T) {
	_, _, err := Parse(nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "at least one file")
}

func TestParseListSourcesNeedsNoFiles(t *testing.T) {
	f, _, err := Parse([]string{"--list-sources"})
	require.NoError(t, err)
	require.True(t, f.ListSources)
}

func TestParseNegativeRows(t *testing.T) {
	_, _, err := Parse([]string{"-n", "-2", "a.out"})
	require.Error(t, err)
}

func TestParseUnknownSortBy(t *testing.T) {
	_, _, err := Parse([]string{"-s", "sideways", "a.out"})
	require.Error(t, err)
}

func TestParseConfigFileMerges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "binsize.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
filenames: [from-config.bin]
data_sources: [segments]
max_rows_per_level: 7
sort_by: file
custom_data_sources:
  - name: bydir
    base_data_source: compileunits
    rewrites:
      - pattern: '^(\w+)/'
        replacement: $1
`), 0o600))

	f, custom, err := Parse([]string{"-c", path, "cli.bin"})
	require.NoError(t, err)
	require.Equal(t, []string{"cli.bin", "from-config.bin"}, f.Files)
	require.Equal(t, []string{"segments"}, f.DataSources)
	require.Equal(t, 7, f.MaxRows)
	require.Equal(t, rollup.SortByFile, f.RollupOptions().SortBy)
	require.Len(t, custom, 1)
	require.Equal(t, "bydir", custom[0].Name)
}
