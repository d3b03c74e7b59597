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

package rollup

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func rowNames(rows []Row) []string {
	names := make([]string, len(rows))
	for i, r := range rows {
		names[i] = r.Name
	}
	return names
}

func TestCollapseIntoOther(t *testing.T) {
	r := New()
	for name, size := range map[string]uint64{
		"a": 100, "b": 90, "c": 80, "d": 70, "e": 60,
	} {
		require.NoError(t, r.AddSizes([]string{name}, size, true))
	}

	out, err := r.CreateOutput(Options{SortBy: SortByVM, MaxRowsPerLevel: 3})
	require.NoError(t, err)

	rows := out.Top.Children
	// c, d, e collapse into [Other] (210), which then outranks a and b.
	require.Equal(t, []string{OtherLabel, "a", "b"}, rowNames(rows))
	require.Equal(t, int64(210), rows[0].VMSize)
	require.Equal(t, int64(100), rows[1].VMSize)
	require.Equal(t, int64(90), rows[2].VMSize)

	var pct float64
	for _, row := range rows {
		pct += row.VMPercent
	}
	require.InDelta(t, 100.0, pct, 1e-9)
}

func TestCollapseRowLimitInvariant(t *testing.T) {
	r := New()
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		require.NoError(t, r.AddSizes([]string{name}, 10, false))
	}

	for _, limit := range []int{1, 2, 3, 7, 0} {
		out, err := r.CreateOutput(Options{SortBy: SortByFile, MaxRowsPerLevel: limit})
		require.NoError(t, err)
		if limit > 0 {
			require.LessOrEqual(t, len(out.Top.Children), limit, "limit %d", limit)
		} else {
			require.Len(t, out.Top.Children, 7)
		}

		var sum int64
		for _, row := range out.Top.Children {
			sum += row.FileSize
		}
		require.Equal(t, int64(70), sum, "limit %d", limit)
	}
}

func TestCollapseKeepsNone(t *testing.T) {
	r := New()
	require.NoError(t, r.AddSizes([]string{"[None]"}, 1, true))
	require.NoError(t, r.AddSizes([]string{"big"}, 1000, true))
	require.NoError(t, r.AddSizes([]string{"mid"}, 500, true))
	require.NoError(t, r.AddSizes([]string{"small"}, 100, true))

	out, err := r.CreateOutput(Options{SortBy: SortByVM, MaxRowsPerLevel: 3})
	require.NoError(t, err)

	names := rowNames(out.Top.Children)
	require.Contains(t, names, "[None]")
	require.Contains(t, names, OtherLabel)
}

func TestChildSumsMatchParent(t *testing.T) {
	r := New()
	require.NoError(t, r.AddSizes([]string{"s1", "x"}, 10, true))
	require.NoError(t, r.AddSizes([]string{"s1", "y"}, 30, true))
	require.NoError(t, r.AddSizes([]string{"s2", "x"}, 5, true))
	require.NoError(t, r.AddSizes([]string{"s1", "x"}, 7, false))
	require.NoError(t, r.AddSizes([]string{"s2", "y"}, 9, false))

	out, err := r.CreateOutput(Options{SortBy: SortByBoth})
	require.NoError(t, err)

	var checkSums func(t *testing.T, row Row)
	checkSums = func(t *testing.T, row Row) {
		if len(row.Children) == 0 {
			return
		}
		var vm, file int64
		for _, c := range row.Children {
			vm += c.VMSize
			file += c.FileSize
		}
		require.Equal(t, row.VMSize, vm, "row %s", row.Name)
		require.Equal(t, row.FileSize, file, "row %s", row.Name)
		for _, c := range row.Children {
			checkSums(t, c)
		}
	}
	checkSums(t, out.Top)
}

func TestDiffNewAndDeleted(t *testing.T) {
	cur := New()
	require.NoError(t, cur.AddSizes([]string{"X"}, 500, true))
	base := New()
	require.NoError(t, base.AddSizes([]string{"Y"}, 300, true))

	cur.Subtract(base)
	out, err := cur.CreateDiffOutput(base, Options{SortBy: SortByVM})
	require.NoError(t, err)

	require.True(t, out.Top.DiffMode)

	require.Equal(t, []string{"X"}, rowNames(out.Top.Children))
	x := out.Top.Children[0]
	require.Equal(t, int64(500), x.VMSize)
	require.True(t, math.IsInf(x.VMPercent, 1), "new row percent should be +Inf, got %v", x.VMPercent)

	require.Equal(t, []string{"Y"}, rowNames(out.Top.Shrinking))
	y := out.Top.Shrinking[0]
	require.Equal(t, int64(-300), y.VMSize)
	require.InDelta(t, -100.0, y.VMPercent, 1e-9)
}

func TestDiffSignBucketing(t *testing.T) {
	cur := New()
	require.NoError(t, cur.AddSizes([]string{"mixed"}, 10, true))
	require.NoError(t, cur.AddSizes([]string{"grew"}, 5, true))
	require.NoError(t, cur.AddSizes([]string{"grew"}, 5, false))

	base := New()
	require.NoError(t, base.AddSizes([]string{"mixed"}, 10, false))
	require.NoError(t, base.AddSizes([]string{"shrank"}, 5, true))
	require.NoError(t, base.AddSizes([]string{"shrank"}, 5, false))

	cur.Subtract(base)
	out, err := cur.CreateDiffOutput(base, Options{SortBy: SortByBoth})
	require.NoError(t, err)

	require.Equal(t, []string{"grew"}, rowNames(out.Top.Children))
	require.Equal(t, []string{"shrank"}, rowNames(out.Top.Shrinking))
	require.Equal(t, []string{"mixed"}, rowNames(out.Top.Mixed))
}

func TestDiffZeroNetChildDropped(t *testing.T) {
	cur := New()
	require.NoError(t, cur.AddSizes([]string{"same"}, 100, true))
	require.NoError(t, cur.AddSizes([]string{"moved"}, 10, true))
	base := New()
	require.NoError(t, base.AddSizes([]string{"same"}, 100, true))

	cur.Subtract(base)
	// "same" nets to zero in both dimensions and is dropped entirely.
	out, err := cur.CreateDiffOutput(base, Options{SortBy: SortByVM})
	require.NoError(t, err)
	require.Equal(t, []string{"moved"}, rowNames(out.Top.Children))
}

func TestSoleNonePruned(t *testing.T) {
	r := New()
	require.NoError(t, r.AddSizes([]string{"seg", "[None]"}, 10, true))
	require.NoError(t, r.AddSizes([]string{"other", ".text"}, 10, true))

	out, err := r.CreateOutput(Options{SortBy: SortByVM})
	require.NoError(t, err)

	for _, row := range out.Top.Children {
		if row.Name == "seg" {
			require.Empty(t, row.Children, "sole [None] child should be pruned")
		}
		if row.Name == "other" {
			require.Equal(t, []string{".text"}, rowNames(row.Children))
		}
	}
}

func TestTopLevelNoneSurvives(t *testing.T) {
	r := New()
	require.NoError(t, r.AddSizes([]string{"[None]"}, 10, true))

	out, err := r.CreateOutput(Options{SortBy: SortByVM})
	require.NoError(t, err)
	require.Equal(t, []string{"[None]"}, rowNames(out.Top.Children))
}

func TestSoleChildWithParentNamePruned(t *testing.T) {
	r := New()
	require.NoError(t, r.AddSizes([]string{".rodata", ".rodata"}, 10, false))
	require.NoError(t, r.AddSizes([]string{".text", "main"}, 10, false))

	out, err := r.CreateOutput(Options{SortBy: SortByFile})
	require.NoError(t, err)
	for _, row := range out.Top.Children {
		if row.Name == ".rodata" {
			require.Empty(t, row.Children)
		}
		if row.Name == ".text" {
			require.Equal(t, []string{"main"}, rowNames(row.Children))
		}
	}
}

func TestSortByDimensions(t *testing.T) {
	r := New()
	require.NoError(t, r.AddSizes([]string{"vmheavy"}, 100, true))
	require.NoError(t, r.AddSizes([]string{"vmheavy"}, 1, false))
	require.NoError(t, r.AddSizes([]string{"fileheavy"}, 1, true))
	require.NoError(t, r.AddSizes([]string{"fileheavy"}, 100, false))

	out, err := r.CreateOutput(Options{SortBy: SortByVM})
	require.NoError(t, err)
	require.Equal(t, []string{"vmheavy", "fileheavy"}, rowNames(out.Top.Children))

	out, err = r.CreateOutput(Options{SortBy: SortByFile})
	require.NoError(t, err)
	require.Equal(t, []string{"fileheavy", "vmheavy"}, rowNames(out.Top.Children))

	// Ties under SortByBoth break by ascending name.
	out, err = r.CreateOutput(Options{SortBy: SortByBoth})
	require.NoError(t, err)
	require.Equal(t, []string{"fileheavy", "vmheavy"}, rowNames(out.Top.Children))
}
