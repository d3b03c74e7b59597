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

package binsize

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"

	"github.com/parca-dev/binsize/pkg/config"
	"github.com/parca-dev/binsize/pkg/datasource"
	"github.com/parca-dev/binsize/pkg/demangle"
	"github.com/parca-dev/binsize/pkg/inputfile"
	"github.com/parca-dev/binsize/pkg/rollup"
	"github.com/parca-dev/binsize/pkg/sink"
)

// fakeHandler plays a format parser over a synthetic 0x400-byte layout: one
// RX load segment, two sections inside it, two symbols inside .text.
type fakeHandler struct {
	grown bool // when set, .data and its bytes double
}

func (h *fakeHandler) ProcessBaseMap(s *sink.RangeSink) error {
	return s.AddRange("LOAD [RX]", 0x1000, 0x200, 0x100, 0x200)
}

func (h *fakeHandler) ProcessFile(sinks []*sink.RangeSink) error {
	for _, s := range sinks {
		switch s.DataSource() {
		case datasource.Sections:
			if err := s.AddRange(".text", 0x1000, 0x100, 0x100, 0x100); err != nil {
				return err
			}
			dataSize := uint64(0x80)
			if h.grown {
				dataSize = 0x100
			}
			if err := s.AddRange(".data", 0x1100, dataSize, 0x200, dataSize); err != nil {
				return err
			}
		case datasource.Symbols:
			if err := s.AddVMRange(0x1000, 0x80, "foo"); err != nil {
				return err
			}
			if err := s.AddVMRange(0x1080, 0x80, "bar"); err != nil {
				return err
			}
		default:
		}
	}
	return nil
}

func tempInput(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, make([]byte, 0x400), 0o600))
	return path
}

func fakeProfiler(t *testing.T, grown bool) *Profiler {
	t.Helper()
	p := New(nil)
	p.open = func(log.Logger, *inputfile.File, *demangle.Demangler) (sink.FileHandler, error) {
		return &fakeHandler{grown: grown}, nil
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func findRow(rows []rollup.Row, name string) *rollup.Row {
	for i := range rows {
		if rows[i].Name == name {
			return &rows[i]
		}
	}
	return nil
}

func TestScanAndRollup(t *testing.T) {
	p := fakeProfiler(t, false)
	require.NoError(t, p.AddDataSource("sections"))
	require.NoError(t, p.AddDataSource("symbols"))
	require.NoError(t, p.AddFile(tempInput(t, "a.bin"), false))

	out, err := p.ScanAndRollup(Options{})
	require.NoError(t, err)
	require.Equal(t, []string{"sections", "symbols"}, out.SourceNames)

	// VM total is what the base map covers; file total is the whole file,
	// thanks to the [None] backstop.
	require.Equal(t, int64(0x200), out.Top.VMSize)
	require.Equal(t, int64(0x400), out.Top.FileSize)

	text := findRow(out.Top.Children, ".text")
	require.NotNil(t, text)
	require.Equal(t, int64(0x100), text.VMSize)
	require.Equal(t, int64(0x100), text.FileSize)

	foo := findRow(text.Children, "foo")
	require.NotNil(t, foo)
	require.Equal(t, int64(0x80), foo.VMSize)
	require.Equal(t, int64(0x80), foo.FileSize)

	// Bytes no section claims stay visible at the top level.
	none := findRow(out.Top.Children, "[None]")
	require.NotNil(t, none)
	require.Equal(t, int64(0x280), none.FileSize)
}

func TestScanAndRollupInputFilesPosition(t *testing.T) {
	p := fakeProfiler(t, false)
	require.NoError(t, p.AddDataSource("inputfiles"))
	require.NoError(t, p.AddDataSource("sections"))
	path := tempInput(t, "a.bin")
	require.NoError(t, p.AddFile(path, false))

	out, err := p.ScanAndRollup(Options{})
	require.NoError(t, err)
	require.Equal(t, []string{"inputfiles", "sections"}, out.SourceNames)

	file := findRow(out.Top.Children, path)
	require.NotNil(t, file, "top level should be keyed by input filename")
	require.NotNil(t, findRow(file.Children, ".text"))
}

func TestScanAndRollupMultipleFilesAccumulate(t *testing.T) {
	p := fakeProfiler(t, false)
	require.NoError(t, p.AddDataSource("sections"))
	require.NoError(t, p.AddFile(tempInput(t, "a.bin"), false))
	require.NoError(t, p.AddFile(tempInput(t, "b.bin"), false))

	out, err := p.ScanAndRollup(Options{})
	require.NoError(t, err)
	require.Equal(t, int64(0x800), out.Top.FileSize)
	text := findRow(out.Top.Children, ".text")
	require.NotNil(t, text)
	require.Equal(t, int64(0x200), text.VMSize)
}

func TestScanAndRollupDiff(t *testing.T) {
	p := fakeProfiler(t, true) // current build grew .data
	p.open = func(_ log.Logger, f *inputfile.File, _ *demangle.Demangler) (sink.FileHandler, error) {
		return &fakeHandler{grown: filepath.Base(f.Filename()) == "new.bin"}, nil
	}
	require.NoError(t, p.AddDataSource("sections"))
	require.NoError(t, p.AddFile(tempInput(t, "new.bin"), false))
	require.NoError(t, p.AddFile(tempInput(t, "old.bin"), true))

	out, err := p.ScanAndRollup(Options{})
	require.NoError(t, err)
	require.True(t, out.Top.DiffMode)

	data := findRow(out.Top.Children, ".data")
	require.NotNil(t, data)
	require.Equal(t, int64(0x80), data.VMSize)

	// .text is identical in both builds and nets out to nothing.
	require.Nil(t, findRow(out.Top.Children, ".text"))
	require.Nil(t, findRow(out.Top.Shrinking, ".text"))
}

func TestCustomDataSource(t *testing.T) {
	p := fakeProfiler(t, false)
	require.NoError(t, p.DefineCustomDataSource(config.CustomDataSource{
		Name:           "plainsections",
		BaseDataSource: "sections",
		Rewrites:       []config.Rewrite{{Pattern: `^\.(\w+)`, Replacement: "$1"}},
	}))
	require.NoError(t, p.AddDataSource("plainsections"))
	require.NoError(t, p.AddFile(tempInput(t, "a.bin"), false))

	out, err := p.ScanAndRollup(Options{})
	require.NoError(t, err)
	require.NotNil(t, findRow(out.Top.Children, "text"))
	require.Nil(t, findRow(out.Top.Children, ".text"))
}

func TestCustomDataSourceErrors(t *testing.T) {
	p := fakeProfiler(t, false)
	require.Error(t, p.DefineCustomDataSource(config.CustomDataSource{
		Name:           "x",
		BaseDataSource: "nope",
	}))

	require.NoError(t, p.DefineCustomDataSource(config.CustomDataSource{
		Name:           "first",
		BaseDataSource: "sections",
		Rewrites:       []config.Rewrite{{Pattern: "a", Replacement: "b"}},
	}))
	err := p.DefineCustomDataSource(config.CustomDataSource{
		Name:           "second",
		BaseDataSource: "first",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "custom data source")
}

func TestAddDataSourceUnknown(t *testing.T) {
	p := fakeProfiler(t, false)
	require.Error(t, p.AddDataSource("bogus"))
}

func TestScanAndRollupNoInputs(t *testing.T) {
	p := fakeProfiler(t, false)
	require.NoError(t, p.AddDataSource("sections"))
	_, err := p.ScanAndRollup(Options{})
	require.Error(t, err)
}
