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

package machofile

import (
	"debug/macho"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/go-kit/log"

	"github.com/parca-dev/binsize/pkg/datasource"
	"github.com/parca-dev/binsize/pkg/demangle"
	"github.com/parca-dev/binsize/pkg/inputfile"
	"github.com/parca-dev/binsize/pkg/sink"
)

// ErrUnrecognized is returned by NewHandler when the input is not a Mach-O
// file.
var ErrUnrecognized = errors.New("not a Mach-O file")

const (
	flagZerofill   = 0x1
	flagGBZerofill = 0xc
	// Stabs debugging symbols carry no size information.
	nStab = 0xe0
)

// Handler attributes the bytes of Mach-O executables and dylibs.
type Handler struct {
	logger    log.Logger
	file      *inputfile.File
	demangler *demangle.Demangler
	macho     *macho.File
}

// NewHandler probes the input's magic and returns a handler when it is a
// Mach-O file. Fat/universal binaries are not supported.
func NewHandler(logger log.Logger, f *inputfile.File, d *demangle.Demangler) (*Handler, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	magic := make([]byte, 4)
	if _, err := f.ReadAt(magic, 0); err != nil {
		return nil, fmt.Errorf("%s: %w", f.Filename(), ErrUnrecognized)
	}
	switch string(magic) {
	case "\xfe\xed\xfa\xce", "\xfe\xed\xfa\xcf", "\xce\xfa\xed\xfe", "\xcf\xfa\xed\xfe":
	default:
		return nil, fmt.Errorf("%s: %w", f.Filename(), ErrUnrecognized)
	}

	mf, err := macho.NewFile(io.NewSectionReader(f.ReaderAt(), 0, int64(f.Size())))
	if err != nil {
		return nil, fmt.Errorf("malformed Mach-O file %q: %w", f.Filename(), err)
	}
	return &Handler{logger: logger, file: f, demangler: d, macho: mf}, nil
}

// ProcessBaseMap seeds the translation base from the segment load commands.
func (h *Handler) ProcessBaseMap(s *sink.RangeSink) error {
	return h.readSegments(s)
}

// ProcessFile pushes ranges for each selected data source.
func (h *Handler) ProcessFile(sinks []*sink.RangeSink) error {
	for _, s := range sinks {
		var err error
		switch s.DataSource() {
		case datasource.Segments:
			err = h.readSegments(s)
		case datasource.Sections:
			err = h.readSections(s)
		case datasource.Symbols, datasource.CppSymbols, datasource.CppSymbolsStripped:
			err = h.readSymbols(s)
		default:
			err = fmt.Errorf("unsupported data source %s for Mach-O files", s.DataSource())
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) readSegments(s *sink.RangeSink) error {
	for _, l := range h.macho.Loads {
		seg, ok := l.(*macho.Segment)
		if !ok {
			continue
		}
		if err := s.AddRange(seg.Name, seg.Addr, seg.Memsz, seg.Offset, seg.Filesz); err != nil {
			return err
		}
	}
	// The header and load commands themselves.
	hdrSize := uint64(28)
	if h.macho.Magic == macho.Magic64 {
		hdrSize = 32
	}
	if err := s.AddFileRange("[Mach-O Headers]", 0, hdrSize+uint64(h.macho.Cmdsz)); err != nil {
		return err
	}
	return s.AddFileRange("[Unmapped]", 0, h.file.Size())
}

func (h *Handler) readSections(s *sink.RangeSink) error {
	for _, sec := range h.macho.Sections {
		filesize := sec.Size
		switch sec.Flags & 0xff {
		case flagZerofill, flagGBZerofill:
			filesize = 0
		}
		name := sec.Seg + "," + sec.Name
		if err := s.AddRange(name, sec.Addr, sec.Size, uint64(sec.Offset), filesize); err != nil {
			return err
		}
	}
	return nil
}

// readSymbols walks the symbol table. Mach-O symbols carry no size, so each
// symbol extends to the next symbol's address, clipped to the end of its
// section.
func (h *Handler) readSymbols(s *sink.RangeSink) error {
	if h.macho.Symtab == nil {
		return nil
	}
	src := s.DataSource()

	var syms []macho.Symbol
	for _, sym := range h.macho.Symtab.Syms {
		if sym.Type&nStab != 0 || sym.Sect == 0 || int(sym.Sect) > len(h.macho.Sections) {
			continue
		}
		syms = append(syms, sym)
	}
	sort.Slice(syms, func(i, j int) bool { return syms[i].Value < syms[j].Value })

	for i, sym := range syms {
		sec := h.macho.Sections[sym.Sect-1]
		end := sec.Addr + sec.Size
		if i+1 < len(syms) && syms[i+1].Value < end {
			end = syms[i+1].Value
		}
		if end <= sym.Value {
			continue
		}

		var name string
		if src == datasource.CppSymbols || src == datasource.CppSymbolsStripped {
			name = h.demangler.Demangle(sym.Name)
			if src == datasource.CppSymbolsStripped {
				name = datasource.StripName(name)
			}
		} else {
			name = strings.TrimPrefix(sym.Name, "_")
		}

		if err := s.AddVMRangeAllowAlias(sym.Value, end-sym.Value, name); err != nil {
			return err
		}
	}
	return nil
}
