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

package elffile

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"

	"github.com/go-kit/log"

	"github.com/parca-dev/binsize/pkg/datasource"
	"github.com/parca-dev/binsize/pkg/demangle"
	"github.com/parca-dev/binsize/pkg/inputfile"
	"github.com/parca-dev/binsize/pkg/sink"
)

// ErrUnrecognized is returned by NewHandler when the input is neither an
// ELF file nor an ar archive.
var ErrUnrecognized = errors.New("not an ELF or archive file")

var elfMagic = []byte("\x7fELF")

// Handler attributes the bytes of ELF executables, shared objects, .o
// object files and .a archives.
type Handler struct {
	logger    log.Logger
	file      *inputfile.File
	demangler *demangle.Demangler

	isArchive bool
	// Parsed eagerly for non-archive inputs; archive members are parsed
	// per walk.
	elf *elf.File
}

// NewHandler probes the input's magic and returns a handler when it is an
// ELF file or an ar archive.
func NewHandler(logger log.Logger, f *inputfile.File, d *demangle.Demangler) (*Handler, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	magic := make([]byte, 8)
	if _, err := f.ReadAt(magic, 0); err != nil {
		return nil, fmt.Errorf("%s: %w", f.Filename(), ErrUnrecognized)
	}

	h := &Handler{logger: logger, file: f, demangler: d}
	switch {
	case string(magic[:4]) == string(elfMagic):
		ef, err := elf.NewFile(io.NewSectionReader(f.ReaderAt(), 0, int64(f.Size())))
		if err != nil {
			return nil, fmt.Errorf("malformed ELF file %q: %w", f.Filename(), err)
		}
		h.elf = ef
	case string(magic) == arMagic:
		h.isArchive = true
	default:
		return nil, fmt.Errorf("%s: %w", f.Filename(), ErrUnrecognized)
	}
	return h, nil
}

// isObjectFile reports whether the input has no real segments: archives and
// relocatable objects.
func (h *Handler) isObjectFile() bool {
	return h.isArchive || h.elf.Type == elf.ET_REL
}

// elfObject is one ELF blob inside the input: the whole file, or one
// archive member at offset off.
type elfObject struct {
	f    *elf.File
	name string
	off  uint64
	size uint64
	// indexBase offsets this object's section indexes so that packed
	// object-file addresses stay unique across archive members.
	indexBase uint64
}

// forEachELF invokes fn for every ELF object in the input, walking archive
// members when needed. The synthetic header and [Unmapped] coverage is added
// after fn so that fn's annotations take precedence.
func (h *Handler) forEachELF(s *sink.RangeSink, fn func(obj *elfObject) error) error {
	if !h.isArchive {
		obj := &elfObject{f: h.elf, name: h.file.Filename(), off: 0, size: h.file.Size()}
		if err := fn(obj); err != nil {
			return err
		}
		return h.finishELFObject(s, obj)
	}

	ar := newArReader(h.file.ReaderAt(), h.file.Size())
	if err := s.AddFileRange("[AR Headers]", 0, arMagicSize); err != nil {
		return err
	}

	indexBase := uint64(0)
	for {
		m, err := ar.next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("malformed archive %q: %w", h.file.Filename(), err)
		}
		if err := s.AddFileRange("[AR Headers]", m.headerOff, arHeaderSize); err != nil {
			return err
		}

		switch m.kind {
		case memberNormal:
			ef, err := elf.NewFile(io.NewSectionReader(h.file.ReaderAt(), int64(m.off), int64(m.size)))
			if err != nil {
				if err := s.AddFileRange("[AR Non-ELF Member File]", m.off, m.size); err != nil {
					return err
				}
				continue
			}
			obj := &elfObject{f: ef, name: m.name, off: m.off, size: m.size, indexBase: indexBase}
			if err := fn(obj); err != nil {
				return err
			}
			if err := h.finishELFObject(s, obj); err != nil {
				return err
			}
			indexBase += uint64(len(ef.Sections))
		case memberSymbolTable:
			if err := s.AddFileRange("[AR Symbol Table]", m.off, m.size); err != nil {
				return err
			}
		case memberLongNames:
			if err := s.AddFileRange("[AR Headers]", m.off, m.size); err != nil {
				return err
			}
		}
	}
}

// finishELFObject covers the object's header regions and backstops the rest
// of its extent as [Unmapped].
func (h *Handler) finishELFObject(s *sink.RangeSink, obj *elfObject) error {
	regions, err := readHeaderRegions(h.file.ReaderAt(), obj.off, obj.size, uint64(len(obj.f.Sections)))
	if err != nil {
		return fmt.Errorf("malformed ELF file %q: %w", obj.name, err)
	}
	for _, r := range regions {
		if err := s.AddFileRange("[ELF Headers]", r.off, r.size); err != nil {
			return err
		}
	}
	return s.AddFileRange("[Unmapped]", obj.off, obj.size)
}

// ProcessBaseMap seeds the translation base: load segments for linked
// binaries, synthetic flag-based segments for objects and archives, which
// have none.
func (h *Handler) ProcessBaseMap(s *sink.RangeSink) error {
	if h.isObjectFile() {
		return h.readSections(s, reportByFlags)
	}
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
			err = h.readSections(s, reportBySectionName)
		case datasource.Symbols, datasource.CppSymbols, datasource.CppSymbolsStripped:
			err = h.readSymbols(s)
		case datasource.ArchiveMembers:
			err = h.readSections(s, reportByFilename)
		case datasource.CompileUnits:
			err = h.readCompileUnits(s)
		case datasource.Inlines:
			err = h.readInlines(s)
		default:
			err = fmt.Errorf("unsupported data source %s for ELF files", s.DataSource())
		}
		if err != nil {
			return err
		}
	}
	return nil
}

type reportSectionsBy int

const (
	reportBySectionName reportSectionsBy = iota
	reportByFlags
	reportByFilename
)

func (h *Handler) readSegments(s *sink.RangeSink) error {
	if h.isObjectFile() {
		// Object files have no segments, but synthetic ones built from
		// section flags make a far more readable report than raw
		// sections under -ffunction-sections.
		return h.readSections(s, reportByFlags)
	}

	return h.forEachELF(s, func(obj *elfObject) error {
		for _, p := range obj.f.Progs {
			if p.Type != elf.PT_LOAD {
				continue
			}
			name := "LOAD ["
			if p.Flags&elf.PF_R != 0 {
				name += "R"
			}
			if p.Flags&elf.PF_W != 0 {
				name += "W"
			}
			if p.Flags&elf.PF_X != 0 {
				name += "X"
			}
			name += "]"
			if err := s.AddRange(name, p.Vaddr, p.Memsz, obj.off+p.Off, p.Filesz); err != nil {
				return err
			}
		}
		return nil
	})
}

func (h *Handler) readSections(s *sink.RangeSink, reportBy reportSectionsBy) error {
	isObj := h.isObjectFile()
	return h.forEachELF(s, func(obj *elfObject) error {
		for i, sec := range obj.f.Sections {
			if i == 0 || sec.Type == elf.SHT_NULL {
				continue
			}

			filesize := sec.FileSize
			if sec.Type == elf.SHT_NOBITS {
				filesize = 0
			}
			vmsize := sec.Size
			if sec.Flags&elf.SHF_ALLOC == 0 {
				vmsize = 0
			}
			fullAddr := toVMAddr(sec.Addr, obj.indexBase+uint64(i), isObj)

			var name string
			switch reportBy {
			case reportByFlags:
				name = sectionFlagsName(sec.Flags)
			case reportByFilename:
				name = obj.name
			default:
				name = sec.Name
			}
			if err := s.AddRange(name, fullAddr, vmsize, obj.off+sec.Offset, filesize); err != nil {
				return err
			}
		}

		if reportBy == reportByFilename {
			// Attribute the member's unannotated bytes to it too.
			return s.AddFileRange(obj.name, obj.off, obj.size)
		}
		return nil
	})
}

func sectionFlagsName(flags elf.SectionFlag) string {
	name := "Section ["
	if flags&elf.SHF_ALLOC != 0 {
		name += "A"
	}
	if flags&elf.SHF_WRITE != 0 {
		name += "W"
	}
	if flags&elf.SHF_EXECINSTR != 0 {
		name += "X"
	}
	return name + "]"
}

func (h *Handler) readSymbols(s *sink.RangeSink) error {
	isObj := h.isObjectFile()
	src := s.DataSource()
	return h.forEachELF(s, func(obj *elfObject) error {
		syms, err := obj.f.Symbols()
		if errors.Is(err, elf.ErrNoSymbols) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading symbols of %q: %w", obj.name, err)
		}

		for _, sym := range syms {
			t := elf.ST_TYPE(sym.Info)
			if t != elf.STT_FUNC && t != elf.STT_OBJECT {
				continue
			}
			if sym.Size == 0 {
				continue
			}

			name := sym.Name
			if src == datasource.CppSymbols || src == datasource.CppSymbolsStripped {
				name = h.demangler.Demangle(name)
				if src == datasource.CppSymbolsStripped {
					name = datasource.StripName(name)
				}
			}

			fullAddr := toVMAddr(sym.Value, obj.indexBase+uint64(sym.Section), isObj)
			if err := s.AddVMRangeAllowAlias(fullAddr, sym.Size, name); err != nil {
				return err
			}
		}
		return nil
	})
}

// toVMAddr disambiguates object-file addresses, which are relative to the
// section they live in: 24 bits of section index (plenty even with
// -ffunction-sections) above 40 bits of address (up to 1TB sections).
func toVMAddr(addr, ndx uint64, isObject bool) uint64 {
	if isObject {
		return ndx<<40 | addr
	}
	return addr
}

func (h *Handler) checkNotObject(s *sink.RangeSink) error {
	if h.isObjectFile() {
		return fmt.Errorf("can't use data source %s on object files (only binaries and shared libraries)", s.DataSource())
	}
	return nil
}
