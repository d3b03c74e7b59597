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
	"debug/dwarf"
	"errors"
	"fmt"
	"io"

	"github.com/parca-dev/binsize/pkg/sink"
)

// readCompileUnits attributes VM bytes to the translation unit they were
// compiled from, using the compile units' address ranges from .debug_info.
func (h *Handler) readCompileUnits(s *sink.RangeSink) error {
	if err := h.checkNotObject(s); err != nil {
		return err
	}
	d, err := h.elf.DWARF()
	if err != nil {
		return fmt.Errorf("reading debug info of %q: %w", h.file.Filename(), err)
	}

	r := d.Reader()
	for {
		entry, err := r.Next()
		if err != nil {
			return fmt.Errorf("reading debug info of %q: %w", h.file.Filename(), err)
		}
		if entry == nil {
			return nil
		}
		if entry.Tag != dwarf.TagCompileUnit {
			r.SkipChildren()
			continue
		}

		name, _ := entry.Val(dwarf.AttrName).(string)
		if name == "" {
			r.SkipChildren()
			continue
		}

		ranges, err := d.Ranges(entry)
		if err != nil {
			return fmt.Errorf("reading ranges of compile unit %q: %w", name, err)
		}
		for _, rg := range ranges {
			if rg[1] <= rg[0] {
				continue
			}
			if err := s.AddVMRange(rg[0], rg[1]-rg[0], name); err != nil {
				return err
			}
		}
		r.SkipChildren()
	}
}

// readInlines attributes VM bytes to the source file and line they were
// generated from, per the .debug_line tables. With inlining this is the
// inlined-from location, which is the interesting one for size.
func (h *Handler) readInlines(s *sink.RangeSink) error {
	if err := h.checkNotObject(s); err != nil {
		return err
	}
	d, err := h.elf.DWARF()
	if err != nil {
		return fmt.Errorf("reading debug info of %q: %w", h.file.Filename(), err)
	}

	r := d.Reader()
	for {
		entry, err := r.Next()
		if err != nil {
			return fmt.Errorf("reading debug info of %q: %w", h.file.Filename(), err)
		}
		if entry == nil {
			return nil
		}
		if entry.Tag != dwarf.TagCompileUnit {
			r.SkipChildren()
			continue
		}

		lr, err := d.LineReader(entry)
		if err != nil {
			return fmt.Errorf("reading line table: %w", err)
		}
		if lr == nil {
			r.SkipChildren()
			continue
		}

		var cur, prev dwarf.LineEntry
		havePrev := false
		for {
			err := lr.Next(&cur)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return fmt.Errorf("reading line table: %w", err)
			}
			if havePrev && !prev.EndSequence && prev.File != nil && cur.Address > prev.Address {
				label := fmt.Sprintf("%s:%d", prev.File.Name, prev.Line)
				if err := s.AddVMRangeIgnoreDuplicate(prev.Address, cur.Address-prev.Address, label); err != nil {
					return err
				}
			}
			prev = cur
			havePrev = true
		}
		r.SkipChildren()
	}
}
