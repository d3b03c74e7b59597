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

package rangemap

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// NoneLabel is the synthetic label emitted by ComputeRollup for address
// ranges that a particular map does not cover.
const NoneLabel = "[None]"

// noTranslation marks an entry without a base into the other domain.
const noTranslation = math.MaxUint64

// ErrOverflow is returned when range arithmetic would wrap around.
var ErrOverflow = errors.New("integer overflow")

// Entry is a labelled half-open interval [Start, End).
type Entry struct {
	Start uint64
	End   uint64
	Label string

	// otherStart is the address in the opposite domain (VM vs file)
	// corresponding to Start, or noTranslation.
	otherStart uint64
}

// HasTranslation reports whether the entry carries a base into the other
// domain.
func (e *Entry) HasTranslation() bool {
	return e.otherStart != noTranslation
}

// Translate maps addr, which must lie inside the entry, into the other
// domain.
func (e *Entry) Translate(addr uint64) uint64 {
	return addr - e.Start + e.otherStart
}

// translateAndTrim clips [addr, end) against the entry and translates the
// clipped start. Returns false when the clipped range is empty or the entry
// has no translation.
func (e *Entry) translateAndTrim(addr, end uint64) (uint64, uint64, bool) {
	addr = max(addr, e.Start)
	end = min(end, e.End)
	if addr >= end || !e.HasTranslation() {
		return 0, 0, false
	}
	return e.Translate(addr), end - addr, true
}

// RangeMap maps half-open [start, end) address ranges to labels. Entries
// never overlap; insertion is first-writer-wins, with later additions clipped
// to the uncovered gaps. Each entry may carry a translation base into a
// second address domain (VM addresses vs file offsets).
type RangeMap struct {
	logger  log.Logger
	entries []Entry // ascending by Start, non-overlapping
}

// New returns an empty RangeMap. Overlap conflicts are reported on logger at
// debug level.
func New(logger log.Logger) *RangeMap {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &RangeMap{logger: logger}
}

// Entries returns the underlying entry slice, ascending by start address.
// The caller must not modify it.
func (m *RangeMap) Entries() []Entry {
	return m.entries
}

// findContaining returns the index of the entry containing addr, or -1.
func (m *RangeMap) findContaining(addr uint64) int {
	i := sort.Search(len(m.entries), func(i int) bool {
		return m.entries[i].Start > addr
	})
	if i > 0 && addr < m.entries[i-1].End {
		return i - 1
	}
	return -1
}

// findContainingOrAfter returns the index of the entry containing addr, or
// of the first entry starting after it (possibly len(entries)).
func (m *RangeMap) findContainingOrAfter(addr uint64) int {
	i := sort.Search(len(m.entries), func(i int) bool {
		return m.entries[i].Start > addr
	})
	if i > 0 && addr < m.entries[i-1].End {
		return i - 1
	}
	return i
}

// Covering returns the entry containing addr, if any.
func (m *RangeMap) Covering(addr uint64) (Entry, bool) {
	if i := m.findContaining(addr); i >= 0 {
		return m.entries[i], true
	}
	return Entry{}, false
}

// Translate maps addr into the other domain using the translation base of
// the entry covering it.
func (m *RangeMap) Translate(addr uint64) (uint64, bool) {
	i := m.findContaining(addr)
	if i < 0 || !m.entries[i].HasTranslation() {
		return 0, false
	}
	return m.entries[i].Translate(addr), true
}

// Add inserts [addr, addr+size) with the given label and no translation
// base. Sub-ranges already covered by existing entries keep their previous
// label. A zero size is a no-op.
func (m *RangeMap) Add(addr, size uint64, label string) error {
	return m.AddDual(addr, size, noTranslation, label)
}

// AddDual is Add, but also records otherAddr as the address in the opposite
// domain corresponding to addr, so that addresses inside the range can later
// be translated.
func (m *RangeMap) AddDual(addr, size, otherAddr uint64, label string) error {
	if size == 0 {
		return nil
	}
	base := addr
	end, err := checkedAdd(addr, size)
	if err != nil {
		return fmt.Errorf("range [0x%x, +0x%x): %w", addr, size, err)
	}

	i := m.findContainingOrAfter(addr)
	spliceAt := i
	var added []Entry

	for {
		// Skip over existing entries covering the current point; the
		// first writer wins.
		for i < len(m.entries) && m.entries[i].Start <= addr && addr < m.entries[i].End {
			m.warnOverlap(addr, end, label, &m.entries[i])
			addr = m.entries[i].End
			i++
		}

		if addr >= end {
			break
		}

		thisEnd := end
		if i < len(m.entries) && end > m.entries[i].Start {
			thisEnd = m.entries[i].Start
			m.warnOverlap(addr, end, label, &m.entries[i])
		}

		var other uint64 = noTranslation
		if otherAddr != noTranslation {
			other = addr - base + otherAddr
		}
		added = append(added, Entry{Start: addr, End: thisEnd, Label: label, otherStart: other})
		addr = thisEnd
	}

	if len(added) == 0 {
		return nil
	}
	m.splice(spliceAt, i, added)
	return nil
}

// splice merges added (sorted, within the gaps of entries[lo:hi]) into the
// entry slice.
func (m *RangeMap) splice(lo, hi int, added []Entry) {
	merged := make([]Entry, 0, len(m.entries)+len(added))
	merged = append(merged, m.entries[:lo]...)
	j, k := lo, 0
	for j < hi || k < len(added) {
		if k == len(added) || (j < hi && m.entries[j].Start < added[k].Start) {
			merged = append(merged, m.entries[j])
			j++
		} else {
			merged = append(merged, added[k])
			k++
		}
	}
	merged = append(merged, m.entries[hi:]...)
	m.entries = merged
}

func (m *RangeMap) warnOverlap(addr, end uint64, label string, existing *Entry) {
	level.Debug(m.logger).Log(
		"msg", "range conflicts with existing mapping",
		"range", fmt.Sprintf("[0x%x, 0x%x)", addr, end),
		"label", label,
		"existing_range", fmt.Sprintf("[0x%x, 0x%x)", existing.Start, existing.End),
		"existing_label", existing.Label,
	)
}

// AddRangeWithTranslation inserts [addr, addr+size) into m, and projects the
// range through translator (a map over the same domain as m, populated with
// AddDual) into other, which lives in the opposite domain.
//
// In most cases the inserted range does not span entries of the translator
// (a symbol never spans sections), but some do: an archive member in the
// file domain can span several section mappings. Each overlapped translator
// entry contributes one clipped range to other.
func (m *RangeMap) AddRangeWithTranslation(addr, size uint64, label string, translator *RangeMap, other *RangeMap) error {
	if size == 0 {
		return nil
	}
	if err := m.Add(addr, size, label); err != nil {
		return err
	}
	end, err := checkedAdd(addr, size)
	if err != nil {
		return fmt.Errorf("range [0x%x, +0x%x): %w", addr, size, err)
	}

	for i := translator.findContainingOrAfter(addr); i < len(translator.entries) && translator.entries[i].Start < end; i++ {
		if otherAddr, otherSize, ok := translator.entries[i].translateAndTrim(addr, end); ok {
			level.Debug(m.logger).Log(
				"msg", "translated range",
				"label", label,
				"range", fmt.Sprintf("[0x%x, +0x%x)", otherAddr, otherSize),
			)
			if err := other.Add(otherAddr, otherSize, label); err != nil {
				return err
			}
		}
	}
	return nil
}

// ComputeRollup iterates over all maps in parallel, emitting every maximal
// interval [start, end) over which the per-map labels are constant:
//
//	-----  -----  -----             ---------------
//	  |      |      1                    A,X,1
//	  |      X    -----             ---------------
//	  |      |      |                    A,X,2
//	  A    -----    |               ---------------
//	  |      |      |                      |
//	  |      |      2      ----->          |
//	  |      Y      |                    A,Y,2
//	  |      |      |                      |
//	-----    |      |               ---------------
//	  B      |      |                    B,Y,2
//	-----    |    -----             ---------------
//	         |
//	       -----
//
// The i-th key is map i's label, or NoneLabel where map i has no entry.
// filename is spliced into the key tuple at index filenamePos (-1 to omit).
// Intervals where every map yields NoneLabel are not emitted. The keys slice
// is reused between calls to f and must not be retained.
func ComputeRollup(maps []*RangeMap, filename string, filenamePos int, f func(keys []string, start, end uint64) error) error {
	cur := uint64(math.MaxUint64)
	iters := make([]int, len(maps))
	for _, rm := range maps {
		if len(rm.entries) > 0 {
			cur = min(cur, rm.entries[0].Start)
		}
	}
	if cur == math.MaxUint64 {
		return nil
	}

	keys := make([]string, 0, len(maps)+1)
	for {
		next := uint64(math.MaxUint64)
		haveData := false
		keys = keys[:0]

		for i, rm := range maps {
			if filenamePos == i {
				keys = append(keys, filename)
			}

			// Advance past entries ending at or before the current point.
			it := iters[i]
			for it < len(rm.entries) && rm.entries[it].End <= cur {
				it++
			}
			iters[i] = it

			if it == len(rm.entries) || rm.entries[it].Start > cur {
				keys = append(keys, NoneLabel)
				if it < len(rm.entries) {
					next = min(next, rm.entries[it].Start)
				}
			} else {
				haveData = true
				keys = append(keys, rm.entries[it].Label)
				next = min(next, rm.entries[it].End)
			}
		}
		if filenamePos == len(maps) {
			keys = append(keys, filename)
		}

		if next == math.MaxUint64 {
			return nil
		}
		if haveData {
			if err := f(keys, cur, next); err != nil {
				return err
			}
		}
		cur = next
	}
}

func checkedAdd(a, b uint64) (uint64, error) {
	if b > math.MaxUint64-a {
		return 0, ErrOverflow
	}
	return a + b, nil
}
