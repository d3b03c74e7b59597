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
	"fmt"
	"sort"

	"github.com/parca-dev/binsize/pkg/rangemap"
)

const (
	// OtherLabel is the synthetic row holding the sum of rows dropped by
	// the per-level row limit.
	OtherLabel = "[Other]"
	// UnmappedLabel marks file bytes no segment covers.
	UnmappedLabel = "[Unmapped]"
	// TotalLabel names the root row of an output.
	TotalLabel = "TOTAL"
)

// SortBy selects the size dimension used to rank rows.
type SortBy int

const (
	SortByBoth SortBy = iota // max(|vm|, |file|)
	SortByVM
	SortByFile
)

// Options configure the transformation of a Rollup into an Output.
type Options struct {
	SortBy SortBy
	// MaxRowsPerLevel bounds the rows emitted per level, [Other]
	// included. 0 means unlimited.
	MaxRowsPerLevel int
}

// Row is one presentable output row. In diff mode Children holds entries
// that grew, and Shrinking/Mixed the entries that shrank or moved in
// opposite directions per dimension; otherwise all children are in Children.
type Row struct {
	Name        string
	VMSize      int64
	FileSize    int64
	VMPercent   float64
	FilePercent float64
	DiffMode    bool

	Children  []Row
	Shrinking []Row
	Mixed     []Row
}

// Output is rollup data after output massaging: excess rows collapsed into
// [Other], rows sorted, percentages computed. Top is the TOTAL row.
type Output struct {
	Top         Row
	SourceNames []string
}

// CreateOutput collapses the rollup into its presentable form.
func (r *Rollup) CreateOutput(opts Options) (*Output, error) {
	return r.createOutput(nil, opts)
}

// CreateDiffOutput collapses a subtracted rollup against the baseline it was
// subtracted with. Percentages are computed relative to the baseline, and
// children are bucketed into growing/shrinking/mixed.
func (r *Rollup) CreateDiffOutput(base *Rollup, opts Options) (*Output, error) {
	return r.createOutput(base, opts)
}

var emptyRollup = New()

func (r *Rollup) createOutput(base *Rollup, opts Options) (*Output, error) {
	out := &Output{Top: Row{
		Name:        TotalLabel,
		VMSize:      r.vmTotal,
		FileSize:    r.fileTotal,
		VMPercent:   100,
		FilePercent: 100,
	}}
	if err := r.createRows(&out.Top, base, opts, true); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Rollup) createRows(row *Row, base *Rollup, opts Options, isTop bool) error {
	if base != nil {
		row.VMPercent = percent(r.vmTotal, base.vmTotal)
		row.FilePercent = percent(r.fileTotal, base.fileTotal)
		row.DiffMode = true
	}

	for name, child := range r.children {
		if child.vmTotal == 0 && child.fileTotal == 0 {
			continue
		}
		bucket := &row.Children
		vmSign, fileSign := signOf(child.vmTotal), signOf(child.fileTotal)
		if vmSign+fileSign < 0 {
			bucket = &row.Shrinking
		} else if vmSign != fileSign && vmSign+fileSign == 0 {
			bucket = &row.Mixed
		}
		*bucket = append(*bucket, Row{
			Name:     name,
			VMSize:   child.vmTotal,
			FileSize: child.fileTotal,
		})
	}

	if err := r.computeRows(row, &row.Children, base, opts, isTop); err != nil {
		return err
	}
	if err := r.computeRows(row, &row.Shrinking, base, opts, isTop); err != nil {
		return err
	}
	return r.computeRows(row, &row.Mixed, base, opts, isTop)
}

func (r *Rollup) computeRows(parent *Row, rowsp *[]Row, base *Rollup, opts Options, isTop bool) error {
	rows := *rowsp

	// A solitary "[None]" or "[Unmapped]" row conveys nothing except at
	// the top level, and neither does a sole child that carries exactly
	// the parent's name.
	if !isTop && len(rows) == 1 &&
		(rows[0].Name == rangemap.NoneLabel || rows[0].Name == UnmappedLabel) {
		*rowsp = nil
		return nil
	}
	if len(rows) == 1 && rows[0].Name == parent.Name {
		*rowsp = nil
		return nil
	}
	if len(rows) == 0 {
		return nil
	}

	rank := func(row *Row) int64 {
		switch opts.SortBy {
		case SortByVM:
			return abs64(row.VMSize)
		case SortByFile:
			return abs64(row.FileSize)
		default:
			return max(abs64(row.VMSize), abs64(row.FileSize))
		}
	}

	// First sort decides what goes into [Other]; "[None]" ranks ahead of
	// everything so it is never collapsed away.
	sort.SliceStable(rows, func(i, j int) bool {
		ni, nj := rows[i].Name != rangemap.NoneLabel, rows[j].Name != rangemap.NoneLabel
		if ni != nj {
			return !ni
		}
		ri, rj := rank(&rows[i]), rank(&rows[j])
		if ri != rj {
			return ri > rj
		}
		return rows[i].Name < rows[j].Name
	})

	otherRollup := New()
	otherBase := New()
	if opts.MaxRowsPerLevel > 0 && len(rows) > opts.MaxRowsPerLevel {
		other := Row{Name: OtherLabel}
		for i := opts.MaxRowsPerLevel - 1; i < len(rows); i++ {
			if err := checkedAdd(&other.VMSize, rows[i].VMSize); err != nil {
				return err
			}
			if err := checkedAdd(&other.FileSize, rows[i].FileSize); err != nil {
				return err
			}
			if base != nil {
				if bc := base.children[rows[i].Name]; bc != nil {
					if err := checkedAdd(&otherBase.vmTotal, bc.vmTotal); err != nil {
						return err
					}
					if err := checkedAdd(&otherBase.fileTotal, bc.fileTotal); err != nil {
						return err
					}
				}
			}
		}
		rows = rows[:opts.MaxRowsPerLevel-1]
		if other.VMSize != 0 || other.FileSize != 0 {
			otherRollup.vmTotal = other.VMSize
			otherRollup.fileTotal = other.FileSize
			rows = append(rows, other)
		}
	}

	// Final order: descending magnitude, name breaking ties.
	sort.SliceStable(rows, func(i, j int) bool {
		ri, rj := rank(&rows[i]), rank(&rows[j])
		if ri != rj {
			return ri > rj
		}
		return rows[i].Name < rows[j].Name
	})

	if base == nil {
		for i := range rows {
			rows[i].VMPercent = percent(rows[i].VMSize, parent.VMSize)
			rows[i].FilePercent = percent(rows[i].FileSize, parent.FileSize)
		}
	}

	for i := range rows {
		row := &rows[i]
		var childRollup, childBase *Rollup
		if row.Name == OtherLabel {
			childRollup = otherRollup
			if base != nil {
				childBase = otherBase
			}
		} else {
			childRollup = r.children[row.Name]
			if childRollup == nil {
				return fmt.Errorf("internal error: row %q missing from rollup tree", row.Name)
			}
			if base != nil {
				childBase = base.children[row.Name]
				if childBase == nil {
					childBase = emptyRollup
				}
			}
		}
		if err := childRollup.createRows(row, childBase, opts, false); err != nil {
			return err
		}
	}

	*rowsp = rows
	return nil
}

// percent deliberately keeps the IEEE edge cases: x/0 is +/-Inf and 0/0 is
// NaN; the renderer shows +/-Inf as [NEW] and NaN as [ = ].
func percent(part, whole int64) float64 {
	return float64(part) / float64(whole) * 100
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
