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
	"errors"
	"fmt"
	"math"
)

// ErrOverflow is returned when accumulating sizes would overflow the signed
// 64-bit totals.
var ErrOverflow = errors.New("integer overflow")

// Rollup is a hierarchical tally of sizes: a tree of signed VM and file byte
// totals keyed by label at each depth. It is the generic data structure,
// before output massaging like collapsing excess rows into "[Other]" or
// sorting. Totals can only go negative after Subtract, which puts the rollup
// in diff mode.
type Rollup struct {
	vmTotal   int64
	fileTotal int64
	children  map[string]*Rollup
}

// New returns an empty rollup.
func New() *Rollup {
	return &Rollup{}
}

// VMTotal returns the accumulated VM bytes of this node.
func (r *Rollup) VMTotal() int64 { return r.vmTotal }

// FileTotal returns the accumulated file bytes of this node.
func (r *Rollup) FileTotal() int64 { return r.fileTotal }

// AddSizes adds size bytes under the nested labels, creating intermediate
// nodes as needed. Every node along the path accumulates the size into its
// VM or file total. An empty label list adds to this node only.
func (r *Rollup) AddSizes(labels []string, size uint64, isVM bool) error {
	if size > math.MaxInt64 {
		return fmt.Errorf("size 0x%x: %w", size, ErrOverflow)
	}
	return r.add(labels, int64(size), isVM)
}

func (r *Rollup) add(labels []string, size int64, isVM bool) error {
	if isVM {
		if err := checkedAdd(&r.vmTotal, size); err != nil {
			return err
		}
	} else {
		if err := checkedAdd(&r.fileTotal, size); err != nil {
			return err
		}
	}
	if len(labels) == 0 {
		return nil
	}
	return r.child(labels[0]).add(labels[1:], size, isVM)
}

func (r *Rollup) child(name string) *Rollup {
	if r.children == nil {
		r.children = map[string]*Rollup{}
	}
	c := r.children[name]
	if c == nil {
		c = New()
		r.children[name] = c
	}
	return c
}

// Subtract structurally subtracts other from r, mirroring nodes that exist
// only in other. Child nodes that end up with zero totals and no children
// are removed. Afterwards totals may be negative, which downstream code
// treats as diff mode.
func (r *Rollup) Subtract(other *Rollup) {
	r.vmTotal -= other.vmTotal
	r.fileTotal -= other.fileTotal

	for name, oc := range other.children {
		c := r.child(name)
		c.Subtract(oc)
		if c.vmTotal == 0 && c.fileTotal == 0 && len(c.children) == 0 {
			delete(r.children, name)
		}
	}
}

func checkedAdd(accum *int64, val int64) error {
	if val > 0 && *accum > math.MaxInt64-val {
		return ErrOverflow
	}
	if val < 0 && *accum < math.MinInt64-val {
		return ErrOverflow
	}
	*accum += val
	return nil
}

func signOf(v int64) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	default:
		return 0
	}
}
