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
	"fmt"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/parca-dev/binsize/pkg/rangemap"
	"github.com/parca-dev/binsize/pkg/rollup"
)

// dualMaps holds all the DualMaps of one input file: the base map at index
// 0, then one per selected data source.
type dualMaps struct {
	logger log.Logger
	maps   []*rangemap.DualMap
}

func newDualMaps(logger log.Logger) *dualMaps {
	m := &dualMaps{logger: logger}
	m.appendMap() // base map
	return m
}

func (m *dualMaps) base() *rangemap.DualMap { return m.maps[0] }

func (m *dualMaps) appendMap() *rangemap.DualMap {
	dm := rangemap.NewDualMap(m.logger)
	m.maps = append(m.maps, dm)
	return dm
}

// computeRollup joins the VM maps and the file maps and feeds every
// interval into r. The base map's key only feeds the totals; children are
// keyed by the data sources.
func (m *dualMaps) computeRollup(filename string, filenamePos int, r *rollup.Rollup) error {
	if err := rangemap.ComputeRollup(m.vmMaps(), filename, filenamePos,
		func(keys []string, start, end uint64) error {
			return r.AddSizes(keys[1:], end-start, true)
		}); err != nil {
		return err
	}
	return rangemap.ComputeRollup(m.fileMaps(), filename, filenamePos,
		func(keys []string, start, end uint64) error {
			return r.AddSizes(keys[1:], end-start, false)
		})
}

// dump logs the joined maps, including the uncovered gaps.
func (m *dualMaps) dump(logger log.Logger, filename string, filenamePos int) {
	for _, domain := range []struct {
		name string
		maps []*rangemap.RangeMap
	}{
		{"vm", m.vmMaps()},
		{"file", m.fileMaps()},
	} {
		last := uint64(0)
		//nolint:errcheck // the row callback never fails
		rangemap.ComputeRollup(domain.maps, filename, filenamePos,
			func(keys []string, start, end uint64) error {
				if start > last {
					level.Info(logger).Log(
						"map", domain.name,
						"range", fmt.Sprintf("[0x%x, 0x%x)", last, start),
						"labels", "NO ENTRY",
					)
				}
				level.Info(logger).Log(
					"map", domain.name,
					"range", fmt.Sprintf("[0x%x, 0x%x)", start, end),
					"labels", strings.Join(keys, ", "),
				)
				last = end
				return nil
			})
	}
}

func (m *dualMaps) vmMaps() []*rangemap.RangeMap {
	maps := make([]*rangemap.RangeMap, len(m.maps))
	for i, dm := range m.maps {
		maps[i] = dm.VM
	}
	return maps
}

func (m *dualMaps) fileMaps() []*rangemap.RangeMap {
	maps := make([]*rangemap.RangeMap, len(m.maps))
	for i, dm := range m.maps {
		maps[i] = dm.File
	}
	return maps
}
