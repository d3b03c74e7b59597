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

package sink

import (
	"errors"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/parca-dev/binsize/pkg/datasource"
	"github.com/parca-dev/binsize/pkg/munger"
	"github.com/parca-dev/binsize/pkg/rangemap"
)

// ErrNoTranslator is returned when a VM-only range is added to a sink
// without a translator. The base map is populated through AddRange only;
// VM-only additions need the finished base map to project into the file
// domain.
var ErrNoTranslator = errors.New("VM-only range requires a translator")

// FileHandler parses one binary format. ProcessBaseMap is invoked first with
// a sink writing the segment-level base map; ProcessFile then receives one
// sink per selected data source, each translating through the base map.
type FileHandler interface {
	ProcessBaseMap(sink *RangeSink) error
	ProcessFile(sinks []*RangeSink) error
}

type sinkOutput struct {
	maps   *rangemap.DualMap
	munger *munger.NameMunger
}

// RangeSink is the write side handed to format parsers: it lets a data
// source assign labels to ranges of VM address space and/or file offsets.
// Ranges known in only one domain are projected into the other through the
// translator (the base DualMap), and labels pass through each output's name
// munger on the way in.
//
// If a range's vmsize or filesize is zero, the mapping is presumed not to
// exist in that domain: .bss exists only in memory, .debug_* only in the
// file.
type RangeSink struct {
	logger     log.Logger
	filename   string
	source     datasource.Source
	translator *rangemap.DualMap
	outputs    []sinkOutput
}

// New returns a sink for one input file and data source. translator is nil
// only while populating the base map itself.
func New(logger log.Logger, filename string, source datasource.Source, translator *rangemap.DualMap) *RangeSink {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &RangeSink{
		logger:     logger,
		filename:   filename,
		source:     source,
		translator: translator,
	}
}

// AddOutput registers a DualMap the sink writes into, with the munger
// applied to every label headed for it.
func (s *RangeSink) AddOutput(maps *rangemap.DualMap, m *munger.NameMunger) {
	s.outputs = append(s.outputs, sinkOutput{maps: maps, munger: m})
}

// DataSource returns the data source this sink collects for.
func (s *RangeSink) DataSource() datasource.Source { return s.source }

// Filename returns the input file's name.
func (s *RangeSink) Filename() string { return s.filename }

// AddRange adds a range known in both domains. The shared
// min(vmsize, filesize) prefix is recorded as a dual range in both maps so
// it can translate either way; any remainder exists in one domain only.
func (s *RangeSink) AddRange(name string, vmaddr, vmsize, fileoff, filesize uint64) error {
	s.trace("AddRange", name, "vmaddr", vmaddr, "vmsize", vmsize, "fileoff", fileoff, "filesize", filesize)
	for _, out := range s.outputs {
		label := out.munger.Munge(name)
		common := min(vmsize, filesize)

		if err := out.maps.VM.AddDual(vmaddr, common, fileoff, label); err != nil {
			return err
		}
		if err := out.maps.File.AddDual(fileoff, common, vmaddr, label); err != nil {
			return err
		}
		if err := out.maps.VM.Add(vmaddr+common, vmsize-common, label); err != nil {
			return err
		}
		if err := out.maps.File.Add(fileoff+common, filesize-common, label); err != nil {
			return err
		}
	}
	return nil
}

// AddFileRange adds a range of file offsets, projected into each output's VM
// map through the translator. Without a translator (the base-map phase) the
// range is dropped; the base file map is covered via AddRange and the
// whole-file backstop instead.
func (s *RangeSink) AddFileRange(name string, fileoff, filesize uint64) error {
	s.trace("AddFileRange", name, "fileoff", fileoff, "filesize", filesize)
	if s.translator == nil {
		return nil
	}
	for _, out := range s.outputs {
		label := out.munger.Munge(name)
		if err := out.maps.File.AddRangeWithTranslation(fileoff, filesize, label, s.translator.File, out.maps.VM); err != nil {
			return err
		}
	}
	return nil
}

// AddVMRange adds a range of VM addresses, projected into each output's file
// map through the translator. It may not be used to populate the base map.
func (s *RangeSink) AddVMRange(vmaddr, vmsize uint64, name string) error {
	s.trace("AddVMRange", name, "vmaddr", vmaddr, "vmsize", vmsize)
	if s.translator == nil {
		return fmt.Errorf("data source %s: %w", s.source, ErrNoTranslator)
	}
	for _, out := range s.outputs {
		label := out.munger.Munge(name)
		if err := out.maps.VM.AddRangeWithTranslation(vmaddr, vmsize, label, s.translator.VM, out.maps.File); err != nil {
			return err
		}
	}
	return nil
}

// AddVMRangeAllowAlias is AddVMRange for ranges that may already be present
// under a different name; the bytes keep the first name and the later name
// is not recorded. Symbol
// tables map multiple names to the same function; the distinct entry point
// lets alias handling diverge later without an API break.
func (s *RangeSink) AddVMRangeAllowAlias(vmaddr, vmsize uint64, name string) error {
	return s.AddVMRange(vmaddr, vmsize, name)
}

// AddVMRangeIgnoreDuplicate is AddVMRange for ranges that may already be
// attributed, in which case this addition should simply lose. A function can
// appear to come from several source files; only part of a source file
// overlaps, so aliasing whole files would be wrong.
func (s *RangeSink) AddVMRangeIgnoreDuplicate(vmaddr, vmsize uint64, name string) error {
	return s.AddVMRange(vmaddr, vmsize, name)
}

func (s *RangeSink) trace(op, name string, kv ...interface{}) {
	args := append([]interface{}{
		"msg", op,
		"source", s.source.String(),
		"name", name,
	}, kv...)
	level.Debug(s.logger).Log(args...)
}
