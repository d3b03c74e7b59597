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

// Package binsize ties the pieces together: it opens input files, runs the
// right format handler twice per file (base map first, then one sink per
// selected data source), joins the resulting maps into a rollup, and
// collapses it, optionally against a baseline.
package binsize

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/parca-dev/binsize/pkg/config"
	"github.com/parca-dev/binsize/pkg/datasource"
	"github.com/parca-dev/binsize/pkg/demangle"
	"github.com/parca-dev/binsize/pkg/elffile"
	"github.com/parca-dev/binsize/pkg/inputfile"
	"github.com/parca-dev/binsize/pkg/machofile"
	"github.com/parca-dev/binsize/pkg/munger"
	"github.com/parca-dev/binsize/pkg/rangemap"
	"github.com/parca-dev/binsize/pkg/rollup"
	"github.com/parca-dev/binsize/pkg/sink"
)

// Options configure one profiling run.
type Options struct {
	Rollup rollup.Options
	// DumpMaps logs the joined VM and file maps of every scanned file.
	DumpMaps bool
}

type configuredSource struct {
	def    datasource.Definition
	munger *munger.NameMunger
}

// openHandler is the type of Profiler.open, which tests swap out to feed
// synthetic file handlers.
type openHandler func(logger log.Logger, f *inputfile.File, d *demangle.Demangler) (sink.FileHandler, error)

// Profiler accumulates input files and data sources, then attributes every
// byte of each input in one ScanAndRollup pass.
type Profiler struct {
	logger    log.Logger
	demangler *demangle.Demangler

	// Built-in and custom sources by CLI name.
	allKnownSources map[string]*configuredSource
	// Sources the user selected, in selection order.
	sources     []*configuredSource
	sourceNames []string
	// Index at which the input filename is spliced into the key tuple,
	// counting the base map at 0; -1 when inputfiles isn't selected.
	filenamePos int

	inputFiles []*inputfile.File
	baseFiles  []*inputfile.File

	open openHandler
}

// New returns a Profiler with the built-in data sources registered.
func New(logger log.Logger) *Profiler {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	p := &Profiler{
		logger:          logger,
		demangler:       demangle.New(),
		allKnownSources: map[string]*configuredSource{},
		filenamePos:     -1,
		open:            openFormatHandler,
	}
	for _, def := range datasource.Definitions {
		p.allKnownSources[def.Name] = &configuredSource{def: def, munger: munger.New()}
	}
	return p
}

// AddFile opens and registers one input file; base files form the diff
// baseline.
func (p *Profiler) AddFile(path string, isBase bool) error {
	f, err := inputfile.Open(path)
	if err != nil {
		return err
	}
	if isBase {
		p.baseFiles = append(p.baseFiles, f)
	} else {
		p.inputFiles = append(p.inputFiles, f)
	}
	return nil
}

// Close unmaps every registered input.
func (p *Profiler) Close() error {
	var firstErr error
	for _, f := range append(append([]*inputfile.File{}, p.inputFiles...), p.baseFiles...) {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DefineCustomDataSource registers a data source deriving from a built-in
// one through label rewrites. Custom sources can't stack on other custom
// sources; rewrite chains would be impossible to reason about.
func (p *Profiler) DefineCustomDataSource(cds config.CustomDataSource) error {
	base, ok := p.allKnownSources[cds.BaseDataSource]
	if !ok {
		return fmt.Errorf("custom data source %q: no such base source %q", cds.Name, cds.BaseDataSource)
	}
	if !base.munger.IsEmpty() {
		return fmt.Errorf("custom data source %q tries to depend on custom data source %q", cds.Name, cds.BaseDataSource)
	}

	m := munger.New()
	for _, rw := range cds.Rewrites {
		if err := m.AddRewrite(rw.Pattern, rw.Replacement); err != nil {
			return fmt.Errorf("custom data source %q: %w", cds.Name, err)
		}
	}
	p.allKnownSources[cds.Name] = &configuredSource{def: base.def, munger: m}
	return nil
}

// AddDataSource selects a data source by name. Selection order determines
// the hierarchy depth order of the report.
func (p *Profiler) AddDataSource(name string) error {
	if name == "inputfiles" {
		// Spliced into the key tuple rather than scanned; +1 counts the
		// base map in front.
		p.filenamePos = len(p.sources) + 1
		p.sourceNames = append(p.sourceNames, name)
		return nil
	}

	src, ok := p.allKnownSources[name]
	if !ok {
		return fmt.Errorf("no such data source: %q", name)
	}
	p.sources = append(p.sources, src)
	p.sourceNames = append(p.sourceNames, name)
	return nil
}

// ScanAndRollup scans every input file and returns the collapsed output,
// diffed against the base files when any were given.
func (p *Profiler) ScanAndRollup(opts Options) (*rollup.Output, error) {
	if len(p.inputFiles) == 0 {
		return nil, errors.New("no input files specified")
	}

	r := rollup.New()
	for _, f := range p.inputFiles {
		if err := p.scanAndRollupFile(f, r, opts); err != nil {
			return nil, err
		}
	}

	var (
		out *rollup.Output
		err error
	)
	if len(p.baseFiles) > 0 {
		base := rollup.New()
		for _, f := range p.baseFiles {
			if err := p.scanAndRollupFile(f, base, opts); err != nil {
				return nil, err
			}
		}
		r.Subtract(base)
		out, err = r.CreateDiffOutput(base, opts.Rollup)
	} else {
		out, err = r.CreateOutput(opts.Rollup)
	}
	if err != nil {
		return nil, err
	}
	out.SourceNames = append([]string{}, p.sourceNames...)
	return out, nil
}

func (p *Profiler) scanAndRollupFile(f *inputfile.File, r *rollup.Rollup, opts Options) error {
	handler, err := p.open(p.logger, f, p.demangler)
	if err != nil {
		return err
	}

	maps := newDualMaps(p.logger)

	baseSink := sink.New(p.logger, f.Filename(), datasource.Segments, nil)
	baseSink.AddOutput(maps.base(), munger.New())
	if err := handler.ProcessBaseMap(baseSink); err != nil {
		return fmt.Errorf("scanning %q: %w", f.Filename(), err)
	}
	// Backstop: every file byte belongs to the base map, labelled or not,
	// so the totals always add up to real file size.
	if err := maps.base().File.Add(0, f.Size(), rangemap.NoneLabel); err != nil {
		return err
	}

	sinks := make([]*sink.RangeSink, 0, len(p.sources))
	for _, src := range p.sources {
		s := sink.New(p.logger, f.Filename(), src.def.Source, maps.base())
		s.AddOutput(maps.appendMap(), src.munger)
		sinks = append(sinks, s)
	}
	if err := handler.ProcessFile(sinks); err != nil {
		return fmt.Errorf("scanning %q: %w", f.Filename(), err)
	}

	if err := maps.computeRollup(f.Filename(), p.filenamePos, r); err != nil {
		return fmt.Errorf("rolling up %q: %w", f.Filename(), err)
	}

	if opts.DumpMaps {
		maps.dump(p.logger, f.Filename(), p.filenamePos)
	}
	level.Debug(p.logger).Log(
		"msg", "scanned file",
		"file", f.Filename(),
		"size", humanize.IBytes(f.Size()),
		"sources", len(p.sources),
	)
	return nil
}

// openFormatHandler dispatches on the input's magic number.
func openFormatHandler(logger log.Logger, f *inputfile.File, d *demangle.Demangler) (sink.FileHandler, error) {
	h, err := elffile.NewHandler(logger, f, d)
	if err == nil {
		return h, nil
	}
	if !errors.Is(err, elffile.ErrUnrecognized) {
		return nil, err
	}

	mh, err := machofile.NewHandler(logger, f, d)
	if err == nil {
		return mh, nil
	}
	if !errors.Is(err, machofile.ErrUnrecognized) {
		return nil, err
	}

	return nil, fmt.Errorf("unknown file type for file %q", f.Filename())
}
