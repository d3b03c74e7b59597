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

package main

import (
	"fmt"
	"os"

	"github.com/go-kit/log/level"

	"github.com/parca-dev/binsize/flags"
	"github.com/parca-dev/binsize/pkg/binsize"
	"github.com/parca-dev/binsize/pkg/datasource"
	"github.com/parca-dev/binsize/pkg/logger"
	"github.com/parca-dev/binsize/pkg/output"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "binsize: %s\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	f, customSources, err := flags.Parse(args)
	if err != nil {
		return err
	}

	if f.ListSources {
		for _, def := range datasource.Definitions {
			fmt.Fprintf(os.Stderr, "%-15s %s\n", def.Name, def.Description)
		}
		return nil
	}

	log := logger.NewLogger(logger.LevelFromVerbosity(f.Verbose), logger.LogFormatLogfmt, "")

	p := binsize.New(log)
	defer p.Close()

	for _, cds := range customSources {
		if err := p.DefineCustomDataSource(cds); err != nil {
			return err
		}
	}
	for _, name := range f.DataSources {
		if err := p.AddDataSource(name); err != nil {
			return err
		}
	}
	for _, path := range f.Files {
		if err := p.AddFile(path, false); err != nil {
			return err
		}
	}
	for _, path := range f.BaseFiles {
		if err := p.AddFile(path, true); err != nil {
			return err
		}
	}

	out, err := p.ScanAndRollup(binsize.Options{
		Rollup:   f.RollupOptions(),
		DumpMaps: f.Verbose > 0,
	})
	if err != nil {
		level.Error(log).Log("msg", "scan failed", "err", err)
		return err
	}

	outputOpts := output.Options{MaxLabelLen: output.DefaultMaxLabelLen}
	if f.Wide {
		outputOpts.MaxLabelLen = 0
	}
	if f.CSV {
		outputOpts.Format = output.FormatCSV
	}
	return output.Print(out, outputOpts, os.Stdout)
}
