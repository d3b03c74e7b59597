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

package flags

import (
	"fmt"

	"github.com/alecthomas/kong"
	"github.com/hashicorp/go-multierror"

	"github.com/parca-dev/binsize/pkg/config"
	"github.com/parca-dev/binsize/pkg/rollup"
)

// Flags is the CLI surface:
//
//	binsize [options] file... [-- base_file...]
type Flags struct {
	CSV         bool     `help:"Output in CSV format instead of human-readable."`
	ConfigPath  string   `name:"config" short:"c" placeholder:"FILE" help:"Load configuration from FILE."`
	DataSources []string `short:"d" placeholder:"SRC,..." help:"Comma-separated list of data sources to scan."`
	MaxRows     int      `short:"n" default:"20" help:"How many rows to show per level before collapsing other keys into '[Other]'. Set to '0' for unlimited."`
	SortBy      string   `short:"s" default:"both" enum:"vm,file,both" help:"Whether to sort by vm or file size, or both (the default: sorts by max(vm, file))."`
	Verbose     int      `short:"v" type:"counter" help:"Verbose output. Dumps warnings encountered during processing and full VM/file maps at the end. Add more v's (-vv, -vvv) for even more."`
	Wide        bool     `short:"w" help:"Wide output; don't truncate long labels."`
	ListSources bool     `help:"Show a list of available sources and exit."`

	Files []string `arg:"" optional:"" name:"file" help:"Files to scan; files after '--' form the diff base."`

	// Populated from the arguments after "--".
	BaseFiles []string `kong:"-"`
}

// Parse parses args (excluding the program name), merges the -c config file
// in, and validates the result. The returned custom data sources come from
// the config file only.
func Parse(args []string) (Flags, []config.CustomDataSource, error) {
	flags := Flags{}

	// kong swallows "--" as its flag terminator, so split the diff base
	// off first.
	var baseArgs []string
	for i, a := range args {
		if a == "--" {
			baseArgs = args[i+1:]
			args = args[:i]
			break
		}
	}

	parser, err := kong.New(&flags,
		kong.Name("binsize"),
		kong.Description("A size profiler for binaries."),
		kong.UsageOnError(),
	)
	if err != nil {
		return Flags{}, nil, err
	}
	if _, err := parser.Parse(args); err != nil {
		return Flags{}, nil, err
	}
	flags.BaseFiles = baseArgs

	var custom []config.CustomDataSource
	if flags.ConfigPath != "" {
		cfg, err := config.LoadFile(flags.ConfigPath)
		if err != nil {
			return Flags{}, nil, err
		}
		flags.Files = append(flags.Files, cfg.Filenames...)
		flags.BaseFiles = append(flags.BaseFiles, cfg.BaseFilenames...)
		flags.DataSources = append(flags.DataSources, cfg.DataSources...)
		if cfg.MaxRowsPerLevel != nil {
			flags.MaxRows = *cfg.MaxRowsPerLevel
		}
		if cfg.SortBy != "" {
			flags.SortBy = cfg.SortBy
		}
		custom = cfg.CustomDataSources
	}

	if len(flags.DataSources) == 0 {
		// Default when no sources are specified.
		flags.DataSources = []string{"sections"}
	}

	if err := flags.validate(); err != nil {
		return Flags{}, nil, err
	}
	return flags, custom, nil
}

func (f *Flags) validate() error {
	if f.ListSources {
		return nil
	}

	var result *multierror.Error
	if len(f.Files) == 0 {
		result = multierror.Append(result, fmt.Errorf("must specify at least one file"))
	}
	if f.MaxRows < 0 {
		result = multierror.Append(result, fmt.Errorf("-n must be >= 0 (0 means unlimited), got %d", f.MaxRows))
	}
	return result.ErrorOrNil()
}

// RollupOptions translates the flags into collapser options.
func (f *Flags) RollupOptions() rollup.Options {
	sortBy := rollup.SortByBoth
	switch f.SortBy {
	case "vm":
		sortBy = rollup.SortByVM
	case "file":
		sortBy = rollup.SortByFile
	}
	return rollup.Options{
		SortBy:          sortBy,
		MaxRowsPerLevel: f.MaxRows,
	}
}
