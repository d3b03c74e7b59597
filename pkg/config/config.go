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

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

var ErrEmptyConfig = errors.New("empty config")

// Rewrite is one pattern/replacement pair of a custom data source. The
// replacement uses regexp.Expand syntax ($1, ${name}).
type Rewrite struct {
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

// CustomDataSource derives a new data source from a built-in one by
// rewriting its labels.
type CustomDataSource struct {
	Name           string    `yaml:"name"`
	BaseDataSource string    `yaml:"base_data_source"`
	Rewrites       []Rewrite `yaml:"rewrites"`
}

// Config is the options document loaded with -c. Everything in it can also
// be given on the command line; the file exists so that involved setups
// (custom data sources in particular) are repeatable.
type Config struct {
	Filenames         []string           `yaml:"filenames,omitempty"`
	BaseFilenames     []string           `yaml:"base_filenames,omitempty"`
	DataSources       []string           `yaml:"data_sources,omitempty"`
	MaxRowsPerLevel   *int               `yaml:"max_rows_per_level,omitempty"`
	SortBy            string             `yaml:"sort_by,omitempty"`
	CustomDataSources []CustomDataSource `yaml:"custom_data_sources,omitempty"`
}

func (c Config) String() string {
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("<error creating config string: %s>", err)
	}
	return string(b)
}

// Load parses the YAML input b into a Config.
func Load(b []byte) (*Config, error) {
	if len(b) == 0 {
		return nil, ErrEmptyConfig
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile parses the given YAML file into a Config.
func LoadFile(filename string) (*Config, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	cfg, err := Load(content)
	if err != nil {
		return nil, fmt.Errorf("parsing YAML file %s: %w", filename, err)
	}
	return cfg, nil
}

// Validate reports every problem in the document at once, so that a config
// is fixed in one round trip rather than one error at a time.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.MaxRowsPerLevel != nil && *c.MaxRowsPerLevel < 0 {
		result = multierror.Append(result,
			fmt.Errorf("max_rows_per_level must be >= 0 (0 means unlimited), got %d", *c.MaxRowsPerLevel))
	}

	switch c.SortBy {
	case "", "vm", "file", "both":
	default:
		result = multierror.Append(result,
			fmt.Errorf("sort_by must be one of vm, file, both; got %q", c.SortBy))
	}

	for _, cds := range c.CustomDataSources {
		if cds.Name == "" {
			result = multierror.Append(result, errors.New("custom data source without a name"))
		}
		if cds.BaseDataSource == "" {
			result = multierror.Append(result,
				fmt.Errorf("custom data source %q without a base_data_source", cds.Name))
		}
		for _, rw := range cds.Rewrites {
			if _, err := regexp.Compile(rw.Pattern); err != nil {
				result = multierror.Append(result,
					fmt.Errorf("custom data source %q: invalid pattern %q: %w", cds.Name, rw.Pattern, err))
			}
		}
	}

	return result.ErrorOrNil()
}
