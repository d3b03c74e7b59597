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

import "github.com/go-kit/log"

// DualMap holds one labelling of an input file in both address domains: VM
// addresses and file offsets. The base DualMap of a file carries matching
// translation bases on both sides, making VM<->file translation invertible
// for covered regions.
type DualMap struct {
	VM   *RangeMap
	File *RangeMap
}

// NewDualMap returns an empty DualMap sharing the given logger.
func NewDualMap(logger log.Logger) *DualMap {
	return &DualMap{
		VM:   New(logger),
		File: New(logger),
	}
}
