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

package inputfile

import (
	"fmt"
	"io"

	"golang.org/x/exp/mmap"
)

// File is one memory-mapped input binary. Mapping instead of reading keeps
// large binaries out of the heap and lets the format parsers seek freely.
type File struct {
	filename string
	r        *mmap.ReaderAt
}

// Open memory-maps the file at path.
func Open(path string) (*File, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("couldn't open file %q: %w", path, err)
	}
	return &File{filename: path, r: r}, nil
}

// Filename returns the path the file was opened with.
func (f *File) Filename() string { return f.filename }

// Size returns the file's size in bytes.
func (f *File) Size() uint64 { return uint64(f.r.Len()) }

// ReaderAt exposes the mapping for parsers.
func (f *File) ReaderAt() io.ReaderAt { return f.r }

// ReadAt implements io.ReaderAt.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	return f.r.ReadAt(p, off)
}

// Close unmaps the file.
func (f *File) Close() error {
	return f.r.Close()
}
