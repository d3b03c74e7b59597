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

package elffile

// System V / GNU flavoured ar(1) archives. The format is a global magic
// followed by a sequence of 60-byte member headers, each carrying an ASCII
// decimal size. Long member names are stored in the special "//" member and
// referenced as "/<offset>". BSD-style names are not supported.

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	arMagic      = "!<arch>\n"
	arMagicSize  = 8
	arHeaderSize = 60
)

type memberKind int

const (
	memberNormal memberKind = iota
	memberSymbolTable
	memberLongNames
)

type arMember struct {
	kind      memberKind
	name      string // only for memberNormal
	headerOff uint64
	off       uint64
	size      uint64
}

type arReader struct {
	r         io.ReaderAt
	size      uint64
	pos       uint64
	longNames []byte
}

func newArReader(r io.ReaderAt, size uint64) *arReader {
	return &arReader{r: r, size: size, pos: arMagicSize}
}

// next returns the next member, or io.EOF past the last one.
func (a *arReader) next() (arMember, error) {
	if a.pos+arHeaderSize > a.size {
		return arMember{}, io.EOF
	}

	hdr := make([]byte, arHeaderSize)
	if _, err := a.r.ReadAt(hdr, int64(a.pos)); err != nil {
		return arMember{}, fmt.Errorf("reading member header at 0x%x: %w", a.pos, err)
	}
	if !bytes.Equal(hdr[58:60], []byte("`\n")) {
		return arMember{}, fmt.Errorf("bad member header terminator at 0x%x", a.pos)
	}

	size, err := strconv.ParseUint(strings.TrimSpace(string(hdr[48:58])), 10, 64)
	if err != nil {
		return arMember{}, fmt.Errorf("bad member size at 0x%x: %w", a.pos, err)
	}

	m := arMember{
		kind:      memberNormal,
		headerOff: a.pos,
		off:       a.pos + arHeaderSize,
		size:      size,
	}
	if m.off+m.size > a.size {
		return arMember{}, fmt.Errorf("member at 0x%x extends past end of archive", a.pos)
	}
	// Members are 2-byte aligned; the padding byte belongs to nobody.
	a.pos = m.off + m.size + m.size%2

	nameField := string(hdr[0:16])
	switch {
	case nameField[0] == '/' && nameField[1] == ' ':
		m.kind = memberSymbolTable
	case nameField[0] == '/' && nameField[1] == '/':
		m.kind = memberLongNames
		a.longNames = make([]byte, m.size)
		if _, err := a.r.ReadAt(a.longNames, int64(m.off)); err != nil {
			return arMember{}, fmt.Errorf("reading long name table: %w", err)
		}
	case nameField[0] == '/':
		offset, err := strconv.ParseUint(strings.TrimSpace(nameField[1:]), 10, 64)
		if err != nil {
			return arMember{}, fmt.Errorf("bad long name reference %q: %w", strings.TrimSpace(nameField), err)
		}
		if offset >= uint64(len(a.longNames)) {
			return arMember{}, fmt.Errorf("long name offset %d out of bounds", offset)
		}
		rest := a.longNames[offset:]
		end := bytes.IndexByte(rest, '/')
		if end < 0 {
			return arMember{}, errors.New("unterminated long member name")
		}
		m.name = string(rest[:end])
	default:
		slash := strings.IndexByte(nameField, '/')
		if slash < 0 || strings.HasPrefix(nameField, "#1/") {
			return arMember{}, errors.New("BSD-style archives are not supported")
		}
		m.name = nameField[:slash]
	}

	return m, nil
}
