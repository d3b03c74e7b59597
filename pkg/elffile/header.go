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

// debug/elf decodes headers but doesn't say where they live in the file,
// which is exactly what size attribution needs. This file re-reads the few
// header fields that locate the header tables, handling both widths and both
// byte orders.

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
)

type fileRegion struct {
	off  uint64
	size uint64
}

// elfReader reads fixed-width fields at absolute offsets in one byte order.
type elfReader struct {
	r     io.ReaderAt
	order binary.ByteOrder
}

func (e elfReader) u16(off uint64) (uint16, error) {
	var buf [2]byte
	if _, err := e.r.ReadAt(buf[:], int64(off)); err != nil {
		return 0, err
	}
	return e.order.Uint16(buf[:]), nil
}

func (e elfReader) u32(off uint64) (uint32, error) {
	var buf [4]byte
	if _, err := e.r.ReadAt(buf[:], int64(off)); err != nil {
		return 0, err
	}
	return e.order.Uint32(buf[:]), nil
}

func (e elfReader) u64(off uint64) (uint64, error) {
	var buf [8]byte
	if _, err := e.r.ReadAt(buf[:], int64(off)); err != nil {
		return 0, err
	}
	return e.order.Uint64(buf[:]), nil
}

// readHeaderRegions returns the file regions occupied by the ELF header and
// the program and section header tables of the object at base. sectionCount
// overrides e_shnum, which is zero for files using the extended-count
// extension.
func readHeaderRegions(r io.ReaderAt, base, size, sectionCount uint64) ([]fileRegion, error) {
	ident := make([]byte, 16)
	if _, err := r.ReadAt(ident, int64(base)); err != nil {
		return nil, fmt.Errorf("reading ELF ident: %w", err)
	}

	var order binary.ByteOrder
	switch elf.Data(ident[elf.EI_DATA]) {
	case elf.ELFDATA2LSB:
		order = binary.LittleEndian
	case elf.ELFDATA2MSB:
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("unexpected ELF data encoding: %d", ident[elf.EI_DATA])
	}
	er := elfReader{r: r, order: order}

	var (
		phoff, shoff                        uint64
		ehsize, phentsize, phnum, shentsize uint16
		err                                 error
	)
	read16 := func(p *uint16, off uint64) {
		if err == nil {
			*p, err = er.u16(base + off)
		}
	}
	switch elf.Class(ident[elf.EI_CLASS]) {
	case elf.ELFCLASS64:
		phoff, err = er.u64(base + 0x20)
		if err == nil {
			shoff, err = er.u64(base + 0x28)
		}
		read16(&ehsize, 0x34)
		read16(&phentsize, 0x36)
		read16(&phnum, 0x38)
		read16(&shentsize, 0x3a)
	case elf.ELFCLASS32:
		var phoff32, shoff32 uint32
		phoff32, err = er.u32(base + 0x1c)
		if err == nil {
			shoff32, err = er.u32(base + 0x20)
		}
		phoff, shoff = uint64(phoff32), uint64(shoff32)
		read16(&ehsize, 0x28)
		read16(&phentsize, 0x2a)
		read16(&phnum, 0x2c)
		read16(&shentsize, 0x2e)
	default:
		return nil, fmt.Errorf("unexpected ELF class: %d", ident[elf.EI_CLASS])
	}
	if err != nil {
		return nil, fmt.Errorf("reading ELF header fields: %w", err)
	}

	regions := []fileRegion{{off: base, size: uint64(ehsize)}}
	if phoff > 0 && phnum > 0 {
		regions = append(regions, fileRegion{off: base + phoff, size: uint64(phentsize) * uint64(phnum)})
	}
	if shoff > 0 && sectionCount > 0 {
		regions = append(regions, fileRegion{off: base + shoff, size: uint64(shentsize) * sectionCount})
	}
	for _, reg := range regions {
		if reg.off+reg.size > base+size {
			return nil, fmt.Errorf("header region [0x%x, +0x%x) out of bounds", reg.off, reg.size)
		}
	}
	return regions, nil
}
