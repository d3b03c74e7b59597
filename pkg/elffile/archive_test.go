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

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func arHeader(name string, size int) []byte {
	return []byte(fmt.Sprintf("%-16s%-12s%-6s%-6s%-8s%-10d`\n", name, "0", "0", "0", "644", size))
}

func buildArchive() []byte {
	var buf bytes.Buffer
	buf.WriteString(arMagic)

	buf.Write(arHeader("/", 4)) // symbol table
	buf.WriteString("asdf")

	longNames := "verylongmembername.o/\n"
	buf.Write(arHeader("//", len(longNames)))
	buf.WriteString(longNames)

	buf.Write(arHeader("/0", 6)) // named via the long name table
	buf.WriteString("hello!")

	buf.Write(arHeader("short.o/", 5)) // odd size, padded
	buf.WriteString("hello")
	buf.WriteByte('\n')

	return buf.Bytes()
}

func TestArReader(t *testing.T) {
	data := buildArchive()
	ar := newArReader(bytes.NewReader(data), uint64(len(data)))

	m, err := ar.next()
	require.NoError(t, err)
	require.Equal(t, memberSymbolTable, m.kind)
	require.Equal(t, uint64(arMagicSize), m.headerOff)
	require.Equal(t, uint64(4), m.size)

	m, err = ar.next()
	require.NoError(t, err)
	require.Equal(t, memberLongNames, m.kind)

	m, err = ar.next()
	require.NoError(t, err)
	require.Equal(t, memberNormal, m.kind)
	require.Equal(t, "verylongmembername.o", m.name)
	require.Equal(t, []byte("hello!"), data[m.off:m.off+m.size])

	m, err = ar.next()
	require.NoError(t, err)
	require.Equal(t, memberNormal, m.kind)
	require.Equal(t, "short.o", m.name)
	require.Equal(t, uint64(5), m.size)

	_, err = ar.next()
	require.ErrorIs(t, err, io.EOF)
}

func TestArReaderBadTerminator(t *testing.T) {
	data := buildArchive()
	data[arMagicSize+58] = 'x'
	ar := newArReader(bytes.NewReader(data), uint64(len(data)))
	_, err := ar.next()
	require.Error(t, err)
}

func TestArReaderTruncatedMember(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(arMagic)
	buf.Write(arHeader("short.o/", 100)) // claims more bytes than exist
	buf.WriteString("tiny")

	ar := newArReader(bytes.NewReader(buf.Bytes()), uint64(buf.Len()))
	_, err := ar.next()
	require.Error(t, err)
	require.NotErrorIs(t, err, io.EOF)
}

func TestArReaderBSDNamesUnsupported(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(arMagic)
	buf.Write(arHeader("#1/20", 20))
	buf.Write(make([]byte, 20))

	ar := newArReader(bytes.NewReader(buf.Bytes()), uint64(buf.Len()))
	_, err := ar.next()
	require.Error(t, err)
}
