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

package output

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/parca-dev/binsize/pkg/rollup"
)

// Format selects how a collapsed rollup is rendered.
type Format int

const (
	FormatPrettyPrint Format = iota
	FormatCSV
)

// Options configure rendering.
type Options struct {
	Format Format
	// MaxLabelLen truncates labels in the pretty printer. 0 means no
	// truncation.
	MaxLabelLen int
}

// DefaultMaxLabelLen keeps one row on a typical terminal line.
const DefaultMaxLabelLen = 80

// Print renders the output in the selected format.
func Print(out *rollup.Output, opts Options, w io.Writer) error {
	switch opts.Format {
	case FormatCSV:
		return printCSV(out, w)
	default:
		return prettyPrint(out, opts, w)
	}
}

// prettyPrint ////////////////////////////////////////////////////////////////

func prettyPrint(out *rollup.Output, opts Options, w io.Writer) error {
	longest := len(out.Top.Name)
	for _, rows := range [][]rollup.Row{out.Top.Children, out.Top.Shrinking, out.Top.Mixed} {
		for i := range rows {
			longest = max(longest, longestLabel(&rows[i], 0))
		}
	}
	if opts.MaxLabelLen > 0 {
		longest = min(longest, opts.MaxLabelLen)
	}

	if _, err := fmt.Fprintf(w, "     VM SIZE    %s    FILE SIZE\n", strings.Repeat(" ", longest)); err != nil {
		return err
	}
	if out.Top.DiffMode {
		if _, err := fmt.Fprintf(w, " ++++++++++++++ %s ++++++++++++++\n", fixedWidth("GROWING", longest)); err != nil {
			return err
		}
	} else {
		if _, err := fmt.Fprintf(w, " -------------- %s --------------\n", strings.Repeat(" ", longest)); err != nil {
			return err
		}
	}

	for i := range out.Top.Children {
		if err := printTree(&out.Top.Children[i], 0, longest, w); err != nil {
			return err
		}
	}

	if out.Top.DiffMode {
		if len(out.Top.Shrinking) > 0 {
			if _, err := fmt.Fprintf(w, "\n -------------- %s --------------\n", fixedWidth("SHRINKING", longest)); err != nil {
				return err
			}
			for i := range out.Top.Shrinking {
				if err := printTree(&out.Top.Shrinking[i], 0, longest, w); err != nil {
					return err
				}
			}
		}
		if len(out.Top.Mixed) > 0 {
			if _, err := fmt.Fprintf(w, "\n -+-+-+-+-+-+-+ %s +-+-+-+-+-+-+-\n", fixedWidth("MIXED", longest)); err != nil {
				return err
			}
			for i := range out.Top.Mixed {
				if err := printTree(&out.Top.Mixed[i], 0, longest, w); err != nil {
					return err
				}
			}
		}
		// An empty row before TOTAL.
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}

	// The TOTAL row comes after all other rows.
	return printRow(&out.Top, 0, longest, w)
}

func longestLabel(row *rollup.Row, indent int) int {
	ret := indent + len(row.Name)
	for _, rows := range [][]rollup.Row{row.Children, row.Shrinking, row.Mixed} {
		for i := range rows {
			ret = max(ret, longestLabel(&rows[i], indent+4))
		}
	}
	return ret
}

func printRow(row *rollup.Row, indent, longest int, w io.Writer) error {
	_, err := fmt.Fprintf(w, "%s %s %s %s %s %s\n",
		strings.Repeat(" ", indent),
		percentString(row.VMPercent, row.DiffMode),
		siPrint(row.VMSize, row.DiffMode),
		fixedWidth(row.Name, longest),
		siPrint(row.FileSize, row.DiffMode),
		percentString(row.FilePercent, row.DiffMode),
	)
	return err
}

// printTree prints a row followed by its sub-rows. Confounding sub-entries
// are not printed: in a diff, a growing section's shrinking symbols would be
// more confusing than informative.
func printTree(row *rollup.Row, indent, longest int, w io.Writer) error {
	if err := printRow(row, indent, longest, w); err != nil {
		return err
	}

	if row.VMSize > 0 || row.FileSize > 0 {
		for i := range row.Children {
			if err := printTree(&row.Children[i], indent+4, longest, w); err != nil {
				return err
			}
		}
	}
	if row.VMSize < 0 || row.FileSize < 0 {
		for i := range row.Shrinking {
			if err := printTree(&row.Shrinking[i], indent+4, longest, w); err != nil {
				return err
			}
		}
	}
	if (row.VMSize < 0) != (row.FileSize < 0) {
		for i := range row.Mixed {
			if err := printTree(&row.Mixed[i], indent+4, longest, w); err != nil {
				return err
			}
		}
	}
	return nil
}

func fixedWidth(s string, n int) string {
	if len(s) < n {
		return s + strings.Repeat(" ", n-len(s))
	}
	return s[:n]
}

func leftPad(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return strings.Repeat(" ", n-len(s)) + s
}

// siPrint formats a size with binary SI prefixes, left-padded to 7 columns.
func siPrint(size int64, forceSign bool) string {
	prefixes := []string{"", "Ki", "Mi", "Gi", "Ti"}
	n := 0
	d := float64(size)
	for math.Abs(d) > 1024 && n < len(prefixes)-1 {
		d /= 1024
		n++
	}

	var ret string
	switch {
	case math.Abs(d) > 100 || n == 0:
		ret = strconv.FormatInt(int64(d), 10) + prefixes[n]
		if forceSign && size > 0 {
			ret = "+" + ret
		}
	case math.Abs(d) > 10:
		if forceSign {
			ret = fmt.Sprintf("%+0.1f%s", d, prefixes[n])
		} else {
			ret = fmt.Sprintf("%0.1f%s", d, prefixes[n])
		}
	default:
		if forceSign {
			ret = fmt.Sprintf("%+0.2f%s", d, prefixes[n])
		} else {
			ret = fmt.Sprintf("%0.2f%s", d, prefixes[n])
		}
	}

	return leftPad(ret, 7)
}

// percentString renders a percentage column. Diff mode uses special tokens:
// no change at all is "[ = ]", a fully deleted entry "[DEL]", and an entry
// absent from the baseline "[NEW]".
func percentString(p float64, diffMode bool) string {
	if !diffMode {
		return fmt.Sprintf("%5.1f%%", p)
	}
	switch {
	case p == 0 || math.IsNaN(p):
		return " [ = ]"
	case p == -100:
		return " [DEL]"
	case math.IsInf(p, 0):
		return " [NEW]"
	}

	var str string
	switch {
	case p > 1000:
		// Keep the column fixed-width even for huge percentages.
		digits := int(math.Log10(p)) - 1
		str = fmt.Sprintf("%+2.0fe%d%%", p/math.Pow(10, float64(digits)), digits)
	case p > 10:
		str = fmt.Sprintf("%+4.0f%%", p)
	default:
		str = fmt.Sprintf("%+5.1f%%", p)
	}
	return leftPad(str, 6)
}

// CSV ////////////////////////////////////////////////////////////////////////

func printCSV(out *rollup.Output, w io.Writer) error {
	cw := csv.NewWriter(w)
	header := append(append([]string{}, out.SourceNames...), "vmsize", "filesize")
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, rows := range [][]rollup.Row{out.Top.Children, out.Top.Shrinking, out.Top.Mixed} {
		for i := range rows {
			if err := writeTreeCSV(cw, &rows[i], nil); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// writeTreeCSV emits one record per leaf path, each prefixed with its parent
// labels.
func writeTreeCSV(cw *csv.Writer, row *rollup.Row, parents []string) error {
	if len(row.Children) == 0 && len(row.Shrinking) == 0 && len(row.Mixed) == 0 {
		record := append(append([]string{}, parents...), row.Name,
			strconv.FormatInt(row.VMSize, 10),
			strconv.FormatInt(row.FileSize, 10))
		return cw.Write(record)
	}

	labels := append(append([]string{}, parents...), row.Name)
	for _, rows := range [][]rollup.Row{row.Children, row.Shrinking, row.Mixed} {
		for i := range rows {
			if err := writeTreeCSV(cw, &rows[i], labels); err != nil {
				return err
			}
		}
	}
	return nil
}
