// Package patch renders planned source mutations as unified diffs for
// dry runs.
package patch

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// ContextLines is the number of unchanged lines shown around a change.
const ContextLines = 3

type opType int

const (
	opEqual opType = iota
	opDelete
	opInsert
)

type op struct {
	typ  opType
	text string
}

// Unified returns a unified diff of oldText and newText labelled with path,
// or "" when they are equal.
func Unified(path, oldText, newText string) string {
	if oldText == newText {
		return ""
	}
	ops := lineOps(oldText, newText)

	var b strings.Builder
	fmt.Fprintf(&b, "--- a/%s\n+++ b/%s\n", path, path)
	for _, h := range hunks(ops) {
		writeHunk(&b, ops, h)
	}
	return b.String()
}

// Stats counts added and removed lines.
func Stats(oldText, newText string) (added, removed int) {
	for _, o := range lineOps(oldText, newText) {
		switch o.typ {
		case opInsert:
			added++
		case opDelete:
			removed++
		}
	}
	return added, removed
}

func lineOps(oldText, newText string) []op {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	a, b, lines := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	var ops []op
	for _, d := range diffs {
		typ := opEqual
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			typ = opDelete
		case diffmatchpatch.DiffInsert:
			typ = opInsert
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			ops = append(ops, op{typ: typ, text: line})
		}
	}
	return ops
}

type span struct{ start, end int }

// hunks groups changed ops whose surrounding context overlaps.
func hunks(ops []op) []span {
	var out []span
	for i, o := range ops {
		if o.typ == opEqual {
			continue
		}
		start := max(0, i-ContextLines)
		end := min(len(ops), i+ContextLines+1)
		if n := len(out); n > 0 && start <= out[n-1].end {
			out[n-1].end = end
			continue
		}
		out = append(out, span{start, end})
	}
	return out
}

func writeHunk(b *strings.Builder, ops []op, h span) {
	oldStart, newStart := 1, 1
	for _, o := range ops[:h.start] {
		if o.typ != opInsert {
			oldStart++
		}
		if o.typ != opDelete {
			newStart++
		}
	}
	oldCount, newCount := 0, 0
	for _, o := range ops[h.start:h.end] {
		if o.typ != opInsert {
			oldCount++
		}
		if o.typ != opDelete {
			newCount++
		}
	}
	if oldCount == 0 {
		oldStart--
	}
	if newCount == 0 {
		newStart--
	}
	fmt.Fprintf(b, "@@ -%d,%d +%d,%d @@\n", oldStart, oldCount, newStart, newCount)
	for _, o := range ops[h.start:h.end] {
		prefix := " "
		switch o.typ {
		case opDelete:
			prefix = "-"
		case opInsert:
			prefix = "+"
		}
		b.WriteString(prefix)
		b.WriteString(strings.TrimRight(o.text, "\r\n"))
		b.WriteString("\n")
		if !strings.HasSuffix(o.text, "\n") {
			b.WriteString("\\ No newline at end of file\n")
		}
	}
}
