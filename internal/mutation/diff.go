package mutation

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

const diffContext = 3

type lineOp struct {
	kind byte // ' ', '-' or '+'
	text string
}

// DiffStat counts changed lines.
type DiffStat struct {
	Added   int
	Removed int
}

// Changed reports whether any line differs.
func (s DiffStat) Changed() bool {
	return s.Added > 0 || s.Removed > 0
}

// UnifiedDiff renders a line-level unified diff from oldText to newText.
// It returns an empty string when no line differs.
func UnifiedDiff(oldText, newText, oldName, newName string) (string, DiffStat) {
	ops := lineOps(oldText, newText)

	var stat DiffStat
	for _, op := range ops {
		switch op.kind {
		case '+':
			stat.Added++
		case '-':
			stat.Removed++
		}
	}
	if !stat.Changed() {
		return "", stat
	}

	n := len(ops)
	// oldLn[i] and newLn[i] count the lines consumed before ops[i].
	oldLn, newLn := make([]int, n+1), make([]int, n+1)
	for i, op := range ops {
		oldLn[i+1], newLn[i+1] = oldLn[i], newLn[i]
		if op.kind != '+' {
			oldLn[i+1]++
		}
		if op.kind != '-' {
			newLn[i+1]++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n+++ %s\n", oldName, newName)
	for i := 0; i < n; {
		c := i
		for c < n && ops[c].kind == ' ' {
			c++
		}
		if c == n {
			break
		}
		start := max(c-diffContext, i)
		last := c
		for j := c + 1; j < n; j++ {
			if ops[j].kind != ' ' {
				last = j
			} else if j-last > 2*diffContext {
				break
			}
		}
		end := min(last+diffContext+1, n)

		fmt.Fprintf(&b, "@@ -%s +%s @@\n",
			hunkRange(oldLn[start], oldLn[end]-oldLn[start]),
			hunkRange(newLn[start], newLn[end]-newLn[start]))
		for k := start; k < end; k++ {
			b.WriteByte(ops[k].kind)
			b.WriteString(ops[k].text)
			if !strings.HasSuffix(ops[k].text, "\n") {
				b.WriteString("\n\\ No newline at end of file\n")
			}
		}
		i = end
	}
	return b.String(), stat
}

func lineOps(oldText, newText string) []lineOp {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var ops []lineOp
	for _, d := range diffs {
		kind := byte(' ')
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			kind = '-'
		case diffmatchpatch.DiffInsert:
			kind = '+'
		}
		for _, line := range splitLines(d.Text) {
			ops = append(ops, lineOp{kind: kind, text: line})
		}
	}
	return ops
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// hunkRange formats one side of a hunk header. start is the number of
// lines before the hunk.
func hunkRange(start, count int) string {
	switch count {
	case 0:
		return fmt.Sprintf("%d,0", start)
	case 1:
		return fmt.Sprintf("%d", start+1)
	default:
		return fmt.Sprintf("%d,%d", start+1, count)
	}
}
