package util

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// GenerateDiff returns a unified diff from the existing file destPath to
// the staged file srcPath, with contextLines lines of context around each
// change. A missing destPath diffs against an empty file. Identical
// contents give an empty string.
func GenerateDiff(srcPath, destPath string, contextLines int) (string, error) {
	srcContent, err := os.ReadFile(srcPath)
	if err != nil {
		return "", fmt.Errorf("failed to read source file: %w", err)
	}
	var destContent []byte
	if IsFileExist(destPath) {
		destContent, err = os.ReadFile(destPath)
		if err != nil {
			return "", fmt.Errorf("failed to read destination file: %w", err)
		}
	}
	return UnifiedDiff(destPath, srcPath, string(destContent), string(srcContent), contextLines), nil
}

// ColorizeDiff adds ANSI colors to a diff: bold file headers, cyan hunk
// headers, green additions and red removals.
func ColorizeDiff(diff string) string {
	if diff == "" {
		return diff
	}
	var b strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(diff))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "+++") || strings.HasPrefix(line, "---"):
			b.WriteString("\033[1m" + line + "\033[0m\n")
		case strings.HasPrefix(line, "@@"):
			b.WriteString("\033[36m" + line + "\033[0m\n")
		case strings.HasPrefix(line, "+"):
			b.WriteString("\033[32m" + line + "\033[0m\n")
		case strings.HasPrefix(line, "-"):
			b.WriteString("\033[31m" + line + "\033[0m\n")
		default:
			b.WriteString(line + "\n")
		}
	}
	return b.String()
}

// splitLines splits content into lines. A trailing newline does not
// start an extra empty line.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

type diffLine struct {
	kind    byte // ' ', '+' or '-'
	content string
}

// lineDiff computes a line-level diff with diffmatchpatch.
func lineDiff(oldText, newText string) []diffLine {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var out []diffLine
	for _, d := range diffs {
		kind := byte(' ')
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			kind = '+'
		case diffmatchpatch.DiffDelete:
			kind = '-'
		}
		for _, l := range splitLines(d.Text) {
			out = append(out, diffLine{kind: kind, content: l})
		}
	}
	return out
}

// UnifiedDiff renders the difference between two texts in unified
// format.
func UnifiedDiff(oldName, newName, oldText, newText string, contextLines int) string {
	if contextLines < 0 {
		contextLines = 0
	}
	ops := lineDiff(oldText, newText)

	// Line numbers preceding each op.
	oldNo := make([]int, len(ops)+1)
	newNo := make([]int, len(ops)+1)
	var changed []int
	for i, op := range ops {
		oldNo[i+1], newNo[i+1] = oldNo[i], newNo[i]
		if op.kind != '+' {
			oldNo[i+1]++
		}
		if op.kind != '-' {
			newNo[i+1]++
		}
		if op.kind != ' ' {
			changed = append(changed, i)
		}
	}
	if len(changed) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n+++ %s\n", oldName, newName)
	for i := 0; i < len(changed); {
		// Merge changes whose context would overlap.
		j := i
		for j+1 < len(changed) && changed[j+1]-changed[j] <= 2*contextLines+1 {
			j++
		}
		start := max(changed[i]-contextLines, 0)
		end := min(changed[j]+contextLines+1, len(ops))

		oldCount := oldNo[end] - oldNo[start]
		newCount := newNo[end] - newNo[start]
		fmt.Fprintf(&b, "@@ -%s +%s @@\n", hunkRange(oldNo[start], oldCount), hunkRange(newNo[start], newCount))
		for _, op := range ops[start:end] {
			b.WriteByte(op.kind)
			b.WriteString(op.content)
			b.WriteByte('\n')
		}
		i = j + 1
	}
	return b.String()
}

func hunkRange(before, count int) string {
	if count == 0 {
		return fmt.Sprintf("%d,0", before)
	}
	return fmt.Sprintf("%d,%d", before+1, count)
}
