package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestGenerateDiff(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name          string
		oldContent    string
		newContent    string
		expectEmpty   bool
		expectAdded   bool
		expectRemoved bool
	}{
		{"identical files", "a=1\nb=2\nc=3\n", "a=1\nb=2\nc=3\n", true, false, false},
		{"line added", "a=1\nb=2\n", "a=1\nb=2\nc=3\n", false, true, false},
		{"line removed", "a=1\nb=2\nc=3\n", "a=1\nb=2\n", false, false, true},
		{"line changed", "a=1\nb=2\nc=3\n", "a=1\nb=20\nc=3\n", false, true, true},
		{"empty old file", "", "new=1\n", false, true, false},
		{"empty new file", "old=1\n", "", false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldPath := filepath.Join(tmpDir, "old")
			newPath := filepath.Join(tmpDir, "new")
			if err := os.WriteFile(oldPath, []byte(tt.oldContent), 0644); err != nil {
				t.Fatalf("Failed to write old file: %v", err)
			}
			if err := os.WriteFile(newPath, []byte(tt.newContent), 0644); err != nil {
				t.Fatalf("Failed to write new file: %v", err)
			}

			diff, err := GenerateDiff(newPath, oldPath, 3)
			if err != nil {
				t.Fatalf("GenerateDiff failed: %v", err)
			}
			if tt.expectEmpty != (diff == "") {
				t.Fatalf("diff empty = %v, want %v:\n%s", diff == "", tt.expectEmpty, diff)
			}
			var added, removed bool
			for _, l := range strings.Split(diff, "\n") {
				switch {
				case strings.HasPrefix(l, "+++"), strings.HasPrefix(l, "---"):
				case strings.HasPrefix(l, "+"):
					added = true
				case strings.HasPrefix(l, "-"):
					removed = true
				}
			}
			if added != tt.expectAdded {
				t.Errorf("added lines = %v, want %v:\n%s", added, tt.expectAdded, diff)
			}
			if removed != tt.expectRemoved {
				t.Errorf("removed lines = %v, want %v:\n%s", removed, tt.expectRemoved, diff)
			}
		})
	}
}

func TestGenerateDiff_NonExistentDest(t *testing.T) {
	tmpDir := t.TempDir()
	srcPath := filepath.Join(tmpDir, "new")
	if err := os.WriteFile(srcPath, []byte("new=content\n"), 0644); err != nil {
		t.Fatalf("Failed to write source file: %v", err)
	}

	diff, err := GenerateDiff(srcPath, filepath.Join(tmpDir, "missing"), 3)
	if err != nil {
		t.Fatalf("GenerateDiff failed: %v", err)
	}
	if !strings.Contains(diff, "@@ -0,0 +1,1 @@\n+new=content\n") {
		t.Errorf("unexpected diff:\n%s", diff)
	}
}

func TestUnifiedDiff_Hunks(t *testing.T) {
	var oldLines, newLines []string
	for i := 1; i <= 20; i++ {
		line := "k" + string(rune('a'+i-1)) + "=v"
		oldLines = append(oldLines, line)
		switch i {
		case 2:
			newLines = append(newLines, "kb=changed")
		case 18:
			// removed
		default:
			newLines = append(newLines, line)
		}
	}
	oldText := strings.Join(oldLines, "\n") + "\n"
	newText := strings.Join(newLines, "\n") + "\n"

	got := UnifiedDiff("a", "b", oldText, newText, 1)
	want := "--- a\n+++ b\n" +
		"@@ -1,3 +1,3 @@\n ka=v\n-kb=v\n+kb=changed\n kc=v\n" +
		"@@ -17,3 +17,2 @@\n kq=v\n-kr=v\n ks=v\n"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("UnifiedDiff() mismatch (-want +got):\n%s", diff)
	}
}

func TestUnifiedDiff_MergesNearbyChanges(t *testing.T) {
	got := UnifiedDiff("a", "b", "1\n2\n3\n4\n5\n", "1\nX\n3\nY\n5\n", 1)
	want := "--- a\n+++ b\n@@ -1,5 +1,5 @@\n 1\n-2\n+X\n 3\n-4\n+Y\n 5\n"
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("UnifiedDiff() mismatch (-want +got):\n%s", diff)
	}
}

func TestColorizeDiff(t *testing.T) {
	diff := "--- a\n+++ b\n@@ -1 +1 @@\n-old\n+new\n same\n"
	got := ColorizeDiff(diff)

	for _, want := range []string{
		"\033[1m--- a\033[0m\n",
		"\033[36m@@ -1 +1 @@\033[0m\n",
		"\033[31m-old\033[0m\n",
		"\033[32m+new\033[0m\n",
		" same\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("ColorizeDiff() missing %q in %q", want, got)
		}
	}
	if ColorizeDiff("") != "" {
		t.Error("ColorizeDiff(\"\") should be empty")
	}
}

func TestSplitLines(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a", []string{"a"}},
		{"a\n", []string{"a"}},
		{"a\r\nb\rc\n", []string{"a", "b", "c"}},
		{"a\n\nb", []string{"a", "", "b"}},
	}
	for _, tt := range tests {
		if diff := cmp.Diff(tt.want, splitLines(tt.in)); diff != "" {
			t.Errorf("splitLines(%q) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}
