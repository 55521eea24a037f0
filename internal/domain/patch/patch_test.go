package patch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(data)
}

func TestParse_SingleHunk(t *testing.T) {
	text := "--- a/foo.txt\n+++ b/foo.txt\n@@ -1,3 +1,3 @@\n line one\n-line two\n+line TWO\n line three\n"
	patches, err := Parse(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(patches) != 1 {
		t.Fatalf("expected 1 file patch, got %d", len(patches))
	}
	fp := patches[0]
	if fp.OldPath != "foo.txt" || fp.NewPath != "foo.txt" {
		t.Fatalf("expected a/ b/ prefixes stripped, got %+v", fp)
	}
	if len(fp.Hunks) != 1 || len(fp.Hunks[0].Lines) != 4 {
		t.Fatalf("expected 1 hunk with 4 lines, got %+v", fp.Hunks)
	}
}

func TestParse_MalformedHunkHeaderErrors(t *testing.T) {
	text := "--- a/foo.txt\n+++ b/foo.txt\n@@ not a header @@\n context\n"
	if _, err := Parse(text); err == nil {
		t.Fatal("expected a parse error for a malformed hunk header")
	}
}

func TestApply_ExactMatchModifiesFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "foo.txt", "line one\nline two\nline three\n")

	patchText := "--- a/foo.txt\n+++ b/foo.txt\n@@ -1,3 +1,3 @@\n line one\n-line two\n+line TWO\n line three\n"
	ok, report, err := Apply(patchText, dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected all_ok, got rejects: %s", report)
	}

	got := readFile(t, filepath.Join(dir, "foo.txt"))
	want := "line one\nline TWO\nline three\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestApply_FuzzyMatchWithinWindow(t *testing.T) {
	dir := t.TempDir()
	// Insert two extra lines at the top so the hunk's declared line numbers
	// are off by 2 from where the context actually sits.
	content := "extra 1\nextra 2\nline one\nline two\nline three\n"
	writeFile(t, dir, "foo.txt", content)

	// Hunk header claims the edit starts at line 1, but "line one" is really
	// at line 3 — 2 lines off, well within the ±20 fuzzy window.
	patchText := "--- a/foo.txt\n+++ b/foo.txt\n@@ -1,3 +1,3 @@\n line one\n-line two\n+line TWO\n line three\n"
	ok, report, err := Apply(patchText, dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected fuzzy match to succeed, got rejects: %s", report)
	}

	got := readFile(t, filepath.Join(dir, "foo.txt"))
	want := "extra 1\nextra 2\nline one\nline TWO\nline three\n"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestApply_MismatchBeyondWindowIsRejected(t *testing.T) {
	dir := t.TempDir()
	var sb strings.Builder
	for i := 0; i < 30; i++ {
		sb.WriteString("padding\n")
	}
	sb.WriteString("line one\nline two\nline three\n")
	writeFile(t, dir, "foo.txt", sb.String())

	patchText := "--- a/foo.txt\n+++ b/foo.txt\n@@ -1,3 +1,3 @@\n line one\n-line two\n+line TWO\n line three\n"
	ok, report, err := Apply(patchText, dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected the hunk to be rejected — the real position is outside the fuzzy window")
	}
	if len(report.Rejects) != 1 {
		t.Fatalf("expected exactly 1 reject, got %+v", report.Rejects)
	}

	// The file must be left untouched.
	got := readFile(t, filepath.Join(dir, "foo.txt"))
	if got != sb.String() {
		t.Fatal("expected the original file to be untouched after a rejected patch")
	}
}

func TestApply_NewFileCreatesFromDevNull(t *testing.T) {
	dir := t.TempDir()
	patchText := "--- /dev/null\n+++ b/new.txt\n@@ -0,0 +1,2 @@\n+hello\n+world\n"
	ok, report, err := Apply(patchText, dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected all_ok, got rejects: %s", report)
	}

	got := readFile(t, filepath.Join(dir, "new.txt"))
	if got != "hello\nworld\n" {
		t.Fatalf("got %q", got)
	}
}

func TestApply_DeleteRemovesFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "gone.txt", "bye\n")

	patchText := "--- a/gone.txt\n+++ /dev/null\n@@ -1,1 +0,0 @@\n-bye\n"
	ok, report, err := Apply(patchText, dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected all_ok, got rejects: %s", report)
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Fatal("expected the file to be deleted")
	}
}

func TestApply_NoNewlineAtEOFIsHonored(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "foo.txt", "line one\nline two")

	patchText := "--- a/foo.txt\n+++ b/foo.txt\n@@ -1,2 +1,2 @@\n line one\n-line two\n+line TWO\n\\ No newline at end of file\n"
	ok, report, err := Apply(patchText, dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected all_ok, got rejects: %s", report)
	}

	got := readFile(t, filepath.Join(dir, "foo.txt"))
	if got != "line one\nline TWO" {
		t.Fatalf("got %q, expected no trailing newline preserved", got)
	}
}

func TestApply_OneFileRejectedDoesNotAffectAnother(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.txt", "a\nb\nc\n")
	writeFile(t, dir, "bad.txt", "x\ny\nz\n")

	patchText := strings.Join([]string{
		"--- a/good.txt",
		"+++ b/good.txt",
		"@@ -1,3 +1,3 @@",
		" a",
		"-b",
		"+B",
		" c",
		"--- a/bad.txt",
		"+++ b/bad.txt",
		"@@ -1,3 +1,3 @@",
		" a", // doesn't match bad.txt's actual content anywhere
		"-b",
		"+B",
		" c",
		"",
	}, "\n")

	ok, report, err := Apply(patchText, dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected all_ok to be false since bad.txt's hunk cannot anchor")
	}
	if len(report.Rejects) != 1 || report.Rejects[0].File != "bad.txt" {
		t.Fatalf("expected exactly one reject for bad.txt, got %+v", report.Rejects)
	}

	if got := readFile(t, filepath.Join(dir, "good.txt")); got != "a\nB\nc\n" {
		t.Fatalf("expected good.txt applied, got %q", got)
	}
	if got := readFile(t, filepath.Join(dir, "bad.txt")); got != "x\ny\nz\n" {
		t.Fatalf("expected bad.txt untouched, got %q", got)
	}
}

func TestApply_OverlappingHunksRejected(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "foo.txt", "a\nb\nc\nd\ne\n")

	// Second hunk's context deliberately overlaps the first hunk's already
	// consumed region by claiming to start before the first hunk's end.
	patchText := strings.Join([]string{
		"--- a/foo.txt",
		"+++ b/foo.txt",
		"@@ -1,3 +1,3 @@",
		" a",
		"-b",
		"+B",
		" c",
		"@@ -2,2 +2,2 @@",
		" b",
		"-c",
		"+C",
		"",
	}, "\n")

	ok, report, err := Apply(patchText, dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected the overlapping second hunk to be rejected")
	}
	if len(report.Rejects) != 1 {
		t.Fatalf("expected 1 reject, got %+v", report.Rejects)
	}
}

func TestApply_ThinContextNeverFuzzyMatches(t *testing.T) {
	dir := t.TempDir()
	// "first" really sits 1 line later than the hunk declares. A position
	// shifted by 1 would satisfy the pattern, but the pattern has only one
	// non-blank line (below MinFuzzyContextLines), so the fuzzy search must
	// never even be attempted.
	writeFile(t, dir, "foo.txt", "padding\n\nfirst\n\nsecond\n")

	patchText := "--- a/foo.txt\n+++ b/foo.txt\n@@ -1,2 +1,2 @@\n \n-first\n+FIRST\n"
	ok, report, err := Apply(patchText, dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected a thin-context hunk to refuse a fuzzy match")
	}
	if len(report.Rejects) != 1 {
		t.Fatalf("expected 1 reject, got %+v", report.Rejects)
	}
}

func TestReject_StringTruncatesLongExpectedActual(t *testing.T) {
	long := strings.Repeat("x", 100)
	r := Reject{File: "f", HunkHeader: "@@ -1 +1 @@", Line: 1, Expected: long, Actual: long, Reason: "mismatch"}
	s := r.String()
	if strings.Contains(s, long) {
		t.Fatal("expected the 100-char string to be truncated to 60 chars")
	}
}
