// Package patch implements the unified-diff applier (§4.5): parse a patch
// into file-patches and hunks, then apply each file-patch against the
// repository tree, either fully or not at all.
package patch

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// LineKind is a hunk line's leading-character classification.
type LineKind byte

const (
	KindContext      LineKind = ' '
	KindAdd          LineKind = '+'
	KindDelete       LineKind = '-'
	KindNoNewlineEOF LineKind = '\\'
)

// HunkLine is one line of a hunk body, with its diff prefix already split off.
type HunkLine struct {
	Kind LineKind
	Text string
}

// Hunk is one `@@ -l,s +l,s @@` block.
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Raw      string // the header line, verbatim, for reject diagnostics
	Lines    []HunkLine
}

// FilePatch is one `--- old` / `+++ new` file's hunks.
type FilePatch struct {
	OldPath string
	NewPath string
	Hunks   []Hunk
}

// IsNewFile reports whether this patch creates a file that doesn't exist yet.
func (f FilePatch) IsNewFile() bool { return f.OldPath == "/dev/null" }

// IsDelete reports whether this patch deletes its target file entirely.
func (f FilePatch) IsDelete() bool { return f.NewPath == "/dev/null" }

// TargetPath returns the path the patch actually names, preferring the new
// side (an add or a modify) and falling back to the old side (a delete).
func (f FilePatch) TargetPath() string {
	if !f.IsDelete() {
		return f.NewPath
	}
	return f.OldPath
}

// Reject is one diagnostic describing why a file-patch could not be applied.
type Reject struct {
	File       string
	HunkHeader string
	Line       int
	Expected   string
	Actual     string
	Reason     string
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// String renders the reject in the "file/hunk-header/line/expected-vs-actual"
// shape the contract requires — never a silent failure.
func (r Reject) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s (line %d): %s", r.File, r.HunkHeader, r.Line, r.Reason)
	if r.Expected != "" || r.Actual != "" {
		fmt.Fprintf(&sb, " — expected %q, got %q", truncate(r.Expected, 60), truncate(r.Actual, 60))
	}
	return sb.String()
}

var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

func stripPrefix(path string) string {
	if path == "/dev/null" {
		return path
	}
	if rest, ok := strings.CutPrefix(path, "a/"); ok {
		return rest
	}
	if rest, ok := strings.CutPrefix(path, "b/"); ok {
		return rest
	}
	return path
}

// Parse splits patchText into file-patches. Unrecognized lines preceding the
// first "--- " header (e.g. a "diff --git" line, an "index ..." line) are
// skipped rather than rejected — only the `---`/`+++`/`@@` structure is load
// bearing.
func Parse(patchText string) ([]FilePatch, error) {
	lines := strings.Split(strings.ReplaceAll(patchText, "\r\n", "\n"), "\n")

	var patches []FilePatch
	i := 0
	for i < len(lines) {
		if !strings.HasPrefix(lines[i], "--- ") {
			i++
			continue
		}
		old := stripPrefix(strings.TrimSpace(strings.TrimPrefix(lines[i], "--- ")))
		i++
		if i >= len(lines) || !strings.HasPrefix(lines[i], "+++ ") {
			return nil, fmt.Errorf("patch: %q header not followed by a +++ header", old)
		}
		newPath := stripPrefix(strings.TrimSpace(strings.TrimPrefix(lines[i], "+++ ")))
		i++

		fp := FilePatch{OldPath: old, NewPath: newPath}
		for i < len(lines) && strings.HasPrefix(lines[i], "@@ ") {
			header := lines[i]
			m := hunkHeaderRe.FindStringSubmatch(header)
			if m == nil {
				return nil, fmt.Errorf("patch: malformed hunk header %q", header)
			}
			oldStart, _ := strconv.Atoi(m[1])
			oldLines := 1
			if m[2] != "" {
				oldLines, _ = strconv.Atoi(m[2])
			}
			newStart, _ := strconv.Atoi(m[3])
			newLines := 1
			if m[4] != "" {
				newLines, _ = strconv.Atoi(m[4])
			}
			h := Hunk{OldStart: oldStart, OldLines: oldLines, NewStart: newStart, NewLines: newLines, Raw: header}
			i++

			for i < len(lines) && !strings.HasPrefix(lines[i], "@@ ") && !strings.HasPrefix(lines[i], "--- ") {
				line := lines[i]
				if line == "" {
					// A blank body line with no terminal newline at EOF reads
					// as "" after the split; treat it as an empty context line.
					if i == len(lines)-1 {
						i++
						break
					}
					h.Lines = append(h.Lines, HunkLine{Kind: KindContext, Text: ""})
					i++
					continue
				}
				kind := LineKind(line[0])
				switch kind {
				case KindContext, KindAdd, KindDelete, KindNoNewlineEOF:
					h.Lines = append(h.Lines, HunkLine{Kind: kind, Text: line[1:]})
				default:
					return nil, fmt.Errorf("patch: hunk line with unrecognized prefix %q", line)
				}
				i++
			}
			fp.Hunks = append(fp.Hunks, h)
		}
		patches = append(patches, fp)
	}
	return patches, nil
}

const fuzzyWindow = 20

// MinFuzzyContextLines is the minimum count of non-blank context/delete
// lines a hunk must carry before a non-exact (offset != 0) fuzzy position is
// ever accepted. Guards against a hunk with a thin or all-blank pattern
// latching onto the wrong occurrence of a common block inside the fuzzy
// window.
var MinFuzzyContextLines = 2

func nonBlankCount(pattern []HunkLine) int {
	n := 0
	for _, l := range pattern {
		if strings.TrimSpace(l.Text) != "" {
			n++
		}
	}
	return n
}

// patternLines returns the hunk's context+delete lines — the ones that must
// exist in the original file for the hunk to anchor.
func patternLines(h Hunk) []HunkLine {
	var out []HunkLine
	for _, l := range h.Lines {
		if l.Kind == KindContext || l.Kind == KindDelete {
			out = append(out, l)
		}
	}
	return out
}

func matchesAt(fileLines []string, pos int, pattern []HunkLine) bool {
	if pos < 0 || pos+len(pattern) > len(fileLines) {
		return false
	}
	for i, l := range pattern {
		if fileLines[pos+i] != l.Text {
			return false
		}
	}
	return true
}

// locateHunk finds where a hunk anchors in fileLines: exact match at the
// declared position first, then a strict fuzzy search within ±20 lines
// (every context+delete line must match at the accepted offset).
func locateHunk(fileLines []string, h Hunk) (int, bool) {
	pattern := patternLines(h)
	expected := h.OldStart - 1
	if h.OldStart == 0 {
		// A hunk with old_start 0 (old_lines 0) describes an insertion into
		// an empty or brand-new file — position 0, not -1.
		expected = 0
	}
	if matchesAt(fileLines, expected, pattern) {
		return expected, true
	}
	if nonBlankCount(pattern) < MinFuzzyContextLines {
		return 0, false
	}
	for offset := 1; offset <= fuzzyWindow; offset++ {
		if matchesAt(fileLines, expected-offset, pattern) {
			return expected - offset, true
		}
		if matchesAt(fileLines, expected+offset, pattern) {
			return expected + offset, true
		}
	}
	return 0, false
}

// splitFile breaks data into lines without terminators, and reports the
// dominant EOL style plus whether the original ended in a newline.
func splitFile(data string) (lines []string, eol string, trailingNewline bool) {
	eol = "\n"
	if strings.Contains(data, "\r\n") {
		eol = "\r\n"
	}
	normalized := strings.ReplaceAll(data, "\r\n", "\n")
	trailingNewline = strings.HasSuffix(normalized, "\n")
	if trailingNewline {
		normalized = normalized[:len(normalized)-1]
	}
	if normalized == "" {
		return nil, eol, trailingNewline
	}
	return strings.Split(normalized, "\n"), eol, trailingNewline
}

// applyFilePatch applies every hunk of fp to fileLines in order, honoring the
// "accepted position must not precede the cursor" overlap rule. Returns the
// new lines, or a reject describing the first hunk that failed to anchor.
func applyFilePatch(fp FilePatch, fileLines []string) ([]string, *Reject, bool) {
	var out []string
	cursor := 0
	noNewlineAtEOF := false

	for _, h := range fp.Hunks {
		pos, ok := locateHunk(fileLines, h)
		if !ok {
			return nil, &Reject{
				File:       fp.TargetPath(),
				HunkHeader: h.Raw,
				Line:       h.OldStart,
				Reason:     "no position within the fuzzy window matches the hunk's context",
			}, false
		}
		if pos < cursor {
			return nil, &Reject{
				File:       fp.TargetPath(),
				HunkHeader: h.Raw,
				Line:       h.OldStart,
				Reason:     "accepted position precedes the cursor left by a previous hunk (overlap)",
			}, false
		}

		out = append(out, fileLines[cursor:pos]...)
		p := pos
		for li, l := range h.Lines {
			switch l.Kind {
			case KindContext:
				if p >= len(fileLines) || fileLines[p] != l.Text {
					actual := ""
					if p < len(fileLines) {
						actual = fileLines[p]
					}
					return nil, &Reject{
						File:       fp.TargetPath(),
						HunkHeader: h.Raw,
						Line:       h.OldStart + li,
						Expected:   l.Text,
						Actual:     actual,
						Reason:     "context line mismatch",
					}, false
				}
				out = append(out, fileLines[p])
				p++
			case KindDelete:
				if p >= len(fileLines) || fileLines[p] != l.Text {
					actual := ""
					if p < len(fileLines) {
						actual = fileLines[p]
					}
					return nil, &Reject{
						File:       fp.TargetPath(),
						HunkHeader: h.Raw,
						Line:       h.OldStart + li,
						Expected:   l.Text,
						Actual:     actual,
						Reason:     "delete line mismatch",
					}, false
				}
				p++
			case KindAdd:
				out = append(out, l.Text)
			case KindNoNewlineEOF:
				noNewlineAtEOF = true
			}
		}
		cursor = p
	}

	out = append(out, fileLines[cursor:]...)
	return out, nil, noNewlineAtEOF
}

func resolvePath(rootDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(rootDir, p)
}

// Report is the accumulated outcome of an Apply call.
type Report struct {
	Rejects []Reject
}

func (r Report) String() string {
	if len(r.Rejects) == 0 {
		return ""
	}
	lines := make([]string, len(r.Rejects))
	for i, rej := range r.Rejects {
		lines[i] = rej.String()
	}
	return strings.Join(lines, "\n")
}

// Apply parses patchText and applies each file-patch against rootDir. A
// file-patch either fully succeeds or is rejected and its file is left
// untouched; other file-patches in the same call are unaffected by one
// file's rejection. Returns all_ok (true only if every file-patch applied)
// and the accumulated reject report.
func Apply(patchText, rootDir string) (bool, Report, error) {
	patches, err := Parse(patchText)
	if err != nil {
		return false, Report{Rejects: []Reject{{Reason: err.Error()}}}, nil
	}

	var report Report
	allOK := true

	for _, fp := range patches {
		ok, reject := applyOneFile(fp, rootDir)
		if !ok {
			allOK = false
			report.Rejects = append(report.Rejects, *reject)
		}
	}

	return allOK, report, nil
}

func applyOneFile(fp FilePatch, rootDir string) (bool, *Reject) {
	target := resolvePath(rootDir, fp.TargetPath())

	var original string
	var perm os.FileMode = 0o644
	if !fp.IsNewFile() {
		data, err := os.ReadFile(target)
		if err != nil {
			return false, &Reject{File: fp.TargetPath(), Reason: fmt.Sprintf("cannot read original file: %v", err)}
		}
		original = string(data)
		if info, statErr := os.Stat(target); statErr == nil {
			perm = info.Mode().Perm()
		}
	}

	fileLines, eol, trailingNewline := splitFile(original)
	if fp.IsNewFile() {
		// splitFile("") reports no trailing newline since there's no content
		// to judge by; a freshly created file defaults to having one, unless
		// the hunk's own no-newline-at-EOF marker says otherwise.
		trailingNewline = true
	}
	newLines, reject, noNewlineAtEOF := applyFilePatch(fp, fileLines)
	if reject != nil {
		return false, reject
	}

	if fp.IsDelete() {
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			return false, &Reject{File: fp.TargetPath(), Reason: fmt.Sprintf("cannot delete file: %v", err)}
		}
		return true, nil
	}

	finalTrailingNewline := trailingNewline && !noNewlineAtEOF
	content := strings.Join(newLines, eol)
	if finalTrailingNewline {
		content += eol
	}

	if dir := filepath.Dir(target); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return false, &Reject{File: fp.TargetPath(), Reason: fmt.Sprintf("cannot create parent directory: %v", err)}
		}
	}
	if err := os.WriteFile(target, []byte(content), perm); err != nil {
		return false, &Reject{File: fp.TargetPath(), Reason: fmt.Sprintf("cannot write file: %v", err)}
	}
	return true, nil
}
