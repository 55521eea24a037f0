package agentcore

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ResultCeiling is the hard per-result character limit before compression
// kicks in (§4.3).
const ResultCeiling = 8000

// searchFilesMatchLimit caps how many search_files matches survive
// compression.
const searchFilesMatchLimit = 50

// buildLogLineLimit caps how many extracted process/build lines survive.
const buildLogLineLimit = 100

var buildLogMarkers = []string{"error", "warning", "fail", "pass", "succeed", "Error:", "FAIL:", "PASS:"}

// ToolResultCompressor implements §4.3's tool-result compression rules. The
// same instance is reused at session-restore time to re-apply size limits,
// which is safe because every path is idempotent: compressing an
// already-compressed result is a no-op (the ceiling check short-circuits, and
// the special-case formats carry their own "already truncated" markers).
type ToolResultCompressor struct {
	ceiling int
}

// NewToolResultCompressor builds a compressor with the spec's default 8000-
// character ceiling.
func NewToolResultCompressor() *ToolResultCompressor {
	return &ToolResultCompressor{ceiling: ResultCeiling}
}

// Compress shrinks resultJSON if it exceeds the ceiling, dispatching on
// toolName to a format-aware rule where one exists.
func (c *ToolResultCompressor) Compress(toolName string, resultJSON string) string {
	ceiling := c.ceiling
	if ceiling <= 0 {
		ceiling = ResultCeiling
	}
	if len(resultJSON) <= ceiling {
		return resultJSON
	}

	switch toolName {
	case "search_files":
		if out, ok := compressSearchFiles(resultJSON, ceiling); ok {
			return out
		}
	case "read_file":
		if out, ok := compressReadFile(resultJSON, ceiling); ok {
			return out
		}
	default:
		if isProcessBuildResult(resultJSON) {
			if out, ok := compressBuildOutput(resultJSON, ceiling); ok {
				return out
			}
		}
	}

	return genericTruncate(resultJSON, ceiling)
}

func compressSearchFiles(resultJSON string, ceiling int) (string, bool) {
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(resultJSON), &parsed); err != nil {
		return "", false
	}
	rawMatches, ok := parsed["matches"].([]interface{})
	if !ok {
		return "", false
	}
	total := len(rawMatches)
	if total <= searchFilesMatchLimit {
		// Already under the match limit; ceiling was exceeded by something
		// else (e.g. oversized individual entries) — fall back to generic.
		return "", false
	}

	kept := rawMatches[:searchFilesMatchLimit]
	parsed["matches"] = kept
	parsed["truncated"] = true
	parsed["total_matches"] = total
	parsed["showing"] = searchFilesMatchLimit

	out, err := json.Marshal(parsed)
	if err != nil {
		return "", false
	}
	return string(out), true
}

func compressReadFile(resultJSON string, ceiling int) (string, bool) {
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(resultJSON), &parsed); err != nil {
		return "", false
	}
	content, ok := parsed["content"].(string)
	if !ok {
		return "", false
	}

	overhead := len(resultJSON) - len(content)
	budget := ceiling - overhead
	if budget < 0 {
		budget = 0
	}
	if len(content) <= budget {
		return "", false
	}

	cut := budget
	if cut > len(content) {
		cut = len(content)
	}
	truncated := content[:cut]
	// Prefer cutting at the last newline, but only if that keeps more than
	// half the budget intact — otherwise a pathologically long first line
	// would collapse the result to near-nothing.
	if lastNL := strings.LastIndexByte(truncated, '\n'); lastNL > budget/2 {
		truncated = truncated[:lastNL]
	}

	parsed["content"] = truncated
	parsed["truncated"] = true
	parsed["original_length"] = len(content)

	out, err := json.Marshal(parsed)
	if err != nil {
		return "", false
	}
	return string(out), true
}

// isProcessBuildResult is a light heuristic: a process/build-shaped result
// carries stdout/stderr or exit_code fields distinct from a plain tool
// Output string.
func isProcessBuildResult(resultJSON string) bool {
	var probe struct {
		Stdout   *string `json:"stdout"`
		Stderr   *string `json:"stderr"`
		ExitCode *int    `json:"exit_code"`
	}
	if err := json.Unmarshal([]byte(resultJSON), &probe); err != nil {
		return false
	}
	return probe.Stdout != nil || probe.Stderr != nil || probe.ExitCode != nil
}

func compressBuildOutput(resultJSON string, ceiling int) (string, bool) {
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(resultJSON), &parsed); err != nil {
		return "", false
	}

	stdout, _ := parsed["stdout"].(string)
	stderr, _ := parsed["stderr"].(string)

	stdoutLines := extractMarkedLines(stdout, buildLogLineLimit)
	stderrLines := extractMarkedLines(stderr, buildLogLineLimit)

	if len(stdoutLines) == 0 && len(stderrLines) == 0 {
		// No marker lines found in either stream: simple truncate both.
		parsed["stdout"] = simpleTruncateStream(stdout, ceiling/2)
		parsed["stderr"] = simpleTruncateStream(stderr, ceiling/2)
	} else {
		parsed["stdout"] = strings.Join(stdoutLines, "\n")
		parsed["stderr"] = strings.Join(stderrLines, "\n")
	}
	parsed["truncated"] = true

	out, err := json.Marshal(parsed)
	if err != nil {
		return "", false
	}
	return string(out), true
}

func extractMarkedLines(stream string, limit int) []string {
	if stream == "" {
		return nil
	}
	var kept []string
	for _, line := range strings.Split(stream, "\n") {
		for _, marker := range buildLogMarkers {
			if strings.Contains(line, marker) {
				kept = append(kept, line)
				break
			}
		}
		if len(kept) >= limit {
			break
		}
	}
	return kept
}

func simpleTruncateStream(s string, limit int) string {
	if limit < 0 {
		limit = 0
	}
	if len(s) <= limit {
		return s
	}
	return s[:limit] + fmt.Sprintf("\n[... truncated, original %d chars]", len(s))
}

// genericTruncate is the fallback rule: raw truncate with a trailer naming
// the original size.
func genericTruncate(resultJSON string, ceiling int) string {
	trailer := fmt.Sprintf("... [truncated, original %d chars]", len(resultJSON))
	budget := ceiling - len(trailer)
	if budget < 0 {
		budget = 0
	}
	if budget > len(resultJSON) {
		budget = len(resultJSON)
	}
	return resultJSON[:budget] + trailer
}
