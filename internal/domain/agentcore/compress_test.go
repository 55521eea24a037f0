package agentcore

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestCompress_UnderCeilingPassesThrough(t *testing.T) {
	c := NewToolResultCompressor()
	small := `{"success":true,"output":"ok"}`
	if got := c.Compress("write_file", small); got != small {
		t.Fatalf("expected pass-through for small result, got %q", got)
	}
}

func TestCompress_SearchFilesKeepsFirst50(t *testing.T) {
	c := NewToolResultCompressor()

	matches := make([]string, 0, 200)
	for i := 0; i < 200; i++ {
		matches = append(matches, `{"file":"f`+itoa(i)+`.go","line":1,"text":"some long matching line of text to pad the payload well past the ceiling"}`)
	}
	body := `{"matches":[` + strings.Join(matches, ",") + `]}`

	out := c.Compress("search_files", body)

	var parsed struct {
		Matches      []interface{} `json:"matches"`
		Truncated    bool          `json:"truncated"`
		TotalMatches int           `json:"total_matches"`
		Showing      int           `json:"showing"`
	}
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("expected compressed search_files output to still be valid JSON: %v", err)
	}
	if len(parsed.Matches) != 50 {
		t.Fatalf("expected exactly 50 retained matches, got %d", len(parsed.Matches))
	}
	if !parsed.Truncated || parsed.TotalMatches != 200 || parsed.Showing != 50 {
		t.Fatalf("expected truncated metadata to be set, got %+v", parsed)
	}
}

func TestCompress_ReadFileTruncatesContentKeepsMetadata(t *testing.T) {
	c := NewToolResultCompressor()

	var lines []string
	for i := 0; i < 2000; i++ {
		lines = append(lines, "line of content padding the file out past the ceiling")
	}
	content := strings.Join(lines, "\n")
	body, _ := json.Marshal(map[string]interface{}{
		"hash":    "abc123",
		"content": content,
	})

	out := c.Compress("read_file", string(body))

	var parsed struct {
		Hash           string `json:"hash"`
		Content        string `json:"content"`
		Truncated      bool   `json:"truncated"`
		OriginalLength int    `json:"original_length"`
	}
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("expected valid JSON output: %v", err)
	}
	if parsed.Hash != "abc123" {
		t.Fatal("expected metadata (hash) to survive compression")
	}
	if !parsed.Truncated || parsed.OriginalLength != len(content) {
		t.Fatalf("expected truncation metadata, got %+v", parsed)
	}
	if len(parsed.Content) >= len(content) {
		t.Fatal("expected content to actually shrink")
	}
	if len(out) > ResultCeiling+200 {
		t.Fatalf("expected compressed output to be roughly within the ceiling, got %d bytes", len(out))
	}
}

func TestCompress_BuildOutputExtractsMarkerLines(t *testing.T) {
	c := NewToolResultCompressor()

	var lines []string
	for i := 0; i < 500; i++ {
		lines = append(lines, "just some ordinary noisy build log line that carries no signal at all")
	}
	lines[10] = "ERROR: something failed badly"
	lines[400] = "PASS: unit test suite"
	stdout := strings.Join(lines, "\n")

	body, _ := json.Marshal(map[string]interface{}{
		"stdout":    stdout,
		"stderr":    "",
		"exit_code": 1,
	})

	out := c.Compress("run_build", string(body))

	var parsed struct {
		Stdout    string `json:"stdout"`
		Truncated bool   `json:"truncated"`
	}
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("expected valid JSON output: %v", err)
	}
	if !parsed.Truncated {
		t.Fatal("expected truncated flag to be set")
	}
	if !strings.Contains(parsed.Stdout, "ERROR: something failed badly") {
		t.Fatal("expected the error marker line to survive compression")
	}
	if !strings.Contains(parsed.Stdout, "PASS: unit test suite") {
		t.Fatal("expected the pass marker line to survive compression")
	}
	if strings.Contains(parsed.Stdout, "ordinary noisy build log line") {
		t.Fatal("expected non-marker noise lines to be dropped")
	}
}

func TestCompress_GenericFallbackAddsTrailer(t *testing.T) {
	c := NewToolResultCompressor()
	body := `{"output":"` + strings.Repeat("x", 9000) + `"}`

	out := c.Compress("some_custom_tool", body)

	if len(out) > ResultCeiling {
		t.Fatalf("expected compressed output under the ceiling, got %d bytes", len(out))
	}
	if !strings.Contains(out, "truncated") {
		t.Fatal("expected a truncation trailer")
	}
}

func TestCompress_IsIdempotent(t *testing.T) {
	c := NewToolResultCompressor()
	body := `{"output":"` + strings.Repeat("y", 9000) + `"}`

	once := c.Compress("some_custom_tool", body)
	twice := c.Compress("some_custom_tool", once)

	if once != twice {
		t.Fatalf("expected compressing an already-compressed result to be a no-op:\nonce=%q\ntwice=%q", once, twice)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
