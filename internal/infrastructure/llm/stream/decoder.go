package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IdleTimeout is the idle window after which a stream with no prior progress
// is a hard error, and a stream with prior progress is treated as a clean
// end-of-stream (§4.2). Variable rather than const so tests can shrink it.
var IdleTimeout = 5 * time.Second

// Callbacks receives incremental events as the decoder consumes the stream.
// Any callback may be nil.
type Callbacks struct {
	OnToken     func(delta string)
	OnReasoning func(delta string)
	OnUsage     func(u *Usage)
}

var errIdle = errors.New("stream: idle timeout")

// timedReader applies a per-Read deadline, returning errIdle when no bytes
// arrive within timeout.
type timedReader struct {
	r       io.Reader
	timeout time.Duration
}

func (t *timedReader) Read(p []byte) (int, error) {
	type res struct {
		n   int
		err error
	}
	ch := make(chan res, 1)
	go func() {
		n, err := t.r.Read(p)
		ch <- res{n, err}
	}()
	select {
	case r := <-ch:
		return r.n, r.err
	case <-time.After(t.timeout):
		return 0, errIdle
	}
}

// toolCallBuilder accumulates fragments for one tool-call index.
type toolCallBuilder struct {
	id   string
	name string
	args strings.Builder
}

// Decode reads a text/event-stream response body and returns the merged
// turn result (§4.2's stream_once contract). Events fire on cb as they
// arrive; cb may be nil or have nil fields.
func Decode(ctx context.Context, r io.Reader, cb Callbacks) (*Result, error) {
	tr := &timedReader{r: r, timeout: IdleTimeout}
	scanner := bufio.NewScanner(tr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var content strings.Builder
	var reasoning strings.Builder
	builders := make(map[int]*toolCallBuilder)
	var order []int
	var finishReason string
	var usage *Usage
	madeProgress := false

	emitProgress := func() { madeProgress = true }

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		line := scanner.Text()
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk ChunkData
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}

		if chunk.Usage != nil {
			usage = chunk.Usage
			if cb.OnUsage != nil {
				cb.OnUsage(usage)
			}
		}

		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		delta := choice.Delta

		if choice.FinishReason != nil {
			finishReason = *choice.FinishReason
			emitProgress()
		}

		if delta.Content != "" {
			content.WriteString(delta.Content)
			emitProgress()
			if cb.OnToken != nil {
				cb.OnToken(delta.Content)
			}
		}

		if delta.ReasoningContent != "" {
			reasoning.WriteString(delta.ReasoningContent)
			emitProgress()
			if cb.OnReasoning != nil {
				cb.OnReasoning(delta.ReasoningContent)
			}
		}

		for _, tc := range delta.ToolCalls {
			b, ok := builders[tc.Index]
			if !ok {
				b = &toolCallBuilder{}
				builders[tc.Index] = b
				order = append(order, tc.Index)
			}
			if b.id == "" && tc.ID != "" {
				b.id = tc.ID
			}
			if b.name == "" && tc.Function.Name != "" {
				b.name = tc.Function.Name
			}
			b.args.WriteString(tc.Function.Arguments)
			emitProgress()
		}

		// finish_reason is a hint to wind down, but keep reading so a
		// trailing usage-only event still gets captured (§4.2).
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(err, errIdle) {
			if !madeProgress {
				return nil, fmt.Errorf("stream: idle timeout before any progress after %v", IdleTimeout)
			}
			// Progress was made; treat as clean end-of-stream.
		} else {
			return nil, fmt.Errorf("stream: scan error: %w", err)
		}
	}

	result := &Result{
		Content:      content.String(),
		FinishReason: finishReason,
		Usage:        usage,
	}
	if reasoning.Len() > 0 {
		result.Reasoning = reasoning.String()
	}

	sortInts(order)
	for _, idx := range order {
		b := builders[idx]
		id := b.id
		if id == "" {
			id = uuid.NewString()
		}
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        id,
			Name:      b.name,
			Arguments: b.args.String(),
		})
	}

	return result, nil
}

func sortInts(s []int) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
