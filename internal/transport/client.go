package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// StreamExecuteTask opens Executor.ExecuteTask against uri and returns a
// channel of ExecutionOutput messages, closed when the stream ends (either
// normally, after the terminal message, or on a transport error — in which
// case a final synthetic Failed ExecutionOutput is sent before closing, so
// callers never need a separate error channel). Realised as HTTP/1.1 POST
// with an application/x-ndjson response body read one line at a time (§4.4,
// §2's NDJSON transport decision).
func StreamExecuteTask(ctx context.Context, client *http.Client, uri string, task Task) (<-chan ExecutionOutput, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri+"/v1/executor/execute", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("executor %s: status %d", uri, resp.StatusCode)
	}

	out := make(chan ExecutionOutput, 1)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var msg ExecutionOutput
			if err := json.Unmarshal(line, &msg); err != nil {
				out <- ExecutionOutput{Status: "Failed", Message: "malformed stream line: " + err.Error()}
				return
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			out <- ExecutionOutput{Status: "Failed", Message: "stream read error: " + err.Error()}
		}
	}()
	return out, nil
}

// WriteExecutionOutput writes one NDJSON line to w and flushes immediately
// — the executor side must not buffer, per §5's "dispatch side must read
// promptly" and the mirrored obligation on the producer.
func WriteExecutionOutput(w io.Writer, flusher http.Flusher, msg ExecutionOutput) error {
	line, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	if _, err := w.Write(line); err != nil {
		return err
	}
	if flusher != nil {
		flusher.Flush()
	}
	return nil
}
