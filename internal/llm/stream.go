package llm

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
)

// deltaReader turns an SSE completion stream into the concatenated
// choices[0].delta.content values. It stops at "data: [DONE]".
type deltaReader struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	buf     []byte
	done    bool
}

func newDeltaReader(body io.ReadCloser) *deltaReader {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &deltaReader{body: body, scanner: sc}
}

func (r *deltaReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		if r.done {
			return 0, io.EOF
		}
		if !r.scanner.Scan() {
			r.done = true
			if err := r.scanner.Err(); err != nil {
				return 0, err
			}
			return 0, io.EOF
		}
		r.buf = r.parseLine(r.scanner.Bytes())
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

func (r *deltaReader) parseLine(line []byte) []byte {
	data, ok := bytes.CutPrefix(line, []byte("data:"))
	if !ok {
		return nil
	}
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("[DONE]")) {
		r.done = true
		return nil
	}
	var chunk streamChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		slog.Debug("skipping malformed stream frame", "error", err)
		return nil
	}
	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
		return nil
	}
	return []byte(chunk.Choices[0].Delta.Content)
}

func (r *deltaReader) Close() error {
	return r.body.Close()
}
