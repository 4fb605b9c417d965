package fetcher

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// DecodeJSONArray decodes a JSON array of the form [{...},{...}] element by
// element. Both channels are closed when processing completes.
func DecodeJSONArray[T any](ctx context.Context, r io.Reader) (<-chan T, <-chan error) {
	outCh := make(chan T, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		decoder := json.NewDecoder(r)

		tok, err := decoder.Token()
		if err != nil {
			if err == io.EOF {
				return
			}
			errCh <- eris.Wrap(err, "json: read opening token")
			return
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '[' {
			errCh <- eris.Errorf("json: expected '[', got %v", tok)
			return
		}

		for decoder.More() {
			var item T
			if err := decoder.Decode(&item); err != nil {
				errCh <- eris.Wrap(err, "json: decode element")
				return
			}

			select {
			case outCh <- item:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}
		}

		if _, err := decoder.Token(); err != nil && err != io.EOF {
			errCh <- eris.Wrap(err, "json: read closing token")
		}
	}()

	return outCh, errCh
}

// DecodeJSONLines decodes newline-delimited JSON, one value per line, as
// written by document store exports. Blank lines are skipped and errors carry
// the 1-based line number.
func DecodeJSONLines[T any](ctx context.Context, r io.Reader) (<-chan T, <-chan error) {
	outCh := make(chan T, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

		for line := 1; scanner.Scan(); line++ {
			raw := bytes.TrimSpace(scanner.Bytes())
			if len(raw) == 0 {
				continue
			}

			var item T
			if err := json.Unmarshal(raw, &item); err != nil {
				errCh <- eris.Wrapf(err, "json: decode line %d", line)
				return
			}

			select {
			case outCh <- item:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "json: context cancelled")
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- eris.Wrap(err, "json: scan lines")
		}
	}()

	return outCh, errCh
}

// DecodeJSONObject decodes a single JSON value from a reader.
func DecodeJSONObject[T any](r io.Reader) (*T, error) {
	var obj T
	if err := json.NewDecoder(r).Decode(&obj); err != nil {
		return nil, eris.Wrap(err, "json: decode object")
	}
	return &obj, nil
}

// ArrayWriter writes values as the elements of one JSON array.
type ArrayWriter struct {
	w     *bufio.Writer
	count int
}

// NewArrayWriter starts a JSON array on w.
func NewArrayWriter(w io.Writer) *ArrayWriter {
	return &ArrayWriter{w: bufio.NewWriter(w)}
}

// Write appends one element.
func (a *ArrayWriter) Write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return eris.Wrap(err, "json: marshal element")
	}
	sep := byte(',')
	if a.count == 0 {
		sep = '['
	}
	if err := a.w.WriteByte(sep); err != nil {
		return eris.Wrap(err, "json: write element")
	}
	if _, err := a.w.Write(data); err != nil {
		return eris.Wrap(err, "json: write element")
	}
	a.count++
	return nil
}

// Count returns the number of elements written.
func (a *ArrayWriter) Count() int { return a.count }

// Close terminates the array and flushes. An empty writer produces [].
func (a *ArrayWriter) Close() error {
	closing := "]"
	if a.count == 0 {
		closing = "[]"
	}
	if _, err := a.w.WriteString(closing); err != nil {
		return eris.Wrap(err, "json: close array")
	}
	return eris.Wrap(a.w.Flush(), "json: flush")
}
