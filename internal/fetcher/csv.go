package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter rune            // default ','
	HasHeader bool            // first row goes to HeaderCh instead of the row channel
	HeaderCh  chan<- []string // optional
	TrimSpace bool
}

// StreamCSV reads CSV rows and sends them to a channel. Both channels are
// closed when processing completes; at most one error is sent.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		reader.FieldsPerRecord = -1
		reader.ReuseRecord = false

		send := func(ch chan<- []string, record []string) bool {
			select {
			case ch <- record:
				return true
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return false
			}
		}

		for line := 0; ; line++ {
			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}

			if opts.TrimSpace {
				for i, field := range record {
					record[i] = strings.TrimSpace(field)
				}
			}

			if line == 0 && opts.HasHeader {
				if opts.HeaderCh != nil && !send(opts.HeaderCh, record) {
					return
				}
				continue
			}

			if !send(rowCh, record) {
				return
			}
		}
	}()

	return rowCh, errCh
}
