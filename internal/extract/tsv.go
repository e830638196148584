package extract

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// Record is one line of a tab-delimited member split into fields.
type Record struct {
	Line   int64
	Fields []string
}

// StreamTSV reads tab-delimited lines from r and sends them on the returned
// channel. Both channels are closed when reading completes; at most one
// error is sent. Lines end in \n or \r\n, no quoting is interpreted, and a
// trailing empty line is not emitted.
func StreamTSV(ctx context.Context, r io.Reader) (<-chan Record, <-chan error) {
	recCh := make(chan Record, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(recCh)
		defer close(errCh)

		br := bufio.NewReaderSize(r, 256*1024)
		var lineNo int64
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "tsv: context cancelled")
				return
			}

			line, err := br.ReadString('\n')
			if err != nil && err != io.EOF {
				errCh <- eris.Wrap(err, "tsv: read line")
				return
			}
			if line == "" && err == io.EOF {
				return
			}

			lineNo++
			line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
			if lineNo == 1 {
				line = strings.TrimPrefix(line, "\ufeff")
			}

			select {
			case recCh <- Record{Line: lineNo, Fields: strings.Split(line, "\t")}:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "tsv: context cancelled")
				return
			}

			if err == io.EOF {
				return
			}
		}
	}()

	return recCh, errCh
}
