package extract

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/rotisserie/eris"
)

// DefaultChunkRows is the batch size handed to row sinks when none is given.
const DefaultChunkRows = 1000

// Row is one data line of a member, keyed by the header columns in file order.
// A nil value is a null cell.
type Row struct {
	columns []string
	values  []*string
}

// Columns returns the header the row was read under.
func (r Row) Columns() []string { return r.columns }

// Values returns the cell values in column order.
func (r Row) Values() []*string { return r.values }

// Get returns the value of col and whether it is non-null.
func (r Row) Get(col string) (string, bool) {
	for i, c := range r.columns {
		if c == col {
			if r.values[i] == nil {
				return "", false
			}
			return *r.values[i], true
		}
	}
	return "", false
}

// MarshalJSON encodes the row as a JSON object preserving column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		if r.values[i] == nil {
			buf.WriteString("null")
			continue
		}
		v, err := json.Marshal(*r.values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// TranscodeStats counts what a transcode pass did.
type TranscodeStats struct {
	Rows    int64 `json:"rows"`
	Skipped int64 `json:"skipped"`
}

// normalize maps empty cells and any case of "nan" to null.
func normalize(v string) *string {
	if v == "" || strings.EqualFold(v, "nan") {
		return nil
	}
	return &v
}

// Rows streams the data rows of a tab-delimited member with a header line,
// calling fn with batches of at most chunkSize rows. Rows whose field count
// differs from the header are skipped and counted.
func Rows(ctx context.Context, r io.Reader, chunkSize int, fn func([]Row) error) (TranscodeStats, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkRows
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var stats TranscodeStats
	recs, errs := StreamTSV(ctx, r)

	first, ok := <-recs
	if !ok {
		if err := <-errs; err != nil {
			return stats, err
		}
		return stats, eris.New("transcode: missing header line")
	}
	header := first.Fields

	chunk := make([]Row, 0, chunkSize)
	for rec := range recs {
		if len(rec.Fields) != len(header) {
			stats.Skipped++
			continue
		}
		values := make([]*string, len(rec.Fields))
		for i, f := range rec.Fields {
			values[i] = normalize(f)
		}
		chunk = append(chunk, Row{columns: header, values: values})
		stats.Rows++

		if len(chunk) == chunkSize {
			if err := fn(chunk); err != nil {
				return stats, err
			}
			chunk = make([]Row, 0, chunkSize)
		}
	}
	if err := <-errs; err != nil {
		return stats, err
	}

	if len(chunk) > 0 {
		if err := fn(chunk); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// Transcode writes the member read from r to w as one JSON array of row
// objects, encoding chunk by chunk.
func Transcode(ctx context.Context, r io.Reader, w io.Writer, chunkSize int) (TranscodeStats, error) {
	bw := bufio.NewWriterSize(w, 256*1024)
	if _, err := bw.WriteString("["); err != nil {
		return TranscodeStats{}, eris.Wrap(err, "transcode: write")
	}

	wrote := false
	stats, err := Rows(ctx, r, chunkSize, func(rows []Row) error {
		for _, row := range rows {
			if wrote {
				if err := bw.WriteByte(','); err != nil {
					return eris.Wrap(err, "transcode: write")
				}
			}
			b, err := row.MarshalJSON()
			if err != nil {
				return eris.Wrap(err, "transcode: encode row")
			}
			if _, err := bw.Write(b); err != nil {
				return eris.Wrap(err, "transcode: write")
			}
			wrote = true
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	if _, err := bw.WriteString("]"); err != nil {
		return stats, eris.Wrap(err, "transcode: write")
	}
	if err := bw.Flush(); err != nil {
		return stats, eris.Wrap(err, "transcode: flush")
	}
	return stats, nil
}
