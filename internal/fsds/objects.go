package fsds

import (
	"io"
	"os"
	"path"

	"github.com/rotisserie/eris"
)

// DefaultKeyPrefix is the root of the object store key layout.
const DefaultKeyPrefix = "sec_data"

// Representation selects which form of a member is published.
type Representation string

const (
	Raw  Representation = "raw"
	JSON Representation = "json"
)

// Extension returns the object key extension for the representation.
func (r Representation) Extension() string {
	if r == JSON {
		return ".json"
	}
	return ".txt"
}

// ContentType returns the MIME type uploaded with the representation.
func (r Representation) ContentType() string {
	if r == JSON {
		return "application/json"
	}
	return "text/tab-separated-values"
}

// ObjectKey returns the deterministic key for a member of a period, e.g.
// "sec_data/2023q4/raw/num.txt" or "sec_data/2023q4/json/num.json".
func ObjectKey(prefix string, p Period, m Member, r Representation) string {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return path.Join(prefix, p.String(), string(r), m.Name()+r.Extension())
}

// ArchiveHandle is a downloaded archive on local disk.
type ArchiveHandle struct {
	Period Period
	Path   string
	Name   string
	Size   int64
}

// MemberFile is one extracted member, backed by a file in the run workspace.
type MemberFile struct {
	Member Member
	Path   string
	Size   int64
}

// Open opens the member's bytes for reading.
func (f MemberFile) Open() (io.ReadCloser, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "fsds: open member %s", f.Member)
	}
	return file, nil
}

// ReadAll returns the member's bytes.
func (f MemberFile) ReadAll() ([]byte, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "fsds: read member %s", f.Member)
	}
	return data, nil
}

// StagedObject is a member representation persisted to object storage.
type StagedObject struct {
	Member         Member         `json:"member"`
	Representation Representation `json:"representation"`
	Bucket         string         `json:"bucket"`
	Key            string         `json:"key"`
	Size           int64          `json:"size"`
}

// URI returns the s3:// location of the object.
func (o StagedObject) URI() string {
	return "s3://" + o.Bucket + "/" + o.Key
}

// LoadResult reports the outcome of one bulk load.
type LoadResult struct {
	Member       Member `json:"member"`
	Table        string `json:"table"`
	RowsLoaded   int64  `json:"rows_loaded"`
	RowsRejected int64  `json:"rows_rejected"`
}
