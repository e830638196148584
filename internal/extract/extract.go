// Package extract unpacks data set archives and transcodes member files.
package extract

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fsds-cli/internal/fsds"
)

// Extract writes the requested members of the archive into dir and returns
// them keyed by member. Members are matched by base name, so archives that
// nest files in a folder are accepted. Output paths derive from the member
// name only. On error every file written by this call is removed.
func Extract(ctx context.Context, h *fsds.ArchiveHandle, members []fsds.Member, dir string) (out map[fsds.Member]fsds.MemberFile, err error) {
	log := zap.L().With(zap.String("component", "extract"), zap.String("period", h.Period.String()))

	// Non-local entry names are tolerated: output paths never use them.
	r, err := zip.OpenReader(h.Path)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, &fsds.ExtractError{Kind: fsds.CorruptArchive, Err: err}
	}
	defer r.Close() //nolint:errcheck

	entries := indexEntries(r.File)
	for _, m := range members {
		if _, ok := entries[m.FileName()]; !ok {
			return nil, &fsds.ExtractError{Kind: fsds.MissingMember, Member: m}
		}
	}

	out = make(map[fsds.Member]fsds.MemberFile, len(members))
	defer func() {
		if err != nil {
			for _, f := range out {
				_ = os.Remove(f.Path)
			}
			out = nil
		}
	}()

	for _, m := range members {
		if err := ctx.Err(); err != nil {
			return out, eris.Wrap(err, "extract: cancelled")
		}

		dest := filepath.Join(dir, m.FileName())
		n, err := extractEntry(entries[m.FileName()], dest)
		if err == nil && n == 0 {
			err = eris.New("member is empty")
		}
		if err != nil {
			_ = os.Remove(dest)
			return out, &fsds.ExtractError{Kind: fsds.CorruptArchive, Member: m, Err: err}
		}
		out[m] = fsds.MemberFile{Member: m, Path: dest, Size: n}

		log.Debug("member extracted", zap.String("member", m.String()), zap.Int64("bytes", n))
	}

	return out, nil
}

// indexEntries maps lower-case base names to archive entries, skipping
// directories and resource-fork folders.
func indexEntries(files []*zip.File) map[string]*zip.File {
	idx := make(map[string]*zip.File, len(files))
	for _, f := range files {
		if f.FileInfo().IsDir() || strings.HasPrefix(f.Name, "__MACOSX/") {
			continue
		}
		base := strings.ToLower(path.Base(strings.ReplaceAll(f.Name, `\`, "/")))
		if _, dup := idx[base]; !dup {
			idx[base] = f
		}
	}
	return idx
}

func extractEntry(f *zip.File, dest string) (int64, error) {
	rc, err := f.Open()
	if err != nil {
		return 0, eris.Wrap(err, "extract: open entry")
	}
	defer rc.Close() //nolint:errcheck

	file, err := os.Create(dest)
	if err != nil {
		return 0, eris.Wrap(err, "extract: create file")
	}

	n, err := io.Copy(file, rc)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, eris.Wrapf(err, "extract: write %s", filepath.Base(dest))
	}
	return n, nil
}
