// Package warehouse bulk-loads staged member files into Postgres tables
// through a stage table and a server-side COPY INTO step.
package warehouse

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fsds-cli/internal/config"
	"github.com/sells-group/fsds-cli/internal/db"
	"github.com/sells-group/fsds-cli/internal/fsds"
	"github.com/sells-group/fsds-cli/internal/objstore"
)

// Loader loads one member at a time from object storage into its table.
type Loader struct {
	pool  db.Pool
	store objstore.Store
	cfg   config.WarehouseConfig
}

// NewLoader returns a Loader for the warehouse described by cfg.
func NewLoader(pool db.Pool, store objstore.Store, cfg config.WarehouseConfig) *Loader {
	if cfg.Schema == "" {
		cfg.Schema = "raw_staging"
	}
	if cfg.Stage == "" {
		cfg.Stage = "sec_stage"
	}
	if cfg.Format.Delimiter == "" {
		cfg.Format.Delimiter = "\t"
	}
	if cfg.Format.OnError == "" {
		cfg.Format.OnError = "continue"
	}
	return &Loader{pool: pool, store: store, cfg: cfg}
}

// Ping verifies the warehouse accepts connections.
func (l *Loader) Ping(ctx context.Context) error {
	if err := l.pool.Ping(ctx); err != nil {
		return eris.Wrap(err, "warehouse: ping")
	}
	return nil
}

// StagedFileName is the stage entry name for a member of a period.
func StagedFileName(p fsds.Period, m fsds.Member) string {
	return p.String() + "/" + m.FileName()
}

// Load re-reads obj from object storage into dir, stages its lines, copies
// them into the member table and removes the stage entries. Rows with the
// wrong field count are counted in RowsRejected. Errors are *fsds.LoadError.
func (l *Loader) Load(ctx context.Context, p fsds.Period, m fsds.Member, obj fsds.StagedObject, dir string) (res fsds.LoadResult, err error) {
	table := l.cfg.TableFor(m)
	fileName := StagedFileName(p, m)
	log := zap.L().With(
		zap.String("component", "warehouse"),
		zap.String("period", p.String()),
		zap.String("member", m.String()),
		zap.String("table", l.cfg.Schema+"."+table),
	)
	res = fsds.LoadResult{Member: m, Table: l.cfg.Schema + "." + table}

	defer func() {
		if err != nil {
			log.Error("load failed", zap.Error(err))
			err = &fsds.LoadError{Member: m, Err: err}
		}
	}()

	start := time.Now()
	local, err := l.download(ctx, obj, dir)
	if err != nil {
		return res, err
	}
	defer os.Remove(local) //nolint:errcheck

	if err := l.ensureTables(ctx, table, m.Columns()); err != nil {
		return res, err
	}

	staged, err := l.put(ctx, fileName, local)
	if err != nil {
		return res, err
	}
	defer func() {
		if rerr := l.remove(context.WithoutCancel(ctx), fileName); rerr != nil {
			log.Warn("stage cleanup failed", zap.String("file", fileName), zap.Error(rerr))
			if err == nil {
				err = rerr
			}
		}
	}()

	loaded, rejected, err := l.copyInto(ctx, p, fileName, table, m.Columns())
	if err != nil {
		return res, err
	}
	res.RowsLoaded, res.RowsRejected = loaded, rejected

	log.Info("member loaded",
		zap.Int64("lines_staged", staged),
		zap.Int64("rows_loaded", loaded),
		zap.Int64("rows_rejected", rejected),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

func (l *Loader) download(ctx context.Context, obj fsds.StagedObject, dir string) (string, error) {
	f, err := os.CreateTemp(dir, "load-*-"+filepath.Base(obj.Key))
	if err != nil {
		return "", eris.Wrap(err, "warehouse: create local file")
	}
	path := f.Name()

	_, err = l.store.Download(ctx, obj.Key, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = eris.Wrap(cerr, "warehouse: close local file")
	}
	if err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

// ensureTables creates the schema, the stage and the member table. The DDL
// runs under a transaction-scoped advisory lock; concurrent CREATE ... IF NOT
// EXISTS statements can otherwise fail on catalog unique indexes.
func (l *Loader) ensureTables(ctx context.Context, table string, columns []string) (err error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "warehouse: begin ensure tables")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", ddlLockID); err != nil {
		return eris.Wrap(err, "warehouse: lock ddl")
	}
	stmts := []string{
		createSchemaSQL(l.cfg.Schema),
		createStageSQL(l.cfg.Schema, l.cfg.Stage),
		createTableSQL(l.cfg.Schema, table, columns),
		addPeriodColumnSQL(l.cfg.Schema, table),
	}
	for _, sql := range stmts {
		if _, err := tx.Exec(ctx, sql); err != nil {
			return eris.Wrap(err, "warehouse: ensure tables")
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "warehouse: commit ensure tables")
	}
	return nil
}

// put replaces the stage entries for fileName with the lines of the local
// file. Invalid UTF-8 becomes U+FFFD and NUL bytes are dropped.
func (l *Loader) put(ctx context.Context, fileName, local string) (int64, error) {
	if _, err := l.pool.Exec(ctx, removeStagedSQL(l.cfg.Schema, l.cfg.Stage), fileName); err != nil {
		return 0, eris.Wrap(err, "warehouse: clear stage")
	}

	f, err := os.Open(local)
	if err != nil {
		return 0, eris.Wrap(err, "warehouse: open local file")
	}
	defer f.Close() //nolint:errcheck

	br := bufio.NewReaderSize(f, 256*1024)
	var lineNo int64
	next := func() ([]any, bool, error) {
		line, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, false, eris.Wrap(err, "warehouse: read local file")
		}
		if line == "" && err == io.EOF {
			return nil, false, nil
		}
		lineNo++
		return []any{fileName, lineNo, cleanLine(line)}, true, nil
	}

	n, err := db.CopyStream(ctx, l.pool, l.cfg.Schema, l.cfg.Stage, stageColumns, next)
	if err != nil {
		return n, eris.Wrap(err, "warehouse: put")
	}
	return n, nil
}

func cleanLine(line string) string {
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
	line = strings.ReplaceAll(line, "\x00", "")
	return strings.ToValidUTF8(line, "\uFFFD")
}

func (l *Loader) copyInto(ctx context.Context, p fsds.Period, fileName, table string, columns []string) (loaded, rejected int64, err error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return 0, 0, eris.Wrap(err, "warehouse: begin copy")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if l.cfg.TruncateBeforeLoad {
		if _, err := tx.Exec(ctx, deletePeriodSQL(l.cfg.Schema, table), p.String()); err != nil {
			return 0, 0, eris.Wrap(err, "warehouse: clear period")
		}
	}

	sql := copyIntoSQL(l.cfg.Schema, l.cfg.Stage, table, columns, l.cfg.Format)
	skip := int64(l.cfg.Format.SkipHeader)
	if err := tx.QueryRow(ctx, sql, fileName, skip, l.cfg.Format.Delimiter, p.String()).Scan(&loaded, &rejected); err != nil {
		return 0, 0, eris.Wrap(err, "warehouse: copy into")
	}

	if rejected > 0 && l.cfg.Format.OnError == "abort" {
		return 0, rejected, eris.Errorf("warehouse: %d rows rejected with on_error=abort", rejected)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, eris.Wrap(err, "warehouse: commit copy")
	}
	committed = true
	return loaded, rejected, nil
}

func (l *Loader) remove(ctx context.Context, fileName string) error {
	if _, err := l.pool.Exec(ctx, removeStagedSQL(l.cfg.Schema, l.cfg.Stage), fileName); err != nil {
		return eris.Wrap(err, "warehouse: remove staged file")
	}
	return nil
}
