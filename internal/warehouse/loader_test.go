package warehouse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/fsds-cli/internal/config"
	"github.com/sells-group/fsds-cli/internal/fsds"
	"github.com/sells-group/fsds-cli/internal/objstore/mocks"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var q4 = fsds.Period{Year: 2023, Quarter: 4}

func testConfig() config.WarehouseConfig {
	return config.WarehouseConfig{
		Schema: "raw_staging",
		Stage:  "sec_stage",
		Format: config.FileFormatConfig{Delimiter: "\t", SkipHeader: 1, EmptyAsNull: true, OnError: "continue"},
	}
}

// numFile builds a NUM member with good well-formed rows and bad rows
// carrying an extra delimiter.
func numFile(good, bad int) string {
	var b strings.Builder
	b.WriteString(strings.Join(fsds.NUM.Columns(), "\t") + "\n")
	for i := range good {
		fmt.Fprintf(&b, "0000320193-23-%06d\tAssets\tus-gaap/2023\t\t20230930\t0\tUSD\t%d\t\n", i, i*1000)
	}
	for i := range bad {
		fmt.Fprintf(&b, "0000320193-23-9%05d\tAssets\tus-gaap/2023\t\t20230930\t0\tUSD\t1\t\textra\n", i)
	}
	return b.String()
}

func storeServing(t *testing.T, key, body string) *mocks.MockStore {
	store := mocks.NewMockStore(t)
	store.On("Download", mock.Anything, key, mock.Anything).Return(
		func(_ context.Context, _ string, w io.WriterAt) (int64, error) {
			n, err := w.WriteAt([]byte(body), 0)
			return int64(n), err
		},
	).Once()
	return store
}

func expectEnsure(m pgxmock.PgxPoolIface, table string) {
	m.ExpectBegin()
	m.ExpectExec(`SELECT pg_advisory_xact_lock`).WithArgs(ddlLockID).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	m.ExpectExec(`CREATE SCHEMA IF NOT EXISTS "raw_staging"`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	m.ExpectExec(`CREATE TABLE IF NOT EXISTS "raw_staging"\."sec_stage"`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	m.ExpectExec(`CREATE TABLE IF NOT EXISTS "raw_staging"\."` + table + `"`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	m.ExpectExec(`ALTER TABLE "raw_staging"\."` + table + `" ADD COLUMN IF NOT EXISTS "fsds_period"`).WillReturnResult(pgxmock.NewResult("ALTER", 0))
	m.ExpectCommit()
}

func expectPut(m pgxmock.PgxPoolIface, lines int64) {
	m.ExpectExec(`DELETE FROM "raw_staging"\."sec_stage" WHERE file_name`).
		WithArgs("2023q4/num.txt").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	m.ExpectCopyFrom(pgx.Identifier{"raw_staging", "sec_stage"}, []string{"file_name", "line_no", "line"}).
		WillReturnResult(lines)
}

func expectRemove(m pgxmock.PgxPoolIface, lines int64) {
	m.ExpectExec(`DELETE FROM "raw_staging"\."sec_stage" WHERE file_name`).
		WithArgs("2023q4/num.txt").
		WillReturnResult(pgxmock.NewResult("DELETE", lines))
}

func numObject() fsds.StagedObject {
	return fsds.StagedObject{Member: fsds.NUM, Representation: fsds.Raw, Bucket: "sec-raw", Key: "sec_data/2023q4/raw/num.txt"}
}

func TestLoad_GoodAndMalformedRows(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	obj := numObject()
	store := storeServing(t, obj.Key, numFile(100, 3))

	expectEnsure(pool, "raw_num")
	expectPut(pool, 104)
	pool.ExpectBegin()
	pool.ExpectQuery(`WITH parsed AS`).
		WithArgs("2023q4/num.txt", int64(1), "\t", "2023q4").
		WillReturnRows(pgxmock.NewRows([]string{"rows_loaded", "rows_rejected"}).AddRow(int64(100), int64(3)))
	pool.ExpectCommit()
	expectRemove(pool, 104)

	dir := t.TempDir()
	res, err := NewLoader(pool, store, testConfig()).Load(context.Background(), q4, fsds.NUM, obj, dir)
	require.NoError(t, err)

	assert.Equal(t, fsds.LoadResult{Member: fsds.NUM, Table: "raw_staging.raw_num", RowsLoaded: 100, RowsRejected: 3}, res)
	assert.NoError(t, pool.ExpectationsWereMet())

	left, _ := os.ReadDir(dir)
	assert.Empty(t, left, "local copy removed")
}

func TestLoad_AbortOnRejectedRows(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	obj := numObject()
	store := storeServing(t, obj.Key, numFile(2, 1))
	cfg := testConfig()
	cfg.Format.OnError = "abort"

	expectEnsure(pool, "raw_num")
	expectPut(pool, 4)
	pool.ExpectBegin()
	pool.ExpectQuery(`WITH parsed AS`).
		WithArgs("2023q4/num.txt", int64(1), "\t", "2023q4").
		WillReturnRows(pgxmock.NewRows([]string{"rows_loaded", "rows_rejected"}).AddRow(int64(2), int64(1)))
	pool.ExpectRollback()
	expectRemove(pool, 4)

	_, err = NewLoader(pool, store, cfg).Load(context.Background(), q4, fsds.NUM, obj, t.TempDir())
	var le *fsds.LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, fsds.NUM, le.Member)
	assert.Contains(t, err.Error(), "rows rejected")
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestLoad_CopyFailureStillRemovesStage(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	obj := numObject()
	store := storeServing(t, obj.Key, numFile(1, 0))

	expectEnsure(pool, "raw_num")
	expectPut(pool, 2)
	pool.ExpectBegin()
	pool.ExpectQuery(`WITH parsed AS`).
		WithArgs("2023q4/num.txt", int64(1), "\t", "2023q4").
		WillReturnError(fmt.Errorf("permission denied for table raw_num"))
	pool.ExpectRollback()
	expectRemove(pool, 2)

	_, err = NewLoader(pool, store, testConfig()).Load(context.Background(), q4, fsds.NUM, obj, t.TempDir())
	var le *fsds.LoadError
	require.True(t, errors.As(err, &le))
	assert.Contains(t, err.Error(), "permission denied")
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestLoad_TruncateBeforeLoadClearsOnlyThePeriod(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	obj := numObject()
	store := storeServing(t, obj.Key, numFile(1, 0))
	cfg := testConfig()
	cfg.TruncateBeforeLoad = true

	expectEnsure(pool, "raw_num")
	expectPut(pool, 2)
	pool.ExpectBegin()
	pool.ExpectExec(`DELETE FROM "raw_staging"\."raw_num" WHERE "fsds_period" = \$1`).
		WithArgs("2023q4").
		WillReturnResult(pgxmock.NewResult("DELETE", 7))
	pool.ExpectQuery(`WITH parsed AS`).
		WithArgs("2023q4/num.txt", int64(1), "\t", "2023q4").
		WillReturnRows(pgxmock.NewRows([]string{"rows_loaded", "rows_rejected"}).AddRow(int64(1), int64(0)))
	pool.ExpectCommit()
	expectRemove(pool, 2)

	res, err := NewLoader(pool, store, cfg).Load(context.Background(), q4, fsds.NUM, obj, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsLoaded)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestLoad_DownloadFailureTouchesNothing(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	store := mocks.NewMockStore(t)
	store.On("Download", mock.Anything, mock.Anything, mock.Anything).Return(int64(0), errors.New("no such key"))

	dir := t.TempDir()
	_, err = NewLoader(pool, store, testConfig()).Load(context.Background(), q4, fsds.NUM, numObject(), dir)
	var le *fsds.LoadError
	require.True(t, errors.As(err, &le))
	assert.NoError(t, pool.ExpectationsWereMet())

	left, _ := os.ReadDir(dir)
	assert.Empty(t, left)
}

func TestLoad_CustomTableName(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	obj := fsds.StagedObject{Member: fsds.TAG, Key: "sec_data/2023q4/raw/tag.txt"}
	store := storeServing(t, obj.Key, "tag\tversion\tcustom\tabstract\tdatatype\tiord\tcrdr\ttlabel\tdoc\n")
	cfg := testConfig()
	cfg.Tables = map[string]string{"tag": "fin_tag"}

	expectEnsure(pool, "fin_tag")
	pool.ExpectExec(`DELETE FROM`).WithArgs("2023q4/tag.txt").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	pool.ExpectCopyFrom(pgx.Identifier{"raw_staging", "sec_stage"}, []string{"file_name", "line_no", "line"}).WillReturnResult(1)
	pool.ExpectBegin()
	pool.ExpectQuery(`INSERT INTO "raw_staging"\."fin_tag"`).
		WithArgs("2023q4/tag.txt", int64(1), "\t", "2023q4").
		WillReturnRows(pgxmock.NewRows([]string{"rows_loaded", "rows_rejected"}).AddRow(int64(0), int64(0)))
	pool.ExpectCommit()
	pool.ExpectExec(`DELETE FROM`).WithArgs("2023q4/tag.txt").WillReturnResult(pgxmock.NewResult("DELETE", 1))

	res, err := NewLoader(pool, store, cfg).Load(context.Background(), q4, fsds.TAG, obj, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "raw_staging.fin_tag", res.Table)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestPing(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	pool.ExpectPing().WillReturnError(errors.New("password authentication failed"))
	err = NewLoader(pool, nil, testConfig()).Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warehouse: ping")
}

func TestCleanLine(t *testing.T) {
	assert.Equal(t, "a\tb", cleanLine("a\tb\r\n"))
	assert.Equal(t, "ab", cleanLine("a\x00b\n"))
	assert.Equal(t, "a\uFFFDb", cleanLine("a\xffb"))
}

func TestCopyIntoSQL(t *testing.T) {
	format := config.FileFormatConfig{QuoteChar: `"`, EmptyAsNull: true, NullIf: []string{`\N`}}
	sql := copyIntoSQL("raw_staging", "sec_stage", "raw_tag", []string{"tag", "version"}, format)

	assert.Contains(t, sql, `INSERT INTO "raw_staging"."raw_tag" ("tag", "version", "fsds_period")`)
	assert.Contains(t, sql, `SELECT CASE WHEN`)
	assert.Contains(t, sql, `ELSE NULLIF(btrim(f[2], '"'), '') END, $4::text`)
	assert.Contains(t, sql, `FROM "raw_staging"."sec_stage"`)
	assert.Contains(t, sql, `cardinality(f) = 2`)
	assert.Contains(t, sql, `cardinality(f) <> 2`)
	assert.Contains(t, sql, `CASE WHEN NULLIF(btrim(f[1], '"'), '') IN ('\N') THEN NULL ELSE NULLIF(btrim(f[1], '"'), '') END`)
}

func TestCreateTableSQL(t *testing.T) {
	assert.Equal(t,
		`CREATE TABLE IF NOT EXISTS "raw_staging"."raw_num" ("adsh" TEXT, "tag" TEXT, "fsds_period" TEXT)`,
		createTableSQL("raw_staging", "raw_num", []string{"adsh", "tag"}))
}

func TestDeletePeriodSQL(t *testing.T) {
	assert.Equal(t,
		`DELETE FROM "raw_staging"."raw_sub" WHERE "fsds_period" = $1`,
		deletePeriodSQL("raw_staging", "raw_sub"))
}

// subHeader is the header line of the 2023q4 sub.txt.
const subHeader = "adsh\tcik\tname\tsic\tcountryba\tstprba\tcityba\tzipba\tbas1\tbas2\tbaph\t" +
	"countryma\tstprma\tcityma\tzipma\tmas1\tmas2\tcountryinc\tstprinc\tein\tformer\tchanged\t" +
	"afs\twksi\tfye\tform\tperiod\tfy\tfp\tfiled\taccepted\tprevrpt\tdetail\tinstance\tnciks\t" +
	"aciks\tpubfloatusd\tfloatdate\tfloataxis\tfloatmems"

func TestCopyIntoSQL_SubMatchesPublishedHeader(t *testing.T) {
	fields := strings.Split(subHeader, "\t")
	require.Len(t, fields, 40)
	assert.Equal(t, fields, fsds.SUB.Columns())

	sql := copyIntoSQL("raw_staging", "sec_stage", "raw_sub", fsds.SUB.Columns(), testConfig().Format)
	assert.Contains(t, sql, "cardinality(f) = 40")
	assert.Contains(t, sql, `"floatmems", "fsds_period")`)
	assert.Contains(t, sql, "NULLIF(f[40], '')")
}

func TestLoad_SubRows(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	row := make([]string, 40)
	row[0], row[1], row[2] = "0000320193-23-000106", "320193", "APPLE INC"
	body := subHeader + "\n" + strings.Join(row, "\t") + "\n"

	obj := fsds.StagedObject{Member: fsds.SUB, Key: "sec_data/2023q4/raw/sub.txt"}
	store := storeServing(t, obj.Key, body)

	expectEnsure(pool, "raw_sub")
	pool.ExpectExec(`DELETE FROM "raw_staging"\."sec_stage"`).WithArgs("2023q4/sub.txt").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	pool.ExpectCopyFrom(pgx.Identifier{"raw_staging", "sec_stage"}, []string{"file_name", "line_no", "line"}).WillReturnResult(2)
	pool.ExpectBegin()
	pool.ExpectQuery(`cardinality\(f\) = 40`).
		WithArgs("2023q4/sub.txt", int64(1), "\t", "2023q4").
		WillReturnRows(pgxmock.NewRows([]string{"rows_loaded", "rows_rejected"}).AddRow(int64(1), int64(0)))
	pool.ExpectCommit()
	pool.ExpectExec(`DELETE FROM "raw_staging"\."sec_stage"`).WithArgs("2023q4/sub.txt").WillReturnResult(pgxmock.NewResult("DELETE", 2))

	res, err := NewLoader(pool, store, testConfig()).Load(context.Background(), q4, fsds.SUB, obj, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsLoaded)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestLoad_EnsureTablesLockFailureRollsBack(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	obj := numObject()
	store := storeServing(t, obj.Key, numFile(1, 0))

	pool.ExpectBegin()
	pool.ExpectExec(`SELECT pg_advisory_xact_lock`).WithArgs(ddlLockID).WillReturnError(errors.New("canceling statement due to lock timeout"))
	pool.ExpectRollback()

	_, err = NewLoader(pool, store, testConfig()).Load(context.Background(), q4, fsds.NUM, obj, t.TempDir())
	var le *fsds.LoadError
	require.True(t, errors.As(err, &le))
	assert.Contains(t, err.Error(), "lock ddl")
	assert.NoError(t, pool.ExpectationsWereMet())
}
