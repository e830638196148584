//go:build integration

package warehouse

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/sells-group/fsds-cli/internal/db"
	"github.com/sells-group/fsds-cli/internal/fsds"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container skipped in short mode")
	}
	ctx := context.Background()

	testcontainers.Logger = log.New(io.Discard, "", 0)

	pg, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		Started: true,
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "fsds",
				"POSTGRES_PASSWORD": "fsds",
				"POSTGRES_DB":       "sec",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(context.Background()) })

	host, err := pg.Host(ctx)
	require.NoError(t, err)
	port, err := pg.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	pool, err := db.Connect(ctx, fmt.Sprintf("postgres://fsds:fsds@%s:%s/sec?sslmode=disable", host, port.Port()), 4)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func countRows(t *testing.T, pool *pgxpool.Pool, sql string, args ...any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, pool.QueryRow(context.Background(), sql, args...).Scan(&n))
	return n
}

func loadNum(t *testing.T, l *Loader, p fsds.Period, body string) fsds.LoadResult {
	t.Helper()
	obj := fsds.StagedObject{Member: fsds.NUM, Key: "sec_data/" + p.String() + "/raw/num.txt"}
	l.store = storeServing(t, obj.Key, body)
	res, err := l.Load(context.Background(), p, fsds.NUM, obj, t.TempDir())
	require.NoError(t, err)
	return res
}

func TestIntegration_GoodAndMalformedRows(t *testing.T) {
	pool := startPostgres(t)
	l := NewLoader(pool, nil, testConfig())

	res := loadNum(t, l, q4, numFile(100, 3))
	assert.Equal(t, int64(100), res.RowsLoaded)
	assert.Equal(t, int64(3), res.RowsRejected)

	assert.Equal(t, int64(100), countRows(t, pool, `SELECT count(*) FROM raw_staging.raw_num`))
	assert.Equal(t, int64(0), countRows(t, pool, `SELECT count(*) FROM raw_staging.raw_num WHERE adsh = 'adsh'`), "header skipped")
	assert.Equal(t, int64(100), countRows(t, pool, `SELECT count(*) FROM raw_staging.raw_num WHERE coreg IS NULL AND footnote IS NULL`), "empty fields are NULL")
	assert.Equal(t, int64(100), countRows(t, pool, `SELECT count(*) FROM raw_staging.raw_num WHERE fsds_period = '2023q4'`))
	assert.Equal(t, int64(0), countRows(t, pool, `SELECT count(*) FROM raw_staging.sec_stage`), "stage emptied")

	var value string
	require.NoError(t, pool.QueryRow(context.Background(),
		`SELECT value FROM raw_staging.raw_num WHERE adsh = '0000320193-23-000042'`).Scan(&value))
	assert.Equal(t, "42000", value)
}

func TestIntegration_TruncateBeforeLoadKeepsOtherPeriods(t *testing.T) {
	pool := startPostgres(t)
	cfg := testConfig()
	cfg.TruncateBeforeLoad = true
	l := NewLoader(pool, nil, cfg)
	q3 := fsds.Period{Year: 2023, Quarter: 3}

	loadNum(t, l, q3, numFile(5, 0))
	loadNum(t, l, q4, numFile(7, 0))
	loadNum(t, l, q4, numFile(4, 0))

	assert.Equal(t, int64(5), countRows(t, pool, `SELECT count(*) FROM raw_staging.raw_num WHERE fsds_period = $1`, "2023q3"))
	assert.Equal(t, int64(4), countRows(t, pool, `SELECT count(*) FROM raw_staging.raw_num WHERE fsds_period = $1`, "2023q4"))
}

func TestIntegration_SubFullWidthRows(t *testing.T) {
	pool := startPostgres(t)
	l := NewLoader(pool, nil, testConfig())

	row := make([]string, len(fsds.SUB.Columns()))
	row[0], row[1], row[2] = "0000320193-23-000106", "320193", "APPLE INC"
	row[36] = "2591165000000"
	body := subHeader + "\n" + strings.Join(row, "\t") + "\n"

	obj := fsds.StagedObject{Member: fsds.SUB, Key: "sec_data/2023q4/raw/sub.txt"}
	l.store = storeServing(t, obj.Key, body)
	res, err := l.Load(context.Background(), q4, fsds.SUB, obj, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsLoaded)
	assert.Equal(t, int64(0), res.RowsRejected)

	var float string
	require.NoError(t, pool.QueryRow(context.Background(),
		`SELECT pubfloatusd FROM raw_staging.raw_sub WHERE cik = '320193'`).Scan(&float))
	assert.Equal(t, "2591165000000", float)
}

func TestIntegration_ConcurrentEnsureTables(t *testing.T) {
	pool := startPostgres(t)
	l := NewLoader(pool, nil, testConfig())

	errs := make(chan error, 4)
	for range 4 {
		go func() { errs <- l.ensureTables(context.Background(), "raw_tag", fsds.TAG.Columns()) }()
	}
	for range 4 {
		assert.NoError(t, <-errs)
	}
}
