package warehouse

import (
	"fmt"
	"strings"

	"github.com/sells-group/fsds-cli/internal/config"
	"github.com/sells-group/fsds-cli/internal/db"
)

// stageColumns is the column order used when streaming lines into the stage.
var stageColumns = []string{"file_name", "line_no", "line"}

// PeriodColumn tags every loaded row with its data set period. SUB already
// has a "period" column, hence the prefix.
const PeriodColumn = "fsds_period"

// ddlLockID serializes table creation across concurrent loads.
const ddlLockID int64 = 7340212

func createSchemaSQL(schema string) string {
	return "CREATE SCHEMA IF NOT EXISTS " + db.Ident(schema)
}

func createStageSQL(schema, stage string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	file_name TEXT NOT NULL,
	line_no   BIGINT NOT NULL,
	line      TEXT NOT NULL,
	staged_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, db.Ident(schema, stage))
}

func createTableSQL(schema, table string, columns []string) string {
	defs := make([]string, 0, len(columns)+1)
	for _, c := range columns {
		defs = append(defs, db.Ident(c)+" TEXT")
	}
	defs = append(defs, db.Ident(PeriodColumn)+" TEXT")
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", db.Ident(schema, table), strings.Join(defs, ", "))
}

// addPeriodColumnSQL upgrades tables created before rows carried a period.
func addPeriodColumnSQL(schema, table string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s TEXT", db.Ident(schema, table), db.Ident(PeriodColumn))
}

func removeStagedSQL(schema, stage string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE file_name = $1", db.Ident(schema, stage))
}

// deletePeriodSQL removes the rows of one period ($1) from a member table.
func deletePeriodSQL(schema, table string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = $1", db.Ident(schema, table), db.Ident(PeriodColumn))
}

// copyIntoSQL parses the staged lines of one file server-side and inserts
// those whose field count matches the table. It returns the inserted and
// rejected counts. Parameters: $1 file name, $2 header lines to skip,
// $3 field delimiter, $4 period tag.
func copyIntoSQL(schema, stage, table string, columns []string, format config.FileFormatConfig) string {
	exprs := make([]string, len(columns))
	for i := range columns {
		exprs[i] = fieldExpr(i+1, format)
	}

	return fmt.Sprintf(`WITH parsed AS (
	SELECT string_to_array(line, $3) AS f
	FROM %[1]s
	WHERE file_name = $1 AND line_no > $2
), inserted AS (
	INSERT INTO %[2]s (%[3]s, %[6]s)
	SELECT %[4]s, $4::text
	FROM parsed
	WHERE cardinality(f) = %[5]d
	RETURNING 1
)
SELECT
	(SELECT count(*) FROM inserted) AS rows_loaded,
	(SELECT count(*) FROM parsed WHERE cardinality(f) <> %[5]d) AS rows_rejected`,
		db.Ident(schema, stage),
		db.Ident(schema, table),
		db.QuoteColumns(columns),
		strings.Join(exprs, ", "),
		len(columns),
		db.Ident(PeriodColumn),
	)
}

// fieldExpr returns the expression yielding column n (1-based) of f with the
// quote, empty and null-token rules of the file format applied.
func fieldExpr(n int, format config.FileFormatConfig) string {
	v := fmt.Sprintf("f[%d]", n)
	if format.QuoteChar != "" {
		v = fmt.Sprintf("btrim(%s, %s)", v, db.QuoteLiteral(format.QuoteChar))
	}
	if format.EmptyAsNull {
		v = fmt.Sprintf("NULLIF(%s, '')", v)
	}
	if len(format.NullIf) > 0 {
		tokens := make([]string, len(format.NullIf))
		for i, t := range format.NullIf {
			tokens[i] = db.QuoteLiteral(t)
		}
		v = fmt.Sprintf("CASE WHEN %s IN (%s) THEN NULL ELSE %s END", v, strings.Join(tokens, ", "), v)
	}
	return v
}
