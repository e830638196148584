package fsds

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Member is one of the fixed tabular files inside a data set archive.
type Member int

const (
	NUM Member = iota + 1 // numeric facts
	PRE                   // presentation of statements
	SUB                   // submissions
	TAG                   // tag definitions
)

// AllMembers returns every member in load order.
func AllMembers() []Member {
	return []Member{NUM, PRE, SUB, TAG}
}

// Name returns the lower-case member name ("num").
func (m Member) Name() string {
	switch m {
	case NUM:
		return "num"
	case PRE:
		return "pre"
	case SUB:
		return "sub"
	case TAG:
		return "tag"
	default:
		return "unknown"
	}
}

// String returns the upper-case member name ("NUM").
func (m Member) String() string {
	return strings.ToUpper(m.Name())
}

// FileName returns the member's file name inside the archive.
func (m Member) FileName() string {
	return m.Name() + ".txt"
}

// DefaultTable returns the warehouse table name used when no mapping is configured.
func (m Member) DefaultTable() string {
	return "raw_" + m.Name()
}

// Columns returns the member's fixed column list, in file order.
func (m Member) Columns() []string {
	cols := memberColumns[m]
	out := make([]string, len(cols))
	copy(out, cols)
	return out
}

// ParseMember accepts "num", "NUM" or "num.txt".
func ParseMember(s string) (Member, error) {
	name := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), ".txt")
	for _, m := range AllMembers() {
		if m.Name() == name {
			return m, nil
		}
	}
	return 0, eris.Errorf("fsds: unknown member %q (valid: num, pre, sub, tag)", s)
}

var memberColumns = map[Member][]string{
	NUM: {"adsh", "tag", "version", "coreg", "ddate", "qtrs", "uom", "value", "footnote"},
	PRE: {"adsh", "report", "line", "stmt", "inpth", "rfile", "tag", "version", "plabel", "negating"},
	SUB: {
		"adsh", "cik", "name", "sic", "countryba", "stprba", "cityba", "zipba", "bas1", "bas2",
		"baph", "countryma", "stprma", "cityma", "zipma", "mas1", "mas2", "countryinc", "stprinc",
		"ein", "former", "changed", "afs", "wksi", "fye", "form", "period", "fy", "fp", "filed",
		"accepted", "prevrpt", "detail", "instance", "nciks", "aciks", "pubfloatusd", "floatdate",
		"floataxis", "floatmems",
	},
	TAG: {"tag", "version", "custom", "abstract", "datatype", "iord", "crdr", "tlabel", "doc"},
}
