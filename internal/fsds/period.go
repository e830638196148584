// Package fsds defines the domain types shared by the SEC Financial Statement Data Sets pipeline.
package fsds

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// FirstYear is the first year the SEC published financial statement data sets.
const FirstYear = 2009

// Period identifies one quarterly data set release.
type Period struct {
	Year    int `json:"year"`
	Quarter int `json:"quarter"`
}

var periodPattern = regexp.MustCompile(`^(\d{4})[qQ]([1-4])$`)

// NewPeriod validates and returns a Period.
func NewPeriod(year, quarter int) (Period, error) {
	p := Period{Year: year, Quarter: quarter}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

// ParsePeriod parses strings like "2023q4" or "2023Q4".
func ParsePeriod(s string) (Period, error) {
	m := periodPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Period{}, eris.Errorf("fsds: invalid period %q (want YYYYqN, e.g. 2023q4)", s)
	}
	year, _ := strconv.Atoi(m[1])
	quarter, _ := strconv.Atoi(m[2])
	return NewPeriod(year, quarter)
}

// ParsePeriods parses a list of period strings, dropping duplicates and
// returning them in chronological order.
func ParsePeriods(values []string) ([]Period, error) {
	seen := make(map[Period]bool, len(values))
	var out []Period
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			p, err := ParsePeriod(part)
			if err != nil {
				return nil, err
			}
			if seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// Validate reports whether the period is a plausible release.
func (p Period) Validate() error {
	if p.Quarter < 1 || p.Quarter > 4 {
		return eris.Errorf("fsds: quarter %d out of range 1-4", p.Quarter)
	}
	if p.Year < FirstYear {
		return eris.Errorf("fsds: year %d predates the first data set (%d)", p.Year, FirstYear)
	}
	return nil
}

// String returns the canonical "2023q4" form used in URLs and keys.
func (p Period) String() string {
	return fmt.Sprintf("%dq%d", p.Year, p.Quarter)
}

// ArchiveName returns the file name of the period's upstream archive.
func (p Period) ArchiveName() string {
	return p.String() + ".zip"
}

// ArchiveURL joins the upstream base URL with the period's archive name.
func (p Period) ArchiveURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/" + p.ArchiveName()
}

// Before reports whether p is chronologically earlier than o.
func (p Period) Before(o Period) bool {
	if p.Year != o.Year {
		return p.Year < o.Year
	}
	return p.Quarter < o.Quarter
}

// Next returns the following quarter.
func (p Period) Next() Period {
	if p.Quarter == 4 {
		return Period{Year: p.Year + 1, Quarter: 1}
	}
	return Period{Year: p.Year, Quarter: p.Quarter + 1}
}

// Range returns every period from first through last inclusive.
func Range(first, last Period) ([]Period, error) {
	if last.Before(first) {
		return nil, eris.Errorf("fsds: range end %s precedes start %s", last, first)
	}
	var out []Period
	for p := first; !last.Before(p); p = p.Next() {
		out = append(out, p)
	}
	return out, nil
}
