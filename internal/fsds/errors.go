package fsds

import "fmt"

// FetchError reports a failed archive download. Exactly one of StatusCode
// (non-2xx response) or Transport (network failure) is set.
type FetchError struct {
	Period     Period
	URL        string
	StatusCode int
	Transport  error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d from %s", e.Period, e.StatusCode, e.URL)
	}
	return fmt.Sprintf("fetch %s: transport: %v", e.Period, e.Transport)
}

func (e *FetchError) Unwrap() error { return e.Transport }

// ExtractErrorKind classifies extraction failures.
type ExtractErrorKind string

const (
	MissingMember  ExtractErrorKind = "missing_member"
	CorruptArchive ExtractErrorKind = "corrupt_archive"
)

// ExtractError reports an archive that cannot yield the required members.
// Member is zero when the archive as a whole is unreadable.
type ExtractError struct {
	Kind   ExtractErrorKind
	Member Member
	Err    error
}

func (e *ExtractError) Error() string {
	msg := "extract: " + string(e.Kind)
	if e.Member != 0 {
		msg += " " + e.Member.FileName()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractError) Unwrap() error { return e.Err }

// PublishError reports a member that could not be uploaded after retries.
type PublishError struct {
	Member         Member
	Representation Representation
	Err            error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s (%s): %v", e.Member, e.Representation, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// LoadError reports a member whose bulk load could not run.
type LoadError struct {
	Member Member
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Member, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Connectivity targets.
const (
	TargetObjectStore = "object_store"
	TargetWarehouse   = "warehouse"
)

// ConnectivityError reports an unreachable or unauthenticated dependency.
type ConnectivityError struct {
	Target string
	Err    error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("connectivity %s: %v", e.Target, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }
