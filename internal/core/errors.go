package core

// errors.go defines the error taxonomy shared by every stage of a sync run.
//
// Data-shape errors (MalformedTableError, UnknownCountryError, InvalidLevelError,
// MissingDisplayNameError) and WriteError abort the whole run. RemoteAPIError
// aborts only the publish target that produced it. All types support errors.As,
// and those carrying a cause support errors.Unwrap.

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDatasetNotFound is returned when the catalog has no resource matching the
// configured pcode resource name.
var ErrDatasetNotFound = errors.New("pcode dataset not found in catalog")

// ErrRunInProgress is returned when a sync run is requested while another is active.
var ErrRunInProgress = errors.New("sync run already in progress")

// ErrRunNotFound is returned when a run id is unknown to the history store.
var ErrRunNotFound = errors.New("run not found")

// ResolutionError reports a failure to build the country code map from the registry.
type ResolutionError struct {
	Op     string // "fetch" or "parse"
	Status int    // HTTP status when the registry answered non-2xx, else 0
	Err    error
}

func (e *ResolutionError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("registry %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("registry %s: %v", e.Op, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// MalformedTableError reports a pcode table missing required columns.
type MalformedTableError struct {
	Missing []string
	Err     error
}

func (e *MalformedTableError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("malformed pcode table: missing required columns: %s", strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("malformed pcode table: %v", e.Err)
}

func (e *MalformedTableError) Unwrap() error { return e.Err }

// UnknownCountryError reports a partition request for a code with no rows.
type UnknownCountryError struct {
	Code string
}

func (e *UnknownCountryError) Error() string {
	return fmt.Sprintf("unknown country %q: no pcode rows", e.Code)
}

// InvalidLevelError reports an admin level that is non-numeric or below 1.
type InvalidLevelError struct {
	Code  string // country code of the offending row
	Pcode string
	Value string
	Line  int // source line, 0 when unknown
}

func (e *InvalidLevelError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("invalid admin level %q for %s/%s at line %d", e.Value, e.Code, e.Pcode, e.Line)
	}
	return fmt.Sprintf("invalid admin level %q for %s/%s", e.Value, e.Code, e.Pcode)
}

// MissingDisplayNameError reports a country code absent from the code map.
type MissingDisplayNameError struct {
	Code string
}

func (e *MissingDisplayNameError) Error() string {
	return fmt.Sprintf("no display name for country code %q", e.Code)
}

// WriteError reports a failure to persist a form artifact.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write artifact %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// RemoteAPIError reports a non-success response from the publish platform.
type RemoteAPIError struct {
	Op     string // e.g. "list assets", "bulk delete", "import", "move"
	Status int
	Body   string // truncated response body
}

func (e *RemoteAPIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote api %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("remote api %s: status %d: %s", e.Op, e.Status, e.Body)
}

// MaxErrorBody caps how much of a remote response body is kept on errors.
const MaxErrorBody = 512

// TruncateBody shortens a response body for inclusion in an error.
func TruncateBody(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > MaxErrorBody {
		return s[:MaxErrorBody] + "..."
	}
	return s
}
