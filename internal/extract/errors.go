package extract

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sdlite/sdlite-setup/internal/fsutil"
)

// Error is returned when the extraction invocation itself fails.
type Error struct {
	Archive string
	Dest    string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("extracting %s into %s: %v", e.Archive, e.Dest, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// TimeoutError is returned when a directory never becomes stable.
type TimeoutError struct {
	Label   string
	Dir     string
	Timeout time.Duration
	Last    fsutil.Snapshot
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for extraction of %s in %s (last seen: %d files, %d dirs, %s)",
		e.Timeout, e.Label, e.Dir, e.Last.Files, e.Last.Dirs, humanize.Bytes(uint64(e.Last.Bytes)))
}

// AsError checks if an error is an extraction Error and returns it.
func AsError(err error) (*Error, bool) {
	var ee *Error
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// AsTimeoutError checks if an error is a TimeoutError and returns it.
func AsTimeoutError(err error) (*TimeoutError, bool) {
	var te *TimeoutError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
