package installer

import (
	"context"
	"errors"
	"fmt"

	"github.com/sdlite/sdlite-setup/internal/config"
	"github.com/sdlite/sdlite-setup/internal/download"
	"github.com/sdlite/sdlite-setup/internal/extract"
	"github.com/sdlite/sdlite-setup/internal/fsutil"
	"github.com/sdlite/sdlite-setup/internal/locate"
)

// ErrRunning is returned by Run while another run of the same Installer
// is in progress.
var ErrRunning = errors.New("installation already running")

// Error is a fatal error together with the state it happened in.
type Error struct {
	State   State
	Archive string
	Err     error
}

func (e *Error) Error() string {
	if e.Archive != "" {
		return fmt.Sprintf("%s %s: %v", e.State, e.Archive, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.State, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError returns the *Error wrapped in err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Kind names an error class.
type Kind string

const (
	KindNone       Kind = ""
	KindNetwork    Kind = "NetworkError"
	KindHTTPStatus Kind = "HttpStatusError"
	KindRedirect   Kind = "RedirectError"
	KindFileSystem Kind = "FileSystemError"
	KindExtraction Kind = "ExtractionError"
	KindTimeout    Kind = "TimeoutError"
	KindNotFound   Kind = "NotFound"
	KindConfig     Kind = "ConfigError"
	KindCanceled   Kind = "Canceled"
	KindUnknown    Kind = "Error"
)

// KindOf classifies err. Order matters: a NetworkError may wrap a
// context error and a TimeoutError is also an extraction failure.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	if _, ok := download.AsRedirectError(err); ok {
		return KindRedirect
	}
	if _, ok := download.AsHTTPStatusError(err); ok {
		return KindHTTPStatus
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	if _, ok := download.AsNetworkError(err); ok {
		return KindNetwork
	}
	if _, ok := extract.AsTimeoutError(err); ok {
		return KindTimeout
	}
	if _, ok := extract.AsError(err); ok {
		return KindExtraction
	}
	if errors.Is(err, locate.ErrNotFound) {
		return KindNotFound
	}
	if errors.Is(err, config.ErrInvalidStructure) {
		return KindConfig
	}
	if _, ok := fsutil.AsError(err); ok {
		return KindFileSystem
	}
	return KindUnknown
}
