package download

import (
	"errors"
	"fmt"
)

// NetworkError is a connection or transport failure.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error while downloading %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// HTTPStatusError is returned when the final response is not 2xx.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d while downloading %s", e.StatusCode, e.URL)
}

// RedirectError is returned for a malformed or excessive redirect chain.
type RedirectError struct {
	URL    string
	Hops   int
	Reason string
}

func (e *RedirectError) Error() string {
	return fmt.Sprintf("redirect error after %d hop(s) at %s: %s", e.Hops, e.URL, e.Reason)
}

// AsNetworkError checks if an error is a NetworkError and returns it.
func AsNetworkError(err error) (*NetworkError, bool) {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne, true
	}
	return nil, false
}

// AsHTTPStatusError checks if an error is an HTTPStatusError and returns it.
func AsHTTPStatusError(err error) (*HTTPStatusError, bool) {
	var he *HTTPStatusError
	if errors.As(err, &he) {
		return he, true
	}
	return nil, false
}

// AsRedirectError checks if an error is a RedirectError and returns it.
func AsRedirectError(err error) (*RedirectError, bool) {
	var re *RedirectError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
