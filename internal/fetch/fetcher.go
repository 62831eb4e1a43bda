// Package fetch downloads torrent descriptor files into scoped temp
// files. The caller owns the returned Artifact and must Release it once
// the file has been sent (or failed to send); every failure path inside
// the fetcher removes its own partial file.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

// Reason classifies why a fetch failed.
type Reason int

const (
	ReasonUnreachable Reason = iota
	ReasonBadStatus
	ReasonEmpty
)

func (r Reason) String() string {
	switch r {
	case ReasonUnreachable:
		return "unreachable"
	case ReasonBadStatus:
		return "bad status"
	case ReasonEmpty:
		return "empty body"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned by Fetch.
type Error struct {
	Reason Reason
	Status int // HTTP status, set for ReasonBadStatus
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("fetch: %s", e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// Artifact is a fetched descriptor sitting in a temp file.
type Artifact struct {
	Path string
	Name string
	Size int64
}

// Release deletes the underlying temp file. Safe to call more than once.
func (a *Artifact) Release() {
	if a == nil || a.Path == "" {
		return
	}
	_ = os.Remove(a.Path)
	a.Path = ""
}

type Fetcher struct {
	hc      *http.Client
	dir     string
	retries int
	backoff time.Duration
}

// New returns a Fetcher with the given per-attempt timeout. Files land
// in the OS temp dir.
func New(timeout time.Duration) *Fetcher {
	return &Fetcher{
		hc:      &http.Client{Timeout: timeout},
		retries: 1,
		backoff: 2 * time.Second,
	}
}

// Fetch downloads sourceRef into a temp file and returns it as an
// Artifact named filename. Transient failures (network errors, 5xx) are
// retried once after a short backoff; an empty body is a failure.
func (f *Fetcher) Fetch(ctx context.Context, sourceRef, filename string) (*Artifact, error) {
	var lastErr error
	for attempt := 0; attempt <= f.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, &Error{Reason: ReasonUnreachable, Err: ctx.Err()}
			case <-time.After(f.backoff):
			}
		}
		art, err := f.fetchOnce(ctx, sourceRef, filename)
		if err == nil {
			return art, nil
		}
		lastErr = err
		if !transient(err) {
			break
		}
	}
	return nil, lastErr
}

func (f *Fetcher) fetchOnce(ctx context.Context, sourceRef, filename string) (*Artifact, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceRef, nil)
	if err != nil {
		return nil, &Error{Reason: ReasonUnreachable, Err: err}
	}
	resp, err := f.hc.Do(req)
	if err != nil {
		return nil, &Error{Reason: ReasonUnreachable, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{Reason: ReasonBadStatus, Status: resp.StatusCode, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	tmp, err := os.CreateTemp(f.dir, "movieflix-*.torrent")
	if err != nil {
		return nil, &Error{Reason: ReasonUnreachable, Err: err}
	}

	n, err := io.Copy(tmp, io.LimitReader(resp.Body, 16<<20))
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return nil, &Error{Reason: ReasonUnreachable, Err: err}
	}
	if n == 0 {
		_ = os.Remove(tmp.Name())
		return nil, &Error{Reason: ReasonEmpty}
	}

	return &Artifact{Path: tmp.Name(), Name: filename, Size: n}, nil
}

// transient reports whether the failure is worth one more attempt.
func transient(err error) bool {
	var fe *Error
	if !errors.As(err, &fe) {
		return false
	}
	switch fe.Reason {
	case ReasonUnreachable:
		return !errors.Is(fe.Err, context.Canceled) && !errors.Is(fe.Err, context.DeadlineExceeded)
	case ReasonBadStatus:
		return fe.Status >= 500
	}
	return false
}
