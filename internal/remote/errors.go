// Package remote implements the HTTP session and remote project client: an
// authenticated client for the OSF v2 REST API, and an adapter that exposes the remote node/file tree as the same flat-Asset
// vocabulary the reconciler uses for the local side.
package remote

import (
	"errors"
	"fmt"
)

// AuthError is returned for bad credentials, a missing token, or a token
// the server rejects.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string { return fmt.Sprintf("remote: authentication failed: %s", e.Reason) }

// NeedsSecondFactor is a distinguished AuthError: the server requires a
// one-time password before it will issue a token.
type NeedsSecondFactor struct {
	Reason string
}

func (e *NeedsSecondFactor) Error() string {
	return fmt.Sprintf("remote: second factor required: %s", e.Reason)
}

// Unwrap lets errors.As(err, &authErr) style checks treat
// NeedsSecondFactor as an AuthError.
func (e *NeedsSecondFactor) Unwrap() error { return &AuthError{Reason: e.Reason} }

// RemoteError wraps any REST response whose status isn't specifically
// interpreted by the caller.
type RemoteError struct {
	Status int
	URL    string
	Body   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote: HTTP %d on %s: %s", e.Status, e.URL, e.Body)
}

// ProjectDeleted is returned when the server reports 410 Gone for the
// project's root node.
type ProjectDeleted struct {
	NodeID string
}

func (e *ProjectDeleted) Error() string {
	return fmt.Sprintf("remote: project %s no longer exists", e.NodeID)
}

// IntegrityError signals a digest mismatch after a transfer: the
// server-reported digest of an upload, or the computed digest of a download,
// differs from the expected one.
type IntegrityError struct {
	Path     string
	Expected string
	Got      string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("remote: digest mismatch for %s: expected %s, got %s", e.Path, e.Expected, e.Got)
}

// ErrCancelled names the cancelled-transfer outcome. Project's Upload and
// Download do not return it themselves: a transfer aborted by cancellation
// surfaces as a wrapped transfer.ErrCancelled.
var ErrCancelled = errors.New("remote: transfer cancelled")

// ErrAlreadyExists is the reconciler-visible outcome of a 409 response to a
// folder-creation request. It is not itself one of the
// taxonomy's top-level kinds; callers fold it into success after a re-index
// confirms the container is present.
var ErrAlreadyExists = errors.New("remote: already exists")
