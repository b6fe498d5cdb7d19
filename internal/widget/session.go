// Package widget implements the upload widget as a headless state machine. A
// Widget owns exactly one upload session which moves through:
//
//	empty → selected → uploading → succeeded | failed
//
// A rejected selection moves straight to failed without a file attached.
// Removing the file returns to empty from any phase, and a new selection
// always replaces the previous session.
//
// Front ends drive the widget through SelectFile, Upload, RemoveFile and
// Reset, and render the immutable Session values delivered to subscribers.
package widget

import (
	"errors"
	"io"
	"strings"
)

// Phase is the discriminant of the upload session.
type Phase string

const (
	PhaseEmpty     Phase = "empty"
	PhaseSelected  Phase = "selected"
	PhaseUploading Phase = "uploading"
	PhaseSucceeded Phase = "succeeded"
	PhaseFailed    Phase = "failed"
)

// Progress milestones reported before the transfer itself starts producing
// byte counts.
const (
	ProgressStarted    = 10
	ProgressAuthorized = 40
	ProgressComplete   = 100
)

// SelectedFile is a file chosen by the user. It is never mutated; a new
// selection replaces it.
type SelectedFile struct {
	Name string

	// MIMEType is the content type declared for the file. Only its "audio/"
	// prefix is checked.
	MIMEType string

	// Size is the declared size in bytes. It is used as the progress total
	// when the transport cannot report one.
	Size int64

	// Content gives access to the raw bytes. Each attempt reads it from
	// offset zero, so a failed upload can be retried without reselecting.
	Content io.ReaderAt
}

// Session is a snapshot of the widget state.
type Session struct {
	Phase Phase

	// File is nil in the empty phase and after a rejected selection.
	File *SelectedFile

	// AuthorizedURL is only set while uploading or after success.
	AuthorizedURL string

	// Progress is a percentage in [0, 100].
	Progress int

	// Err is a *ValidationError or *TransferError in the failed phase.
	Err error
}

// HasFile reports whether a file is attached to the session.
func (s Session) HasFile() bool {
	return s.File != nil
}

// Message returns the user-facing status message for a failed session.
func (s Session) Message() string {
	var verr *ValidationError
	var terr *TransferError
	switch {
	case errors.As(s.Err, &verr):
		return verr.Error()
	case errors.As(s.Err, &terr):
		return terr.Error()
	}
	return ""
}

// IsAudio reports whether mimeType declares an audio type. MIME types are
// case-insensitive.
func IsAudio(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(mimeType), "audio/")
}
