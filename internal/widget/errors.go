package widget

import (
	"errors"
	"fmt"
)

// User-facing messages. Authorization and transfer failures deliberately
// share one message.
const (
	MessageNotAudio     = "not an audio file"
	MessageUploadFailed = "upload failed, please try again"
)

var (
	// ErrNoFile is returned by Upload when no file is attached.
	ErrNoFile = errors.New("widget: no file selected")

	// ErrUploadInProgress is returned by Upload while an attempt is running.
	ErrUploadInProgress = errors.New("widget: upload already in progress")

	// ErrInvalidPhase is returned when an operation is not permitted from the
	// current phase.
	ErrInvalidPhase = errors.New("widget: operation not permitted in current phase")

	// ErrDetached is returned by Upload when the session moved on (the file
	// was removed or replaced) before the attempt finished. The attempt's
	// results were discarded.
	ErrDetached = errors.New("widget: upload attempt detached from session")
)

// ValidationError rejects a selection whose declared type is not audio.
type ValidationError struct {
	Name     string
	MIMEType string
}

func (e *ValidationError) Error() string {
	return MessageNotAudio
}

// Detail describes the rejected input for logs.
func (e *ValidationError) Detail() string {
	return fmt.Sprintf("%q has content type %q", e.Name, e.MIMEType)
}

// Stage identifies which network call failed.
type Stage string

const (
	StageAuthorize Stage = "authorize"
	StageTransfer  Stage = "transfer"
)

// TransferError reports a failed authorization request or byte transfer. Its
// message is the same for both stages; Stage and the wrapped cause are for
// diagnostics.
type TransferError struct {
	Stage Stage
	Err   error
}

func (e *TransferError) Error() string {
	return MessageUploadFailed
}

func (e *TransferError) Unwrap() error {
	return e.Err
}
