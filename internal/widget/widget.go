package widget

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"

	"github.com/tomasbasham/audio-upload/internal/logging"
	"github.com/tomasbasham/audio-upload/internal/transfer"
)

// Authorizer issues a single-use upload URL for a file name and content type.
type Authorizer interface {
	AuthorizeUpload(ctx context.Context, fileName, contentType string) (string, error)
}

// Transport PUTs file content to an authorized URL.
type Transport interface {
	Put(ctx context.Context, req *transfer.Request) error
}

// Options configures a Widget.
type Options struct {
	Authorizer Authorizer
	Transport  Transport

	// OnUploadComplete, when set, receives the canonical URL of every
	// successfully uploaded object. See CanonicalURL.
	OnUploadComplete func(url string)

	// Logger records the underlying cause of transfer errors. Defaults to a
	// discarding logger.
	Logger logging.Logger
}

// Widget holds one upload session and drives it through its phases.
//
// Every upload attempt is tagged with a token. Selecting or removing a file
// advances the token, so results that arrive late from an abandoned attempt
// are dropped instead of overwriting the current session.
type Widget struct {
	authorizer Authorizer
	transport  Transport
	onComplete func(string)
	logger     logging.Logger

	mu      sync.Mutex
	session Session
	attempt uint64

	// dispatchMu keeps subscriber notifications in commit order.
	dispatchMu  sync.Mutex
	subscribers map[int]func(Session)
	nextSubID   int
}

// New creates a Widget in the empty phase.
func New(opts Options) *Widget {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Widget{
		authorizer:  opts.Authorizer,
		transport:   opts.Transport,
		onComplete:  opts.OnUploadComplete,
		logger:      logger,
		session:     Session{Phase: PhaseEmpty},
		subscribers: make(map[int]func(Session)),
	}
}

// Session returns a snapshot of the current session.
func (w *Widget) Session() Session {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.session
}

// Subscribe registers fn to receive a snapshot after every state change and
// returns a function that removes it. fn runs synchronously on the goroutine
// that caused the change and must not call back into the Widget; the snapshot
// it receives is the whole state.
func (w *Widget) Subscribe(fn func(Session)) (unsubscribe func()) {
	w.dispatchMu.Lock()
	defer w.dispatchMu.Unlock()

	id := w.nextSubID
	w.nextSubID++
	w.subscribers[id] = fn

	return func() {
		w.dispatchMu.Lock()
		delete(w.subscribers, id)
		w.dispatchMu.Unlock()
	}
}

// SelectFile replaces the current selection. Files whose declared type is not
// audio are rejected with a *ValidationError and leave no file attached. Any
// upload still in flight is detached from the session.
func (w *Widget) SelectFile(f SelectedFile) error {
	if !IsAudio(f.MIMEType) {
		verr := &ValidationError{Name: f.Name, MIMEType: f.MIMEType}
		w.detach(Session{Phase: PhaseFailed, Err: verr})
		w.logger.Debug(context.Background(), "selection rejected", "reason", verr.Detail())
		return verr
	}

	file := f
	w.detach(Session{Phase: PhaseSelected, File: &file})
	return nil
}

// RemoveFile clears the selection from any phase. An in-flight upload is not
// cancelled, only detached; its late results are ignored.
func (w *Widget) RemoveFile() {
	w.detach(Session{Phase: PhaseEmpty})
}

// Reset dismisses a terminal session ("upload another file").
func (w *Widget) Reset() error {
	w.mu.Lock()
	if w.session.Phase != PhaseSucceeded && w.session.Phase != PhaseFailed {
		w.mu.Unlock()
		return ErrInvalidPhase
	}
	w.attempt++
	w.session = Session{Phase: PhaseEmpty}
	w.commit()
	return nil
}

// Upload runs one attempt for the attached file: a single authorization
// request followed by a single transfer. It blocks until the attempt ends and
// never retries. Upload is valid from the selected phase and from the failed
// phase while a file is still attached.
//
// The returned error is a *TransferError when the attempt failed, ErrDetached
// when the session moved on before the attempt finished, or one of ErrNoFile,
// ErrUploadInProgress and ErrInvalidPhase when the precondition does not hold.
func (w *Widget) Upload(ctx context.Context) error {
	w.mu.Lock()
	switch {
	case w.session.Phase == PhaseUploading:
		w.mu.Unlock()
		return ErrUploadInProgress
	case w.session.File == nil:
		w.mu.Unlock()
		return ErrNoFile
	case w.session.Phase != PhaseSelected && w.session.Phase != PhaseFailed:
		w.mu.Unlock()
		return ErrInvalidPhase
	}

	w.attempt++
	token := w.attempt
	file := *w.session.File

	w.session.Phase = PhaseUploading
	w.session.Progress = ProgressStarted
	w.session.AuthorizedURL = ""
	w.session.Err = nil
	w.commit()

	logger := w.logger.With("file", file.Name, "attempt", token)

	uploadURL, err := w.authorizer.AuthorizeUpload(ctx, file.Name, file.MIMEType)
	if err != nil {
		return w.fail(ctx, logger, token, StageAuthorize, err)
	}

	ok := w.update(token, func(s *Session) bool {
		s.AuthorizedURL = uploadURL
		s.Progress = max(s.Progress, ProgressAuthorized)
		return true
	})
	if !ok {
		logger.Debug(ctx, "authorization arrived for detached attempt")
		return ErrDetached
	}

	if file.Content == nil {
		return w.fail(ctx, logger, token, StageTransfer, errors.New("widget: file has no content"))
	}

	err = w.transport.Put(ctx, &transfer.Request{
		URL:         uploadURL,
		ContentType: file.MIMEType,
		Body:        io.NewSectionReader(file.Content, 0, file.Size),
		Size:        file.Size,
		Progress: func(loaded, total int64) {
			pct := percent(loaded, total, file.Size)
			w.update(token, func(s *Session) bool {
				if s.Phase != PhaseUploading || pct <= s.Progress {
					return false
				}
				s.Progress = pct
				return true
			})
		},
	})
	if err != nil {
		return w.fail(ctx, logger, token, StageTransfer, err)
	}

	ok = w.update(token, func(s *Session) bool {
		s.Phase = PhaseSucceeded
		s.Progress = ProgressComplete
		return true
	})
	if !ok {
		logger.Debug(ctx, "transfer completed for detached attempt")
		return ErrDetached
	}

	objectURL := CanonicalURL(uploadURL)
	logger.Info(ctx, "upload complete", "url", objectURL)
	if w.onComplete != nil {
		w.onComplete(objectURL)
	}
	return nil
}

func (w *Widget) fail(ctx context.Context, logger logging.Logger, token uint64, stage Stage, cause error) error {
	terr := &TransferError{Stage: stage, Err: cause}
	ok := w.update(token, func(s *Session) bool {
		s.Phase = PhaseFailed
		s.AuthorizedURL = ""
		s.Err = terr
		return true
	})
	if !ok {
		logger.Debug(ctx, "failure arrived for detached attempt", "stage", stage, "error", cause)
		return ErrDetached
	}
	logger.Error(ctx, "upload failed", "stage", stage, "error", cause)
	return terr
}

// detach advances the attempt token and replaces the session.
func (w *Widget) detach(next Session) {
	w.mu.Lock()
	w.attempt++
	w.session = next
	w.commit()
}

// update applies fn when token is still the current attempt. fn reports
// whether it changed anything worth publishing. update returns false for a
// stale token.
func (w *Widget) update(token uint64, fn func(*Session) bool) bool {
	w.mu.Lock()
	if token != w.attempt {
		w.mu.Unlock()
		return false
	}
	if !fn(&w.session) {
		w.mu.Unlock()
		return true
	}
	w.commit()
	return true
}

// commit publishes the current session. It must be called with mu held and
// releases it.
func (w *Widget) commit() {
	snapshot := w.session
	w.dispatchMu.Lock()
	w.mu.Unlock()
	defer w.dispatchMu.Unlock()

	for _, fn := range w.subscribers {
		fn(snapshot)
	}
}

// percent converts a byte count to a percentage in [0, 100]. A non-positive
// total falls back to the declared size.
func percent(loaded, total, declared int64) int {
	if total <= 0 {
		total = declared
	}
	if total <= 0 {
		return ProgressComplete
	}
	pct := int(math.Round(float64(loaded) * 100 / float64(total)))
	return min(max(pct, 0), 100)
}
