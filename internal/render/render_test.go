package render

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tomasbasham/audio-upload/internal/widget"
)

func TestBar(t *testing.T) {
	assert.Equal(t, "[..........]", Bar(0, 10))
	assert.Equal(t, "[####......]", Bar(40, 10))
	assert.Equal(t, "[##########]", Bar(100, 10))
	assert.Equal(t, "[##########]", Bar(150, 10))
	assert.Equal(t, "[..........]", Bar(-3, 10))
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "3.00 MB", FormatSize(3<<20))
	assert.Equal(t, "0.00 MB", FormatSize(0))
}

func TestRenderer_SuccessfulSession(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf)
	assert.False(t, r.tty)

	file := &widget.SelectedFile{Name: "track.mp3", MIMEType: "audio/mpeg", Size: 3 << 20}
	for _, s := range []widget.Session{
		{Phase: widget.PhaseSelected, File: file},
		{Phase: widget.PhaseUploading, File: file, Progress: 10},
		{Phase: widget.PhaseUploading, File: file, Progress: 40},
		{Phase: widget.PhaseUploading, File: file, Progress: 45},
		{Phase: widget.PhaseUploading, File: file, Progress: 80},
		{Phase: widget.PhaseSucceeded, File: file, Progress: 100},
	} {
		r.Render(s)
	}

	want := "Selected track.mp3 (3.00 MB, audio/mpeg)\n" +
		"Uploading track.mp3: 10%\n" +
		"Uploading track.mp3: 40%\n" +
		"Uploading track.mp3: 80%\n" +
		"Uploading track.mp3: 100%\n" +
		"Upload complete!\n"
	assert.Equal(t, want, buf.String())
}

func TestRenderer_Failures(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf)

	r.Render(widget.Session{Phase: widget.PhaseFailed, Err: &widget.ValidationError{Name: "notes.txt", MIMEType: "text/plain"}})
	r.Render(widget.Session{Phase: widget.PhaseFailed, Err: &widget.TransferError{Stage: widget.StageTransfer, Err: errors.New("eof")}})
	r.Render(widget.Session{Phase: widget.PhaseEmpty})

	assert.Equal(t,
		"Error: not an audio file\nError: upload failed, please try again\nSelection cleared.\n",
		buf.String())
}
