// Package picker turns a path on the local filesystem into a widget
// selection. It plays the part of the browser's file input and drop target:
// a path given on the command line, or dropped into a terminal prompt.
package picker

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/tomasbasham/audio-upload/internal/widget"
)

// ErrEmptyInput is returned by ParseDropped for blank input.
var ErrEmptyInput = errors.New("picker: no path given")

// File is an opened selection. Close releases the underlying file once the
// widget no longer needs it.
type File struct {
	widget.SelectedFile

	f *os.File
}

func (f *File) Close() error {
	return f.f.Close()
}

// Open opens path and describes it as a widget selection. contentType, when
// non-empty, is used as the declared type; otherwise the type is detected
// from the file's content, falling back to its extension.
func Open(path, contentType string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("picker: failed to open %q: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("picker: failed to stat %q: %w", path, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("picker: %q is a directory", path)
	}

	if contentType == "" {
		contentType, err = DetectContentType(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("picker: failed to detect content type of %q: %w", path, err)
		}
	}

	return &File{
		SelectedFile: widget.SelectedFile{
			Name:     filepath.Base(path),
			MIMEType: contentType,
			Size:     info.Size(),
			Content:  f,
		},
		f: f,
	}, nil
}

// DetectContentType sniffs the type of f from its leading bytes and rewinds
// it. When sniffing only yields a generic type the file extension is
// consulted instead.
func DetectContentType(f *os.File) (string, error) {
	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return "", err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return "", err
	}

	if mt.Is("application/octet-stream") || mt.Is("text/plain") {
		if byExt := extensionType(f.Name()); byExt != "" {
			return byExt, nil
		}
	}
	return mt.String(), nil
}

// extensionType resolves a type from the file extension using mimetype's
// registry of known formats.
func extensionType(name string) string {
	known, ok := audioExtensions[strings.ToLower(filepath.Ext(name))]
	if !ok {
		return ""
	}
	if mt := mimetype.Lookup(known); mt != nil {
		return mt.String()
	}
	return ""
}

// audioExtensions covers formats whose headers are easily mistaken for
// generic binary, such as raw ADTS streams or headerless MP3 frames.
var audioExtensions = map[string]string{
	".mp3":  "audio/mpeg",
	".aac":  "audio/aac",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".opus": "audio/ogg",
	".m4a":  "audio/x-m4a",
	".aiff": "audio/aiff",
	".amr":  "audio/amr",
}

// ParseDropped extracts a path from text produced by dragging a file onto a
// terminal. Terminals variously wrap the path in quotes, escape spaces with
// backslashes, or paste a file:// URL.
func ParseDropped(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", ErrEmptyInput
	}

	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		s = s[1 : len(s)-1]
	} else {
		s = unescape(s)
	}

	if strings.HasPrefix(s, "file://") {
		u, err := url.Parse(s)
		if err != nil {
			return "", fmt.Errorf("picker: invalid file URL %q: %w", s, err)
		}
		s = u.Path
	}

	if s == "" {
		return "", ErrEmptyInput
	}
	return s, nil
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	escaped := false
	for _, r := range s {
		if r == '\\' && !escaped {
			escaped = true
			continue
		}
		escaped = false
		b.WriteRune(r)
	}
	return b.String()
}
