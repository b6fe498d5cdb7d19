package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tomasbasham/cli-runtime/templates"

	"github.com/tomasbasham/audio-upload/internal/authorize"
	"github.com/tomasbasham/audio-upload/internal/config"
	"github.com/tomasbasham/audio-upload/internal/logging"
	"github.com/tomasbasham/audio-upload/internal/picker"
	"github.com/tomasbasham/audio-upload/internal/render"
	"github.com/tomasbasham/audio-upload/internal/transfer"
	"github.com/tomasbasham/audio-upload/internal/widget"
)

type UploadOptions struct {
	root   *AudioUploadOptions
	cfg    *config.Config
	logger logging.Logger
	input  *bufio.Reader

	Path        string
	APIURL      string
	ContentType string
	Interactive bool
}

var (
	uploadLong = templates.LongDesc(`
		Upload an audio file through a presigned URL.

		The file is sent to the authorization service, which answers with a
		single-use upload URL, and the bytes are then PUT directly to object
		storage. Only files whose type starts with audio/ are accepted.

		In interactive mode a file can be dragged onto the terminal window, and
		a failed upload can be retried or the file removed.`)

	uploadExample = templates.Examples(`
		# Upload a file
		audioupload upload track.mp3

		# Upload against a remote authorization service
		audioupload upload --api-url https://api.example.com track.wav

		# Declare the type instead of detecting it
		audioupload upload --content-type audio/ogg recording.bin

		# Pick files by dragging them onto the terminal
		audioupload upload -i`)
)

func NewUploadOptions(root *AudioUploadOptions) *UploadOptions {
	return &UploadOptions{
		root: root,
	}
}

func NewUploadCommand(o *UploadOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "upload [FILE]",
		DisableFlagsInUseLine: true,
		Short:                 "Upload an audio file",
		Long:                  uploadLong,
		Example:               uploadExample,
		Args:                  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(); err != nil {
				return err
			}
			if err := o.Run(); err != nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&o.APIURL, "api-url", "", "Base URL of the authorization service (default http://localhost:8080)")
	cmd.Flags().StringVar(&o.ContentType, "content-type", "", "Declared content type (default: detected from the file)")
	cmd.Flags().BoolVarP(&o.Interactive, "interactive", "i", false, "Prompt for files and offer retry after failures")

	return cmd
}

func (o *UploadOptions) Complete(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		o.Path = args[0]
	}

	cfg, err := o.root.loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("api-url") {
		cfg.Client.APIURL = o.APIURL
	}
	o.cfg = cfg

	o.input = bufio.NewReader(o.root.In)
	return nil
}

func (o *UploadOptions) Validate() error {
	if o.Path == "" && !o.Interactive {
		return fmt.Errorf("FILE is required unless --interactive is set")
	}
	if err := o.cfg.Validate(); err != nil {
		return err
	}

	logger, err := o.root.newLogger(o.cfg)
	if err != nil {
		return err
	}
	o.logger = logger
	return nil
}

func (o *UploadOptions) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpClient := &http.Client{}
	w := widget.New(widget.Options{
		Authorizer: authorize.New(o.cfg.Client.APIURL, httpClient),
		Transport:  transfer.New(httpClient),
		Logger:     o.logger,
		OnUploadComplete: func(url string) {
			fmt.Fprintf(o.root.Out, "Uploaded to %s\n", url)
		},
	})

	renderer := render.New(o.root.Out)
	unsubscribe := w.Subscribe(renderer.Render)
	defer unsubscribe()

	if !o.Interactive {
		return o.uploadOnce(ctx, w, o.Path)
	}
	return o.interactive(ctx, w)
}

func (o *UploadOptions) uploadOnce(ctx context.Context, w *widget.Widget, path string) error {
	f, err := picker.Open(path, o.ContentType)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := w.SelectFile(f.SelectedFile); err != nil {
		return &shownError{err: err}
	}
	if err := w.Upload(ctx); err != nil {
		var terr *widget.TransferError
		if errors.As(err, &terr) {
			return &shownError{err: err}
		}
		return err
	}
	return nil
}

// interactive runs selection and upload sessions until the user declines to
// upload another file or input ends.
func (o *UploadOptions) interactive(ctx context.Context, w *widget.Widget) error {
	path := o.Path
	for {
		if path == "" {
			line, ok := o.prompt("Drop an audio file here (or type its path) and press Enter: ")
			if !ok {
				return nil
			}
			dropped, err := picker.ParseDropped(line)
			if errors.Is(err, picker.ErrEmptyInput) {
				continue
			}
			if err != nil {
				fmt.Fprintf(o.root.ErrOut, "Error: %v\n", err)
				continue
			}
			path = dropped
		}

		uploaded, err := o.session(ctx, w, path)
		path = ""
		if err != nil {
			return err
		}
		if !uploaded {
			continue
		}

		answer, ok := o.prompt("Upload another file? [y/N] ")
		if !ok || !isYes(answer) {
			return nil
		}
		if err := w.Reset(); err != nil {
			return err
		}
	}
}

// session selects path and drives uploads for it, offering retry or removal
// after each failure. It reports whether the file was uploaded.
func (o *UploadOptions) session(ctx context.Context, w *widget.Widget, path string) (bool, error) {
	f, err := picker.Open(path, o.ContentType)
	if err != nil {
		fmt.Fprintf(o.root.ErrOut, "Error: %v\n", err)
		return false, nil
	}
	defer f.Close()

	if err := w.SelectFile(f.SelectedFile); err != nil {
		return false, nil
	}

	answer, ok := o.prompt("Press Enter to upload or type r to remove the file: ")
	if !ok {
		return false, nil
	}
	if isRemove(answer) {
		w.RemoveFile()
		return false, nil
	}

	for {
		err := w.Upload(ctx)
		if err == nil {
			return true, nil
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		var terr *widget.TransferError
		if !errors.As(err, &terr) {
			return false, err
		}

		answer, ok := o.prompt("[R]etry, re[m]ove the file, or [q]uit? ")
		switch {
		case !ok || strings.EqualFold(answer, "q"):
			return false, &shownError{err: terr}
		case strings.EqualFold(answer, "m"):
			w.RemoveFile()
			return false, nil
		}
	}
}

// prompt writes msg and reads one line of input. It returns false once input
// is exhausted.
func (o *UploadOptions) prompt(msg string) (string, bool) {
	fmt.Fprint(o.root.Out, msg)
	line, err := o.input.ReadString('\n')
	if err != nil && line == "" {
		fmt.Fprintln(o.root.Out)
		return "", false
	}
	return strings.TrimSpace(line), true
}

func isYes(s string) bool {
	return strings.EqualFold(s, "y") || strings.EqualFold(s, "yes")
}

func isRemove(s string) bool {
	return strings.EqualFold(s, "r") || strings.EqualFold(s, "remove")
}
