package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	cliflag "github.com/tomasbasham/cli-runtime/flag"
	"github.com/tomasbasham/cli-runtime/iooption"
	"github.com/tomasbasham/cli-runtime/printer"
	"github.com/tomasbasham/cli-runtime/templates"

	"github.com/tomasbasham/audio-upload/internal/config"
	"github.com/tomasbasham/audio-upload/internal/logging"
)

var (
	rootLong = templates.LongDesc(`
		Upload audio files to object storage through time-limited upload URLs.

		Settings are read from an optional configuration file and from
		AUDIOUPLOAD_* environment variables. Flags given on the command line
		take precedence over both.`)

	rootExamples = templates.Examples(`
		# Upload a file using the authorization service on localhost
		audioupload upload track.mp3

		# Run a development authorization service backed by the local disk
		audioupload serve`)

	// Injected at build time using ldflags.
	version = ""
	commit  = ""
)

// AudioUploadOptions defines the options for the `audioupload` command.
type AudioUploadOptions struct {
	ConfigPath string
	LogLevel   string

	iooption.IOStreams
}

// NewAudioUploadOptions provides an initialised AudioUploadOptions instance.
func NewAudioUploadOptions(streams iooption.IOStreams) *AudioUploadOptions {
	return &AudioUploadOptions{
		IOStreams: streams,
	}
}

// NewRootCommand creates the `audioupload` command with default arguments.
func NewRootCommand() *cobra.Command {
	options := NewAudioUploadOptions(iooption.IOStreams{
		In:     os.Stdin,
		Out:    os.Stdout,
		ErrOut: os.Stderr,
	})

	return NewRootCommandWithArgs(options)
}

// NewRootCommandWithArgs creates the `audioupload` command and its nested
// children.
func NewRootCommandWithArgs(o *AudioUploadOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:                   "audioupload [command]",
		Version:               versionInfo(),
		DisableFlagsInUseLine: true,
		Short:                 "Audio upload client and development service",
		Long:                  rootLong,
		Example:               rootExamples,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}

	printerOpts := printer.WarningPrinterOptions{Color: true}
	printer := printer.NewWarningPrinter(o.ErrOut, printerOpts)
	cmd.SetGlobalNormalizationFunc(cliflag.WarnWordSepNormalizeFunc(printer))

	pflags := cmd.PersistentFlags()
	pflags.StringVarP(&o.ConfigPath, "config", "c", "", "Path to a YAML or JSON configuration file")
	pflags.StringVar(&o.LogLevel, "log-level", "", "Log level: debug, info, warn or error (default info)")

	cmd.AddCommand(NewUploadCommand(NewUploadOptions(o)))
	cmd.AddCommand(NewServeCommand(NewServeOptions(o)))

	// The globlal normalisation function ensures that all flags specified meet
	// the desired format, changing users' input if necessary.
	cmd.SetGlobalNormalizationFunc(cliflag.WordSepNormalizeFunc())

	return cmd
}

// loadConfig reads the configuration file and environment, then applies the
// persistent flags that were set explicitly.
func (o *AudioUploadOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = o.LogLevel
	}
	return cfg, nil
}

func (o *AudioUploadOptions) newLogger(cfg *config.Config) (logging.Logger, error) {
	logger, err := logging.New(o.ErrOut, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise logger: %w", err)
	}
	return logger, nil
}

func versionInfo() string {
	if version == "" {
		return ""
	}
	return fmt.Sprintf("%s (commit: %s)", version, commit)
}
