package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"google.golang.org/api/option"

	"github.com/tomasbasham/cli-runtime/templates"

	"github.com/tomasbasham/audio-upload/internal/config"
	"github.com/tomasbasham/audio-upload/internal/grant"
	"github.com/tomasbasham/audio-upload/internal/logging"
	"github.com/tomasbasham/audio-upload/internal/server"
	"github.com/tomasbasham/audio-upload/internal/storage"
)

// sweepInterval is how often expired local grants are collected.
const sweepInterval = time.Minute

type ServeOptions struct {
	root   *AudioUploadOptions
	cfg    *config.Config
	logger logging.Logger

	Port            int
	Backend         string
	Bucket          string
	Region          string
	Endpoint        string
	PathStyle       bool
	CredentialsFile string

	S3AccessKeyID     string
	S3SecretAccessKey string
	GCSAccessID       string
	GCSPrivateKeyFile string

	BaseDir   string
	PublicURL string
	URLExpiry time.Duration
}

var (
	serveLong = templates.LongDesc(`
		Start a development authorization service.

		The service answers POST /api/s3/presigned-upload-url with a single-use
		upload URL. With the local backend the URL points back at this service,
		which stores uploaded objects on disk. The gcs and s3 backends sign URLs
		for a real bucket.`)

	serveExample = templates.Examples(`
		# Start on the default port, storing uploads under ./uploads
		audioupload serve

		# Sign URLs for a GCS bucket
		audioupload serve --backend gcs --bucket my-audio-bucket --credentials-file key.json

		# Sign URLs for a local MinIO server
		AUDIOUPLOAD_S3_ACCESS_KEY_ID=minioadmin AUDIOUPLOAD_S3_SECRET_ACCESS_KEY=minioadmin \
			audioupload serve --backend s3 --bucket audio --endpoint http://127.0.0.1:9000 --path-style`)
)

func NewServeOptions(root *AudioUploadOptions) *ServeOptions {
	return &ServeOptions{
		root: root,
	}
}

func NewServeCommand(o *ServeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Start the development authorization service",
		Long:    serveLong,
		Example: serveExample,
		Args:    cobra.NoArgs,
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

	cmd.Flags().IntVarP(&o.Port, "port", "p", 8080, "Port to listen on")
	cmd.Flags().StringVar(&o.Backend, "backend", "local", "Signing backend: local, gcs or s3")
	cmd.Flags().StringVarP(&o.Bucket, "bucket", "b", "", "Bucket name (required for gcs and s3)")
	cmd.Flags().StringVar(&o.Region, "region", "us-east-1", "S3 region")
	cmd.Flags().StringVar(&o.Endpoint, "endpoint", "", "S3-compatible endpoint URL")
	cmd.Flags().BoolVar(&o.PathStyle, "path-style", false, "Use path-style S3 addressing")
	cmd.Flags().StringVar(&o.CredentialsFile, "credentials-file", "", "GCS service account key used to sign URLs")
	cmd.Flags().StringVar(&o.S3AccessKeyID, "s3-access-key-id", "", "Static S3 access key ID (default: AWS credential chain)")
	cmd.Flags().StringVar(&o.S3SecretAccessKey, "s3-secret-access-key", "", "Static S3 secret access key")
	cmd.Flags().StringVar(&o.GCSAccessID, "gcs-access-id", "", "Service account email used with --gcs-private-key-file")
	cmd.Flags().StringVar(&o.GCSPrivateKeyFile, "gcs-private-key-file", "", "PEM private key used to sign GCS URLs")
	cmd.Flags().StringVar(&o.BaseDir, "base-dir", "uploads", "Directory for objects stored by the local backend")
	cmd.Flags().StringVar(&o.PublicURL, "public-url", "", "Externally reachable URL of this service (default http://localhost:PORT)")
	cmd.Flags().DurationVar(&o.URLExpiry, "url-expiry", storage.DefaultURLExpiry, "Validity of issued upload URLs")

	return cmd
}

func (o *ServeOptions) Complete(cmd *cobra.Command, args []string) error {
	cfg, err := o.root.loadConfig(cmd)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Server.Port = o.Port
	}
	if flags.Changed("backend") {
		cfg.Server.Backend = o.Backend
	}
	if flags.Changed("bucket") {
		cfg.Server.Bucket = o.Bucket
	}
	if flags.Changed("region") {
		cfg.Server.Region = o.Region
	}
	if flags.Changed("endpoint") {
		cfg.Server.Endpoint = o.Endpoint
	}
	if flags.Changed("path-style") {
		cfg.Server.PathStyle = o.PathStyle
	}
	if flags.Changed("credentials-file") {
		cfg.Server.CredentialsFile = o.CredentialsFile
	}
	if flags.Changed("s3-access-key-id") {
		cfg.Server.S3AccessKeyID = o.S3AccessKeyID
	}
	if flags.Changed("s3-secret-access-key") {
		cfg.Server.S3SecretAccessKey = o.S3SecretAccessKey
	}
	if flags.Changed("gcs-access-id") {
		cfg.Server.GCSAccessID = o.GCSAccessID
	}
	if flags.Changed("gcs-private-key-file") {
		cfg.Server.GCSPrivateKeyFile = o.GCSPrivateKeyFile
	}
	if flags.Changed("base-dir") {
		cfg.Server.BaseDir = o.BaseDir
	}
	if flags.Changed("public-url") {
		cfg.Server.PublicURL = o.PublicURL
	}
	if flags.Changed("url-expiry") {
		cfg.Server.URLExpiry = o.URLExpiry
	}
	if cfg.Server.PublicURL == "" {
		cfg.Server.PublicURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
	}

	o.cfg = cfg
	return nil
}

func (o *ServeOptions) Validate() error {
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

func (o *ServeOptions) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sc := o.cfg.Server
	opts := server.Options{
		Logger:    o.logger,
		Registry:  prometheus.NewRegistry(),
		URLExpiry: sc.URLExpiry,
	}
	opts.Registry.MustRegister(collectors.NewGoCollector())

	switch sc.Backend {
	case "gcs":
		gcsOpts, err := o.gcsOptions()
		if err != nil {
			return err
		}
		var clientOpts []option.ClientOption
		if sc.CredentialsFile != "" {
			clientOpts = append(clientOpts, option.WithCredentialsFile(sc.CredentialsFile))
		}
		signer, err := storage.NewGCSSigner(ctx, gcsOpts, clientOpts...)
		if err != nil {
			return fmt.Errorf("failed to initialise GCS signer: %w", err)
		}
		defer signer.Close()
		opts.Signer = signer

	case "s3":
		signer, err := storage.NewS3Signer(ctx, o.s3Options())
		if err != nil {
			return fmt.Errorf("failed to initialise S3 signer: %w", err)
		}
		opts.Signer = signer

	default:
		objects, err := storage.NewLocalStore(sc.BaseDir)
		if err != nil {
			return fmt.Errorf("failed to initialise local store: %w", err)
		}
		grants := grant.NewMemoryStore()
		go grant.RunSweeper(ctx, grant.SweeperOptions{
			Store:     grants,
			Logger:    o.logger,
			Interval:  sweepInterval,
			Retention: sc.GrantRetention,
		})

		opts.Signer = storage.NewLocalSigner(sc.PublicURL, grants)
		opts.Objects = objects
		opts.Grants = grants
	}

	srv := server.New(opts)

	addr := fmt.Sprintf(":%d", sc.Port)
	fmt.Fprintf(o.root.Out, "Starting audio upload service on %s (backend: %s)\n", addr, sc.Backend)
	o.logger.Info(ctx, "server starting", "addr", addr, "backend", sc.Backend, "public_url", sc.PublicURL)
	return srv.ListenAndServe(ctx, addr)
}

func (o *ServeOptions) s3Options() storage.S3Options {
	sc := o.cfg.Server
	return storage.S3Options{
		Bucket:          sc.Bucket,
		Region:          sc.Region,
		Endpoint:        sc.Endpoint,
		UsePathStyle:    sc.PathStyle,
		AccessKeyID:     sc.S3AccessKeyID,
		SecretAccessKey: sc.S3SecretAccessKey,
	}
}

// gcsOptions reads the signing key, if one is configured.
func (o *ServeOptions) gcsOptions() (storage.GCSOptions, error) {
	sc := o.cfg.Server
	opts := storage.GCSOptions{Bucket: sc.Bucket, GoogleAccessID: sc.GCSAccessID}
	if sc.GCSPrivateKeyFile == "" {
		return opts, nil
	}

	key, err := os.ReadFile(sc.GCSPrivateKeyFile)
	if err != nil {
		return opts, fmt.Errorf("failed to read GCS private key: %w", err)
	}
	opts.PrivateKey = key
	return opts, nil
}
