// Package config loads settings shared by the audioupload commands.
//
// Sources are applied in order, each overriding the last: struct defaults,
// an optional YAML or JSON file, then AUDIOUPLOAD_* environment variables.
// Commands overlay explicitly set flags on the result before calling
// Validate.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mcuadros/go-defaults"
	"sigs.k8s.io/yaml"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "AUDIOUPLOAD_"

// Config is the root configuration.
type Config struct {
	LogLevel string       `json:"logLevel" default:"info" validate:"oneof=debug info warn error"`
	Client   ClientConfig `json:"client"`
	Server   ServerConfig `json:"server"`
}

// ClientConfig configures the upload command.
type ClientConfig struct {
	// APIURL is the base URL of the authorization service.
	APIURL string `json:"apiUrl" default:"http://localhost:8080" validate:"required,http_url"`
}

// ServerConfig configures the development authorization service.
type ServerConfig struct {
	Port    int    `json:"port" default:"8080" validate:"min=1,max=65535"`
	Backend string `json:"backend" default:"local" validate:"oneof=local gcs s3"`

	// Bucket is required by the gcs and s3 backends.
	Bucket string `json:"bucket" validate:"required_unless=Backend local"`

	Region    string `json:"region" default:"us-east-1"`
	Endpoint  string `json:"endpoint" validate:"omitempty,http_url"`
	PathStyle bool   `json:"pathStyle"`

	// S3AccessKeyID and S3SecretAccessKey are static S3 credentials, as used
	// by MinIO. When empty the default AWS credential chain applies.
	S3AccessKeyID     string `json:"s3AccessKeyId" validate:"required_with=S3SecretAccessKey"`
	S3SecretAccessKey string `json:"s3SecretAccessKey" validate:"required_with=S3AccessKeyID"`

	// CredentialsFile is a service account key used to sign GCS URLs.
	CredentialsFile string `json:"credentialsFile" validate:"omitempty,file"`

	// GCSAccessID and GCSPrivateKeyFile sign GCS URLs with a PEM key instead
	// of the client credentials.
	GCSAccessID       string `json:"gcsAccessId" validate:"required_with=GCSPrivateKeyFile"`
	GCSPrivateKeyFile string `json:"gcsPrivateKeyFile" validate:"omitempty,file"`

	BaseDir   string `json:"baseDir" default:"uploads" validate:"required"`
	PublicURL string `json:"publicUrl" validate:"omitempty,http_url"`

	URLExpiry      time.Duration `json:"urlExpiry" default:"15m" validate:"min=1s,max=168h"`
	GrantRetention time.Duration `json:"grantRetention" default:"1h" validate:"min=1s"`
}

// UnmarshalJSON accepts durations as strings such as "15m".
func (c *ServerConfig) UnmarshalJSON(data []byte) error {
	type plain ServerConfig
	aux := struct {
		*plain
		URLExpiry      string `json:"urlExpiry"`
		GrantRetention string `json:"grantRetention"`
	}{plain: (*plain)(c)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if err := parseDuration(aux.URLExpiry, &c.URLExpiry); err != nil {
		return fmt.Errorf("urlExpiry: %w", err)
	}
	if err := parseDuration(aux.GrantRetention, &c.GrantRetention); err != nil {
		return fmt.Errorf("grantRetention: %w", err)
	}
	return nil
}

// Default returns a Config populated only with defaults.
func Default() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load builds a Config from defaults, the file at path (skipped when empty)
// and the environment. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %q: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration against its field constraints.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"LOG_LEVEL":            &c.LogLevel,
		"API_URL":              &c.Client.APIURL,
		"BACKEND":              &c.Server.Backend,
		"BUCKET":               &c.Server.Bucket,
		"REGION":               &c.Server.Region,
		"ENDPOINT":             &c.Server.Endpoint,
		"CREDENTIALS_FILE":     &c.Server.CredentialsFile,
		"S3_ACCESS_KEY_ID":     &c.Server.S3AccessKeyID,
		"S3_SECRET_ACCESS_KEY": &c.Server.S3SecretAccessKey,
		"GCS_ACCESS_ID":        &c.Server.GCSAccessID,
		"GCS_PRIVATE_KEY_FILE": &c.Server.GCSPrivateKeyFile,
		"BASE_DIR":             &c.Server.BaseDir,
		"PUBLIC_URL":           &c.Server.PublicURL,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}

	if v, ok := lookup(EnvPrefix + "PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %sPORT: %w", EnvPrefix, err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup(EnvPrefix + "PATH_STYLE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %sPATH_STYLE: %w", EnvPrefix, err)
		}
		c.Server.PathStyle = b
	}

	durations := map[string]*time.Duration{
		"URL_EXPIRY":      &c.Server.URLExpiry,
		"GRANT_RETENTION": &c.Server.GrantRetention,
	}
	for name, dst := range durations {
		if v, ok := lookup(EnvPrefix + name); ok {
			if err := parseDuration(v, dst); err != nil {
				return fmt.Errorf("config: %s%s: %w", EnvPrefix, name, err)
			}
		}
	}
	return nil
}

func parseDuration(s string, dst *time.Duration) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}
