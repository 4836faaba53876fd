// Package config resolves kbtool settings from defaults, an optional YAML
// file and HLSKB_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "HLSKB_"

// Config holds the full tool configuration.
type Config struct {
	Storage   Storage   `yaml:"storage"`
	Manifests Manifests `yaml:"manifests"`
	Log       Log       `yaml:"log"`
	Operator  string    `yaml:"operator" validate:"required"`
}

// Storage selects the entity store backend.
type Storage struct {
	Driver string `yaml:"driver" validate:"oneof=memory sqlite postgres"`
	DSN    string `yaml:"dsn"`
}

// Manifests selects where change manifests are written.
type Manifests struct {
	Driver string `yaml:"driver" validate:"oneof=fs s3 memory"`
	Root   string `yaml:"root"`
	S3     S3     `yaml:"s3"`
}

// S3 configures the S3/MinIO manifest backend.
type S3 struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint" validate:"omitempty,url"`
	PathStyle bool   `yaml:"path_style"`
}

// Log configures the slog handler.
type Log struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Storage:   Storage{Driver: "sqlite", DSN: "hlskb.db"},
		Manifests: Manifests{Driver: "fs", Root: "logs", S3: S3{Region: "us-east-1"}},
		Log:       Log{Level: "info", Format: "text"},
		Operator:  "kbtool",
	}
}

// Load builds a Config. path may be empty; getenv defaults to os.Getenv.
func Load(path string, getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := map[string]*string{
		"STORAGE_DRIVER":        &c.Storage.Driver,
		"STORAGE_DSN":           &c.Storage.DSN,
		"MANIFESTS_DRIVER":      &c.Manifests.Driver,
		"MANIFESTS_ROOT":        &c.Manifests.Root,
		"MANIFESTS_S3_BUCKET":   &c.Manifests.S3.Bucket,
		"MANIFESTS_S3_REGION":   &c.Manifests.S3.Region,
		"MANIFESTS_S3_ENDPOINT": &c.Manifests.S3.Endpoint,
		"LOG_LEVEL":             &c.Log.Level,
		"LOG_FORMAT":            &c.Log.Format,
		"OPERATOR":              &c.Operator,
	}
	for key, dst := range str {
		if v := getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}
	if v := getenv(EnvPrefix + "MANIFESTS_S3_PATH_STYLE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sMANIFESTS_S3_PATH_STYLE: %w", EnvPrefix, err)
		}
		c.Manifests.S3.PathStyle = b
	}
	c.Log.Level = strings.ToLower(c.Log.Level)
	c.Log.Format = strings.ToLower(c.Log.Format)
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		s := sl.Current().Interface().(Storage)
		if s.Driver != "memory" && strings.TrimSpace(s.DSN) == "" {
			sl.ReportError(s.DSN, "DSN", "dsn", "required_for_driver", s.Driver)
		}
	}, Storage{})
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		m := sl.Current().Interface().(Manifests)
		switch m.Driver {
		case "fs":
			if strings.TrimSpace(m.Root) == "" {
				sl.ReportError(m.Root, "Root", "root", "required_for_driver", m.Driver)
			}
		case "s3":
			if strings.TrimSpace(m.S3.Bucket) == "" {
				sl.ReportError(m.S3.Bucket, "Bucket", "bucket", "required_for_driver", m.Driver)
			}
		}
	}, Manifests{})
	return v
}

// Validate reports every invalid field in one error.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
