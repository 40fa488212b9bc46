package app

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/specialistvlad/actiongrid/internal/engine"
	"gopkg.in/yaml.v3"
)

// Config holds all the necessary configuration for an App instance.
type Config struct {
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`
	// LogFormat is text or json. Empty picks text on a terminal and json
	// otherwise.
	LogFormat       string `yaml:"log_format" validate:"omitempty,oneof=text json"`
	HealthcheckPort int    `yaml:"healthcheck_port" validate:"gte=0,lte=65535"`
	TraceStdout     bool   `yaml:"trace_stdout"`

	// LedgerPath is a badger directory that keeps every run's ledger.
	LedgerPath string `yaml:"ledger_path"`
	// LedgerDSN is a postgres URL that keeps every run's ledger.
	LedgerDSN string `yaml:"ledger_dsn" validate:"omitempty,url"`

	EventStreamURL       string        `yaml:"event_stream_url" validate:"omitempty,url"`
	EventStreamNamespace string        `yaml:"event_stream_namespace"`
	EventStreamEvent     string        `yaml:"event_stream_event"`
	EventStreamTimeout   time.Duration `yaml:"event_stream_timeout" validate:"gte=0"`

	Engine engine.Config `yaml:"engine"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Engine:   engine.DefaultConfig(),
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field against its validate tag.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	errs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		errs = append(errs, fmt.Errorf("invalid %s: %q fails %q", fe.Namespace(), fmt.Sprint(fe.Value()), fe.Tag()))
	}
	return errors.Join(errs...)
}

// LoadConfig reads a YAML config file over the defaults. Unknown keys are
// rejected. An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(src))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	return cfg, nil
}
