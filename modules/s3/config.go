package s3

import (
	"errors"
	"net/http"
	"os"
	"strconv"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvEndpoint  = "ACTIONGRID_S3_ENDPOINT"
	EnvAccessKey = "ACTIONGRID_S3_ACCESS_KEY"
	EnvSecretKey = "ACTIONGRID_S3_SECRET_KEY"
	EnvRegion    = "ACTIONGRID_S3_REGION"
	EnvUseSSL    = "ACTIONGRID_S3_USE_SSL"
)

// Config describes the object store the capability talks to.
type Config struct {
	// Endpoint is host[:port] without a scheme.
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	// Transport overrides the HTTP transport, mostly for tests.
	Transport http.RoundTripper
}

// ConfigFromEnv builds a Config from the ACTIONGRID_S3_* variables.
// UseSSL defaults to true.
func ConfigFromEnv() Config {
	useSSL := true
	if v, err := strconv.ParseBool(os.Getenv(EnvUseSSL)); err == nil {
		useSSL = v
	}
	region := os.Getenv(EnvRegion)
	if region == "" {
		region = "us-east-1"
	}
	return Config{
		Endpoint:  os.Getenv(EnvEndpoint),
		AccessKey: os.Getenv(EnvAccessKey),
		SecretKey: os.Getenv(EnvSecretKey),
		Region:    region,
		UseSSL:    useSSL,
	}
}

// Validate reports missing settings.
func (c Config) Validate() error {
	var errs []error
	if c.Endpoint == "" {
		errs = append(errs, errors.New("s3 endpoint is required ("+EnvEndpoint+")"))
	}
	if c.AccessKey == "" {
		errs = append(errs, errors.New("s3 access key is required ("+EnvAccessKey+")"))
	}
	if c.SecretKey == "" {
		errs = append(errs, errors.New("s3 secret key is required ("+EnvSecretKey+")"))
	}
	return errors.Join(errs...)
}
