// Package s3 provides an object store capability backed by any S3
// compatible service.
package s3

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/specialistvlad/actiongrid/internal/ctxlog"
	"github.com/specialistvlad/actiongrid/internal/node"
	"github.com/specialistvlad/actiongrid/internal/registry"
	"github.com/zclconf/go-cty/cty"
)

// maxContent caps how much of an object "get" returns inline.
const maxContent = 8 << 20

// Module implements the registry.Module interface for this package.
// When Config is nil the settings are read from the environment.
type Module struct {
	Config *Config

	once   sync.Once
	client *minio.Client
	err    error
}

// Input defines the arguments for the s3 capability.
type Input struct {
	Action     string `json:"action"`
	Bucket     string `json:"bucket"`
	Key        string `json:"key"`
	Content    string `json:"content"`
	SourcePath string `json:"source_path"`
	DestPath   string `json:"dest_path"`
}

// Output defines the data structure returned by the capability.
type Output struct {
	Bucket  string `json:"bucket"`
	Key     string `json:"key"`
	Size    int64  `json:"size"`
	ETag    string `json:"etag,omitempty"`
	Content string `json:"content,omitempty"`
	Path    string `json:"path,omitempty"`
}

func (m *Module) config() Config {
	if m.Config != nil {
		return *m.Config
	}
	return ConfigFromEnv()
}

func (m *Module) clientFor() (*minio.Client, error) {
	m.once.Do(func() {
		cfg := m.config()
		if err := cfg.Validate(); err != nil {
			m.err = err
			return
		}
		transport := cfg.Transport
		if transport == nil {
			transport = newTransport()
		}
		m.client, m.err = minio.New(cfg.Endpoint, &minio.Options{
			Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure:    cfg.UseSSL,
			Region:    cfg.Region,
			Transport: transport,
		})
	})
	return m.client, m.err
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// classify marks object store errors that a retry cannot fix.
func classify(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return node.Permanent(err)
	}
	return err
}

func (m *Module) invoke(ctx context.Context, args map[string]any) (any, error) {
	var input Input
	if err := registry.Bind(args, &input); err != nil {
		return nil, err
	}
	client, err := m.clientFor()
	if err != nil {
		return nil, node.Permanent(fmt.Errorf("s3 client: %w", err))
	}
	if input.Bucket == "" || input.Key == "" {
		return nil, node.Permanent(fmt.Errorf("s3 action %q requires bucket and key", input.Action))
	}

	logger := ctxlog.FromContext(ctx).With("action", input.Action, "bucket", input.Bucket, "key", input.Key)
	switch strings.ToLower(input.Action) {
	case "put":
		logger.Info("Putting object.", "size", len(input.Content))
		return put(ctx, client, &input, strings.NewReader(input.Content), int64(len(input.Content)), "text/plain; charset=utf-8")
	case "upload":
		return upload(ctx, client, &input)
	case "get":
		logger.Info("Getting object.")
		return get(ctx, client, &input)
	case "download":
		return download(ctx, client, &input)
	default:
		return nil, node.Permanent(fmt.Errorf("unknown s3 action: '%s'", input.Action))
	}
}

func put(ctx context.Context, client *minio.Client, input *Input, r io.Reader, size int64, contentType string) (*Output, error) {
	info, err := client.PutObject(ctx, input.Bucket, input.Key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return nil, classify(fmt.Errorf("failed to put object: %w", err))
	}
	return &Output{Bucket: input.Bucket, Key: input.Key, Size: info.Size, ETag: info.ETag}, nil
}

func upload(ctx context.Context, client *minio.Client, input *Input) (*Output, error) {
	file, err := os.Open(input.SourcePath)
	if err != nil {
		return nil, node.Permanent(fmt.Errorf("failed to open source file '%s': %w", input.SourcePath, err))
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to get file stats for '%s': %w", input.SourcePath, err)
	}
	contentType := mime.TypeByExtension(filepath.Ext(input.SourcePath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	ctxlog.FromContext(ctx).Info("Uploading file.", "source", input.SourcePath, "size", stat.Size(), "contentType", contentType)

	out, err := put(ctx, client, input, file, stat.Size(), contentType)
	if err != nil {
		return nil, err
	}
	out.Path = input.SourcePath
	return out, nil
}

func get(ctx context.Context, client *minio.Client, input *Input) (*Output, error) {
	obj, err := client.GetObject(ctx, input.Bucket, input.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classify(fmt.Errorf("failed to get object: %w", err))
	}
	defer obj.Close()

	data, err := io.ReadAll(io.LimitReader(obj, maxContent))
	if err != nil {
		return nil, classify(fmt.Errorf("failed to read object: %w", err))
	}
	return &Output{Bucket: input.Bucket, Key: input.Key, Size: int64(len(data)), Content: string(data)}, nil
}

func download(ctx context.Context, client *minio.Client, input *Input) (*Output, error) {
	if input.DestPath == "" {
		return nil, node.Permanent(fmt.Errorf("s3 action 'download' requires dest_path"))
	}
	ctxlog.FromContext(ctx).Info("Downloading object.", "dest", input.DestPath)
	if err := client.FGetObject(ctx, input.Bucket, input.Key, input.DestPath, minio.GetObjectOptions{}); err != nil {
		return nil, classify(fmt.Errorf("failed to download object: %w", err))
	}
	stat, err := os.Stat(input.DestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat downloaded file: %w", err)
	}
	return &Output{Bucket: input.Bucket, Key: input.Key, Size: stat.Size(), Path: input.DestPath}, nil
}

// Register registers the capability with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterFunc(registry.Descriptor{
		Name:        "s3",
		Description: "Puts, gets, uploads and downloads objects in an S3 compatible store.",
		Category:    "storage",
		Version:     "1.0.0",
		Inputs: []registry.Input{
			{Name: "action", Type: cty.String, Required: true, Description: "put, get, upload or download."},
			{Name: "bucket", Type: cty.String, Required: true},
			{Name: "key", Type: cty.String, Required: true},
			{Name: "content", Type: cty.String, Description: "Object body for put."},
			{Name: "source_path", Type: cty.String, Description: "Local file for upload."},
			{Name: "dest_path", Type: cty.String, Description: "Local file for download."},
		},
		Outputs:     []string{"bucket", "key", "size"},
		CheckConfig: func() error { return m.config().Validate() },
	}, m.invoke)
}
