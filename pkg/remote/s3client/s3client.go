// Package s3client implements remote.Client on top of Amazon S3 or any
// S3-compatible object store.
//
// The server part of a remote address is the bucket name. Directories are
// key prefixes; MakeDirectory writes an empty "dir/" marker object so that
// empty directories survive.
//
// Example:
//
//	s3://my-bucket/reports/2024.csv -> bucket "my-bucket", key "reports/2024.csv"
package s3client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/marmos91/dittovfs/internal/logger"
	"github.com/marmos91/dittovfs/pkg/fserr"
	"github.com/marmos91/dittovfs/pkg/remote"
)

// deleteBatchSize is the S3 limit for one DeleteObjects call.
const deleteBatchSize = 1000

// API is the subset of *s3.Client used by Client.
type API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Config holds the settings shared by every client of a dialer.
type Config struct {
	// Region is the AWS region. Required unless the address carries a
	// "region" query variable.
	Region string

	// Endpoint overrides the S3 endpoint (MinIO, Localstack, ...).
	Endpoint string

	// ForcePathStyle uses path-style addressing. Always on with a custom
	// Endpoint.
	ForcePathStyle bool

	// MaxRetries defaults to 10.
	MaxRetries int

	// KeyPrefix is prepended to every object key.
	KeyPrefix string

	// Metrics may be nil.
	Metrics Metrics

	// NewAPI overrides the construction of the S3 API, for tests.
	NewAPI func(ctx context.Context, cfg Config, ep remote.Endpoint) (API, error)
}

// NewDialer returns a remote.Dialer that builds S3 clients.
func NewDialer(cfg Config) remote.Dialer {
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	if cfg.NewAPI == nil {
		cfg.NewAPI = newAPI
	}
	return func(ctx context.Context, ep remote.Endpoint) (remote.Client, error) {
		if ep.Server == "" {
			return nil, fmt.Errorf("s3: bucket is required")
		}
		return &Client{cfg: cfg, endpoint: ep, bucket: ep.Server, metrics: cfg.Metrics}, nil
	}
}

// newAPI builds an *s3.Client from cfg. Credentials come from the endpoint
// user and password when set, otherwise from the default AWS chain.
func newAPI(ctx context.Context, cfg Config, ep remote.Endpoint) (API, error) {
	region := cfg.Region
	if r := ep.Options["region"]; r != "" {
		region = r
	}
	if region == "" {
		return nil, fmt.Errorf("s3: region is required")
	}

	// ========================================================================
	// Step 1: Build AWS Config
	// ========================================================================

	var configOptions []func(*awsConfig.LoadOptions) error
	configOptions = append(configOptions, awsConfig.WithRegion(region))

	if ep.UserName != "" && ep.Password != "" {
		credProvider := credentials.NewStaticCredentialsProvider(ep.UserName, ep.Password, "")
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// ========================================================================
	// Step 2: Create S3 Client
	// ========================================================================

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Custom endpoints (MinIO, Localstack) need path-style addressing.
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	}), nil
}

// Client is one S3 session. Connect builds the API client and verifies
// bucket access.
type Client struct {
	cfg       Config
	endpoint  remote.Endpoint
	bucket    string
	metrics   Metrics
	api       API
	connected atomic.Bool
}

var _ remote.Client = (*Client)(nil)

func (c *Client) Connect(ctx context.Context) error {
	api, err := c.cfg.NewAPI(ctx, c.cfg, c.endpoint)
	if err != nil {
		return err
	}
	c.api = api
	if _, err := c.ping(ctx); err != nil {
		return err
	}
	c.connected.Store(true)
	logger.Debug("s3: connected to bucket %s", c.bucket)
	return nil
}

func (c *Client) Connected() bool { return c.connected.Load() }

func (c *Client) Close() error {
	c.connected.Store(false)
	return nil
}

func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	return c.ping(ctx)
}

func (c *Client) ping(ctx context.Context) (rtt time.Duration, err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveOperation("HeadBucket", time.Since(start), err) }()

	_, err = c.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucket)})
	if err != nil {
		c.checkSession(err)
		return 0, fmt.Errorf("failed to access bucket %q: %w", c.bucket, err)
	}
	return time.Since(start), nil
}

// objectKey maps an absolute remote path to an object key.
func (c *Client) objectKey(p string) string {
	return c.cfg.KeyPrefix + strings.TrimPrefix(path.Clean("/"+p), "/")
}

// dirPrefix maps an absolute directory path to its key prefix, "" for root.
func (c *Client) dirPrefix(p string) string {
	key := c.objectKey(p)
	if key == c.cfg.KeyPrefix {
		return key
	}
	return key + "/"
}

func (c *Client) Stat(ctx context.Context, p string) (info remote.EntryInfo, err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveOperation("Stat", time.Since(start), err) }()

	name := path.Base(path.Clean("/" + p))
	if c.objectKey(p) == c.cfg.KeyPrefix {
		return remote.EntryInfo{Name: name, IsDir: true}, nil
	}

	head, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.objectKey(p)),
	})
	if err == nil {
		info = remote.EntryInfo{Name: name, Size: aws.ToInt64(head.ContentLength)}
		if head.LastModified != nil {
			info.ModTime = *head.LastModified
		}
		return info, nil
	}
	if !isNotFound(err) {
		c.checkSession(err)
		return remote.EntryInfo{}, fmt.Errorf("failed to head object: %w", err)
	}

	// No object: a directory exists if anything lives under its prefix.
	out, err := c.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(c.bucket),
		Prefix:  aws.String(c.dirPrefix(p)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		c.checkSession(err)
		return remote.EntryInfo{}, fmt.Errorf("failed to list objects: %w", err)
	}
	if len(out.Contents) == 0 && len(out.CommonPrefixes) == 0 {
		return remote.EntryInfo{}, fserr.NewFileNotFound(p)
	}
	return remote.EntryInfo{Name: name, IsDir: true}, nil
}

func (c *Client) List(ctx context.Context, p string) (entries []remote.EntryInfo, err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveOperation("List", time.Since(start), err) }()

	prefix := c.dirPrefix(p)
	paginator := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket:    aws.String(c.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	found := false
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			c.checkSession(err)
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, cp := range page.CommonPrefixes {
			found = true
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name != "" {
				entries = append(entries, remote.EntryInfo{Name: name, IsDir: true})
			}
		}
		for _, obj := range page.Contents {
			found = true
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" {
				// Directory marker.
				continue
			}
			e := remote.EntryInfo{Name: name, Size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				e.ModTime = *obj.LastModified
			}
			entries = append(entries, e)
		}
	}
	if !found && prefix != c.cfg.KeyPrefix {
		return nil, fserr.NewDirectoryNotFound(p)
	}
	return entries, nil
}

func (c *Client) OpenRead(ctx context.Context, p string) (rc io.ReadCloser, err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveOperation("GetObject", time.Since(start), err) }()

	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.objectKey(p)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fserr.NewFileNotFound(p)
		}
		c.checkSession(err)
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}
	return &metricsReadCloser{ReadCloser: out.Body, metrics: c.metrics}, nil
}

// OpenWrite buffers the content and uploads it with a single PutObject when
// the writer is closed.
func (c *Client) OpenWrite(ctx context.Context, p string) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &objectWriter{ctx: ctx, client: c, key: c.objectKey(p)}, nil
}

func (c *Client) MakeDirectory(ctx context.Context, p string) (err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveOperation("MakeDirectory", time.Since(start), err) }()

	_, err = c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.dirPrefix(p)),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		c.checkSession(err)
		return fmt.Errorf("failed to create directory marker: %w", err)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, p string, recursive bool) (err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveOperation("Delete", time.Since(start), err) }()

	info, err := c.Stat(ctx, p)
	if err != nil {
		return err
	}
	if !info.IsDir {
		_, err = c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(c.objectKey(p)),
		})
		if err != nil {
			c.checkSession(err)
			return fmt.Errorf("failed to delete object: %w", err)
		}
		return nil
	}

	prefix := c.dirPrefix(p)
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			c.checkSession(err)
			return fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	for _, k := range keys {
		if k != prefix && !recursive {
			return fserr.New(fserr.ErrNotEmpty, "directory not empty", p)
		}
	}
	return c.deleteKeys(ctx, keys)
}

func (c *Client) deleteKeys(ctx context.Context, keys []string) error {
	for i := 0; i < len(keys); i += deleteBatchSize {
		end := min(i+deleteBatchSize, len(keys))
		batch := keys[i:end]

		objects := make([]types.ObjectIdentifier, len(batch))
		for j, key := range batch {
			objects[j] = types.ObjectIdentifier{Key: aws.String(key)}
		}

		result, err := c.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(c.bucket),
			Delete: &types.Delete{
				Objects: objects,
				Quiet:   aws.Bool(false),
			},
		})
		if err != nil {
			c.checkSession(err)
			return fmt.Errorf("failed to delete objects: %w", err)
		}
		if len(result.Errors) > 0 {
			first := result.Errors[0]
			return fmt.Errorf("failed to delete %d objects, first %s: %s",
				len(result.Errors), aws.ToString(first.Key), aws.ToString(first.Message))
		}
	}
	return nil
}

// checkSession marks the client disconnected on errors that invalidate the
// session, so the pool drops it.
func (c *Client) checkSession(err error) {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ExpiredToken", "InvalidAccessKeyId", "SignatureDoesNotMatch", "AccessDenied":
			c.connected.Store(false)
		}
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	// Transport failure.
	c.connected.Store(false)
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && (apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey")
}

type objectWriter struct {
	ctx    context.Context
	client *Client
	key    string
	buf    bytes.Buffer
	closed bool
}

func (w *objectWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fserr.New(fserr.ErrClosed, "writer closed", w.key)
	}
	return w.buf.Write(p)
}

func (w *objectWriter) Close() (err error) {
	if w.closed {
		return nil
	}
	w.closed = true

	c := w.client
	start := time.Now()
	defer func() { c.metrics.ObserveOperation("PutObject", time.Since(start), err) }()

	size := int64(w.buf.Len())
	_, err = c.api.PutObject(w.ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(w.key),
		Body:          bytes.NewReader(w.buf.Bytes()),
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		c.checkSession(err)
		return fmt.Errorf("failed to put object: %w", err)
	}
	c.metrics.RecordBytes("write", size)
	return nil
}

type metricsReadCloser struct {
	io.ReadCloser
	metrics Metrics
}

func (r *metricsReadCloser) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	if n > 0 {
		r.metrics.RecordBytes("read", int64(n))
	}
	return n, err
}
