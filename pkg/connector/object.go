package connector

import (
	"context"
	"io"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/ledgerline/pkg/errors"
)

// objectStore reads objects from a bucket.
type objectStore interface {
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Close() error
}

type storeFunc func(ctx context.Context, opts Options) (objectStore, error)

// ObjectConnector streams objects addressed as scheme://bucket/key.
type ObjectConnector struct {
	opts    Options
	scheme  string
	newFn   storeFunc
	store   objectStore
	closers closers
}

// NewS3Connector creates a connector for s3://bucket/key targets. Host, when
// set, overrides the service endpoint.
func NewS3Connector(opts Options) *ObjectConnector {
	return &ObjectConnector{opts: opts, scheme: "s3", newFn: newS3Store}
}

// NewGCSConnector creates a connector for gs://bucket/key targets.
func NewGCSConnector(opts Options) *ObjectConnector {
	return &ObjectConnector{opts: opts, scheme: "gs", newFn: newGCSStore}
}

// parseObjectURL splits scheme://bucket/key.
func parseObjectURL(target, scheme string) (bucket, key string, err error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", "", errors.Wrap(err, errors.ErrorTypeConfig, "invalid object URL")
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Scheme != scheme || u.Host == "" || key == "" {
		return "", "", errors.Newf(errors.ErrorTypeConfig, "object target must look like %s://bucket/key, got %q", scheme, target)
	}
	return u.Host, key, nil
}

func (c *ObjectConnector) open(ctx context.Context, target string) (io.ReadCloser, error) {
	bucket, key, err := parseObjectURL(target, c.scheme)
	if err != nil {
		return nil, err
	}
	if c.store == nil {
		store, err := c.newFn(ctx, c.opts)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create "+c.scheme+" client")
		}
		c.store = store
	}

	rc, err := c.store.Open(ctx, bucket, key)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to open object").
			WithDetail("target", target)
	}
	return rc, nil
}

// Connect streams the object, decompressing by key extension.
func (c *ObjectConnector) Connect(ctx context.Context, target string) (*Handle, error) {
	rc, err := c.open(ctx, target)
	if err != nil {
		return nil, err
	}
	c.closers.push(rc.Close)

	r, err := wrapContent(rc, target, c.opts, &c.closers)
	if err != nil {
		return nil, err
	}
	return &Handle{Target: target, Reader: r}, nil
}

// Checksum reads the object through a separate stream.
func (c *ObjectConnector) Checksum(ctx context.Context, target string) (string, error) {
	rc, err := c.open(ctx, target)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	sum, err := Checksum(rc)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeConnection, "failed to read object for checksum")
	}
	return sum, nil
}

// Close closes open object streams and the client.
func (c *ObjectConnector) Close() error {
	err := c.closers.close()
	if c.store != nil {
		if cerr := c.store.Close(); err == nil {
			err = cerr
		}
		c.store = nil
	}
	return err
}

type s3Store struct {
	client *s3.Client
}

func newS3Store(ctx context.Context, opts Options) (objectStore, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Host != "" {
			o.BaseEndpoint = aws.String(opts.Host)
			o.UsePathStyle = true
		}
	})
	return &s3Store{client: client}, nil
}

func (s *s3Store) Open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}

func (s *s3Store) Close() error { return nil }

type gcsStore struct {
	client *storage.Client
}

func newGCSStore(ctx context.Context, opts Options) (objectStore, error) {
	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, err
	}
	return &gcsStore{client: client}, nil
}

func (s *gcsStore) Open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	return s.client.Bucket(bucket).Object(key).NewReader(ctx)
}

func (s *gcsStore) Close() error { return s.client.Close() }
