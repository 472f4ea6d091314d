package connector

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	gojson "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/ledgerline/pkg/clients"
	"github.com/ajitpratap0/ledgerline/pkg/errors"
)

func newHTTPClient(opts Options) *clients.HTTPClient {
	cfg := clients.DefaultHTTPConfig()
	cfg.RequestTimeout = opts.timeout()
	return clients.NewHTTPClient(cfg, opts.logger())
}

// get issues a GET and converts non-2xx responses into remote errors.
func get(ctx context.Context, client *clients.HTTPClient, target string, headers map[string]string) (*http.Response, error) {
	resp, err := client.Get(ctx, target, headers)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "request failed").
			WithDetail("target", target)
	}
	if resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, errors.Newf(errors.ErrorTypeRemote,
			"Request could not be processed. Status Code: %d", resp.StatusCode).
			WithDetail("status_code", resp.StatusCode).
			WithDetail("target", target)
	}
	return resp, nil
}

// RemoteFileConnector streams a file served over HTTP(S).
type RemoteFileConnector struct {
	opts    Options
	client  *clients.HTTPClient
	closers closers
}

// NewRemoteFileConnector creates a streaming HTTP file connector.
func NewRemoteFileConnector(opts Options) *RemoteFileConnector {
	return &RemoteFileConnector{opts: opts, client: newHTTPClient(opts)}
}

// Connect starts the download and returns a reader over the response body.
func (c *RemoteFileConnector) Connect(ctx context.Context, target string) (*Handle, error) {
	resp, err := get(ctx, c.client, target, c.opts.Headers)
	if err != nil {
		return nil, err
	}
	c.closers.push(resp.Body.Close)

	r, err := wrapContent(resp.Body, target, c.opts, &c.closers)
	if err != nil {
		_ = c.closers.close()
		return nil, err
	}
	return &Handle{Target: target, Reader: r}, nil
}

// Checksum downloads target a second time and hashes the raw body.
func (c *RemoteFileConnector) Checksum(ctx context.Context, target string) (string, error) {
	resp, err := get(ctx, c.client, target, c.opts.Headers)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	sum, err := Checksum(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeConnection, "failed to read response for checksum")
	}
	return sum, nil
}

// Close closes the response body and releases idle connections.
func (c *RemoteFileConnector) Close() error {
	err := c.closers.close()
	_ = c.client.Close()
	return err
}

// HTTPConnector fetches a whole HTTP response. JSON responses are decoded
// into Handle.Value; anything else is exposed as text.
type HTTPConnector struct {
	opts   Options
	client *clients.HTTPClient

	target string
	body   []byte
}

// NewHTTPConnector creates a buffered HTTP connector.
func NewHTTPConnector(opts Options) *HTTPConnector {
	return &HTTPConnector{opts: opts, client: newHTTPClient(opts)}
}

// Connect performs the request. Status codes of 300 and above fail with a
// remote error carrying the status code.
func (c *HTTPConnector) Connect(ctx context.Context, target string) (*Handle, error) {
	resp, err := get(ctx, c.client, target, c.opts.Headers)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read response").
			WithDetail("target", target)
	}
	c.target, c.body = target, body

	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var v any
		if err := gojson.Unmarshal(body, &v); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeRemote, "response is not valid JSON").
				WithDetail("target", target)
		}
		return &Handle{Target: target, Reader: bytes.NewReader(body), Value: v}, nil
	}

	r, err := decode(bytes.NewReader(body), c.opts.Encoding)
	if err != nil {
		return nil, err
	}
	text, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to decode response").
			WithDetail("target", target)
	}
	return &Handle{Target: target, Reader: bytes.NewReader(text), Value: string(text)}, nil
}

// Checksum hashes the body fetched by Connect, or fetches target if it was
// not the last one connected.
func (c *HTTPConnector) Checksum(ctx context.Context, target string) (string, error) {
	if c.body != nil && c.target == target {
		return Checksum(bytes.NewReader(c.body))
	}

	c.opts.logger().Debug("fetching response for checksum", zap.String("target", target))
	resp, err := get(ctx, c.client, target, c.opts.Headers)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	return Checksum(resp.Body)
}

// Close drops the buffered response.
func (c *HTTPConnector) Close() error {
	c.target, c.body = "", nil
	return c.client.Close()
}
