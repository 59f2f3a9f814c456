// Package protocol speaks the git smart HTTP protocol: reference
// discovery, want/have negotiation and the side-band pack transfer.
package protocol

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/master-wayne7/gitpure/internal/errors"
	"github.com/master-wayne7/gitpure/internal/logging"
)

const (
	uploadPackService = "git-upload-pack"
	defaultUserAgent  = "gitpure"
)

// Client talks to smart HTTP servers.
type Client struct {
	HTTP      *http.Client
	UserAgent string
	Logger    *zap.Logger
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP == nil {
		return http.DefaultClient
	}
	return c.HTTP
}

func (c *Client) userAgent() string {
	if c.UserAgent == "" {
		return defaultUserAgent
	}
	return c.UserAgent
}

func (c *Client) logger() *zap.Logger {
	return logging.OrNop(c.Logger)
}

// endpoint validates a repository URL.
func endpoint(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.E(errors.ErrTransport, errors.Wrapf(err, "parsing url %q", rawURL))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf(errors.ErrTransport, "unsupported url scheme %q (only http and https are supported)", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.Errorf(errors.ErrTransport, "url %q has no host", rawURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u, nil
}

func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", c.userAgent())
	resp, err := c.httpClient().Do(req.WithContext(ctx))
	if err != nil {
		return nil, classify(ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusNotFound:
			return nil, errors.Errorf(errors.ErrTransport, "repository not found at %s", redact(req.URL))
		case http.StatusUnauthorized, http.StatusForbidden:
			return nil, errors.Errorf(errors.ErrTransport, "authentication failed for %s: %s", redact(req.URL), resp.Status)
		default:
			return nil, errors.Errorf(errors.ErrTransport, "unexpected HTTP status from %s: %s", redact(req.URL), resp.Status)
		}
	}
	return resp, nil
}

// classify maps an I/O error to ErrCancelled when the context is done and
// to ErrTransport otherwise.
func classify(ctx context.Context, err error) error {
	if cerr := errors.FromContext(ctx); cerr != nil {
		return cerr
	}
	if errors.KindOf(err) != nil {
		return err
	}
	return errors.E(errors.ErrTransport, err)
}

func redact(u *url.URL) string {
	return u.Redacted()
}

// ctxReader checks the context before every read so a transfer stops at
// the next chunk once the caller cancels.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := errors.FromContext(r.ctx); err != nil {
		return 0, err
	}
	n, err := r.r.Read(p)
	if err != nil && err != io.EOF {
		return n, classify(r.ctx, err)
	}
	return n, err
}
