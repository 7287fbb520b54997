// Package h2c is the public client façade: it composes a connection pool, a
// protocol negotiator, and a per-host circuit breaker into the request
// entrypoint applications actually call.
package h2c

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/domsolutions/h2client"
	"github.com/domsolutions/h2client/breaker"
	"github.com/domsolutions/h2client/negotiate"
	"github.com/domsolutions/h2client/pool"
)

// Response is the result of a request: the decoded fasthttp.Response body
// plus the HTTP/2-specific extras the wire format carries alongside it.
type Response struct {
	*fasthttp.Response

	// Trailers holds any header fields received in a trailer HEADERS block
	// after the response body.
	Trailers []h2client.HeaderField

	// Protocol is the negotiated ALPN protocol label ("h2").
	Protocol string
}

// Release returns the underlying fasthttp.Response to its pool. Callers
// that are done with a Response should call this once.
func (r *Response) Release() { fasthttp.ReleaseResponse(r.Response) }

// BreakerAdapter lets a caller supply their own circuit breaker
// implementation; when set it takes precedence over the façade's built-in
// per-host h2breaker.Manager for every host.
type BreakerAdapter interface {
	Allow(host string) error
	Success(host string)
	Failure(host string)
}

// Options configures a Client.
type Options struct {
	// PoolOptions configures the underlying connection pool. ConnConfig on
	// it is used for every dial.
	PoolOptions h2pool.Options

	// NegotiateOptions configures ALPN/prior-knowledge negotiation.
	NegotiateOptions h2negotiate.Options

	// BreakerOptions configures the built-in per-host circuit breaker, used
	// when Breaker is nil.
	BreakerOptions h2breaker.Options

	// Breaker, if set, overrides the built-in breaker for every host.
	Breaker BreakerAdapter

	// RequestTimeout bounds a single request end to end, including
	// negotiation and pool acquisition. Zero uses h2client.DefaultRequestTimeout.
	RequestTimeout time.Duration
}

// Client is the composed HTTP/2 client façade.
type Client struct {
	opts Options

	pool       *h2pool.Pool
	negotiator *h2negotiate.Negotiator
	breakers   *h2breaker.Manager
}

// New builds a Client from opts.
func New(opts Options) *Client {
	return &Client{
		opts:       opts,
		pool:       h2pool.New(opts.PoolOptions),
		negotiator: h2negotiate.New(opts.NegotiateOptions),
		breakers:   h2breaker.NewManager(opts.BreakerOptions, nil),
	}
}

// Close releases every pooled connection.
func (c *Client) Close() error { return c.pool.Close() }

// RequestOptions customizes a single request beyond method/url/headers/body.
type RequestOptions struct {
	// PriorKnowledge skips ALPN negotiation and assumes h2 for this call.
	PriorKnowledge bool

	// Timeout overrides Options.RequestTimeout for this call only.
	Timeout time.Duration
}

func (c *Client) allow(host string) error {
	if c.opts.Breaker != nil {
		return c.opts.Breaker.Allow(host)
	}
	return c.breakers.For(host).Allow()
}

// isFailureStatus reports whether a completed (transport-error-free) response
// should count against the circuit breaker: any 5xx, plus the two 4xx codes
// that signal the server itself is shedding load (408 Request Timeout, 429
// Too Many Requests). Every other 4xx is a client-side problem, not evidence
// the upstream host is unhealthy, so it counts as a breaker success.
func isFailureStatus(code int) bool {
	if code >= fasthttp.StatusInternalServerError {
		return true
	}
	return code == fasthttp.StatusRequestTimeout || code == fasthttp.StatusTooManyRequests
}

func (c *Client) recordOutcome(host string, failed bool) {
	if c.opts.Breaker != nil {
		if failed {
			c.opts.Breaker.Failure(host)
		} else {
			c.opts.Breaker.Success(host)
		}
		return
	}
	b := c.breakers.For(host)
	if failed {
		b.Failure()
	} else {
		b.Success()
	}
}

// Request sends an HTTP/2 request built from method, rawURL, headers, and
// body, and returns the decoded Response.
func (c *Client) Request(ctx context.Context, method, rawURL string, headers map[string]string, body []byte, opts RequestOptions) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("h2c: invalid url: %w", err)
	}

	host := u.Host
	if u.Port() == "" {
		if u.Scheme == "http" {
			host = u.Host + ":80"
		} else {
			host = u.Host + ":443"
		}
	}

	if err := c.allow(host); err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.opts.RequestTimeout
	}
	if timeout <= 0 {
		timeout = h2client.DefaultRequestTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := c.negotiator.Negotiate(cctx, host, opts.PriorKnowledge); err != nil {
		c.recordOutcome(host, true)
		return nil, err
	}

	conn, release, err := c.pool.Acquire(cctx, host)
	if err != nil {
		c.recordOutcome(host, true)
		return nil, err
	}
	defer release()

	req := fasthttp.AcquireRequest()
	res := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)

	req.Header.SetMethod(method)
	req.SetRequestURI(rawURL)
	req.URI().SetScheme(u.Scheme)
	req.URI().SetHost(u.Hostname())
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if len(body) > 0 {
		req.SetBody(body)
	}

	trailers, protocol, err := conn.SendRequest(cctx, req, res)
	if err != nil {
		c.recordOutcome(host, true)
		fasthttp.ReleaseResponse(res)
		return nil, err
	}
	c.recordOutcome(host, isFailureStatus(res.StatusCode()))

	return &Response{Response: res, Trailers: trailers, Protocol: protocol}, nil
}

func (c *Client) do(ctx context.Context, method, url string, headers map[string]string, body []byte) (*Response, error) {
	return c.Request(ctx, method, url, headers, body, RequestOptions{})
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	return c.do(ctx, fasthttp.MethodGet, url, headers, nil)
}

// Head issues a HEAD request.
func (c *Client) Head(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	return c.do(ctx, fasthttp.MethodHead, url, headers, nil)
}

// Options issues an OPTIONS request.
func (c *Client) Options(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	return c.do(ctx, fasthttp.MethodOptions, url, headers, nil)
}

// Post issues a POST request with body.
func (c *Client) Post(ctx context.Context, url string, headers map[string]string, body []byte) (*Response, error) {
	return c.do(ctx, fasthttp.MethodPost, url, headers, body)
}

// Put issues a PUT request with body.
func (c *Client) Put(ctx context.Context, url string, headers map[string]string, body []byte) (*Response, error) {
	return c.do(ctx, fasthttp.MethodPut, url, headers, body)
}

// Patch issues a PATCH request with body.
func (c *Client) Patch(ctx context.Context, url string, headers map[string]string, body []byte) (*Response, error) {
	return c.do(ctx, fasthttp.MethodPatch, url, headers, body)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, url string, headers map[string]string) (*Response, error) {
	return c.do(ctx, fasthttp.MethodDelete, url, headers, nil)
}
