// Package magio is the client for the MagentaTV/MagioTV REST API. It wraps
// every call with authorization headers obtained from the auth manager and
// runs all list lookups through the shared TTL cache.
package magio

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"magioproxy/cache"
	"magioproxy/magio/auth"
)

const (
	defaultTimeout = 30 * time.Second
	// stream-url resolution includes a redirect hop, keep it short
	streamTimeout = 10 * time.Second
)

// ErrNotAuthenticated is returned when no valid authorization headers could
// be obtained. Callers should treat it as "try again later".
var ErrNotAuthenticated = errors.New("not authenticated")

type ClientOpts struct {
	Auth       *auth.Manager
	Cache      *cache.Cache
	Quality    string
	DeviceName string
	DeviceType string
	// CacheTTL is the default TTL for channel and EPG lookups.
	CacheTTL time.Duration
}

type Client struct {
	http *resty.Client
	// noRedirect performs the manual redirect hop of stream resolution
	noRedirect *resty.Client
	auth       *auth.Manager
	cache      *cache.Cache
	lang       string
	quality    string
	devName    string
	devType    string
	cacheTTL   time.Duration
}

func NewClient(opts ClientOpts) *Client {
	c := &Client{
		auth:     opts.Auth,
		cache:    opts.Cache,
		lang:     opts.Auth.Language(),
		quality:  opts.Quality,
		devName:  opts.DeviceName,
		devType:  opts.DeviceType,
		cacheTTL: opts.CacheTTL,
	}
	if c.quality == "" {
		c.quality = "p5"
	}
	if c.devName == "" {
		c.devName = auth.DefaultDeviceName
	}
	if c.devType == "" {
		c.devType = auth.DefaultDeviceType
	}
	if c.cacheTTL <= 0 {
		c.cacheTTL = time.Hour
	}

	c.http = resty.New().
		SetBaseURL(opts.Auth.BaseURL()).
		SetTimeout(defaultTimeout).
		SetHeader("Accept", "*/*")

	c.noRedirect = resty.New().
		SetTimeout(streamTimeout).
		SetRedirectPolicy(resty.NoRedirectPolicy())

	return c
}

// req builds an authenticated request, refreshing the session first. The
// error is ErrNotAuthenticated when no headers could be obtained.
func (c *Client) req(ctx context.Context, result any) (*resty.Request, error) {
	headers, ok := c.auth.AuthHeaders(ctx)
	if !ok {
		return nil, ErrNotAuthenticated
	}

	request := c.http.R().
		SetContext(ctx).
		SetHeaders(headers)
	if result != nil {
		request.SetResult(result)
	}
	return request, nil
}

// handleError converts failing responses (>399 status) into errors; resty
// leaves those with a nil error otherwise.
func handleError(res *resty.Response, err error) (*resty.Response, error) {
	if err != nil {
		return res, err
	}
	if res.IsError() {
		return res, fmt.Errorf("request failed: %s %s (status: %d)",
			res.Request.Method, res.Request.URL, res.StatusCode())
	}
	return res, nil
}

// Language returns the language code the client operates under.
func (c *Client) Language() string {
	return c.lang
}

// Quality returns the configured stream quality profile (p1..p5).
func (c *Client) Quality() string {
	return c.quality
}
