// Package restyfetch provides swrcache fetchers and mutation functions over
// HTTP/JSON using resty.
//
// Read endpoints are expected to answer with an envelope:
//
//	{"data": <V>, "paging": {"totalItems": 25, "totalPages": 3, "hasNextPage": true, "hasPreviousPage": false}}
//
// where paging is optional. The key's window, when present, is sent as the
// page and pageSize query parameters.
package restyfetch

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"resty.dev/v3"

	"github.com/unkn0wn-root/swrcache"
)

type Config struct {
	BaseURL   string
	Timeout   time.Duration // 0 => 15s
	AuthToken string        // sent as Bearer token when set
	Headers   map[string]string
	PageParam string // "" => "page"
	SizeParam string // "" => "pageSize"
}

type Client struct {
	r         *resty.Client
	pageParam string
	sizeParam string
}

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("restyfetch: BaseURL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.PageParam == "" {
		cfg.PageParam = "page"
	}
	if cfg.SizeParam == "" {
		cfg.SizeParam = "pageSize"
	}

	r := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	if cfg.AuthToken != "" {
		r.SetAuthToken(cfg.AuthToken)
	}
	if len(cfg.Headers) > 0 {
		r.SetHeaders(cfg.Headers)
	}
	return &Client{r: r, pageParam: cfg.PageParam, sizeParam: cfg.SizeParam}, nil
}

func (c *Client) Close() error { return c.r.Close() }

// HTTPError is a non-2xx answer.
type HTTPError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, strings.TrimSpace(e.Body))
}

// Envelope is the JSON shape of a read response.
type Envelope[V any] struct {
	Data   V                `json:"data"`
	Paging *swrcache.Paging `json:"paging,omitempty"`
}

// PathFunc maps a cache key to a request path relative to BaseURL.
type PathFunc func(swrcache.Key) string

// DefaultPath joins the key's resource parts with "/": todo:1 => /todo/1.
func DefaultPath(k swrcache.Key) string {
	return "/" + strings.Join(k.Parts(), "/")
}

// Fetcher returns a swrcache.Fetcher that GETs path(key). A nil path uses
// DefaultPath.
func Fetcher[V any](c *Client, path PathFunc) swrcache.Fetcher[V] {
	if path == nil {
		path = DefaultPath
	}
	return func(ctx context.Context, key swrcache.Key) (swrcache.Result[V], error) {
		p := path(key)
		var env Envelope[V]
		req := c.r.R().
			SetContext(ctx).
			SetResult(&env)
		if w, ok := key.Window(); ok {
			req.SetQueryParam(c.pageParam, strconv.Itoa(w.PageIndex))
			req.SetQueryParam(c.sizeParam, strconv.Itoa(w.PageSize))
		}
		resp, err := req.Get(p)
		if err != nil {
			return swrcache.Result[V]{}, err
		}
		if resp.IsError() {
			return swrcache.Result[V]{}, &HTTPError{Method: http.MethodGet, Path: p, Status: resp.StatusCode(), Body: resp.String()}
		}
		return swrcache.Result[V]{Data: env.Data, Paging: env.Paging}, nil
	}
}

// Mutator returns a function usable as MutationOptions.Mutate: it sends vars
// as the JSON body of method path(vars) and decodes the answer into R.
func Mutator[Vars, R any](c *Client, method string, path func(Vars) string) func(context.Context, Vars) (R, error) {
	return func(ctx context.Context, vars Vars) (R, error) {
		var out R
		p := path(vars)
		resp, err := c.r.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(vars).
			SetResult(&out).
			Execute(method, p)
		if err != nil {
			return out, err
		}
		if resp.IsError() {
			return out, &HTTPError{Method: method, Path: p, Status: resp.StatusCode(), Body: resp.String()}
		}
		return out, nil
	}
}
