// Package paperless is a client for the paperless-ngx REST API and a
// read-through cache of its metadata.
package paperless

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

const (
	DefaultMaxAttempts = 5
	DefaultRetryDelay  = time.Second
	listPageSize       = 1000
	documentPageSize   = 50
	maxErrorBody       = 512
)

// Options configures a Client.
type Options struct {
	BaseURL string
	Token   string
	// ForceHTTPS rewrites every request URL, including pagination links, to https.
	ForceHTTPS  bool
	HTTPClient  *http.Client
	Logger      *slog.Logger
	MaxAttempts int
	RetryDelay  time.Duration
}

// Client talks to one paperless-ngx instance.
type Client struct {
	baseURL     string
	token       string
	forceHTTPS  bool
	http        *http.Client
	log         *slog.Logger
	maxAttempts int
	retryDelay  time.Duration
}

// NewClient creates a client. BaseURL is the instance root without /api.
func NewClient(opts Options) (*Client, error) {
	u, err := url.Parse(opts.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid paperless url %q", opts.BaseURL)
	}

	c := &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		token:       opts.Token,
		forceHTTPS:  opts.ForceHTTPS,
		http:        opts.HTTPClient,
		log:         opts.Logger,
		maxAttempts: opts.MaxAttempts,
		retryDelay:  opts.RetryDelay,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 60 * time.Second}
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = DefaultMaxAttempts
	}
	if c.retryDelay <= 0 {
		c.retryDelay = DefaultRetryDelay
	}
	return c, nil
}

// BaseURL returns the instance root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// DocumentURL is the web UI address of a document.
func (c *Client) DocumentURL(id int) string {
	return fmt.Sprintf("%s/documents/%d/details", c.baseURL, id)
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.baseURL + "/api/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) rewrite(raw string) string {
	if !c.forceHTTPS {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Scheme = "https"
	return u.String()
}

// get performs a GET, retrying paperless' transient 500s with a constant
// delay. Transport failures are returned at once.
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	target := c.rewrite(rawURL)
	reqID := uuid.NewString()
	attempt := 0

	op := func() ([]byte, error) {
		attempt++
		body, err := c.do(ctx, http.MethodGet, target, nil)
		if err == nil {
			return body, nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Temporary() {
			c.log.Warn("paperless.http.retry", "req_id", reqID, "url", target, "attempt", attempt, "status", apiErr.StatusCode)
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), uint64(c.maxAttempts-1)),
		ctx,
	)
	return backoff.RetryWithData(op, policy)
}

func (c *Client) do(ctx context.Context, method, target string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode json: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Error("paperless.http.send_error", "method", method, "url", target, "error", err)
		return nil, fmt.Errorf("paperless %s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	c.log.Debug("paperless.http.response",
		"method", method,
		"url", target,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode/100 != 2 {
		msg := string(raw)
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return nil, &APIError{Method: method, URL: target, StatusCode: resp.StatusCode, Body: strings.TrimSpace(msg)}
	}
	return raw, nil
}

func getJSON[T any](ctx context.Context, c *Client, rawURL string) (T, error) {
	var out T
	raw, err := c.get(ctx, rawURL)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s: %w", rawURL, err)
	}
	return out, nil
}

// paginate walks a list endpoint following "next" links.
func paginate[T any](ctx context.Context, c *Client, first string) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		next := first
		for next != "" {
			p, err := getJSON[page[T]](ctx, c, next)
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			for _, item := range p.Results {
				if !yield(item, nil) {
					return
				}
			}
			next = ""
			if p.Next != nil {
				next = *p.Next
			}
		}
	}
}

func collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for item, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func listQuery() url.Values {
	return url.Values{"page_size": {strconv.Itoa(listPageSize)}}
}

func (c *Client) Tags(ctx context.Context) ([]Tag, error) {
	return collect(paginate[Tag](ctx, c, c.endpoint("tags/", listQuery())))
}

func (c *Client) Correspondents(ctx context.Context) ([]Correspondent, error) {
	return collect(paginate[Correspondent](ctx, c, c.endpoint("correspondents/", listQuery())))
}

func (c *Client) DocumentTypes(ctx context.Context) ([]DocumentType, error) {
	return collect(paginate[DocumentType](ctx, c, c.endpoint("document_types/", listQuery())))
}

func (c *Client) StoragePaths(ctx context.Context) ([]StoragePath, error) {
	return collect(paginate[StoragePath](ctx, c, c.endpoint("storage_paths/", listQuery())))
}

func (c *Client) CustomFields(ctx context.Context) ([]CustomField, error) {
	return collect(paginate[CustomField](ctx, c, c.endpoint("custom_fields/", listQuery())))
}

// DocumentFilter selects documents by ids. Empty slices are not sent.
type DocumentFilter struct {
	TagsAll          []int
	TagsNone         []int
	CorrespondentsIn []int
	DocumentTypesIn  []int
}

func joinIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

func (f DocumentFilter) values() url.Values {
	q := url.Values{"page_size": {strconv.Itoa(documentPageSize)}}
	set := func(key string, ids []int) {
		if len(ids) > 0 {
			q.Set(key, joinIDs(ids))
		}
	}
	set("tags__id__all", f.TagsAll)
	set("tags__id__none", f.TagsNone)
	set("correspondent__id__in", f.CorrespondentsIn)
	set("document_type__id__in", f.DocumentTypesIn)
	return q
}

// Documents iterates over the documents matching f, fetching pages lazily.
func (c *Client) Documents(ctx context.Context, f DocumentFilter) iter.Seq2[Document, error] {
	return paginate[Document](ctx, c, c.endpoint("documents/", f.values()))
}

// Document fetches one document.
func (c *Client) Document(ctx context.Context, id int) (*Document, error) {
	d, err := getJSON[Document](ctx, c, c.endpoint(fmt.Sprintf("documents/%d/", id), nil))
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Download returns the archived PDF of a document, or the original when no
// archive version exists.
func (c *Client) Download(ctx context.Context, id int) ([]byte, error) {
	return c.get(ctx, c.endpoint(fmt.Sprintf("documents/%d/download/", id), nil))
}

// UpdateDocument applies u to document id in one request.
func (c *Client) UpdateDocument(ctx context.Context, id int, u *Update) error {
	_, err := c.do(ctx, http.MethodPatch, c.rewrite(c.endpoint(fmt.Sprintf("documents/%d/", id), nil)), u)
	return err
}
