// Package client wraps the grading platform's REST API.
package client

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// SubmissionInterval is how often a grading job's status is polled.
	SubmissionInterval = 2 * time.Second

	// CampaignInterval is how often a bulk send is polled.
	CampaignInterval = 5 * time.Second

	defaultTimeout = 30 * time.Second
)

// Client talks to one backend. It is safe for concurrent use.
type Client struct {
	base      *url.URL
	token     string
	http      *http.Client
	log       logrus.FieldLogger
	apiReport bool
	apiDump   bool
	validate  *validator.Validate
}

type Option func(*Client)

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) { c.log = l }
}

// WithAPIReport logs every request; dump also logs request and response bodies.
func WithAPIReport(report, dump bool) Option {
	return func(c *Client) {
		c.apiReport = report || dump
		c.apiDump = dump
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("no server URL configured")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "parsing server URL %q", baseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("server URL %q must use http or https", baseURL)
	}

	c := &Client{
		base:     u,
		http:     &http.Client{Timeout: defaultTimeout},
		log:      logrus.StandardLogger(),
		validate: newValidator(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the server URL requests are sent to.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// multipartBody is an upload that is already encoded.
type multipartBody struct {
	contentType string
	data        *bytes.Buffer
}

func (c *Client) getObject(ctx context.Context, path string, params url.Values, download interface{}) error {
	return c.doRequest(ctx, http.MethodGet, path, params, nil, download)
}

func (c *Client) postObject(ctx context.Context, path string, upload interface{}, download interface{}) error {
	return c.doRequest(ctx, http.MethodPost, path, nil, upload, download)
}

func (c *Client) patchObject(ctx context.Context, path string, params url.Values, upload interface{}, download interface{}) error {
	return c.doRequest(ctx, http.MethodPatch, path, params, upload, download)
}

func (c *Client) deleteObject(ctx context.Context, path string, params url.Values) error {
	return c.doRequest(ctx, http.MethodDelete, path, params, nil, nil)
}

func (c *Client) doRequest(ctx context.Context, method, path string, params url.Values, upload interface{}, download interface{}) error {
	if !strings.HasPrefix(path, "/") {
		return errors.Errorf("request path %q must start with /", path)
	}
	target := c.base.String() + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var body io.Reader
	contentType := ""
	switch elt := upload.(type) {
	case nil:
	case *multipartBody:
		body, contentType = elt.data, elt.contentType
		if c.apiDump {
			c.log.Debugf("request data: %d bytes of %s", elt.data.Len(), elt.contentType)
		}
	default:
		raw, err := json.Marshal(upload)
		if err != nil {
			return errors.Wrap(err, "encoding request body")
		}
		body, contentType = bytes.NewReader(raw), "application/json"
		if c.apiDump {
			c.log.Debugf("request data: %s", raw)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return errors.Wrap(err, "creating http request")
	}
	if c.apiReport {
		c.log.Infof("%s %s", method, req.URL)
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip")
	if method == http.MethodGet {
		req.Header.Set("Cache-Control", "no-cache")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "connecting to %s", c.base.Host)
	}
	defer resp.Body.Close()

	reader := io.Reader(resp.Body)
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return errors.Wrap(err, "decompressing response")
		}
		defer gz.Close()
		reader = gz
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(reader, 64<<10))
		return newAPIError(method, path, resp, raw)
	}

	if download == nil {
		return nil
	}
	raw, err := io.ReadAll(reader)
	if err != nil {
		return errors.Wrapf(err, "reading response from %s %s", method, path)
	}
	if c.apiDump {
		c.log.Debugf("response data: %s", raw)
	}
	if err := json.Unmarshal(raw, download); err != nil {
		return errors.Wrapf(err, "parsing response from %s %s", method, path)
	}
	return nil
}

func idPath(format string, id int64) string {
	return fmt.Sprintf(format, id)
}
