package lmssvc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"

	"github.com/trezcool/lessonsync/core"
	"github.com/trezcool/lessonsync/core/lms"
)

// client performs the JSON calls of one adapter. It is built once per adapter.
type client struct {
	rest    *rest.Client
	baseURL string
	headers map[string]string
	query   map[string]string // sent with every request
	timeout time.Duration
	logger  core.Logger
}

func newClient(baseURL string, timeout time.Duration, logger core.Logger) *client {
	return &client{
		rest:    &rest.Client{HTTPClient: &http.Client{Timeout: timeout}},
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: map[string]string{"Accept": "application/json"},
		query:   make(map[string]string),
		timeout: timeout,
		logger:  logger,
	}
}

type call struct {
	op     string
	method rest.Method
	path   string
	query  map[string]string
	body   interface{}
}

// do sends the call and decodes the JSON response into dest (ignored if nil).
func (c *client) do(ctx context.Context, cl call, dest interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := rest.Request{
		Method:      cl.method,
		BaseURL:     c.baseURL + cl.path,
		Headers:     make(map[string]string, len(c.headers)+1),
		QueryParams: make(map[string]string, len(c.query)+len(cl.query)),
	}
	for k, v := range c.headers {
		req.Headers[k] = v
	}
	for k, v := range c.query {
		req.QueryParams[k] = v
	}
	for k, v := range cl.query {
		req.QueryParams[k] = v
	}
	if cl.body != nil {
		b, err := json.Marshal(cl.body)
		if err != nil {
			return lms.NewPermanentError(cl.op, errors.Wrap(err, "encoding request body"))
		}
		req.Body = b
		req.Headers["Content-Type"] = "application/json"
	}

	res, err := c.rest.SendWithContext(ctx, req)
	if err != nil {
		return lms.NewTransientError(cl.op, err)
	}
	if err = statusError(res.StatusCode); err != nil {
		return classify(cl.op, res.StatusCode, err)
	}
	if dest == nil {
		return nil
	}
	if err = json.Unmarshal([]byte(res.Body), dest); err != nil {
		return lms.NewPermanentError(cl.op, errors.Wrap(err, "decoding response"))
	}
	return nil
}

func statusError(code int) error {
	if code >= http.StatusOK && code < http.StatusMultipleChoices {
		return nil
	}
	return fmt.Errorf("unexpected status %d %s", code, http.StatusText(code))
}

func classify(op string, code int, err error) error {
	if code == http.StatusTooManyRequests || code >= http.StatusInternalServerError {
		return lms.NewTransientError(op, err)
	}
	return lms.NewPermanentError(op, err)
}

// healthy probes GET <base>/health.
func (c *client) healthy(ctx context.Context) bool {
	err := c.do(ctx, call{op: "HealthCheck", method: rest.Get, path: "/health"}, nil)
	if err != nil {
		c.logger.Warn(fmt.Sprintf("health check failed: %v", err))
		return false
	}
	return true
}

// decodeEach calls fn on every raw item; items fn rejects are dropped and logged.
func decodeEach(logger core.Logger, entity string, items []json.RawMessage, fn func(raw json.RawMessage) error) {
	for i, raw := range items {
		if err := fn(raw); err != nil {
			mErr := &lms.MalformedEntityError{Entity: entity, Index: i, Reason: err.Error()}
			logger.Warn(fmt.Sprintf("dropping item: %v", mErr), mErr)
		}
	}
}

// flexID accepts both JSON numbers and strings.
type flexID string

func (id *flexID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = flexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("id must be a number or a string")
	}
	*id = flexID(n.String())
	return nil
}

var errMissingID = errors.New("missing id")

func orDefault(s, def string) string {
	if s = core.CleanString(s); s == "" {
		return def
	}
	return s
}
