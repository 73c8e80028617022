// Package broadcast talks to the project server: a JSON API client and the
// project's realtime websocket channel.
package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"paperscope/pkg/logging"
)

const (
	requestTimeout = 15 * time.Second
	errorBuffer    = 16
)

// Doer sends HTTP requests; *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RequestError describes a failed API call.
type RequestError struct {
	URL    string
	Status int
	Err    error
}

func (e *RequestError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("request %s: status %d: %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("request %s: %v", e.URL, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// API is an asynchronous JSON client. Callbacks run on the request
// goroutine and always fire, with nil on failure.
type API struct {
	client Doer
	logger *zap.SugaredLogger

	mu   sync.RWMutex
	base string

	wg     sync.WaitGroup
	errors chan error
}

// NewAPI creates a client for the server at baseURL.
func NewAPI(client Doer, baseURL string, logger *zap.SugaredLogger) *API {
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	a := &API{
		client: client,
		logger: logging.Named(logger, logging.API),
		errors: make(chan error, errorBuffer),
	}
	a.SetBaseURL(baseURL)
	return a
}

// SetBaseURL changes the server for subsequent requests.
func (a *API) SetBaseURL(u string) {
	if u != "" && !strings.HasSuffix(u, "/") {
		u += "/"
	}
	a.mu.Lock()
	a.base = u
	a.mu.Unlock()
}

// BaseURL returns the server root, with a trailing slash.
func (a *API) BaseURL() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.base
}

// Errors delivers request failures. Failures are dropped when nobody reads.
func (a *API) Errors() <-chan error { return a.errors }

// Get requests path and passes the decoded object to done.
func (a *API) Get(ctx context.Context, path string, done func(map[string]any)) {
	a.start(ctx, http.MethodGet, path, nil, done)
}

// Post sends body as JSON to path and passes the decoded reply to done.
func (a *API) Post(ctx context.Context, path string, body any, done func(map[string]any)) {
	a.start(ctx, http.MethodPost, path, body, done)
}

// Wait blocks until all requests in flight have completed.
func (a *API) Wait() { a.wg.Wait() }

func (a *API) start(ctx context.Context, method, path string, body any, done func(map[string]any)) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		resp, err := a.do(ctx, method, path, body)
		if err != nil {
			a.logger.Warnw("request failed", "method", method, "path", path, "error", err)
			a.publish(err)
			resp = nil
		}
		if done != nil {
			done(resp)
		}
	}()
}

func (a *API) publish(err error) {
	select {
	case a.errors <- err:
	default:
		a.logger.Debugw("dropping request error", "error", err)
	}
}

func (a *API) do(ctx context.Context, method, path string, body any) (map[string]any, error) {
	base := a.BaseURL()
	url := base + strings.TrimPrefix(path, "/")
	if base == "" {
		return nil, &RequestError{URL: path, Err: errors.New("no api url configured")}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, &RequestError{URL: url, Err: errors.Wrap(err, "encode body")}
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, &RequestError{URL: url, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := a.client.Do(req)
	if err != nil {
		return nil, &RequestError{URL: url, Err: err}
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &RequestError{URL: url, Status: res.StatusCode, Err: errors.Wrap(err, "read body")}
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &RequestError{URL: url, Status: res.StatusCode, Err: errors.New(strings.TrimSpace(string(payload)))}
	}

	out := map[string]any{}
	if len(bytes.TrimSpace(payload)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, &RequestError{URL: url, Status: res.StatusCode, Err: errors.Wrap(err, "decode reply")}
	}
	a.logger.Debugw("request done", "method", method, "url", url, "status", res.StatusCode)
	return out, nil
}
