// Package client is the Go client of the poll node HTTP API.
package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/vocdoni/confidential-polls/api"
	"github.com/vocdoni/confidential-polls/log"
)

const (
	// Retries is the number of attempts made for a request that can be
	// safely sent again.
	Retries = 3
	// Timeout bounds every request, reading the response included.
	Timeout = 10 * time.Second

	retryDelay    = 500 * time.Millisecond
	maxLoggedBody = 512
	errCodeNot200 = "API error"
)

// APIError is a non 200 response of the API.
type APIError struct {
	Status  int
	Code    int    `json:"code"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %d (code %d: %s)", errCodeNot200, e.Status, e.Code, e.Message)
}

// Is reports whether the response carries the code of target, so callers
// can use errors.Is(err, api.ErrAlreadyVoted).
func (e *APIError) Is(target error) bool {
	t, ok := target.(api.Error)
	return ok && t.Code == e.Code
}

// HTTPclient is the poll node API HTTP client.
type HTTPclient struct {
	c    *http.Client
	host *url.URL
}

// New returns a client of the node listening at host, once it answers the
// ping endpoint.
func New(host string) (*HTTPclient, error) {
	hostURL, err := url.Parse(host)
	if err != nil {
		return nil, err
	}
	c := &HTTPclient{
		c: &http.Client{
			Transport: &http.Transport{IdleConnTimeout: Timeout},
			Timeout:   Timeout,
		},
		host: hostURL,
	}
	if err := c.call(http.MethodGet, nil, nil, api.PingEndpoint); err != nil {
		return nil, fmt.Errorf("ping %s: %w", hostURL, err)
	}
	log.Debugw("http client created", "host", hostURL.String())
	return c, nil
}

// call sends a request with body encoded as JSON and decodes a 200 response
// into out. Any other status is returned as an *APIError.
func (c *HTTPclient) call(method string, body, out any, urlPath ...string) error {
	var data []byte
	if body != nil {
		var err error
		if data, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}
	u := c.host.JoinPath(urlPath...).String()
	log.Debugw("http client request", "method", method, "url", u, "body", logBody(data))

	resp, err := c.send(method, u, data)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(respData, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = string(respData)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respData, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// send performs the request. GET requests are retried on any transport
// error. Other requests change the node state, so they are only retried if
// the connection could not be established and the node never saw them.
func (c *HTTPclient) send(method, u string, body []byte) (*http.Response, error) {
	var err error
	for attempt := 1; attempt <= Retries; attempt++ {
		if attempt > 1 {
			time.Sleep(retryDelay)
		}
		req, rerr := http.NewRequest(method, u, bytes.NewReader(body))
		if rerr != nil {
			return nil, fmt.Errorf("create request: %w", rerr)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		var resp *http.Response
		if resp, err = c.c.Do(req); err == nil {
			return resp, nil
		}
		if method != http.MethodGet && !dialError(err) {
			break
		}
		log.Warnw("http request failed", "url", u, "error", err.Error(), "attempt", attempt)
	}
	return nil, fmt.Errorf("%s %s: %w", method, u, err)
}

func dialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func logBody(b []byte) string {
	if len(b) > maxLoggedBody {
		return string(b[:maxLoggedBody]) + "..."
	}
	return string(b)
}
