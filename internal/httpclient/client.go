// Copyright 2026 Strand Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package httpclient wraps net/http with retry handling for LLM
// backends: 429 and 5xx responses are retried with the server-suggested
// or exponential delay.
package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const defaultBaseDelay = time.Second

// Client issues requests with bounded retries. Request bodies are
// buffered so attempts can be replayed.
type Client struct {
	http       *http.Client
	maxRetries int
	baseDelay  time.Duration
}

// New builds a client. timeout bounds each attempt; maxRetries counts
// additional attempts after the first.
func New(timeout time.Duration, maxRetries int) *Client {
	return &Client{
		http:       &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		baseDelay:  defaultBaseDelay,
	}
}

// Do sends the request, retrying retryable failures. The returned
// response body is the caller's to close.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		raw, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, err
		}
		body = raw
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.wait(req.Context(), lastErr, attempt); err != nil {
				return nil, err
			}
		}
		if body != nil {
			req.Body = io.NopCloser(bytes.NewReader(body))
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, req.Context().Err()
			}
			lastErr = err
			continue
		}
		if !retryableStatus(resp.StatusCode) {
			return resp, nil
		}

		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		lastErr = &RetryableError{
			StatusCode: resp.StatusCode,
			Message:    string(payload),
			RetryAfter: parseRetryAfter(resp.Header),
		}
	}
	return nil, fmt.Errorf("request failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

// wait sleeps for the server-suggested delay when one was given, or an
// exponential backoff otherwise.
func (c *Client) wait(ctx context.Context, lastErr error, attempt int) error {
	delay := c.baseDelay * time.Duration(1<<(attempt-1))
	var re *RetryableError
	if errors.As(lastErr, &re) && re.RetryAfter > 0 {
		delay = re.RetryAfter
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func parseRetryAfter(headers http.Header) time.Duration {
	raw := headers.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
