// Package transport provides the default collaborators of the token engine:
// an asynchronous form-POST transport over net/http, a timer-based scheduler,
// the system clock and a JWS signer backed by golang-jwt.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/waabox/deviceauth/internal/domain"
)

// maxResponseBytes bounds how much of a token endpoint response is read.
const maxResponseBytes = 1 << 20

// HTTPTransport posts form-urlencoded bodies on a new goroutine per request.
type HTTPTransport struct {
	client *http.Client
}

var _ domain.Transport = (*HTTPTransport)(nil)

// NewHTTPTransport creates an HTTPTransport. Pass nil to use a client with a
// 15 second timeout.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPTransport{client: client}
}

// PostForm sends form to endpoint and calls done with the status and body.
// It returns immediately.
func (t *HTTPTransport) PostForm(ctx context.Context, endpoint string, form url.Values, done func(domain.Response)) {
	go func() {
		done(t.post(ctx, endpoint, form))
	}()
}

func (t *HTTPTransport) post(ctx context.Context, endpoint string, form url.Values) domain.Response {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return domain.Response{Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return domain.Response{Err: fmt.Errorf("posting to %s: %w", endpoint, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.Response{Err: fmt.Errorf("reading response: %w", err)}
	}
	return domain.Response{StatusCode: resp.StatusCode, Body: body}
}
