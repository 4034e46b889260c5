package domain

import (
	"context"
	"crypto"
	"net/url"
	"time"
)

// Response is the outcome of an asynchronous POST. Err is set when no HTTP
// response was received at all; otherwise StatusCode and Body are populated.
type Response struct {
	StatusCode int
	Body       []byte
	Err        error
}

// Transport is the port for the HTTP layer. PostForm must not block: it
// sends the form-urlencoded body and delivers the result to done on a
// goroutine of its choosing.
type Transport interface {
	PostForm(ctx context.Context, endpoint string, form url.Values, done func(Response))
}

// Scheduler runs fn once after d. There is no cancel: stale callbacks are
// neutralised by the caller's generation check.
type Scheduler interface {
	After(d time.Duration, fn func())
}

// Signer produces a signature over data with key using the named JWS
// algorithm (e.g. "RS256") and reports it asynchronously through done.
type Signer interface {
	Sign(ctx context.Context, alg string, data []byte, key crypto.PrivateKey, done func(sig []byte, err error))
}

// Clock is the wall-clock source.
type Clock interface {
	Now() time.Time
}
