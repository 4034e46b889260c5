package auth_test

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/waabox/deviceauth/internal/domain"
)

// postCall is one PostForm invocation captured by fakeTransport.
type postCall struct {
	endpoint string
	form     url.Values
	done     func(domain.Response)
}

// fakeTransport records requests; tests complete them explicitly so that
// responses can arrive in any order.
type fakeTransport struct {
	mu    sync.Mutex
	calls []postCall
}

func (f *fakeTransport) PostForm(_ context.Context, endpoint string, form url.Values, done func(domain.Response)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, postCall{endpoint: endpoint, form: form, done: done})
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeTransport) call(i int) postCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

func (f *fakeTransport) last() postCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

// respondJSON completes call i with status and a JSON body.
func (f *fakeTransport) respondJSON(i int, status int, body any) {
	raw, _ := json.Marshal(body)
	f.call(i).done(domain.Response{StatusCode: status, Body: raw})
}

// manualScheduler queues callbacks until the test fires them.
type manualScheduler struct {
	mu      sync.Mutex
	delays  []time.Duration
	pending []func()
}

func (m *manualScheduler) After(d time.Duration, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays = append(m.delays, d)
	m.pending = append(m.pending, fn)
}

func (m *manualScheduler) queued() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// fireNext runs the oldest queued callback.
func (m *manualScheduler) fireNext() {
	m.mu.Lock()
	fn := m.pending[0]
	m.pending = m.pending[1:]
	m.mu.Unlock()
	fn()
}

func (m *manualScheduler) lastDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.delays[len(m.delays)-1]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// tokenRecorder captures every TokenFunc invocation.
type tokenRecorder struct {
	mu     sync.Mutex
	tokens []string
	errs   []error
}

func (r *tokenRecorder) onToken(token string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens = append(r.tokens, token)
	r.errs = append(r.errs, err)
}

func (r *tokenRecorder) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}

func (r *tokenRecorder) lastToken() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tokens[len(r.tokens)-1]
}

func (r *tokenRecorder) lastErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errs[len(r.errs)-1]
}

// userActionRecorder captures every UserActionFunc invocation.
type userActionRecorder struct {
	mu    sync.Mutex
	urls  []string
	codes []string
}

func (r *userActionRecorder) onUserAction(verificationURL, userCode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.urls = append(r.urls, verificationURL)
	r.codes = append(r.codes, userCode)
}

func (r *userActionRecorder) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.urls)
}
