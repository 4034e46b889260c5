package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/waabox/deviceauth/internal/domain"
	"github.com/waabox/deviceauth/internal/transport"
)

const (
	// DeviceGrantType is the RFC 8628 grant type sent with every poll.
	DeviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"
	// RefreshGrantType is the grant type of a refresh request.
	RefreshGrantType = "refresh_token"
	// DefaultPollInterval is used until the server suggests its own interval.
	DefaultPollInterval = 5 * time.Second
)

// Status is the state of a DeviceFlowSession.
type Status int

const (
	StatusIdle Status = iota
	StatusRequestingCode
	StatusAwaitingUser
	StatusRefreshing
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRequestingCode:
		return "requesting_code"
	case StatusAwaitingUser:
		return "awaiting_user"
	case StatusRefreshing:
		return "refreshing"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// TokenFunc receives the outcome of an acquisition: an access token, or an error.
type TokenFunc func(accessToken string, err error)

// UserActionFunc receives the URL the user must visit and the code to enter there.
type UserActionFunc func(verificationURL, userCode string)

// DeviceFlowConfig configures a DeviceFlowSession. ClientID, LoginURL and
// TokenURL are required; nil collaborators fall back to the defaults of
// package transport.
type DeviceFlowConfig struct {
	ClientID     string
	ClientSecret string
	Scope        string
	LoginURL     string
	TokenURL     string
	// GrantType sent with each poll; defaults to DeviceGrantType.
	GrantType string
	// PollInterval used until the server suggests one; defaults to DefaultPollInterval.
	PollInterval time.Duration

	// Token seeds the session, e.g. with a record restored from disk.
	Token domain.TokenRecord
	// OnTokenChange is called outside the session lock after every token
	// overwrite or reset.
	OnTokenChange func(domain.TokenRecord)

	Transport domain.Transport
	Scheduler domain.Scheduler
	Clock     domain.Clock
	Logger    *slog.Logger
}

// DeviceFlowSession drives the OAuth 2.0 device authorization grant for a
// single client: it requests a device code, polls the token endpoint with
// server-dictated backoff and refreshes the access token.
//
// Completions of superseded requests are dropped by comparing the generation
// captured when the request started with the live one. The mutex only
// protects memory; it is never held while calling user callbacks or
// collaborators.
type DeviceFlowSession struct {
	cfg       DeviceFlowConfig
	transport domain.Transport
	scheduler domain.Scheduler
	clock     domain.Clock
	log       *slog.Logger

	mu           sync.Mutex
	status       Status
	generation   uint64
	token        domain.TokenRecord
	pending      *domain.DeviceCode
	pollInterval time.Duration
}

// request is the immutable context of one logical operation. It travels with
// the transport and scheduler callbacks; the session never points back to it.
type request struct {
	ctx        context.Context
	generation uint64
	onToken    TokenFunc
}

// NewDeviceFlowSession validates cfg and returns an idle session.
func NewDeviceFlowSession(cfg DeviceFlowConfig) (*DeviceFlowSession, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("%w: client_id is required", domain.ErrInvalidConfiguration)
	}
	if cfg.LoginURL == "" {
		return nil, fmt.Errorf("%w: login_url is required", domain.ErrInvalidConfiguration)
	}
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("%w: token_url is required", domain.ErrInvalidConfiguration)
	}
	if cfg.GrantType == "" {
		cfg.GrantType = DeviceGrantType
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	s := &DeviceFlowSession{
		cfg:          cfg,
		transport:    cfg.Transport,
		scheduler:    cfg.Scheduler,
		clock:        cfg.Clock,
		log:          cfg.Logger,
		token:        cfg.Token,
		pollInterval: cfg.PollInterval,
	}
	if s.transport == nil {
		s.transport = transport.NewHTTPTransport(nil)
	}
	if s.scheduler == nil {
		s.scheduler = transport.TimerScheduler{}
	}
	if s.clock == nil {
		s.clock = transport.SystemClock{}
	}
	if s.log == nil {
		s.log = slog.New(slog.DiscardHandler)
	}
	s.log = s.log.With("subsystem", "device_flow", "session_id", uuid.NewString())
	return s, nil
}

// AcquireAccessToken delivers a valid access token to onToken.
//
// A cached valid token is delivered synchronously. An expired token with a
// held refresh token is refreshed. Otherwise a new device authorization is
// started and onUserAction is called once with the verification URL and
// user code. ErrBusy is returned when a request is in flight and force is
// false. force discards any in-flight request and starts a new device
// authorization.
func (s *DeviceFlowSession) AcquireAccessToken(ctx context.Context, onToken TokenFunc, onUserAction UserActionFunc, force bool) error {
	s.mu.Lock()
	if s.status != StatusIdle && !force {
		s.mu.Unlock()
		return domain.ErrBusy
	}

	if !force && s.token.RefreshToken != "" {
		if s.token.IsValid(s.clock.Now()) {
			accessToken := s.token.AccessToken
			s.mu.Unlock()
			onToken(accessToken, nil)
			return nil
		}
		req, form := s.beginRefreshLocked(ctx, onToken)
		s.mu.Unlock()
		s.postRefresh(req, form)
		return nil
	}

	var cleared *domain.TokenRecord
	if s.status != StatusIdle {
		s.log.Info("forced restart discards in-flight request", "status", s.status.String(), "generation", s.generation)
		cleared = s.resetLocked()
	}
	req, form := s.beginDeviceCodeLocked(ctx, onToken)
	s.mu.Unlock()

	if cleared != nil {
		s.notify(*cleared)
	}
	s.transport.PostForm(ctx, s.cfg.LoginURL, form, func(resp domain.Response) {
		s.handleDeviceCode(req, onUserAction, resp)
	})
	return nil
}

// RefreshAccessToken exchanges the held refresh token for a new access token.
// It returns ErrUnauthorized when no refresh token is held. An in-flight
// request is superseded: its completion will be dropped.
func (s *DeviceFlowSession) RefreshAccessToken(ctx context.Context, onToken TokenFunc) error {
	s.mu.Lock()
	if s.token.RefreshToken == "" {
		s.mu.Unlock()
		return domain.ErrUnauthorized
	}
	req, form := s.beginRefreshLocked(ctx, onToken)
	s.mu.Unlock()

	s.postRefresh(req, form)
	return nil
}

// Invalidate forgets every token and drops any in-flight request.
func (s *DeviceFlowSession) Invalidate() {
	s.mu.Lock()
	cleared := s.resetLocked()
	s.mu.Unlock()

	if cleared != nil {
		s.notify(*cleared)
	}
}

// ValidAccessToken returns the cached access token if it has not expired.
func (s *DeviceFlowSession) ValidAccessToken() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.token.IsValid(s.clock.Now()) {
		return "", false
	}
	return s.token.AccessToken, true
}

// IsTokenValid reports whether a non-expired access token is cached.
func (s *DeviceFlowSession) IsTokenValid() bool {
	_, ok := s.ValidAccessToken()
	return ok
}

// IsAuthorized reports whether the session holds a refresh token.
func (s *DeviceFlowSession) IsAuthorized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token.RefreshToken != ""
}

// Status returns the current state.
func (s *DeviceFlowSession) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Generation returns the live generation.
func (s *DeviceFlowSession) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Token returns a copy of the held token record.
func (s *DeviceFlowSession) Token() domain.TokenRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *DeviceFlowSession) beginDeviceCodeLocked(ctx context.Context, onToken TokenFunc) (request, url.Values) {
	s.generation++
	s.status = StatusRequestingCode
	s.pending = nil
	s.pollInterval = s.cfg.PollInterval

	form := url.Values{}
	form.Set("scope", s.cfg.Scope)
	form.Set("client_id", s.cfg.ClientID)

	s.log.Debug("requesting device code", "generation", s.generation)
	return request{ctx: ctx, generation: s.generation, onToken: onToken}, form
}

func (s *DeviceFlowSession) beginRefreshLocked(ctx context.Context, onToken TokenFunc) (request, url.Values) {
	if s.status != StatusIdle {
		s.log.Info("refresh supersedes in-flight request", "status", s.status.String(), "generation", s.generation)
	}
	s.generation++
	s.status = StatusRefreshing
	s.pending = nil

	form := url.Values{}
	if s.cfg.ClientSecret != "" {
		form.Set("client_secret", s.cfg.ClientSecret)
	}
	form.Set("client_id", s.cfg.ClientID)
	form.Set("refresh_token", s.token.RefreshToken)
	form.Set("grant_type", RefreshGrantType)

	s.log.Debug("refreshing access token", "generation", s.generation)
	return request{ctx: ctx, generation: s.generation, onToken: onToken}, form
}

func (s *DeviceFlowSession) postRefresh(req request, form url.Values) {
	s.transport.PostForm(req.ctx, s.cfg.TokenURL, form, func(resp domain.Response) {
		s.handleRefresh(req, resp)
	})
}

// fenced locks the session and reports whether generation is still live.
// On false the lock has already been released and the completion must be
// dropped without side effects.
func (s *DeviceFlowSession) fenced(generation uint64, what string) bool {
	s.mu.Lock()
	if s.generation != generation {
		live := s.generation
		s.mu.Unlock()
		s.log.Debug("dropping stale completion", "completion", what, "generation", generation, "live_generation", live)
		return false
	}
	return true
}

func (s *DeviceFlowSession) handleDeviceCode(req request, onUserAction UserActionFunc, resp domain.Response) {
	if !s.fenced(req.generation, "device_code") {
		return
	}
	if resp.Err != nil || !isSuccess(resp.StatusCode) {
		s.abortLocked(req, failure(resp))
		return
	}
	code, err := ExtractDeviceCodeResponse(resp.Body, s.clock.Now())
	if err != nil {
		s.abortLocked(req, err)
		return
	}

	s.status = StatusAwaitingUser
	s.pending = &code
	if code.Interval > 0 {
		s.pollInterval = code.Interval
	}
	interval := s.pollInterval
	s.mu.Unlock()

	s.log.Info("waiting for user authorization", "verification_url", code.VerificationURL, "expires_at", code.ExpiresAt)
	if onUserAction != nil {
		onUserAction(code.VerificationURL, code.UserCode)
	}
	s.schedulePoll(req, interval)
}

func (s *DeviceFlowSession) schedulePoll(req request, after time.Duration) {
	s.scheduler.After(after, func() {
		s.poll(req)
	})
}

func (s *DeviceFlowSession) poll(req request) {
	if !s.fenced(req.generation, "poll_timer") {
		return
	}
	if s.pending == nil {
		s.mu.Unlock()
		return
	}
	if s.clock.Now().After(s.pending.ExpiresAt) {
		s.abortLocked(req, domain.ErrTimeout)
		return
	}

	form := url.Values{}
	form.Set("client_id", s.cfg.ClientID)
	// Google's legacy device endpoint reads "code", RFC 8628 servers read "device_code".
	form.Set("code", s.pending.DeviceCode)
	form.Set("device_code", s.pending.DeviceCode)
	form.Set("grant_type", s.cfg.GrantType)
	if s.cfg.ClientSecret != "" {
		form.Set("client_secret", s.cfg.ClientSecret)
	}
	s.mu.Unlock()

	s.transport.PostForm(req.ctx, s.cfg.TokenURL, form, func(resp domain.Response) {
		s.handlePoll(req, resp)
	})
}

func (s *DeviceFlowSession) handlePoll(req request, resp domain.Response) {
	if !s.fenced(req.generation, "poll") {
		return
	}

	var perr *domain.ProviderError
	if resp.Err == nil && (resp.StatusCode == 200 || isClientError(resp.StatusCode)) {
		perr = providerError(resp)
	}

	switch {
	case perr != nil:
		switch perr.Code {
		case "authorization_pending":
			interval := s.pollInterval
			s.mu.Unlock()
			s.schedulePoll(req, interval)
		case "slow_down":
			s.pollInterval *= 2
			interval := s.pollInterval
			s.mu.Unlock()
			s.log.Info("server requested slower polling", "interval", interval)
			s.schedulePoll(req, interval)
		default:
			s.abortLocked(req, perr)
		}

	case resp.Err == nil && resp.StatusCode == 200:
		next, err := ExtractTokenResponse(s.token, resp.Body, s.clock.Now(), DefaultTokenTTL)
		if err != nil {
			s.abortLocked(req, err)
			return
		}
		s.token = next
		s.status = StatusIdle
		s.pending = nil
		s.mu.Unlock()

		s.log.Info("device authorization granted", "expires_at", next.ExpiresAt)
		s.notify(next)
		req.onToken(next.AccessToken, nil)

	case resp.Err == nil && isClientError(resp.StatusCode):
		s.abortLocked(req, &domain.TransportError{StatusCode: resp.StatusCode})

	default:
		s.abortLocked(req, failure(resp))
	}
}

func (s *DeviceFlowSession) handleRefresh(req request, resp domain.Response) {
	if !s.fenced(req.generation, "refresh") {
		return
	}
	if resp.Err != nil || resp.StatusCode != 200 {
		s.abortLocked(req, failure(resp))
		return
	}
	// Some providers report grant errors with a 200 status.
	if perr := providerError(resp); perr != nil {
		s.abortLocked(req, perr)
		return
	}
	next, err := ExtractTokenResponse(s.token, resp.Body, s.clock.Now(), DefaultTokenTTL)
	if err != nil {
		s.abortLocked(req, err)
		return
	}
	s.token = next
	s.status = StatusIdle
	s.mu.Unlock()

	s.log.Info("access token refreshed", "expires_at", next.ExpiresAt)
	s.notify(next)
	req.onToken(next.AccessToken, nil)
}

// abortLocked fully resets the session, releases the lock and reports err
// to the operation's callback.
func (s *DeviceFlowSession) abortLocked(req request, err error) {
	cleared := s.resetLocked()
	s.mu.Unlock()

	s.log.Warn("authorization failed", "error", err)
	if cleared != nil {
		s.notify(*cleared)
	}
	req.onToken("", err)
}

// resetLocked discards the live generation and clears every transient and
// token field. It returns the new (empty) record when tokens were dropped.
func (s *DeviceFlowSession) resetLocked() *domain.TokenRecord {
	s.generation++
	s.status = StatusIdle
	s.pending = nil
	s.pollInterval = s.cfg.PollInterval
	if s.token == (domain.TokenRecord{}) {
		return nil
	}
	s.token = domain.TokenRecord{}
	cleared := s.token
	return &cleared
}

func (s *DeviceFlowSession) notify(record domain.TokenRecord) {
	if s.cfg.OnTokenChange != nil {
		s.cfg.OnTokenChange(record)
	}
}
