package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/waabox/deviceauth/internal/config"
	"github.com/waabox/deviceauth/internal/domain"
)

// TokenManager offers a blocking API over a DeviceFlowSession and persists
// every token change to the config file.
//
// Requests run detached from the caller's context: a caller that gives up
// only stops waiting, the request itself still completes and its result is
// persisted. A request ends early only when a newer one supersedes it.
type TokenManager struct {
	cfg        *config.Config
	configPath string
	session    *DeviceFlowSession
	log        *slog.Logger
	mu         sync.Mutex
	group      singleflight.Group

	// opMu orders starting a request against releasing the waiters it supersedes.
	opMu       sync.Mutex
	waiters    map[uint64]context.CancelCauseFunc
	nextWaiter uint64
}

type tokenResult struct {
	token string
	err   error
}

// startFunc starts one session operation; ctx is already detached from callers.
type startFunc func(ctx context.Context, onToken TokenFunc) error

// NewTokenManager creates a TokenManager whose session starts from the
// tokens stored in cfg.Session. flow supplies endpoints and collaborators;
// its Token and OnTokenChange fields are set by the manager. Pass an empty
// configPath to keep tokens in memory only.
func NewTokenManager(cfg *config.Config, configPath string, flow DeviceFlowConfig) (*TokenManager, error) {
	tm := &TokenManager{
		cfg:        cfg,
		configPath: configPath,
		log:        flow.Logger,
		waiters:    make(map[uint64]context.CancelCauseFunc),
	}
	if tm.log == nil {
		tm.log = slog.New(slog.DiscardHandler)
	}
	flow.Token = cfg.Session.Record()
	flow.OnTokenChange = func(domain.TokenRecord) { tm.persist() }

	session, err := NewDeviceFlowSession(flow)
	if err != nil {
		return nil, err
	}
	tm.session = session
	return tm, nil
}

// Acquire returns a valid access token, running the device flow when needed.
// onUserAction is called when the user must approve the request. Concurrent
// callers share one acquisition. It blocks until a token or error is
// delivered or ctx is done.
func (tm *TokenManager) Acquire(ctx context.Context, onUserAction UserActionFunc) (string, error) {
	return tm.shared(ctx, "acquire", false, func(ctx context.Context, onToken TokenFunc) error {
		return tm.session.AcquireAccessToken(ctx, onToken, onUserAction, false)
	})
}

// Login always starts a new device authorization. Callers waiting on a
// request it supersedes get domain.ErrSuperseded.
func (tm *TokenManager) Login(ctx context.Context, onUserAction UserActionFunc) (string, error) {
	return tm.shared(ctx, "login", true, func(ctx context.Context, onToken TokenFunc) error {
		return tm.session.AcquireAccessToken(ctx, onToken, onUserAction, true)
	})
}

// Refresh exchanges the stored refresh token for a new access token.
func (tm *TokenManager) Refresh(ctx context.Context) (string, error) {
	token, err := tm.shared(ctx, "refresh", true, func(ctx context.Context, onToken TokenFunc) error {
		return tm.session.RefreshAccessToken(ctx, onToken)
	})
	if err != nil {
		return "", fmt.Errorf("refreshing token: %w", err)
	}
	return token, nil
}

// Token returns the cached access token, refreshing it when expired. It
// never starts a device flow: without a refresh token it returns
// domain.ErrUnauthorized.
func (tm *TokenManager) Token(ctx context.Context) (string, error) {
	if token, ok := tm.session.ValidAccessToken(); ok {
		return token, nil
	}
	if !tm.session.IsAuthorized() {
		return "", domain.ErrUnauthorized
	}
	return tm.Refresh(ctx)
}

// ExpiresAt returns the expiry of the current access token.
func (tm *TokenManager) ExpiresAt() time.Time {
	return tm.session.Token().ExpiresAt
}

// Logout forgets all tokens and drops any request in flight.
func (tm *TokenManager) Logout() {
	tm.opMu.Lock()
	defer tm.opMu.Unlock()
	tm.releaseWaitersLocked()
	tm.session.Invalidate()
}

// Session returns the underlying device flow session.
func (tm *TokenManager) Session() *DeviceFlowSession {
	return tm.session
}

// Config returns the current config pointer.
func (tm *TokenManager) Config() *config.Config {
	return tm.cfg
}

// ConfigPath returns the config file path.
func (tm *TokenManager) ConfigPath() string {
	return tm.configPath
}

// shared joins or starts the operation under key. Only the caller's own
// select observes ctx; the operation runs on a context without its
// cancellation so one caller leaving cannot fail the others.
func (tm *TokenManager) shared(ctx context.Context, key string, supersedes bool, start startFunc) (string, error) {
	detached := context.WithoutCancel(ctx)
	ch := tm.group.DoChan(key, func() (any, error) {
		return tm.await(detached, supersedes, start)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// await starts an operation and blocks until its callback fires or a newer
// operation supersedes it. A superseded callback never fires.
func (tm *TokenManager) await(ctx context.Context, supersedes bool, start startFunc) (string, error) {
	waitCtx, cancel := context.WithCancelCause(context.Background())
	ch := make(chan tokenResult, 1)

	tm.opMu.Lock()
	if supersedes {
		tm.releaseWaitersLocked()
	}
	id := tm.nextWaiter
	tm.nextWaiter++
	tm.waiters[id] = cancel
	err := start(ctx, func(token string, err error) {
		ch <- tokenResult{token: token, err: err}
	})
	tm.opMu.Unlock()

	defer func() {
		tm.opMu.Lock()
		delete(tm.waiters, id)
		tm.opMu.Unlock()
		cancel(nil)
	}()
	if err != nil {
		return "", err
	}

	select {
	case res := <-ch:
		return res.token, res.err
	case <-waitCtx.Done():
		select {
		case res := <-ch:
			return res.token, res.err
		default:
			return "", context.Cause(waitCtx)
		}
	}
}

func (tm *TokenManager) releaseWaitersLocked() {
	for id, cancel := range tm.waiters {
		cancel(domain.ErrSuperseded)
		delete(tm.waiters, id)
	}
}

func (tm *TokenManager) persist() {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	tm.cfg.Session = config.SessionFromRecord(tm.session.Token())
	if tm.configPath == "" {
		return
	}
	if err := config.SaveSession(tm.configPath, tm.cfg.Session); err != nil {
		// The token is still usable for this process.
		tm.log.Warn("token changed but config could not be saved", "path", tm.configPath, "error", err)
	}
}
