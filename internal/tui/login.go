package tui

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/waabox/deviceauth/internal/auth"
)

// ErrLoginCancelled is returned when the user leaves the login screen
// before authorization completes.
var ErrLoginCancelled = errors.New("login cancelled")

// UserActionMsg carries the verification URL and user code to display.
// It is exported so that tests can inject it directly into LoginModel.Update.
type UserActionMsg struct {
	VerificationURL string
	UserCode        string
}

// TokenMsg signals that the device flow finished.
type TokenMsg struct {
	Token string
	Err   error
}

// LoginModel is the Bubbletea model for the device authorization screen.
type LoginModel struct {
	provider  string
	events    <-chan tea.Msg
	code      UserActionMsg
	token     string
	err       error
	done      bool
	cancelled bool
}

// NewLoginModel creates a login screen fed by events, which delivers one
// UserActionMsg followed by a TokenMsg.
func NewLoginModel(provider string, events <-chan tea.Msg) LoginModel {
	return LoginModel{provider: provider, events: events}
}

// Init starts listening for device flow events.
func (m LoginModel) Init() tea.Cmd {
	return waitForEvent(m.events)
}

func waitForEvent(events <-chan tea.Msg) tea.Cmd {
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		return <-events
	}
}

// Update handles device flow events and key presses.
func (m LoginModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case UserActionMsg:
		m.code = msg
		return m, waitForEvent(m.events)

	case TokenMsg:
		m.token = msg.Token
		m.err = msg.Err
		m.done = true
		return m, tea.Quit

	case tea.KeyMsg:
		switch msg.String() {
		case "esc", "q", "ctrl+c":
			m.cancelled = true
			return m, tea.Quit
		}
	}
	return m, nil
}

// View renders the login screen.
func (m LoginModel) View() string {
	header := fmt.Sprintf(" deviceauth — Sign in to %s\n", m.provider)
	separator := "────────────────────────────────────────────────────────────\n"

	var body string
	switch {
	case m.done && m.err != nil:
		body = fmt.Sprintf("\n Authorization failed: %v\n\n", m.err)
	case m.done:
		body = "\n Authorized.\n\n"
	case m.code.UserCode == "":
		body = "\n Requesting authorization...\n\n"
	default:
		body = fmt.Sprintf(
			"\n Visit:  %s\n"+
				" Code:   %s\n\n"+
				" Waiting for authorization...\n\n",
			m.code.VerificationURL, m.code.UserCode)
	}

	footer := " Press ESC to cancel\n"
	return header + separator + body + separator + footer
}

// Result returns the outcome once the program has exited.
func (m LoginModel) Result() (string, error) {
	if m.cancelled && !m.done {
		return "", ErrLoginCancelled
	}
	return m.token, m.err
}

// AcquireFunc runs a device flow, reporting the code to show through onUserAction.
type AcquireFunc func(ctx context.Context, onUserAction auth.UserActionFunc) (string, error)

// Login shows the login screen while acquire runs. Leaving the screen
// cancels the context passed to acquire.
func Login(ctx context.Context, provider string, acquire AcquireFunc) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan tea.Msg, 2)
	send := func(msg tea.Msg) {
		select {
		case events <- msg:
		case <-ctx.Done():
		}
	}
	go func() {
		token, err := acquire(ctx, func(verificationURL, userCode string) {
			send(UserActionMsg{VerificationURL: verificationURL, UserCode: userCode})
		})
		send(TokenMsg{Token: token, Err: err})
	}()

	final, err := tea.NewProgram(NewLoginModel(provider, events), tea.WithContext(ctx)).Run()
	if err != nil {
		return "", fmt.Errorf("running login screen: %w", err)
	}
	return final.(LoginModel).Result()
}
