package provider

import (
	"fmt"
	"strings"

	"github.com/waabox/deviceauth/internal/config"
)

// Endpoints describes where a provider accepts device-flow and JWT-bearer
// requests.
type Endpoints struct {
	Name     string
	LoginURL string
	TokenURL string
	// Audience is the aud claim of JWT-bearer assertions. Empty means the
	// token endpoint itself.
	Audience string
}

// Registry maps provider names and token hosts to endpoint presets.
type Registry struct {
	entries []entry
}

type entry struct {
	host      string
	endpoints Endpoints
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// DefaultRegistry returns a registry with the built-in presets.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("oauth2.googleapis.com", Endpoints{
		Name:     "google",
		LoginURL: "https://oauth2.googleapis.com/device/code",
		TokenURL: "https://oauth2.googleapis.com/token",
		Audience: "https://oauth2.googleapis.com/token",
	})
	r.Register("github.com", Endpoints{
		Name:     "github",
		LoginURL: "https://github.com/login/device/code",
		TokenURL: "https://github.com/login/oauth/access_token",
	})
	r.Register("gitlab.com", Endpoints{
		Name:     "gitlab",
		LoginURL: "https://gitlab.com/oauth/authorize_device",
		TokenURL: "https://gitlab.com/oauth/token",
	})
	r.Register("login.microsoftonline.com", Endpoints{
		Name:     "microsoft",
		LoginURL: "https://login.microsoftonline.com/common/oauth2/v2.0/devicecode",
		TokenURL: "https://login.microsoftonline.com/common/oauth2/v2.0/token",
	})
	return r
}

// Register associates a host pattern (e.g., "gitlab.mycompany.com") with a preset.
func (r *Registry) Register(host string, e Endpoints) {
	r.entries = append(r.entries, entry{host: host, endpoints: e})
}

// Lookup returns the preset registered under name.
func (r *Registry) Lookup(name string) (Endpoints, error) {
	for _, e := range r.entries {
		if strings.EqualFold(e.endpoints.Name, name) {
			return e.endpoints, nil
		}
	}
	return Endpoints{}, fmt.Errorf("unknown provider: %s", name)
}

// Detect returns the preset whose host appears in the given endpoint URL.
func (r *Registry) Detect(endpoint string) (Endpoints, error) {
	for _, e := range r.entries {
		if strings.Contains(endpoint, e.host) {
			return e.endpoints, nil
		}
	}
	return Endpoints{}, fmt.Errorf("no provider found for endpoint: %s", endpoint)
}

// Names lists the registered preset names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		names = append(names, e.endpoints.Name)
	}
	return names
}

// Apply fills the endpoint fields cfg leaves empty. Values already present
// in cfg always win.
func (e Endpoints) Apply(cfg *config.Config) {
	fill(&cfg.Device.LoginURL, e.LoginURL)
	fill(&cfg.Device.TokenURL, e.TokenURL)
	fill(&cfg.JWT.TokenURL, e.TokenURL)
	fill(&cfg.JWT.Audience, e.Audience)
}

// Resolve applies the preset named by cfg.Provider, if any.
func (r *Registry) Resolve(cfg *config.Config) error {
	if cfg.Provider == "" {
		return nil
	}
	e, err := r.Lookup(cfg.Provider)
	if err != nil {
		return err
	}
	e.Apply(cfg)
	return nil
}

func fill(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}
