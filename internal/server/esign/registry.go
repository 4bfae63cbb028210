package esign

import (
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/dmitrijs2005/letterflow/internal/common"
)

// Registry resolves provider names to adapters. It is built once at startup
// and read concurrently afterwards.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// FromConfig builds one adapter per entry. client may be nil, in which case
// every adapter gets its own client with the configured timeout.
func FromConfig(cfgs []Config, client *http.Client) (*Registry, error) {
	providers := make([]Provider, 0, len(cfgs))
	seen := make(map[string]bool, len(cfgs))

	for i, c := range cfgs {
		if c.Name == "" {
			return nil, fmt.Errorf("provider %d: name is empty", i)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("provider %s: configured twice", c.Name)
		}
		seen[c.Name] = true
		if c.BaseURL == "" {
			return nil, fmt.Errorf("provider %s: base_url is empty", c.Name)
		}

		switch strings.ToLower(c.Kind) {
		case KindBearer:
			providers = append(providers, NewBearer(c, client))
		case KindAPIKey:
			providers = append(providers, NewAPIKey(c, client))
		case KindHMAC:
			providers = append(providers, NewHMAC(c, client))
		default:
			return nil, fmt.Errorf("provider %s: unknown kind %q", c.Name, c.Kind)
		}
	}
	return NewRegistry(providers...), nil
}

// Get returns the adapter registered under name or common.ErrUnknownProvider.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", common.ErrUnknownProvider, name)
	}
	return p, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
