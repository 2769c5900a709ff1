// Package registry builds the configured submission providers and resolves
// which one handles an operation kind.
package registry

import (
	"fmt"
	"sort"

	"github.com/kiranshivaraju/clipforge/internal/config"
	"github.com/kiranshivaraju/clipforge/internal/provider"
	"github.com/kiranshivaraju/clipforge/internal/provider/generation"
	"github.com/kiranshivaraju/clipforge/internal/provider/media"
	"github.com/kiranshivaraju/clipforge/internal/provider/tts"
	"github.com/kiranshivaraju/clipforge/pkg/models"
)

// Registry holds providers by name.
type Registry struct {
	byName map[string]provider.Provider
}

// New constructs a provider for every endpoint with a base URL.
// Called once at server startup.
func New(cfg config.ProvidersConfig) *Registry {
	r := &Registry{byName: make(map[string]provider.Provider)}
	if cfg.TTS.BaseURL != "" {
		r.Register(tts.NewProvider(cfg.TTS, cfg.Timeout))
	}
	if cfg.Generation.BaseURL != "" {
		r.Register(generation.NewProvider(cfg.Generation, cfg.Timeout))
	}
	if cfg.Media.BaseURL != "" {
		r.Register(media.NewProvider(cfg.Media, cfg.Timeout))
	}
	return r
}

// Register adds or replaces a provider under its name.
func (r *Registry) Register(p provider.Provider) {
	r.byName[p.Name()] = p
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (provider.Provider, error) {
	p, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q: must be one of %v", name, r.Names())
	}
	return p, nil
}

// ForKind returns the provider that handles kind. When several do, the first by
// name wins.
func (r *Registry) ForKind(kind models.OperationKind) (provider.Provider, error) {
	for _, name := range r.Names() {
		if p := r.byName[name]; p.Supports(kind) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: no configured provider handles %s", provider.ErrUnsupportedKind, kind)
}

// Names lists registered provider names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
