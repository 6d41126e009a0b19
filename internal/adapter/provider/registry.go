package provider

import (
	"fmt"
	"sort"

	"payments-ledger/config"
	"payments-ledger/internal/core/domain"
	"payments-ledger/internal/core/ports"

	"github.com/rs/zerolog"
)

type constructor func(cfg config.ProviderConfig, log zerolog.Logger) (ports.PaymentProvider, error)

var constructors = map[domain.ProviderName]constructor{
	domain.ProviderPaystack: func(c config.ProviderConfig, l zerolog.Logger) (ports.PaymentProvider, error) {
		return NewPaystack(c, l)
	},
	domain.ProviderFlutterwave: func(c config.ProviderConfig, l zerolog.Logger) (ports.PaymentProvider, error) {
		return NewFlutterwave(c, l)
	},
	domain.ProviderStripe: func(c config.ProviderConfig, l zerolog.Logger) (ports.PaymentProvider, error) {
		return NewStripe(c, l)
	},
	domain.ProviderMTNMoMo: func(c config.ProviderConfig, l zerolog.Logger) (ports.PaymentProvider, error) {
		return NewMTNMoMo(c, l)
	},
	domain.ProviderAirtel: func(c config.ProviderConfig, l zerolog.Logger) (ports.PaymentProvider, error) {
		return NewAirtel(c, l)
	},
	domain.ProviderMPesa: func(c config.ProviderConfig, l zerolog.Logger) (ports.PaymentProvider, error) {
		return NewMPesa(c, l)
	},
}

// Registry implements ports.ProviderRegistry.
type Registry struct {
	providers map[domain.ProviderName]ports.PaymentProvider
}

// NewRegistry builds every enabled provider found in cfgs. Unknown names are
// an error so that a typo in configuration does not silently drop a provider.
func NewRegistry(cfgs map[string]config.ProviderConfig, log zerolog.Logger) (*Registry, error) {
	r := &Registry{providers: make(map[domain.ProviderName]ports.PaymentProvider)}
	for name, cfg := range cfgs {
		build, ok := constructors[domain.ProviderName(name)]
		if !ok {
			return nil, fmt.Errorf("unknown provider %q", name)
		}
		if !cfg.Enabled {
			continue
		}
		p, err := build(cfg, log)
		if err != nil {
			return nil, fmt.Errorf("building provider %s: %w", name, err)
		}
		r.providers[p.Name()] = p
		log.Info().Str("provider", name).Msg("payment provider enabled")
	}
	return r, nil
}

// NewStaticRegistry wraps already-built providers.
func NewStaticRegistry(providers ...ports.PaymentProvider) *Registry {
	r := &Registry{providers: make(map[domain.ProviderName]ports.PaymentProvider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

func (r *Registry) Get(name domain.ProviderName) (ports.PaymentProvider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// All returns the providers sorted by name.
func (r *Registry) All() []ports.PaymentProvider {
	out := make([]ports.PaymentProvider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
