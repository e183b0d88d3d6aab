package probe

import (
	"context"
	"fmt"

	"github.com/melih/lighthouse-stack/internal/core/domain"
	"github.com/melih/lighthouse-stack/internal/core/ports"
	"github.com/melih/lighthouse-stack/internal/errdefs"
)

// Registry dispatches a probe to the prober registered for its kind.
type Registry struct {
	probers map[domain.ProbeKind]ports.Prober
}

// NewRegistry knows the HTTP and Redis probers.
func NewRegistry() *Registry {
	return &Registry{probers: map[domain.ProbeKind]ports.Prober{
		domain.ProbeHTTP:  NewHTTPProber(),
		domain.ProbeRedis: NewRedisProber(),
	}}
}

// Register replaces the prober of a kind.
func (r *Registry) Register(kind domain.ProbeKind, p ports.Prober) {
	r.probers[kind] = p
}

func (r *Registry) Probe(ctx context.Context, host string, svc domain.Service) error {
	if svc.Health == nil {
		return nil
	}
	p, ok := r.probers[svc.Health.Kind]
	if !ok {
		return fmt.Errorf("%w: %s", errdefs.ErrUnsupportedProbe, svc.Health.Kind)
	}
	return p.Probe(ctx, host, svc)
}
