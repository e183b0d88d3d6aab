package ports

import (
	"context"

	"github.com/melih/lighthouse-stack/internal/core/domain"
)

// Prober checks a service from outside its container, through the
// published host port.
type Prober interface {
	Probe(ctx context.Context, host string, svc domain.Service) error
}
