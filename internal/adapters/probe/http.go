package probe

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/melih/lighthouse-stack/internal/core/domain"
	"github.com/melih/lighthouse-stack/internal/errdefs"
)

// HTTPProber issues a GET against the published port of a service.
// Any 2xx or 3xx answer within the probe timeout is healthy.
type HTTPProber struct {
	client *http.Client
}

func NewHTTPProber() *HTTPProber {
	return &HTTPProber{
		client: &http.Client{
			// a redirect is an answer, do not follow it
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
	}
}

func (p *HTTPProber) Probe(ctx context.Context, host string, svc domain.Service) error {
	if svc.Health == nil {
		return nil
	}
	hostPort, err := publishedPort(svc, svc.Health.Port)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, svc.Health.Timeout)
	defer cancel()

	url := "http://" + net.JoinHostPort(host, strconv.Itoa(hostPort)) + svc.Health.Path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", errdefs.ErrProbeFailed, svc.Name, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", errdefs.ErrProbeFailed, svc.Name, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return fmt.Errorf("%w: %s: GET %s returned %d", errdefs.ErrProbeFailed, svc.Name, url, resp.StatusCode)
	}
	return nil
}

// publishedPort finds the host port that publishes containerPort.
func publishedPort(svc domain.Service, containerPort int) (int, error) {
	for _, p := range svc.Ports {
		if p.Container == containerPort && p.Proto() == "tcp" {
			return p.Host, nil
		}
	}
	return 0, fmt.Errorf("%w: %s does not publish port %d", errdefs.ErrProbeFailed, svc.Name, containerPort)
}
