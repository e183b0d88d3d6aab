package http

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
)

// NewAPIProxy forwards requests to the API upstream, e.g. http://api:5000.
// The request path is kept as is, so /api/products reaches /api/products.
func NewAPIProxy(upstream string) (fiber.Handler, error) {
	remote, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid API upstream %q: %w", upstream, err)
	}
	if remote.Scheme == "" || remote.Host == "" {
		return nil, fmt.Errorf("invalid API upstream %q: scheme and host are required", upstream)
	}

	proxy := httputil.NewSingleHostReverseProxy(remote)

	// Custom Director: the API sees the upstream host, the original one
	// travels in X-Forwarded-Host.
	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		forwardedHost := req.Host
		originalDirector(req)
		req.Host = remote.Host
		req.Header.Set("X-Forwarded-Host", forwardedHost)
	}

	// Error Handler: Return standard BadGateway if connectivity fails
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = fmt.Fprintf(w, "upstream %s unavailable: %v", remote.Host, err)
	}

	// Fiber <-> Net/HTTP Adaptor
	return adaptor.HTTPHandler(proxy), nil
}
