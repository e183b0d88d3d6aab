package manifest

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/melih/lighthouse-stack/internal/core/domain"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

// Names of the files written by WriteBundle.
const (
	ComposeFileName   = "docker-compose.yml"
	NginxFileName     = "nginx.conf"
	APIDockerfileName = "api.Dockerfile"
	WebDockerfileName = "web.Dockerfile"
)

// Content types compressed by the web server.
var DefaultGzipTypes = []string{
	"text/plain",
	"text/css",
	"application/javascript",
	"application/json",
}

// NginxOptions configure the static asset server.
type NginxOptions struct {
	Port          int
	ServerName    string
	Root          string
	Index         string
	GzipMinLength int
	GzipTypes     []string
}

// DefaultNginxOptions serve /usr/share/nginx/html on port 80.
func DefaultNginxOptions() NginxOptions {
	return NginxOptions{
		Port:          80,
		ServerName:    "localhost",
		Root:          "/usr/share/nginx/html",
		Index:         "index.html",
		GzipMinLength: 256,
		GzipTypes:     DefaultGzipTypes,
	}
}

// RenderNginx renders the server block with SPA fallback and compression.
func RenderNginx(opts NginxOptions) ([]byte, error) {
	return execute("nginx.conf.tmpl", opts)
}

// APIDockerfileOptions configure the two-stage API image.
type APIDockerfileOptions struct {
	NodeImage   string
	User        string
	CreateUser  bool
	AppFiles    []string
	UploadsPath string
	Port        int
	Entrypoint  string
}

// DefaultAPIDockerfileOptions runs server.js as a dedicated app user that
// owns the uploads directory.
func DefaultAPIDockerfileOptions() APIDockerfileOptions {
	return APIDockerfileOptions{
		NodeImage:   "node:20-alpine",
		User:        "app",
		CreateUser:  true,
		AppFiles:    []string{"server.js", "config", "controllers", "models", "routes", "middleware"},
		UploadsPath: "/app/uploads",
		Port:        5000,
		Entrypoint:  "server.js",
	}
}

// WebDockerfileOptions configure the two-stage static asset image. The
// server config rendered from Nginx is written by the recipe itself, so the
// build context only needs the application sources.
type WebDockerfileOptions struct {
	NodeImage   string
	ServerImage string
	DistDir     string
	Root        string
	Port        int
	Nginx       NginxOptions
}

func DefaultWebDockerfileOptions() WebDockerfileOptions {
	return WebDockerfileOptions{
		NodeImage:   "node:20-alpine",
		ServerImage: "nginx:alpine",
		DistDir:     "dist",
		Root:        "/usr/share/nginx/html",
		Port:        80,
		Nginx:       DefaultNginxOptions(),
	}
}

func RenderAPIDockerfile(opts APIDockerfileOptions) ([]byte, error) {
	return execute("api.Dockerfile.tmpl", opts)
}

// RenderWebDockerfile renders the web recipe with the nginx config embedded
// as quoted printf arguments, one per line.
func RenderWebDockerfile(opts WebDockerfileOptions) ([]byte, error) {
	conf, err := RenderNginx(opts.Nginx)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimRight(string(conf), "\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.ReplaceAll(l, "'", `'\''`)
	}
	return execute("web.Dockerfile.tmpl", struct {
		WebDockerfileOptions
		NginxConf []string
	}{opts, lines})
}

// BundleOptions collect the options of every rendered file.
type BundleOptions struct {
	API APIDockerfileOptions
	Web WebDockerfileOptions
}

func DefaultBundleOptions() BundleOptions {
	return BundleOptions{
		API: DefaultAPIDockerfileOptions(),
		Web: DefaultWebDockerfileOptions(),
	}
}

// Recipes are the rendered build recipes of the custom services.
type Recipes struct {
	API []byte
	Web []byte
}

func RenderRecipes(opts BundleOptions) (Recipes, error) {
	api, err := RenderAPIDockerfile(opts.API)
	if err != nil {
		return Recipes{}, err
	}
	web, err := RenderWebDockerfile(opts.Web)
	if err != nil {
		return Recipes{}, err
	}
	return Recipes{API: api, Web: web}, nil
}

// WriteBundle writes the compose manifest, the nginx config and the build
// recipes into dir. Local build contexts are rewritten relative to dir and
// every inline recipe is written next to the manifest, with the service's
// dockerfile pointing at it, so the bundle builds from where it lands.
func WriteBundle(dir string, stack *domain.Stack, opts BundleOptions) ([]string, error) {
	if err := stack.Validate(); err != nil {
		return nil, err
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}

	cf, err := FromStack(stack)
	if err != nil {
		return nil, err
	}
	nginx, err := RenderNginx(opts.Web.Nginx)
	if err != nil {
		return nil, err
	}

	type file struct {
		name string
		data []byte
	}
	var recipes []file
	for i := range cf.Services {
		ns := &cf.Services[i]
		b := ns.Service.Build
		if b == nil || isRemoteContext(b.Context) {
			continue
		}
		ctxAbs, err := filepath.Abs(b.Context)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve build context %s: %w", b.Context, err)
		}
		if b.Context, err = relPath(absDir, ctxAbs); err != nil {
			return nil, err
		}
		if b.DockerfileInline == "" {
			continue
		}
		name := recipeFileName(ns.Name, ns.Service.Labels[LabelRole])
		if b.Dockerfile, err = relPath(ctxAbs, filepath.Join(absDir, name)); err != nil {
			return nil, err
		}
		recipes = append(recipes, file{name, []byte(b.DockerfileInline)})
		b.DockerfileInline = ""
	}

	compose, err := encode(cf)
	if err != nil {
		return nil, err
	}

	files := append([]file{{ComposeFileName, compose}, {NginxFileName, nginx}}, recipes...)
	written := make([]string, 0, len(files))
	for _, f := range files {
		path := filepath.Join(absDir, f.name)
		if err := os.WriteFile(path, f.data, 0o644); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}

func recipeFileName(service, role string) string {
	switch domain.Role(role) {
	case domain.RoleAPI:
		return APIDockerfileName
	case domain.RoleWeb:
		return WebDockerfileName
	}
	return service + ".Dockerfile"
}

func relPath(base, target string) (string, error) {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return "", fmt.Errorf("failed to relate %s to %s: %w", target, base, err)
	}
	rel = filepath.ToSlash(rel)
	if rel != "." && rel != ".." && !strings.HasPrefix(rel, "../") {
		rel = "./" + rel
	}
	return rel, nil
}

func execute(name string, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", name, err)
	}
	return buf.Bytes(), nil
}
