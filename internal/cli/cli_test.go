package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melih/lighthouse-stack/internal/config"
	"github.com/melih/lighthouse-stack/internal/core/domain"
	"github.com/melih/lighthouse-stack/internal/errdefs"
)

func setDeployEnv(t *testing.T) {
	t.Helper()
	vals := map[string]string{
		config.EnvNodeEnv:        "production",
		config.EnvMongoURI:       "mongodb://db.example.net:27017/shop",
		config.EnvRedisURL:       "redis://cache:6379",
		config.EnvFrontendPort:   "3000",
		config.EnvBackendPort:    "5000",
		config.EnvProjectName:    "shop",
		config.EnvProjectLabel:   "com.example.project=shop",
		config.EnvNetworkSubnet:  "172.28.0.0/16",
		config.EnvNetworkIPRange: "172.28.5.0/24",
		config.EnvNetworkGateway: "172.28.0.1",
		config.EnvUploadsDir:     "/srv/shop/uploads",
	}
	for k, v := range vals {
		t.Setenv(k, v)
	}
}

// run executes the root command with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	args = append([]string{"--env-file", filepath.Join(t.TempDir(), "absent.env")}, args...)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestValidate(t *testing.T) {
	setDeployEnv(t)

	out, err := run(t, "validate")
	require.NoError(t, err)
	assert.Equal(t, "stack shop is valid, start order: cache, api, web\n", out)
}

func TestValidate_MissingEnvironment(t *testing.T) {
	for _, key := range config.RequiredEnv {
		t.Setenv(key, "")
	}

	_, err := run(t, "validate")
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrMissingEnvironment)
}

func TestRender_StdoutLoadsBack(t *testing.T) {
	setDeployEnv(t)

	out, err := run(t, "render", "--stdout")
	require.NoError(t, err)
	assert.Contains(t, out, "services:")
	assert.Contains(t, out, "redis:7-alpine")

	path := filepath.Join(t.TempDir(), "docker-compose.yml")
	require.NoError(t, os.WriteFile(path, []byte(out), 0o600))

	out, err = run(t, "--manifest", path, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "start order: cache, api, web")
}

func TestRender_Bundle(t *testing.T) {
	setDeployEnv(t)
	dir := t.TempDir()

	out, err := run(t, "render", "--output", dir)
	require.NoError(t, err)

	files := strings.Fields(out)
	require.NotEmpty(t, files)
	for _, f := range files {
		assert.FileExists(t, f)
	}
}

func TestNewDatabaseChecker_UsesPreflightTimeout(t *testing.T) {
	s, err := config.LoadSettings(config.NewViper())
	require.NoError(t, err)
	assert.Equal(t, config.DefaultPreflightTimeout, newDatabaseChecker(s).Timeout)
	assert.NotEqual(t, s.ReadinessTimeout, newDatabaseChecker(s).Timeout)

	s.PreflightTimeout = 2 * time.Second
	assert.Equal(t, 2*time.Second, newDatabaseChecker(s).Timeout)
}

func TestLoadStack_RendersRecipes(t *testing.T) {
	setDeployEnv(t)
	v := config.NewViper()
	s, err := config.LoadSettings(v)
	require.NoError(t, err)

	stack, err := LoadStack(v, s)
	require.NoError(t, err)
	api, err := stack.Service("api")
	require.NoError(t, err)
	assert.Contains(t, string(api.Build.Inline), "USER app")
	web, err := stack.Service("web")
	require.NoError(t, err)
	assert.Contains(t, string(web.Build.Inline), "> /etc/nginx/conf.d/default.conf")
}

func TestWebURL(t *testing.T) {
	stack := &domain.Stack{Services: []domain.Service{
		{Name: "api", Role: domain.RoleAPI, Ports: []domain.PortBinding{{Host: 5000, Container: 5000}}},
		{Name: "web", Role: domain.RoleWeb, Ports: []domain.PortBinding{{Host: 3000, Container: 80}}},
	}}
	assert.Equal(t, "http://127.0.0.1:3000", WebURL(stack, "127.0.0.1"))

	stack.Services[1].Ports = nil
	assert.Empty(t, WebURL(stack, "127.0.0.1"))
	assert.Empty(t, WebURL(&domain.Stack{}, "127.0.0.1"))
}

func TestPrintFormatted(t *testing.T) {
	data := struct {
		Service string `json:"service"`
		Ready   bool   `json:"ready"`
	}{Service: "api", Ready: true}

	var buf bytes.Buffer
	require.NoError(t, printFormatted(&buf, data, "yaml"))
	assert.Equal(t, "ready: true\nservice: api\n", buf.String())

	buf.Reset()
	require.NoError(t, printFormatted(&buf, data, "json"))
	assert.JSONEq(t, `{"service":"api","ready":true}`, buf.String())

	assert.Error(t, printFormatted(&buf, data, "toml"))
}
