package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/melih/lighthouse-stack/internal/errdefs"
)

// Deployment environment variables. They describe the target deployment and
// have no defaults: every one must be supplied by the operator.
const (
	EnvNodeEnv        = "NODE_ENV"
	EnvMongoURI       = "MONGODB_URI"
	EnvRedisURL       = "REDIS_URL"
	EnvFrontendPort   = "FRONTEND_PORT"
	EnvBackendPort    = "BACKEND_PORT"
	EnvProjectName    = "PROJECT_NAME"
	EnvProjectLabel   = "PROJECT_LABEL"
	EnvNetworkSubnet  = "NETWORK_SUBNET"
	EnvNetworkIPRange = "NETWORK_IP_RANGE"
	EnvNetworkGateway = "NETWORK_GATEWAY"
	EnvUploadsDir     = "UPLOADS_DIR"
)

// RequiredEnv lists the deployment variables in the order they are reported.
var RequiredEnv = []string{
	EnvNodeEnv,
	EnvMongoURI,
	EnvRedisURL,
	EnvFrontendPort,
	EnvBackendPort,
	EnvProjectName,
	EnvProjectLabel,
	EnvNetworkSubnet,
	EnvNetworkIPRange,
	EnvNetworkGateway,
	EnvUploadsDir,
}

// Environment is the resolved deployment environment.
type Environment struct {
	NodeEnv        string
	MongoURI       string
	RedisURL       string
	FrontendPort   int
	BackendPort    int
	ProjectName    string
	ProjectLabel   string
	NetworkSubnet  string
	NetworkIPRange string
	NetworkGateway string
	UploadsDir     string
}

// Lookup returns the raw value of a deployment variable.
func (e Environment) Lookup(key string) (string, bool) {
	switch key {
	case EnvNodeEnv:
		return e.NodeEnv, true
	case EnvMongoURI:
		return e.MongoURI, true
	case EnvRedisURL:
		return e.RedisURL, true
	case EnvFrontendPort:
		return strconv.Itoa(e.FrontendPort), true
	case EnvBackendPort:
		return strconv.Itoa(e.BackendPort), true
	case EnvProjectName:
		return e.ProjectName, true
	case EnvProjectLabel:
		return e.ProjectLabel, true
	case EnvNetworkSubnet:
		return e.NetworkSubnet, true
	case EnvNetworkIPRange:
		return e.NetworkIPRange, true
	case EnvNetworkGateway:
		return e.NetworkGateway, true
	case EnvUploadsDir:
		return e.UploadsDir, true
	}
	return "", false
}

// LoadEnvFile seeds the process environment from a dotenv file.
// Variables already set in the process win. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// LoadEnvironment reads the deployment variables through v, which should be
// bound to the process environment. All missing variables are reported in
// one error wrapping errdefs.ErrMissingEnvironment.
func LoadEnvironment(v *viper.Viper) (Environment, error) {
	values := make(map[string]string, len(RequiredEnv))
	var missing []string
	for _, key := range RequiredEnv {
		_ = v.BindEnv(key, key)
		val := strings.TrimSpace(v.GetString(key))
		if val == "" {
			missing = append(missing, key)
		}
		values[key] = val
	}
	if len(missing) > 0 {
		return Environment{}, fmt.Errorf("%w: %s", errdefs.ErrMissingEnvironment, strings.Join(missing, ", "))
	}

	env := Environment{
		NodeEnv:        values[EnvNodeEnv],
		MongoURI:       values[EnvMongoURI],
		RedisURL:       values[EnvRedisURL],
		ProjectName:    values[EnvProjectName],
		ProjectLabel:   values[EnvProjectLabel],
		NetworkSubnet:  values[EnvNetworkSubnet],
		NetworkIPRange: values[EnvNetworkIPRange],
		NetworkGateway: values[EnvNetworkGateway],
		UploadsDir:     values[EnvUploadsDir],
	}

	var err error
	if env.FrontendPort, err = parsePort(EnvFrontendPort, values[EnvFrontendPort]); err != nil {
		return Environment{}, err
	}
	if env.BackendPort, err = parsePort(EnvBackendPort, values[EnvBackendPort]); err != nil {
		return Environment{}, err
	}
	return env, nil
}

func parsePort(key, val string) (int, error) {
	p, err := strconv.Atoi(val)
	if err != nil || p <= 0 || p > 65535 {
		return 0, fmt.Errorf("%w: %s=%q", errdefs.ErrInvalidPort, key, val)
	}
	return p, nil
}
