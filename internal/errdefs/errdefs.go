package errdefs

import (
	"errors"
)

var (
	ErrInvalidStack        = errors.New("invalid stack")
	ErrProjectNameRequired = errors.New("project name is required")
	ErrServiceNameRequired = errors.New("service name is required")
	ErrDuplicateService    = errors.New("duplicate service")
	ErrUnknownDependency   = errors.New("unknown dependency")
	ErrDependencyCycle     = errors.New("dependency cycle")
	ErrPortCollision       = errors.New("host port already bound")
	ErrInvalidPort         = errors.New("invalid port")
	ErrInvalidNetwork      = errors.New("invalid network")
	ErrNotOnNetwork        = errors.New("service not attached to stack network")
	ErrInvalidVolume       = errors.New("invalid volume binding")
	ErrInvalidProbe        = errors.New("invalid health probe")
	ErrInvalidTransition   = errors.New("invalid lifecycle transition")
	ErrMissingEnvironment  = errors.New("missing environment variables")
	ErrInterpolation       = errors.New("variable interpolation failed")
	ErrInvalidManifest     = errors.New("invalid manifest")
	ErrServiceNotFound     = errors.New("service not found")
	ErrContainerNotFound   = errors.New("container not found")
	ErrNotReady            = errors.New("dependency not ready")
	ErrProbeFailed         = errors.New("health probe failed")
	ErrUnsupportedProbe    = errors.New("unsupported probe kind")
	ErrBuildFailed         = errors.New("image build failed")
	ErrPreflightFailed     = errors.New("database preflight failed")
	ErrVerificationFailed  = errors.New("verification failed")
)
