package ports

import (
	"context"

	"github.com/melih/lighthouse-stack/internal/core/domain"
)

// BuilderService defines operations for building container images from source code.
type BuilderService interface {
	// BuildImage builds spec into an image tagged imageName.
	// The context is a local directory or a git repository cloned for the build.
	// It returns the tag of the built image or an error.
	BuildImage(ctx context.Context, imageName string, spec domain.BuildSpec) (string, error)
}
